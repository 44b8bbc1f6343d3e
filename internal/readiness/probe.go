package readiness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Outcome classifies one probe.
type Outcome int

const (
	Success Outcome = iota
	TransportError
	UnexpectedStatus
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case TransportError:
		return "transport_error"
	case UnexpectedStatus:
		return "unexpected_status"
	default:
		return "unknown"
	}
}

// Attempt records one reachability probe. It lives only inside the
// polling loop and its observers.
type Attempt struct {
	URL     string
	Index   int // 1-based
	Outcome Outcome
	Status  int // HTTP status when one was received
	Err     error
}

// Prober performs a single reachability check.
type Prober interface {
	Probe(ctx context.Context) Attempt
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) Attempt

func (f ProberFunc) Probe(ctx context.Context) Attempt { return f(ctx) }

// DefaultProbeTimeout bounds a single HEAD request.
const DefaultProbeTimeout = 2 * time.Second

// HTTPProber checks a URL with a HEAD request. 2xx and 3xx count as ready:
// a redirect to a login page is what a healthy backend answers.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

// NewHTTPProber returns a prober for url that never follows redirects.
func NewHTTPProber(url string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &HTTPProber{
		URL: url,
		Client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (p *HTTPProber) Probe(ctx context.Context) Attempt {
	a := Attempt{URL: p.URL}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		a.Outcome, a.Err = TransportError, err
		return a
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		a.Outcome, a.Err = TransportError, err
		return a
	}
	_ = resp.Body.Close()
	a.Status = resp.StatusCode
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		a.Outcome = Success
		return a
	}
	a.Outcome = UnexpectedStatus
	a.Err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	return a
}

// ErrNoProber is returned when Await is called without a prober.
var ErrNoProber = errors.New("readiness: no prober configured")
