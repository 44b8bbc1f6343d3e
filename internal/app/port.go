package app

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pigeonworks-llc/go-portalloc/pkg/ports"
)

// Range searched when the configured port is 0.
const (
	autoPortStart = 20000
	autoPortEnd   = 30000
)

// portPicker decides the backend port.
type portPicker interface {
	AllocateRange(n int) (int, error)
	IsPortInUse(port int) bool
}

func newPortPicker() portPicker {
	return ports.NewAllocator(&ports.AllocatorConfig{
		StartPort:  autoPortStart,
		EndPort:    autoPortEnd,
		MaxRetries: ports.DefaultMaxRetries,
		RetryDelay: 50 * time.Millisecond,
	})
}

// choosePort returns configured, or a free port when configured is 0. A
// configured port that is already taken is kept and only logged.
func choosePort(p portPicker, configured int, log *slog.Logger) (int, error) {
	if configured == 0 {
		port, err := p.AllocateRange(1)
		if err != nil {
			return 0, fmt.Errorf("pick backend port: %w", err)
		}
		log.Debug("picked backend port", slog.Int("port", port))
		return port, nil
	}
	if p.IsPortInUse(configured) {
		log.Warn("backend port already in use", slog.Int("port", configured))
	}
	return configured, nil
}
