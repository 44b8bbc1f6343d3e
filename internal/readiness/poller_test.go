package readiness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/deskhost/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// succeedOn returns a prober that fails until call n and counts every call.
func succeedOn(n int, calls *int32) Prober {
	return ProberFunc(func(context.Context) Attempt {
		c := atomic.AddInt32(calls, 1)
		if int(c) >= n {
			return Attempt{URL: "http://backend", Outcome: Success, Status: 302}
		}
		return Attempt{URL: "http://backend", Outcome: TransportError, Err: errors.New("connection refused")}
	})
}

func TestAwait_SucceedsOnNthAttempt(t *testing.T) {
	var calls int32
	var seen []int
	p := Poller{MaxAttempts: 20, Interval: time.Millisecond, Logger: quiet(), OnAttempt: func(a Attempt) {
		seen = append(seen, a.Index)
	}}

	require.NoError(t, p.Await(context.Background(), succeedOn(4, &calls)))
	assert.Equal(t, int32(4), calls)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestAwait_TimesOutAfterExactlyMaxAttempts(t *testing.T) {
	var calls int32
	p := Poller{MaxAttempts: 20, Interval: time.Millisecond, Logger: quiet()}

	err := p.Await(context.Background(), succeedOn(1000, &calls))
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.KindReadinessTimeout))
	assert.Contains(t, err.Error(), "after 20 attempts")
	assert.Equal(t, int32(20), calls)
}

func TestAwait_NoSleepAfterLastAttempt(t *testing.T) {
	var calls int32
	p := Poller{MaxAttempts: 1, Interval: time.Hour, Logger: quiet()}

	start := time.Now()
	err := p.Await(context.Background(), succeedOn(2, &calls))
	assert.True(t, failure.Is(err, failure.KindReadinessTimeout))
	assert.Less(t, time.Since(start), time.Second)
}

func TestAwait_Cancelled(t *testing.T) {
	var calls int32
	ctx, cancel := context.WithCancel(context.Background())
	p := Poller{MaxAttempts: 20, Interval: time.Hour, Logger: quiet(), OnAttempt: func(Attempt) { cancel() }}

	err := p.Await(ctx, succeedOn(1000, &calls))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, failure.Is(err, failure.KindReadinessTimeout))
	assert.Equal(t, int32(1), calls)
}

func TestAwait_NilProber(t *testing.T) {
	assert.ErrorIs(t, Poller{}.Await(context.Background(), nil), ErrNoProber)
}

func TestAwait_AttemptCountProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		limit := rapid.IntRange(1, 25).Draw(rt, "limit")
		n := rapid.IntRange(1, 40).Draw(rt, "n")
		var calls int32
		p := Poller{MaxAttempts: limit, Interval: time.Microsecond, Logger: quiet()}

		err := p.Await(context.Background(), succeedOn(n, &calls))
		if n <= limit {
			if err != nil {
				rt.Fatalf("expected success on attempt %d of %d: %v", n, limit, err)
			}
			if int(calls) != n {
				rt.Fatalf("used %d attempts, want %d", calls, n)
			}
			return
		}
		if !failure.Is(err, failure.KindReadinessTimeout) {
			rt.Fatalf("expected timeout, got %v", err)
		}
		if int(calls) != limit {
			rt.Fatalf("used %d attempts, want %d", calls, limit)
		}
	})
}
