package http

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// InFlightTracker counts requests currently being served so shutdown can
// wait for them to drain. The zero value is ready to use.
type InFlightTracker struct {
	count atomic.Int64
	clock clockwork.Clock
}

// NewInFlightTracker returns a tracker polling on clock. A nil clock uses the real clock.
func NewInFlightTracker(clock clockwork.Clock) *InFlightTracker {
	return &InFlightTracker{clock: clock}
}

func (t *InFlightTracker) Increment()   { t.count.Add(1) }
func (t *InFlightTracker) Decrement()   { t.count.Add(-1) }
func (t *InFlightTracker) Count() int64 { return t.count.Load() }

// WaitForZero blocks until the in-flight count reaches zero or ctx is done.
// checkInterval is how often to re-check the count.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) error {
	clock := t.clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ticker := clock.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		if t.Count() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
		}
	}
}
