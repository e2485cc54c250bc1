package scheduling

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// BackoffTimer adapts a Clock to the backoff.Timer interface so retry loops
// built on cenkalti/backoff share the orchestrator's clock.
type BackoffTimer struct {
	clock Clock
	ch    <-chan time.Time
}

var _ backoff.Timer = (*BackoffTimer)(nil)

// NewBackoffTimer returns a backoff.Timer driven by clock.
func NewBackoffTimer(clock Clock) *BackoffTimer {
	return &BackoffTimer{clock: clock}
}

func (t *BackoffTimer) Start(d time.Duration) {
	t.ch = t.clock.After(d)
}

func (t *BackoffTimer) C() <-chan time.Time {
	return t.ch
}

func (t *BackoffTimer) Stop() {}
