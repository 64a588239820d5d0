package generators

import (
	"context"
	"time"
)

// Driver calls Engine.Cycle on a ticker. The first cycle runs after the
// initial delay; the interval is re-read every tick so a reload can change it.
type Driver struct {
	engine       *Engine
	initialDelay time.Duration
	now          func() time.Time
}

func NewDriver(e *Engine, initialDelay time.Duration) *Driver {
	return &Driver{engine: e, initialDelay: initialDelay, now: e.now}
}

func (d *Driver) Run(ctx context.Context) error {
	if d.initialDelay > 0 {
		t := time.NewTimer(d.initialDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
	interval := d.engine.sched.Config().CycleInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	d.engine.Cycle(d.now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.engine.Cycle(d.now())
			if next := d.engine.sched.Config().CycleInterval(); next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}
