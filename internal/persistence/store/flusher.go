package store

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Saver interface {
	Save(State) error
}

// Source is the in-memory side the flusher persists.
type Source interface {
	Snapshot() State
	TakeDirty() bool
	MarkDirty()
}

// Flusher coalesces state changes into periodic saves. A tick saves when
// the source is dirty or when maxStaleness has passed since the last save.
type Flusher struct {
	saver Saver
	src   Source
	log   *zap.Logger
	now   func() time.Time

	mu           sync.Mutex
	interval     time.Duration
	maxStaleness time.Duration
	lastSave     time.Time
	reconfig     chan struct{}
}

func NewFlusher(saver Saver, src Source, interval, maxStaleness time.Duration, logger *zap.Logger) *Flusher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flusher{
		saver:        saver,
		src:          src,
		log:          logger,
		now:          time.Now,
		interval:     interval,
		maxStaleness: maxStaleness,
		lastSave:     time.Now(),
		reconfig:     make(chan struct{}, 1),
	}
}

// Configure changes the timers; a running loop picks them up immediately.
func (f *Flusher) Configure(interval, maxStaleness time.Duration) {
	f.mu.Lock()
	f.interval = interval
	f.maxStaleness = maxStaleness
	f.mu.Unlock()
	select {
	case f.reconfig <- struct{}{}:
	default:
	}
}

func (f *Flusher) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

// Run ticks until ctx is cancelled. It never saves on exit; the final save
// belongs to whoever stops it.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.Interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.reconfig:
			ticker.Reset(f.Interval())
		case <-ticker.C:
			_, _ = f.Tick(f.now())
		}
	}
}

// Tick runs one flush decision at now.
func (f *Flusher) Tick(now time.Time) (bool, error) {
	dirty := f.src.TakeDirty()
	f.mu.Lock()
	stale := now.Sub(f.lastSave) >= f.maxStaleness
	f.mu.Unlock()
	if !dirty && !stale {
		return false, nil
	}
	st := f.src.Snapshot()
	if err := f.saver.Save(st); err != nil {
		f.src.MarkDirty()
		f.log.Error("auto-save failed, will retry", zap.Error(err))
		return false, err
	}
	f.mu.Lock()
	f.lastSave = now
	f.mu.Unlock()
	f.log.Debug("auto-saved state", zap.Int("generators", len(st.Generators)), zap.Int("players", len(st.Players)), zap.Bool("dirty", dirty))
	return true, nil
}

// MarkSaved records an out-of-band save, such as the one a reload makes.
func (f *Flusher) MarkSaved(at time.Time) {
	f.mu.Lock()
	f.lastSave = at
	f.mu.Unlock()
}
