package generators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"itemgen.ai/internal/persistence/store"
	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/catalogs"
	"itemgen.ai/internal/sim/tuning"
)

// Persister is the durable side of the core.
type Persister interface {
	Load(known func(typeName string) bool) (store.State, error)
	Save(store.State) error
}

type Config struct {
	Tuning  tuning.Tuning
	Catalog *catalogs.Catalog
	// Rand seeds pool draws, batch offsets and effects. nil uses a
	// time-seeded source.
	Rand Rand
	Now  func() time.Time
}

type Deps struct {
	Logger      *zap.Logger
	World       World
	Permissions Permissions
	Inventory   Inventory
	Executor    WorldExecutor
	Store       Persister
	Loader      Loader
	Sink        EventSink
}

// Handle is a running core: engine, production driver and auto-save flusher.
type Handle struct {
	Engine *Engine

	log     *zap.Logger
	store   Persister
	flusher *store.Flusher

	cancelDriver  context.CancelFunc
	cancelFlusher context.CancelFunc
	driverDone    chan struct{}
	flusherDone   chan struct{}

	stopOnce sync.Once
	final    store.State
}

// Start restores persisted state and starts the driver and flusher.
func Start(cfg Config, deps Deps) (*Handle, error) {
	if deps.World == nil {
		return nil, errors.New("generators: nil world")
	}
	if deps.Store == nil {
		return nil, errors.New("generators: nil store")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalogs.NewCatalog()
	}
	if err := cfg.Tuning.Validate(); err != nil {
		return nil, fmt.Errorf("generators: %w", err)
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	e := NewEngine(cfg.Tuning, cfg.Catalog, EngineDeps{
		Logger:      logger,
		World:       deps.World,
		Permissions: deps.Permissions,
		Inventory:   deps.Inventory,
		Executor:    deps.Executor,
		Sink:        deps.Sink,
		Loader:      deps.Loader,
		Rand:        cfg.Rand,
		Now:         now,
	})
	st, err := deps.Store.Load(cfg.Catalog.Has)
	if err != nil {
		return nil, fmt.Errorf("generators: load state: %w", err)
	}
	restored := e.Restore(st, now())
	logger.Info("generator state restored", zap.Int("generators", restored), zap.Int("players", len(st.Players)))

	h := &Handle{
		Engine:      e,
		log:         logger,
		store:       deps.Store,
		driverDone:  make(chan struct{}),
		flusherDone: make(chan struct{}),
	}
	e.saver = publishingSaver{inner: deps.Store, e: e, reason: "reload"}
	h.flusher = store.NewFlusher(publishingSaver{inner: deps.Store, e: e, reason: "auto"}, e, cfg.Tuning.AutoSaveInterval(), cfg.Tuning.MaxStaleness(), logger.Named("flusher"))
	e.OnReload(func(t tuning.Tuning) {
		h.flusher.Configure(t.AutoSaveInterval(), t.MaxStaleness())
		h.flusher.MarkSaved(now())
	})

	driverCtx, cancelDriver := context.WithCancel(context.Background())
	flusherCtx, cancelFlusher := context.WithCancel(context.Background())
	h.cancelDriver, h.cancelFlusher = cancelDriver, cancelFlusher

	driver := NewDriver(e, cfg.Tuning.Scheduler.InitialDelay())
	go func() {
		defer close(h.driverDone)
		_ = driver.Run(driverCtx)
	}()
	go func() {
		defer close(h.flusherDone)
		_ = h.flusher.Run(flusherCtx)
	}()
	return h, nil
}

// Stop halts the driver, then the flusher, then saves synchronously. A failed
// final save is logged; the returned state is what was written (or attempted).
// Stop is idempotent.
func (h *Handle) Stop() store.State {
	h.stopOnce.Do(func() {
		h.cancelDriver()
		<-h.driverDone
		h.cancelFlusher()
		<-h.flusherDone

		h.final = h.Engine.Snapshot()
		saver := publishingSaver{inner: h.store, e: h.Engine, reason: "shutdown"}
		if err := saver.Save(h.final); err != nil {
			h.log.Error("final save failed", zap.Error(err))
			return
		}
		h.Engine.TakeDirty()
		h.log.Info("final save complete", zap.Int("generators", len(h.final.Generators)))
	})
	return h.final
}

func (h *Handle) Flusher() *store.Flusher { return h.flusher }

// publishingSaver emits a SAVED event after every successful save.
type publishingSaver struct {
	inner  store.Saver
	e      *Engine
	reason string
}

func (p publishingSaver) Save(st store.State) error {
	if err := p.inner.Save(st); err != nil {
		return err
	}
	ev := protocol.NewEvent(protocol.EventSaved, p.e.now())
	ev.Generators = len(st.Generators)
	ev.Players = len(st.Players)
	ev.Reason = p.reason
	p.e.Publish(ev)
	return nil
}
