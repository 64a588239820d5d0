package world

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/items"
)

var ErrStopped = errors.New("world stopped")

type Config struct {
	// RegionSize must match the scheduler's region size.
	RegionSize     int
	InventorySlots int
	ItemDespawn    time.Duration
	TickRateHz     int
	QueueSize      int
	// EnqueueWait bounds how long Run waits for room in a full queue.
	EnqueueWait time.Duration
	// KeepDrops bounds the drop history kept for inspection.
	KeepDrops int
}

func (c *Config) normalize() {
	if c.RegionSize <= 0 {
		c.RegionSize = 16
	}
	if c.InventorySlots <= 0 {
		c.InventorySlots = 36
	}
	if c.ItemDespawn <= 0 {
		c.ItemDespawn = 5 * time.Minute
	}
	if c.TickRateHz <= 0 {
		c.TickRateHz = 20
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4096
	}
	if c.KeepDrops <= 0 {
		c.KeepDrops = 256
	}
	if c.EnqueueWait <= 0 {
		c.EnqueueWait = 250 * time.Millisecond
	}
}

type Drop struct {
	Pos  generators.Pos
	At   generators.Vec3
	Item items.Template
	Mode generators.DropMode
	Time time.Time
}

type itemEntity struct {
	at      generators.Vec3
	expires time.Time
}

// World is an in-memory block world. Queries are safe from any goroutine;
// mutations queued through Run are applied on the world goroutine started by
// Loop.
type World struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	mu       sync.RWMutex
	blocks   map[generators.Pos]string
	loaded   map[generators.RegionKey]bool
	entities map[generators.RegionKey][]itemEntity
	drops    []Drop
	dropped  uint64
	effects  uint64
	players  map[uuid.UUID]*Player

	inbox    chan func()
	rejected atomic.Uint64
	stop     chan struct{}
	once     sync.Once
}

func New(cfg Config, logger *zap.Logger) *World {
	cfg.normalize()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &World{
		cfg:      cfg,
		log:      logger,
		now:      time.Now,
		blocks:   map[generators.Pos]string{},
		loaded:   map[generators.RegionKey]bool{},
		entities: map[generators.RegionKey][]itemEntity{},
		players:  map[uuid.UUID]*Player{},
		inbox:    make(chan func(), cfg.QueueSize),
		stop:     make(chan struct{}),
	}
}

// SetClock replaces the time source used for despawn and drop records.
func (w *World) SetClock(now func() time.Time) { w.now = now }

// Run queues f for the world goroutine. f never runs on the caller: when the
// queue stays full for EnqueueWait, f is dropped and counted in
// Stats.Rejected.
func (w *World) Run(f func()) {
	select {
	case <-w.stop:
		return
	case w.inbox <- f:
		return
	default:
	}
	t := time.NewTimer(w.cfg.EnqueueWait)
	defer t.Stop()
	select {
	case w.inbox <- f:
	case <-w.stop:
	case <-t.C:
		if n := w.rejected.Add(1); n == 1 || n%1000 == 0 {
			w.log.Warn("world queue full, dropped work", zap.Uint64("rejected", n))
		}
	}
}

// Do runs f on the world goroutine and waits for it.
func (w *World) Do(ctx context.Context, f func()) error {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		f()
	}
	select {
	case w.inbox <- job:
	case <-w.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Loop is the world goroutine: it applies queued work and despawns old item
// entities once per second of ticks.
func (w *World) Loop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second / time.Duration(w.cfg.TickRateHz))
	defer ticker.Stop()
	ticks := 0
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return ctx.Err()
		case <-w.stop:
			w.drain()
			return nil
		case f := <-w.inbox:
			f()
		case <-ticker.C:
			ticks++
			if ticks%w.cfg.TickRateHz == 0 {
				w.despawn(w.now())
			}
		}
	}
}

func (w *World) drain() {
	for {
		select {
		case f := <-w.inbox:
			f()
		default:
			return
		}
	}
}

func (w *World) Stop() { w.once.Do(func() { close(w.stop) }) }

func (w *World) region(p generators.Pos) generators.RegionKey { return p.Region(w.cfg.RegionSize) }

func (w *World) regionAt(world string, x, z float64) generators.RegionKey {
	return generators.Pos{World: world, X: int(math.Floor(x)), Z: int(math.Floor(z))}.Region(w.cfg.RegionSize)
}

func (w *World) LoadRegion(p generators.Pos) {
	w.mu.Lock()
	w.loaded[w.region(p)] = true
	w.mu.Unlock()
}

func (w *World) UnloadRegion(p generators.Pos) {
	w.mu.Lock()
	delete(w.loaded, w.region(p))
	w.mu.Unlock()
}

func (w *World) SetBlock(p generators.Pos, kind string) {
	w.mu.Lock()
	if kind == "" || kind == "AIR" {
		delete(w.blocks, p)
	} else {
		w.blocks[p] = kind
	}
	w.mu.Unlock()
}

func (w *World) RegionActive(p generators.Pos) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.loaded[w.region(p)]
}

func (w *World) BlockKindAt(p generators.Pos) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if k, ok := w.blocks[p]; ok {
		return k
	}
	return "AIR"
}

func (w *World) DropItem(p generators.Pos, at generators.Vec3, item items.Template, mode generators.DropMode) error {
	if item.IsZero() {
		return fmt.Errorf("drop at %s: empty item", p)
	}
	now := w.now()
	key := w.regionAt(p.World, at.X, at.Z)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entities[key] = append(w.entities[key], itemEntity{at: at, expires: now.Add(w.cfg.ItemDespawn)})
	w.drops = append(w.drops, Drop{Pos: p, At: at, Item: item, Mode: mode, Time: now})
	if over := len(w.drops) - w.cfg.KeepDrops; over > 0 {
		w.drops = append(w.drops[:0:0], w.drops[over:]...)
	}
	w.dropped++
	return nil
}

func (w *World) SpawnEffect(world string, at generators.Vec3) {
	w.mu.Lock()
	w.effects++
	w.mu.Unlock()
}

// NearbyEntities counts live item entities within radius of at. Only the
// regions overlapping the search box are scanned.
func (w *World) NearbyEntities(world string, at generators.Vec3, radius float64) int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r2 := radius * radius
	lo := w.regionAt(world, at.X-radius, at.Z-radius)
	hi := w.regionAt(world, at.X+radius, at.Z+radius)
	n := 0
	for key, ents := range w.entities {
		if key.World != world || key.X < lo.X || key.X > hi.X || key.Z < lo.Z || key.Z > hi.Z {
			continue
		}
		for _, e := range ents {
			dx, dy, dz := e.at.X-at.X, e.at.Y-at.Y, e.at.Z-at.Z
			if dx*dx+dy*dy+dz*dz <= r2 {
				n++
			}
		}
	}
	return n
}

func (w *World) despawn(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, ents := range w.entities {
		keep := ents[:0]
		for _, e := range ents {
			if now.Before(e.expires) {
				keep = append(keep, e)
			}
		}
		if len(keep) == 0 {
			delete(w.entities, key)
			continue
		}
		w.entities[key] = keep
	}
}

// ClearEntities removes every item entity, like a server-side item sweep.
func (w *World) ClearEntities() {
	w.mu.Lock()
	w.entities = map[generators.RegionKey][]itemEntity{}
	w.mu.Unlock()
}

type Stats struct {
	Blocks   int    `json:"blocks"`
	Regions  int    `json:"loaded_regions"`
	Entities int    `json:"item_entities"`
	Dropped  uint64 `json:"dropped"`
	Effects  uint64 `json:"effects"`
	Players  int    `json:"players"`
	Rejected uint64 `json:"rejected_jobs"`
}

func (w *World) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Stats{Blocks: len(w.blocks), Regions: len(w.loaded), Dropped: w.dropped, Effects: w.effects, Players: len(w.players), Rejected: w.rejected.Load()}
	for _, ents := range w.entities {
		s.Entities += len(ents)
	}
	return s
}

// Drops returns the retained drop history, oldest first.
func (w *World) Drops() []Drop {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Drop(nil), w.drops...)
}
