package worldtest

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/catalogs"
	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/items"
	"itemgen.ai/internal/sim/tuning"
	world "itemgen.ai/internal/sim/world"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu sync.Mutex
	t  time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{t: start} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

// Recorder is an EventSink that keeps every event.
type Recorder struct {
	mu     sync.Mutex
	events []protocol.Event
}

func (r *Recorder) Publish(ev protocol.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *Recorder) Events() []protocol.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Event(nil), r.events...)
}

func (r *Recorder) Count(kind string) int {
	n := 0
	for _, ev := range r.Events() {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// lockedRand is a seeded, goroutine-safe items.Rand.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func NewRand(seed int64) items.Rand { return &lockedRand{r: rand.New(rand.NewSource(seed))} }

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Harness wires an Engine to an in-memory world with a manual clock and an
// inline executor, so tests drive cycles synchronously.
type Harness struct {
	T      *testing.T
	Clock  *Clock
	World  *world.World
	Engine *generators.Engine
	Events *Recorder
	Tuning tuning.Tuning
	// YAML is what the next Engine.Reload parses.
	YAML string
}

func Start() time.Time { return time.UnixMilli(1_700_000_000_000) }

func NewHarness(t *testing.T, generatorsYAML string, tun tuning.Tuning) *Harness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	cat, err := catalogs.Parse([]byte(generatorsYAML), nil, logger)
	if err != nil {
		t.Fatalf("parse generators: %v", err)
	}
	clock := NewClock(Start())
	w := world.New(world.Config{RegionSize: tun.Scheduler.RegionSize}, logger)
	w.SetClock(clock.Now)
	h := &Harness{T: t, Clock: clock, World: w, Events: &Recorder{}, Tuning: tun, YAML: generatorsYAML}
	h.Engine = generators.NewEngine(tun, cat, generators.EngineDeps{
		Logger:      logger,
		World:       w,
		Permissions: w,
		Inventory:   w,
		Executor:    generators.InlineExecutor{},
		Sink:        h.Events,
		Loader:      h,
		Rand:        NewRand(1),
		Now:         clock.Now,
	})
	return h
}

// Load implements generators.Loader from the harness fields.
func (h *Harness) Load() (tuning.Tuning, *catalogs.Catalog, error) {
	c, err := catalogs.Parse([]byte(h.YAML), nil, nil)
	return h.Tuning, c, err
}

// AddPlayer registers an online player holding nodes.
func (h *Harness) AddPlayer(name string, nodes ...string) generators.Actor {
	id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
	h.World.AddPlayer(world.Player{
		ID:     id,
		Name:   name,
		Pos:    generators.Pos{World: "overworld"},
		Online: true,
	})
	h.World.Grant(id, nodes...)
	return generators.Actor{ID: id}
}

// Place puts the block for typeName at pos in a loaded region and runs the
// placement through the engine.
func (h *Harness) Place(a generators.Actor, pos generators.Pos, typeName string) (generators.PlaceResult, error) {
	h.T.Helper()
	p, ok := h.Engine.Catalog().Profile(typeName)
	if !ok {
		return h.Engine.Place(a, pos, items.Template{Material: "LODESTONE", Amount: 1, Lore: []string{items.EncodeMarker(typeName)}})
	}
	h.World.LoadRegion(pos)
	h.World.SetBlock(pos, p.BlockKind)
	return h.Engine.Place(a, pos, p.DisplayItem())
}

// Cycle advances the clock by d and runs one scheduler cycle.
func (h *Harness) Cycle(d time.Duration) generators.CycleStats {
	return h.Engine.Cycle(h.Clock.Advance(d))
}
