package generators

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/items"
	"itemgen.ai/internal/sim/tuning"
)

// Rand is the randomness the scheduler and pools draw from.
type Rand = items.Rand

type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// CycleStats summarises one scheduler cycle.
type CycleStats struct {
	Registered int
	Active     int
	Batch      int
	Fired      int
}

// Scheduler selects which generators fire each cycle and dispatches their
// production onto the world executor.
type Scheduler struct {
	log   *zap.Logger
	reg   *Registry
	stats *StatsTracker
	world World
	exec  WorldExecutor
	sink  EventSink
	rng   Rand
	dirty func()

	cfg atomic.Pointer[tuning.Scheduler]

	mu         sync.Mutex
	regions    map[RegionKey]bool
	refreshed  time.Time
	cursor     int
	cursorInit bool

	cycles   atomic.Uint64
	fired    atomic.Uint64
	produced atomic.Uint64
	stale    atomic.Uint64
	failures atomic.Uint64
}

type SchedulerDeps struct {
	Logger   *zap.Logger
	Registry *Registry
	Stats    *StatsTracker
	World    World
	Executor WorldExecutor
	Sink     EventSink
	Rand     Rand
	// Dirty is called after every state change the scheduler makes.
	Dirty func()
}

func NewScheduler(cfg tuning.Scheduler, d SchedulerDeps) *Scheduler {
	s := &Scheduler{
		log:   d.Logger,
		reg:   d.Registry,
		stats: d.Stats,
		world: d.World,
		exec:  d.Executor,
		sink:  d.Sink,
		rng:   d.Rand,
		dirty: d.Dirty,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.exec == nil {
		s.exec = InlineExecutor{}
	}
	if s.sink == nil {
		s.sink = Sinks(nil)
	}
	if s.rng == nil {
		s.rng = newLockedRand(time.Now().UnixNano())
	}
	if s.dirty == nil {
		s.dirty = func() {}
	}
	s.Configure(cfg)
	return s
}

// Configure installs new tunables and forgets the region cache.
func (s *Scheduler) Configure(cfg tuning.Scheduler) {
	c := cfg
	s.cfg.Store(&c)
	s.ResetRegions()
}

func (s *Scheduler) Config() tuning.Scheduler { return *s.cfg.Load() }

func (s *Scheduler) ResetRegions() {
	s.mu.Lock()
	s.regions = nil
	s.refreshed = time.Time{}
	s.mu.Unlock()
}

// Cycle runs one production pass at now.
func (s *Scheduler) Cycle(now time.Time) CycleStats {
	s.cycles.Add(1)
	cfg := s.cfg.Load()
	var st CycleStats
	pick := func(all []*Instance) []*Instance {
		st.Registered = len(all)
		active := s.activeCandidates(all, now, cfg)
		st.Active = len(active)
		batch := s.rotate(active, cfg.BatchDivisor)
		st.Batch = len(batch)
		return batch
	}
	st.Fired = s.reg.ForEachDue(now.UnixMilli(), pick, func(in *Instance) {
		s.exec.Run(func() { s.produce(in, now, cfg) })
	})
	s.fired.Add(uint64(st.Fired))
	return st
}

// activeCandidates drops instances whose region is not simulated. The
// region cache is rebuilt at most once per RegionRefresh; regions first seen
// between rebuilds are probed on demand.
func (s *Scheduler) activeCandidates(all []*Instance, now time.Time, cfg *tuning.Scheduler) []*Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.regions == nil || now.Sub(s.refreshed) >= cfg.RegionRefresh() {
		s.regions = make(map[RegionKey]bool)
		s.refreshed = now
	}
	out := all[:0:0]
	for _, in := range all {
		key := in.Pos.Region(cfg.RegionSize)
		active, ok := s.regions[key]
		if !ok {
			active = s.world.RegionActive(in.Pos)
			s.regions[key] = active
		}
		if active {
			out = append(out, in)
		}
	}
	return out
}

// rotate returns ceil(len/divisor) candidates starting at the rotating
// cursor, wrapping around. Consecutive cycles over an unchanged candidate
// list cover every entry within divisor cycles.
func (s *Scheduler) rotate(cands []*Instance, divisor int) []*Instance {
	n := len(cands)
	if n == 0 {
		return nil
	}
	if divisor < 1 {
		divisor = 1
	}
	size := (n + divisor - 1) / divisor
	s.mu.Lock()
	if !s.cursorInit {
		s.cursor = s.rng.Intn(n)
		s.cursorInit = true
	}
	start := s.cursor % n
	s.cursor = (start + size) % n
	s.mu.Unlock()

	out := make([]*Instance, 0, size)
	for i := 0; i < size; i++ {
		out = append(out, cands[(start+i)%n])
	}
	return out
}

func (s *Scheduler) produce(in *Instance, now time.Time, cfg *tuning.Scheduler) {
	defer func() {
		if r := recover(); r != nil {
			s.failures.Add(1)
			s.log.Error("generator production panicked", zap.Stringer("pos", in.Pos), zap.Any("panic", r))
		}
	}()
	if cur, ok := s.reg.Get(in.Pos); !ok || cur != in {
		return
	}
	p := in.Profile()
	if kind := s.world.BlockKindAt(in.Pos); kind != p.BlockKind {
		if s.reg.RemoveIf(in.Pos, in) {
			s.stale.Add(1)
			s.log.Info("removed stale generator",
				zap.Stringer("pos", in.Pos), zap.String("type", p.Name),
				zap.String("expected", p.BlockKind), zap.String("found", kind))
			ev := instanceEvent(protocol.EventRemoved, in, now)
			ev.Reason = protocol.ReasonStale
			s.sink.Publish(ev)
			s.dirty()
		}
		return
	}

	item, ok := p.Pool.Draw(s.rng)
	if !ok {
		return
	}
	at := in.Pos.DropPoint()
	mode := DropNatural
	if s.world.NearbyEntities(in.Pos.World, at, float64(cfg.EntityRadius)) >= cfg.EntityThreshold {
		mode = DropFrozen
	}
	if err := s.world.DropItem(in.Pos, at, item, mode); err != nil {
		s.failures.Add(1)
		s.log.Warn("drop generated item", zap.Stringer("pos", in.Pos), zap.Error(err))
		return
	}
	if p.Particles && s.rng.Intn(cfg.ParticleChance) == 0 {
		s.world.SpawnEffect(in.Pos.World, at)
	}

	n := in.recordProduced()
	s.stats.RecordProduction(in.Owner, now)
	s.produced.Add(1)

	ev := instanceEvent(protocol.EventProduced, in, now)
	ev.Item = item.Material
	ev.Amount = item.Amount
	ev.DropMode = mode.String()
	ev.Produced = n
	s.sink.Publish(ev)
	s.dirty()
}

type SchedulerCounters struct {
	Cycles   uint64 `json:"cycles"`
	Fired    uint64 `json:"fired"`
	Produced uint64 `json:"produced"`
	Stale    uint64 `json:"stale"`
	Failures uint64 `json:"failures"`
}

func (s *Scheduler) Counters() SchedulerCounters {
	return SchedulerCounters{
		Cycles:   s.cycles.Load(),
		Fired:    s.fired.Load(),
		Produced: s.produced.Load(),
		Stale:    s.stale.Load(),
		Failures: s.failures.Load(),
	}
}

func instanceEvent(kind string, in *Instance, now time.Time) protocol.Event {
	ev := protocol.NewEvent(kind, now)
	ev.World = in.Pos.World
	ev.Pos = [3]int{in.Pos.X, in.Pos.Y, in.Pos.Z}
	ev.Type = in.ProfileName()
	ev.Owner = in.Owner.String()
	return ev
}
