package generators

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"itemgen.ai/internal/persistence/store"
	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/catalogs"
	"itemgen.ai/internal/sim/items"
	"itemgen.ai/internal/sim/tuning"
)

// Loader re-reads configuration for a reload.
type Loader interface {
	Load() (tuning.Tuning, *catalogs.Catalog, error)
}

// Engine is the command and event surface of the generator core. Place,
// Break, Inspect, Give and FilterExplosion touch the world and must run on
// the world's execution context.
type Engine struct {
	log   *zap.Logger
	reg   *Registry
	stats *StatsTracker
	sched *Scheduler
	world World
	perms Permissions
	inv   Inventory
	sink  EventSink
	saver store.Saver
	load  Loader
	now   func() time.Time

	tun   atomic.Pointer[tuning.Tuning]
	dirty atomic.Bool

	reloadMu sync.Mutex
	onReload []func(tuning.Tuning)
}

type EngineDeps struct {
	Logger      *zap.Logger
	World       World
	Permissions Permissions
	Inventory   Inventory
	Executor    WorldExecutor
	Sink        EventSink
	Saver       store.Saver
	Loader      Loader
	Rand        Rand
	Now         func() time.Time
}

func NewEngine(t tuning.Tuning, c *catalogs.Catalog, d EngineDeps) *Engine {
	e := &Engine{
		log:   d.Logger,
		world: d.World,
		perms: d.Permissions,
		inv:   d.Inventory,
		sink:  d.Sink,
		saver: d.Saver,
		load:  d.Loader,
		now:   d.Now,
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	if e.sink == nil {
		e.sink = Sinks(nil)
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.tun.Store(&t)
	e.reg = NewRegistry(c)
	e.stats = NewStatsTracker(e.now)
	e.sched = NewScheduler(t.Scheduler, SchedulerDeps{
		Logger:   e.log.Named("scheduler"),
		Registry: e.reg,
		Stats:    e.stats,
		World:    d.World,
		Executor: d.Executor,
		Sink:     e.sink,
		Rand:     d.Rand,
		Dirty:    e.MarkDirty,
	})
	return e
}

func (e *Engine) Registry() *Registry        { return e.reg }
func (e *Engine) Stats() *StatsTracker       { return e.stats }
func (e *Engine) Scheduler() *Scheduler      { return e.sched }
func (e *Engine) Catalog() *catalogs.Catalog { return e.reg.Catalog() }
func (e *Engine) Tuning() tuning.Tuning      { return *e.tun.Load() }
func (e *Engine) MarkDirty()                 { e.dirty.Store(true) }
func (e *Engine) TakeDirty() bool            { return e.dirty.Swap(false) }
func (e *Engine) Publish(ev protocol.Event)  { e.sink.Publish(ev) }

func (e *Engine) Cycle(now time.Time) CycleStats { return e.sched.Cycle(now) }

// OnReload registers f to run with the new tuning after every successful
// reload.
func (e *Engine) OnReload(f func(tuning.Tuning)) {
	e.reloadMu.Lock()
	e.onReload = append(e.onReload, f)
	e.reloadMu.Unlock()
}

func (e *Engine) allowed(a Actor, node string) bool {
	if node == "" || a.IsConsole() {
		return true
	}
	return e.perms != nil && e.perms.HasPermission(a.ID, node)
}

type PlaceResult struct {
	Type     string
	Count    int
	Limit    int
	Instance *Instance
}

// Place handles an actor placing item at pos. Items without a generator
// marker return ErrIgnored. On ErrLimitReached the result carries the
// current count and limit.
func (e *Engine) Place(a Actor, pos Pos, item items.Template) (PlaceResult, error) {
	typeName, ok := items.GeneratorType(item)
	if !ok {
		return PlaceResult{}, ErrIgnored
	}
	res := PlaceResult{Type: typeName}
	p, ok := e.reg.Catalog().Profile(typeName)
	if !ok {
		return res, fmt.Errorf("place %q: %w", typeName, ErrUnknownType)
	}
	if !e.allowed(a, p.Permission) {
		return res, fmt.Errorf("place %q: %w", typeName, ErrPermissionDenied)
	}
	res.Count = e.reg.CountOwnedBy(a.ID)
	res.Limit = e.stats.Limit(a.ID, e.Tuning().General.DefaultGeneratorLimit, e.perms)
	if res.Count >= res.Limit {
		return res, fmt.Errorf("place %q (%d/%d): %w", typeName, res.Count, res.Limit, ErrLimitReached)
	}

	now := e.now()
	in, ok := e.reg.Insert(pos, typeName, a.ID, now)
	if !ok {
		return res, fmt.Errorf("place %q: %w", typeName, ErrUnknownType)
	}
	res.Instance = in
	res.Count++
	e.stats.RecordPlacement(a.ID, now)
	e.MarkDirty()

	ev := instanceEvent(protocol.EventPlaced, in, now)
	ev.Actor = a.ID.String()
	e.sink.Publish(ev)
	e.log.Info("generator placed", zap.Stringer("pos", pos), zap.String("type", typeName), zap.Stringer("owner", a.ID))
	return res, nil
}

type BreakResult struct {
	Type     string
	Owner    uuid.UUID
	Produced uint64
	// Dropped is how many display items landed in the world instead of the
	// breaker's inventory.
	Dropped int
}

// Break handles an actor breaking the block at pos. The generator's display
// item goes into the breaker's inventory, or straight into the world when the
// profile drops naturally or the inventory is full.
func (e *Engine) Break(a Actor, pos Pos) (BreakResult, error) {
	in, ok := e.reg.Get(pos)
	if !ok {
		return BreakResult{}, ErrIgnored
	}
	p := in.Profile()
	res := BreakResult{Type: p.Name, Owner: in.Owner, Produced: in.Produced()}
	if in.Owner != a.ID && !e.allowed(a, PermBreakOthers) {
		return res, fmt.Errorf("break %s: %w", pos, ErrNotOwner)
	}
	if !e.reg.RemoveIf(pos, in) {
		return BreakResult{}, ErrIgnored
	}

	display := p.DisplayItem()
	var spill []items.Template
	if p.DropNaturally || a.IsConsole() || e.inv == nil {
		spill = []items.Template{display}
	} else {
		spill = e.inv.Give(a.ID, display)
	}
	for _, it := range spill {
		if err := e.world.DropItem(pos, pos.Center(), it, DropNatural); err != nil {
			e.log.Warn("drop broken generator item", zap.Stringer("pos", pos), zap.Error(err))
			continue
		}
		res.Dropped++
	}

	now := e.now()
	e.MarkDirty()
	ev := instanceEvent(protocol.EventRemoved, in, now)
	ev.Actor = a.ID.String()
	ev.Reason = protocol.ReasonBroken
	ev.Produced = res.Produced
	e.sink.Publish(ev)
	e.log.Info("generator broken", zap.Stringer("pos", pos), zap.String("type", p.Name), zap.Stringer("by", a.ID))
	return res, nil
}

type InspectResult struct {
	Type            string
	Label           string
	Owner           uuid.UUID
	Produced        uint64
	CooldownSeconds int
	// NextIn is the time left until the generator is due again.
	NextIn time.Duration
}

// Inspect reports on the generator at pos. Only sneaking actors inspect;
// anyone else interacting with the block gets ErrIgnored.
func (e *Engine) Inspect(a Actor, pos Pos) (InspectResult, error) {
	if !a.Sneaking && !a.IsConsole() {
		return InspectResult{}, ErrIgnored
	}
	in, ok := e.reg.Get(pos)
	if !ok {
		return InspectResult{}, ErrIgnored
	}
	if in.Owner != a.ID && !e.allowed(a, PermInfoOthers) {
		return InspectResult{}, fmt.Errorf("inspect %s: %w", pos, ErrPermissionDenied)
	}
	p := in.Profile()
	next := time.Duration(p.CooldownMillis()-(e.now().UnixMilli()-in.lastProduction.Load())) * time.Millisecond
	if next < 0 {
		next = 0
	}
	return InspectResult{
		Type:            p.Name,
		Label:           items.TranslateColors(p.DisplayLabel),
		Owner:           in.Owner,
		Produced:        in.Produced(),
		CooldownSeconds: p.CooldownSeconds,
		NextIn:          next,
	}, nil
}

// FilterExplosion drops generator positions from the blocks an explosion
// would destroy when explosion protection is on.
func (e *Engine) FilterExplosion(blocks []Pos) []Pos {
	if !e.Tuning().Protection.PreventExplosions || e.reg.Len() == 0 {
		return blocks
	}
	out := blocks[:0]
	for _, b := range blocks {
		if !e.reg.Contains(b) {
			out = append(out, b)
		}
	}
	return out
}

type GiveResult struct {
	Type    string
	Item    items.Template
	Dropped int
}

// Give hands target the display item of typeName.
func (e *Engine) Give(sender Actor, target uuid.UUID, typeName string) (GiveResult, error) {
	if !e.allowed(sender, PermGive) {
		return GiveResult{}, fmt.Errorf("give: %w", ErrPermissionDenied)
	}
	p, ok := e.reg.Catalog().Profile(typeName)
	if !ok {
		return GiveResult{Type: typeName}, fmt.Errorf("give %q: %w", typeName, ErrUnknownType)
	}
	if e.inv == nil {
		return GiveResult{Type: typeName}, fmt.Errorf("give %q: %w", typeName, ErrActorNotFound)
	}
	at, ok := e.inv.Locate(target)
	if !ok {
		return GiveResult{Type: typeName}, fmt.Errorf("give %q to %s: %w", typeName, target, ErrActorNotFound)
	}
	res := GiveResult{Type: typeName, Item: p.DisplayItem()}
	for _, it := range e.inv.Give(target, res.Item.Clone()) {
		if err := e.world.DropItem(at, at.Center(), it, DropNatural); err != nil {
			e.log.Warn("drop given generator item", zap.Stringer("target", target), zap.Error(err))
			continue
		}
		res.Dropped++
	}
	e.log.Info("generator item given", zap.String("type", typeName), zap.Stringer("target", target), zap.Stringer("by", sender.ID))
	return res, nil
}

type ReloadResult struct {
	Profiles int
	Rebound  int
	Orphaned int
	Warnings []string
	Digest   string
}

// Reload saves the current state, re-reads configuration and swaps it in.
// Instances whose type disappeared keep running on their old profile. A
// failed read leaves the running configuration untouched.
func (e *Engine) Reload(sender Actor) (ReloadResult, error) {
	if !e.allowed(sender, PermReload) {
		return ReloadResult{}, fmt.Errorf("reload: %w", ErrPermissionDenied)
	}
	if e.load == nil {
		return ReloadResult{}, fmt.Errorf("reload: no configuration loader")
	}
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	if e.saver != nil {
		if err := e.saver.Save(e.Snapshot()); err != nil {
			e.MarkDirty()
			e.log.Error("save before reload failed", zap.Error(err))
		}
	}
	t, c, err := e.load.Load()
	if err != nil {
		return ReloadResult{}, fmt.Errorf("reload: %w", err)
	}

	e.tun.Store(&t)
	rb := e.reg.Rebind(c)
	e.sched.Configure(t.Scheduler)
	for _, f := range e.onReload {
		f(t)
	}

	res := ReloadResult{
		Profiles: c.Len(),
		Rebound:  rb.Rebound,
		Orphaned: rb.Orphaned,
		Warnings: c.Warnings,
		Digest:   c.Digest,
	}
	ev := protocol.NewEvent(protocol.EventReloaded, e.now())
	ev.Actor = sender.ID.String()
	ev.Profiles = res.Profiles
	ev.Generators = e.reg.Len()
	ev.Digest = res.Digest
	e.sink.Publish(ev)
	e.log.Info("configuration reloaded",
		zap.Int("profiles", res.Profiles), zap.Int("rebound", res.Rebound),
		zap.Int("orphaned", res.Orphaned), zap.Int("warnings", len(res.Warnings)))
	return res, nil
}

// Snapshot captures the registry and stats as a store.State.
func (e *Engine) Snapshot() store.State {
	ins := e.reg.Snapshot()
	st := store.State{
		Generators: make([]store.Generator, 0, len(ins)),
		Players:    map[uuid.UUID]store.Player{},
	}
	for _, in := range ins {
		st.Generators = append(st.Generators, store.Generator{
			Location: store.Location{World: in.Pos.World, X: in.Pos.X, Y: in.Pos.Y, Z: in.Pos.Z},
			Type:     in.ProfileName(),
			Placer:   in.Owner,
			Produced: in.Produced(),
		})
	}
	for id, s := range e.stats.Snapshot() {
		st.Players[id] = store.Player{
			GeneratorsPlaced:    s.GeneratorsPlaced,
			TotalItemsGenerated: s.TotalItemsGenerated,
			FirstSeen:           s.FirstSeen,
			LastActive:          s.LastActive,
		}
	}
	return st
}

// Restore loads st into an engine. Cooldowns restart at now. Generators of
// unknown types are skipped; it returns how many were restored.
func (e *Engine) Restore(st store.State, now time.Time) int {
	n := 0
	for _, g := range st.Generators {
		pos := Pos{World: g.Location.World, X: g.Location.X, Y: g.Location.Y, Z: g.Location.Z}
		in, ok := e.reg.Insert(pos, g.Type, g.Placer, now)
		if !ok {
			e.log.Warn("skip restored generator", zap.Stringer("pos", pos), zap.String("type", g.Type))
			continue
		}
		in.produced.Store(g.Produced)
		n++
	}
	stats := make(map[uuid.UUID]ActorStats, len(st.Players))
	for id, p := range st.Players {
		first, last := p.FirstSeen, p.LastActive
		if first.IsZero() {
			first = now
		}
		if last.IsZero() {
			last = first
		}
		stats[id] = ActorStats{
			GeneratorsPlaced:    p.GeneratorsPlaced,
			TotalItemsGenerated: p.TotalItemsGenerated,
			FirstSeen:           first,
			LastActive:          last,
		}
	}
	e.stats.Restore(stats)
	return n
}
