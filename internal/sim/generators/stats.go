package generators

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	limitPermissionPrefix = "itemgenerator.limit."
	maxLimitTier          = 100
)

// Permission nodes checked by the engine.
const (
	PermGive        = "itemgenerator.give"
	PermReload      = "itemgenerator.reload"
	PermBreakOthers = "itemgenerator.break.others"
	PermInfoOthers  = "itemgenerator.info.others"
)

func LimitPermission(n int) string { return fmt.Sprintf("%s%d", limitPermissionPrefix, n) }

type ActorStats struct {
	GeneratorsPlaced    int
	TotalItemsGenerated uint64
	FirstSeen           time.Time
	LastActive          time.Time
}

// StatsTracker keeps per-actor counters. Entries are created on first use and
// never removed.
type StatsTracker struct {
	mu     sync.Mutex
	actors map[uuid.UUID]*ActorStats
	now    func() time.Time
}

func NewStatsTracker(now func() time.Time) *StatsTracker {
	if now == nil {
		now = time.Now
	}
	return &StatsTracker{actors: map[uuid.UUID]*ActorStats{}, now: now}
}

func (t *StatsTracker) entry(id uuid.UUID, now time.Time) *ActorStats {
	s := t.actors[id]
	if s == nil {
		s = &ActorStats{FirstSeen: now, LastActive: now}
		t.actors[id] = s
	}
	return s
}

// Get returns a copy of the actor's counters, creating the entry if needed.
func (t *StatsTracker) Get(id uuid.UUID) ActorStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.entry(id, t.now())
}

func (t *StatsTracker) RecordPlacement(id uuid.UUID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entry(id, now)
	s.GeneratorsPlaced++
	s.LastActive = now
}

func (t *StatsTracker) RecordProduction(id uuid.UUID, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entry(id, now)
	s.TotalItemsGenerated++
	s.LastActive = now
}

func (t *StatsTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.actors)
}

func (t *StatsTracker) Snapshot() map[uuid.UUID]ActorStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[uuid.UUID]ActorStats, len(t.actors))
	for id, s := range t.actors {
		out[id] = *s
	}
	return out
}

// Restore replaces every entry.
func (t *StatsTracker) Restore(in map[uuid.UUID]ActorStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actors = make(map[uuid.UUID]*ActorStats, len(in))
	for id, s := range in {
		s := s
		t.actors[id] = &s
	}
}

// Limit returns the highest itemgenerator.limit.N the actor holds, probing
// N from 100 down to 0, or defaultLimit when none is granted.
func (t *StatsTracker) Limit(id uuid.UUID, defaultLimit int, perms Permissions) int {
	if perms == nil {
		return defaultLimit
	}
	for n := maxLimitTier; n >= 0; n-- {
		if perms.HasPermission(id, LimitPermission(n)) {
			return n
		}
	}
	return defaultLimit
}
