package generators

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"itemgen.ai/internal/sim/catalogs"
)

const shardCount = 32

type shard struct {
	mu sync.RWMutex
	m  map[Pos]*Instance
}

// Registry holds every placed generator, keyed by position. It is safe for
// concurrent use; iteration always works on a copied slice so callers may
// insert or remove while visiting.
type Registry struct {
	shards  [shardCount]shard
	catalog atomic.Pointer[catalogs.Catalog]
	size    atomic.Int64
}

func NewRegistry(c *catalogs.Catalog) *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].m = map[Pos]*Instance{}
	}
	if c == nil {
		c = catalogs.NewCatalog()
	}
	r.catalog.Store(c)
	return r
}

func (r *Registry) shardFor(p Pos) *shard {
	return &r.shards[p.hash()%shardCount]
}

func (r *Registry) Catalog() *catalogs.Catalog { return r.catalog.Load() }

// Insert places a generator of the named type at pos, replacing whatever was
// there. It returns false when the type is unknown.
func (r *Registry) Insert(pos Pos, profileName string, owner uuid.UUID, now time.Time) (*Instance, bool) {
	p, ok := r.catalog.Load().Profile(profileName)
	if !ok {
		return nil, false
	}
	in := newInstance(pos, p, owner, now)
	s := r.shardFor(pos)
	s.mu.Lock()
	if _, exists := s.m[pos]; !exists {
		r.size.Add(1)
	}
	s.m[pos] = in
	s.mu.Unlock()
	return in, true
}

func (r *Registry) Remove(pos Pos) (*Instance, bool) {
	s := r.shardFor(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.m[pos]
	if ok {
		delete(s.m, pos)
		r.size.Add(-1)
	}
	return in, ok
}

// RemoveIf removes the entry at pos only if it is still in.
func (r *Registry) RemoveIf(pos Pos, in *Instance) bool {
	s := r.shardFor(pos)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[pos]; ok && cur == in {
		delete(s.m, pos)
		r.size.Add(-1)
		return true
	}
	return false
}

func (r *Registry) Get(pos Pos) (*Instance, bool) {
	s := r.shardFor(pos)
	s.mu.RLock()
	in, ok := s.m[pos]
	s.mu.RUnlock()
	return in, ok
}

func (r *Registry) Contains(pos Pos) bool {
	_, ok := r.Get(pos)
	return ok
}

func (r *Registry) Len() int { return int(r.size.Load()) }

// Snapshot copies the current entries, sorted by position.
func (r *Registry) Snapshot() []*Instance {
	out := make([]*Instance, 0, r.Len())
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, in := range s.m {
			out = append(out, in)
		}
		s.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

func (r *Registry) CountOwnedBy(owner uuid.UUID) int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.RLock()
		for _, in := range s.m {
			if in.Owner == owner {
				n++
			}
		}
		s.mu.RUnlock()
	}
	return n
}

// ForEachDue snapshots the registry, lets pick narrow the snapshot to this
// cycle's candidates, then claims and visits each candidate that is due at
// nowMs. A nil pick visits everything.
func (r *Registry) ForEachDue(nowMs int64, pick func([]*Instance) []*Instance, visit func(*Instance)) int {
	candidates := r.Snapshot()
	if pick != nil {
		candidates = pick(candidates)
	}
	fired := 0
	for _, in := range candidates {
		if !in.claim(nowMs) {
			continue
		}
		fired++
		visit(in)
	}
	return fired
}

type RebindResult struct {
	Rebound  int
	Orphaned int
}

// Rebind installs c and points every instance at the profile of the same
// name in it. Instances whose type is gone keep their old profile.
func (r *Registry) Rebind(c *catalogs.Catalog) RebindResult {
	if c == nil {
		c = catalogs.NewCatalog()
	}
	r.catalog.Store(c)
	var res RebindResult
	for _, in := range r.Snapshot() {
		if p, ok := c.Profile(in.ProfileName()); ok {
			in.rebind(p)
			res.Rebound++
			continue
		}
		res.Orphaned++
	}
	return res
}
