package generators

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"itemgen.ai/internal/sim/catalogs"
	"itemgen.ai/internal/sim/items"
)

func testCatalog(names ...string) *catalogs.Catalog {
	var ps []*catalogs.Profile
	for _, n := range names {
		ps = append(ps, &catalogs.Profile{
			Name:            n,
			CooldownSeconds: 5,
			BlockKind:       "STONE",
			Pool:            items.NewPool([]items.Entry{{Item: items.Template{Material: "COAL", Amount: 1}, Weight: 1}}),
		})
	}
	return catalogs.NewCatalog(ps...)
}

func TestPosRegionFloorsNegatives(t *testing.T) {
	require.Equal(t, RegionKey{World: "w", X: -1, Z: 0}, Pos{World: "w", X: -1, Z: 15}.Region(16))
	require.Equal(t, RegionKey{World: "w", X: -2, Z: 1}, Pos{World: "w", X: -17, Z: 16}.Region(16))
	require.Equal(t, RegionKey{World: "w", X: 0, Z: -1}, Pos{World: "w", X: 0, Z: -16}.Region(16))
	require.NotEqual(t, Pos{World: "a", X: 1}.hash(), Pos{World: "b", X: 1}.hash())
}

func TestRegistryInsertRemove(t *testing.T) {
	r := NewRegistry(testCatalog("a"))
	owner := uuid.New()
	now := time.UnixMilli(1000)
	p := Pos{World: "w", X: 1, Y: 2, Z: 3}

	_, ok := r.Insert(p, "missing", owner, now)
	require.False(t, ok)
	require.Equal(t, 0, r.Len())

	in, ok := r.Insert(p, "a", owner, now)
	require.True(t, ok)
	require.Equal(t, int64(1000), in.LastProduction().UnixMilli())
	again, _ := r.Insert(p, "a", owner, now)
	require.Equal(t, 1, r.Len(), "re-insert replaces")

	require.False(t, r.RemoveIf(p, in), "stale pointer must not remove the replacement")
	require.True(t, r.RemoveIf(p, again))
	_, ok = r.Remove(p)
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}

func TestRegistrySnapshotSortedAndOwnedCount(t *testing.T) {
	r := NewRegistry(testCatalog("a"))
	alice, bob := uuid.New(), uuid.New()
	now := time.Now()
	for _, x := range []int{5, -3, 12, 0} {
		r.Insert(Pos{World: "w", X: x}, "a", alice, now)
	}
	r.Insert(Pos{World: "v", X: 99}, "a", bob, now)

	snap := r.Snapshot()
	require.Len(t, snap, 5)
	require.Equal(t, "v", snap[0].Pos.World)
	require.Equal(t, []int{-3, 0, 5, 12}, []int{snap[1].Pos.X, snap[2].Pos.X, snap[3].Pos.X, snap[4].Pos.X})
	require.Equal(t, 4, r.CountOwnedBy(alice))
	require.Equal(t, 1, r.CountOwnedBy(bob))
}

func TestClaimFiresOnce(t *testing.T) {
	r := NewRegistry(testCatalog("a"))
	in, _ := r.Insert(Pos{World: "w"}, "a", uuid.New(), time.UnixMilli(0))
	require.False(t, in.claim(4_999))
	require.True(t, in.claim(5_000))
	require.False(t, in.claim(5_000), "claimed instances wait a full cooldown")
	require.True(t, in.claim(10_000))
}

func TestRotateCursorWraps(t *testing.T) {
	s := &Scheduler{rng: newLockedRand(1)}
	cands := make([]*Instance, 7)
	for i := range cands {
		cands[i] = &Instance{Pos: Pos{X: i}}
	}
	s.cursor, s.cursorInit = 5, true

	b := s.rotate(cands, 3)
	require.Len(t, b, 3)
	require.Equal(t, []int{5, 6, 0}, []int{b[0].Pos.X, b[1].Pos.X, b[2].Pos.X})
	b = s.rotate(cands, 3)
	require.Equal(t, []int{1, 2, 3}, []int{b[0].Pos.X, b[1].Pos.X, b[2].Pos.X})
	require.Nil(t, s.rotate(nil, 3))
}

func TestRebindKeepsOrphans(t *testing.T) {
	r := NewRegistry(testCatalog("a", "b"))
	now := time.Now()
	ia, _ := r.Insert(Pos{World: "w", X: 1}, "a", uuid.New(), now)
	ib, _ := r.Insert(Pos{World: "w", X: 2}, "b", uuid.New(), now)
	oldB := ib.Profile()

	res := r.Rebind(testCatalog("a"))
	require.Equal(t, RebindResult{Rebound: 1, Orphaned: 1}, res)
	require.Same(t, oldB, ib.Profile())
	p, _ := r.Catalog().Profile("a")
	require.Same(t, p, ia.Profile())
	_, ok := r.Insert(Pos{World: "w", X: 3}, "b", uuid.New(), now)
	require.False(t, ok, "new placements only see the new catalog")
}

type probe map[string]bool

func (p probe) HasPermission(_ uuid.UUID, node string) bool { return p[node] }

func TestStatsLimitProbesDescending(t *testing.T) {
	st := NewStatsTracker(nil)
	id := uuid.New()
	require.Equal(t, 5, st.Limit(id, 5, probe{}))
	require.Equal(t, 20, st.Limit(id, 5, probe{"itemgenerator.limit.3": true, "itemgenerator.limit.20": true}))
	require.Equal(t, 0, st.Limit(id, 5, probe{"itemgenerator.limit.0": true}))
	require.Equal(t, 5, st.Limit(id, 5, nil))
}

func TestStatsRecordAndRestore(t *testing.T) {
	st := NewStatsTracker(func() time.Time { return time.UnixMilli(1) })
	id := uuid.New()
	require.Equal(t, 0, st.Get(id).GeneratorsPlaced)
	require.Equal(t, 1, st.Len(), "Get creates the entry")

	st.RecordPlacement(id, time.UnixMilli(10))
	st.RecordProduction(id, time.UnixMilli(20))
	got := st.Get(id)
	require.Equal(t, 1, got.GeneratorsPlaced)
	require.Equal(t, uint64(1), got.TotalItemsGenerated)
	require.Equal(t, int64(20), got.LastActive.UnixMilli())

	snap := st.Snapshot()
	other := NewStatsTracker(nil)
	other.Restore(snap)
	require.Equal(t, got, other.Get(id))
}
