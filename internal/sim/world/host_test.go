package world

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"itemgen.ai/internal/sim/generators"
	"itemgen.ai/internal/sim/items"
)

var (
	_ generators.World         = (*World)(nil)
	_ generators.Permissions   = (*World)(nil)
	_ generators.Inventory     = (*World)(nil)
	_ generators.WorldExecutor = (*World)(nil)
)

func TestRegionsAndBlocks(t *testing.T) {
	w := New(Config{}, zaptest.NewLogger(t))
	p := generators.Pos{World: "overworld", X: -1, Y: 64, Z: 17}
	require.False(t, w.RegionActive(p))
	w.LoadRegion(generators.Pos{World: "overworld", X: -16, Z: 31})
	require.True(t, w.RegionActive(p), "same 16x16 column")
	require.False(t, w.RegionActive(generators.Pos{World: "nether", X: -1, Z: 17}))

	require.Equal(t, "AIR", w.BlockKindAt(p))
	w.SetBlock(p, "COBBLESTONE")
	require.Equal(t, "COBBLESTONE", w.BlockKindAt(p))
	w.SetBlock(p, "AIR")
	require.Equal(t, 0, w.Stats().Blocks)
}

func TestNearbyEntitiesAndDespawn(t *testing.T) {
	w := New(Config{ItemDespawn: time.Minute}, nil)
	now := time.Unix(1000, 0)
	w.SetClock(func() time.Time { return now })
	p := generators.Pos{World: "overworld", X: 15, Y: 64, Z: 0}
	item := items.Template{Material: "COAL", Amount: 1}

	for i := 0; i < 3; i++ {
		require.NoError(t, w.DropItem(p, p.DropPoint(), item, generators.DropNatural))
	}
	far := generators.Pos{World: "overworld", X: 40, Y: 64, Z: 0}
	require.NoError(t, w.DropItem(far, far.DropPoint(), item, generators.DropNatural))

	// The point sits on a region border; neighbours must be scanned.
	probe := generators.Vec3{X: 16.2, Y: 65, Z: 0.5}
	require.Equal(t, 3, w.NearbyEntities("overworld", probe, 5))
	require.Equal(t, 0, w.NearbyEntities("nether", probe, 5))
	require.Len(t, w.Drops(), 4)

	w.despawn(now.Add(2 * time.Minute))
	require.Equal(t, 0, w.NearbyEntities("overworld", probe, 5))
	require.Equal(t, uint64(4), w.Stats().Dropped)
}

func TestPermissionsWildcards(t *testing.T) {
	w := New(Config{}, nil)
	id := uuid.New()
	w.AddPlayer(Player{ID: id, Name: "steve", Online: true})
	require.False(t, w.HasPermission(id, "itemgenerator.give"))

	w.Grant(id, "itemgenerator.limit.*")
	require.True(t, w.HasPermission(id, "itemgenerator.limit.7"))
	require.False(t, w.HasPermission(id, "itemgenerator.give"))

	w.Grant(id, "*")
	require.True(t, w.HasPermission(id, "itemgenerator.give"))
	w.Revoke(id, "*", "itemgenerator.limit.*")
	require.False(t, w.HasPermission(id, "itemgenerator.limit.7"))
	require.False(t, w.HasPermission(uuid.New(), "anything"))
}

func TestGiveOverflowAndTake(t *testing.T) {
	w := New(Config{InventorySlots: 1}, nil)
	id := uuid.New()
	w.AddPlayer(Player{ID: id, Online: true})
	gen := items.Template{Material: "LODESTONE", Amount: 1, Lore: []string{items.EncodeMarker("cobble_gen")}}

	require.Empty(t, w.Give(id, gen))
	require.Len(t, w.Give(id, gen), 1, "second item overflows a one-slot inventory")

	got, ok := w.Take(id, "cobble_gen")
	require.True(t, ok)
	require.Equal(t, "LODESTONE", got.Material)
	_, ok = w.Take(id, "cobble_gen")
	require.False(t, ok)

	offline := uuid.New()
	w.AddPlayer(Player{ID: offline})
	require.Len(t, w.Give(offline, gen), 1)
	_, ok = w.Locate(offline)
	require.False(t, ok)
}

func TestLoopRunsQueuedWork(t *testing.T) {
	w := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Loop(ctx) }()

	ran := false
	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	require.NoError(t, w.Do(callCtx, func() { ran = true }))
	require.True(t, ran)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("world loop did not stop")
	}
}

func TestRunNeverExecutesOnCaller(t *testing.T) {
	w := New(Config{QueueSize: 1, EnqueueWait: 10 * time.Millisecond}, zaptest.NewLogger(t))

	var first, second bool
	w.Run(func() { first = true })
	w.Run(func() { second = true })
	require.False(t, first)
	require.False(t, second, "full queue must not run work on the caller")
	require.Equal(t, uint64(1), w.Stats().Rejected)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Loop(ctx) }()
	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	require.NoError(t, w.Do(callCtx, func() {}))
	require.True(t, first)
	require.False(t, second)

	cancel()
	<-done
}

func TestLoadPlayers(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "players.yaml")
	doc := `
players:
  6f1c2c3e-1f7a-4bfe-9b8e-33b0d7b5b9c1:
    name: alice
    world: overworld
    pos: [10, 64, -3]
    permissions: [itemgenerator.limit.10, ItemGenerator.Give]
  0b8e1d22-5a1c-4c44-9a55-7e2d4e1f0a10:
    name: bob
    world: overworld
    online: false
`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o644))
	w := New(Config{}, nil)
	n, err := w.LoadPlayers(p)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	alice, ok := w.PlayerByName("ALICE")
	require.True(t, ok)
	require.True(t, w.HasPermission(alice.ID, "itemgenerator.give"))
	require.True(t, w.RegionActive(alice.Pos))
	bob, _ := w.PlayerByName("bob")
	require.False(t, bob.Online)
}
