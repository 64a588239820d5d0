package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/catalogs"
)

func ev(id, kind string, t int64, pos [3]int, owner string) protocol.Event {
	return protocol.Event{ID: id, Kind: kind, TimeMs: t, World: "world", Pos: pos, Type: "cobble_gen", Owner: owner}
}

func TestSQLiteIndex_TracksGeneratorLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	ctx := context.Background()

	s.Publish(ev("1", protocol.EventPlaced, 1000, [3]int{1, 64, 1}, "alice"))
	s.Publish(ev("2", protocol.EventPlaced, 1001, [3]int{2, 64, 2}, "bob"))

	p := ev("3", protocol.EventProduced, 2000, [3]int{1, 64, 1}, "alice")
	p.Item, p.Amount, p.Produced = "COBBLESTONE", 4, 7
	s.Publish(p)

	r := ev("4", protocol.EventRemoved, 3000, [3]int{2, 64, 2}, "bob")
	r.Reason = protocol.ReasonBroken
	s.Publish(r)

	s.Publish(protocol.Event{ID: "5", Kind: protocol.EventSaved, TimeMs: 4000, Reason: "auto", Generators: 1, Players: 2})
	require.NoError(t, s.Flush(ctx))

	all, err := RecentEvents(ctx, s.DB(), "", 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
	require.Equal(t, "5", all[0].ID)

	produced, err := RecentEvents(ctx, s.DB(), protocol.EventProduced, 10)
	require.NoError(t, err)
	require.Len(t, produced, 1)
	require.Equal(t, "COBBLESTONE", produced[0].Item)
	require.Equal(t, 4, produced[0].Amount)

	top, err := TopOwners(ctx, s.DB(), 10)
	require.NoError(t, err)
	require.Equal(t, []OwnerRow{{Owner: "alice", Generators: 1, Produced: 7}}, top)

	saves, err := Saves(ctx, s.DB(), 10)
	require.NoError(t, err)
	require.Equal(t, []SaveRow{{TimeMs: 4000, Reason: "auto", Generators: 1, Players: 2}}, saves)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	s.Publish(ev("6", protocol.EventPlaced, 5000, [3]int{3, 64, 3}, "carol"))
}

func TestSQLiteIndex_ReaderSeesCommittedRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	require.NoError(t, err)

	c, err := catalogs.Parse([]byte("generators:\n  cobble_gen:\n    cooldown: 5\n"), nil, nil)
	require.NoError(t, err)
	require.NoError(t, s.UpsertCatalog(c))

	s.Publish(ev("1", protocol.EventPlaced, 1000, [3]int{1, 64, 1}, "alice"))
	require.NoError(t, s.Close())

	db, err := OpenReader(path)
	require.NoError(t, err)
	defer db.Close()

	var digest string
	require.NoError(t, db.QueryRow(`SELECT digest FROM catalogs WHERE name='generators'`).Scan(&digest))
	require.Equal(t, c.Digest, digest)

	rows, err := RecentEvents(context.Background(), db, protocol.EventPlaced, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "alice", rows[0].Owner)
}
