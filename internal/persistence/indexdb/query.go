package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
)

// OpenReader opens an existing index read-only, for tooling that runs next
// to a live server.
func OpenReader(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	q := url.Values{}
	q.Set("mode", "ro")
	q.Add("_pragma", "busy_timeout(5000)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

type EventRow struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	TimeMs int64  `json:"time_ms"`
	World  string `json:"world,omitempty"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
	Z      int    `json:"z"`
	Type   string `json:"type,omitempty"`
	Owner  string `json:"owner,omitempty"`
	Item   string `json:"item,omitempty"`
	Amount int    `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RecentEvents returns the newest events first. An empty kind matches all.
func RecentEvents(ctx context.Context, db *sql.DB, kind string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, time_ms, COALESCE(world,''), COALESCE(x,0), COALESCE(y,0), COALESCE(z,0),
		       COALESCE(type,''), COALESCE(owner,''), COALESCE(item,''), COALESCE(amount,0), COALESCE(reason,'')
		FROM events
		WHERE (? = '' OR kind = ?)
		ORDER BY time_ms DESC, id
		LIMIT ?`, kind, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRow
	for rows.Next() {
		var r EventRow
		if err := rows.Scan(&r.ID, &r.Kind, &r.TimeMs, &r.World, &r.X, &r.Y, &r.Z, &r.Type, &r.Owner, &r.Item, &r.Amount, &r.Reason); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type SaveRow struct {
	TimeMs     int64  `json:"time_ms"`
	Reason     string `json:"reason"`
	Generators int    `json:"generators"`
	Players    int    `json:"players"`
}

func Saves(ctx context.Context, db *sql.DB, limit int) ([]SaveRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT time_ms, reason, generators, players FROM saves ORDER BY time_ms DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SaveRow
	for rows.Next() {
		var r SaveRow
		if err := rows.Scan(&r.TimeMs, &r.Reason, &r.Generators, &r.Players); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type OwnerRow struct {
	Owner      string `json:"owner"`
	Generators int    `json:"generators"`
	Produced   int64  `json:"produced"`
}

// TopOwners ranks owners by the production of their live generators.
func TopOwners(ctx context.Context, db *sql.DB, limit int) ([]OwnerRow, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT owner, COUNT(*), SUM(produced)
		FROM generators_latest
		GROUP BY owner
		ORDER BY SUM(produced) DESC, owner
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OwnerRow
	for rows.Next() {
		var r OwnerRow
		if err := rows.Scan(&r.Owner, &r.Generators, &r.Produced); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
