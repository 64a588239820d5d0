package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"itemgen.ai/internal/protocol"
	"itemgen.ai/internal/sim/catalogs"
)

// SQLiteIndex is a write-behind read model of generator events. The yaml
// state file stays authoritative; anything the index drops under load can be
// rebuilt from the event journal.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type req struct {
	ev    protocol.Event
	flush chan error
}

type QueueStats struct {
	QueueDepth    int    `json:"queue_depth"`
	QueueCapacity int    `json:"queue_capacity"`
	DropTotal     uint64 `json:"drop_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	return openSQLite(path, 65536)
}

func openSQLite(path string, queue int) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Production events burst every cycle; buffer generously so the
		// scheduler never waits on disk.
		ch: make(chan req, queue),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			time_ms INTEGER NOT NULL,
			world TEXT,
			x INTEGER,
			y INTEGER,
			z INTEGER,
			type TEXT,
			owner TEXT,
			actor TEXT,
			item TEXT,
			amount INTEGER,
			reason TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_time ON events(kind, time_ms);`,
		`CREATE INDEX IF NOT EXISTS idx_events_owner_time ON events(owner, time_ms);`,
		`CREATE TABLE IF NOT EXISTS saves (
			time_ms INTEGER NOT NULL,
			reason TEXT NOT NULL,
			generators INTEGER NOT NULL,
			players INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_saves_time ON saves(time_ms);`,
		`CREATE TABLE IF NOT EXISTS generators_latest (
			world TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			type TEXT NOT NULL,
			owner TEXT NOT NULL,
			produced INTEGER NOT NULL,
			updated_ms INTEGER NOT NULL,
			PRIMARY KEY (world, x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_generators_owner ON generators_latest(owner);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Publish queues ev. It never blocks: when the writer falls behind the event
// is counted as dropped.
func (s *SQLiteIndex) Publish(ev protocol.Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{ev: ev}:
	default:
		s.dropped.Add(1)
	}
}

// Flush commits everything queued before it.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan error, 1)
	select {
	case s.ch <- req{flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() QueueStats {
	if s == nil {
		return QueueStats{}
	}
	return QueueStats{
		QueueDepth:    len(s.ch),
		QueueCapacity: cap(s.ch),
		DropTotal:     s.dropped.Load(),
	}
}

// DB exposes the handle for read queries in the same process.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

type catalogRow struct {
	Name            string `json:"name"`
	CooldownSeconds int    `json:"cooldown_seconds"`
	BlockKind       string `json:"block_kind"`
	Permission      string `json:"permission,omitempty"`
	DropNaturally   bool   `json:"drop_naturally"`
	Particles       bool   `json:"particles"`
	PoolEntries     int    `json:"pool_entries"`
	PoolSlots       int    `json:"pool_slots"`
}

// UpsertCatalog records the loaded generator profiles. It runs synchronously
// at startup and after a reload.
func (s *SQLiteIndex) UpsertCatalog(c *catalogs.Catalog) error {
	if s == nil || c == nil {
		return nil
	}
	rows := make([]catalogRow, 0, c.Len())
	for _, name := range c.Names() {
		p, _ := c.Profile(name)
		rows = append(rows, catalogRow{
			Name:            p.Name,
			CooldownSeconds: p.CooldownSeconds,
			BlockKind:       p.BlockKind,
			Permission:      p.Permission,
			DropNaturally:   p.DropNaturally,
			Particles:       p.Particles,
			PoolEntries:     p.Pool.Len(),
			PoolSlots:       p.Pool.Slots(),
		})
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`, "generators", c.Digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(id,kind,time_ms,world,x,y,z,type,owner,actor,item,amount,reason,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSave, _ := s.db.Prepare(`INSERT INTO saves(time_ms,reason,generators,players) VALUES(?,?,?,?)`)
	upsertGen, _ := s.db.Prepare(`INSERT OR REPLACE INTO generators_latest(world,x,y,z,type,owner,produced,updated_ms) VALUES(?,?,?,?,?,?,?,?)`)
	deleteGen, _ := s.db.Prepare(`DELETE FROM generators_latest WHERE world=? AND x=? AND y=? AND z=?`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEvent, insertSave, upsertGen, deleteGen} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() error {
		if tx == nil {
			return nil
		}
		err := tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		return err
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil {
			return true
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	for r := range s.ch {
		if r.flush != nil {
			r.flush <- commit()
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		ev := r.ev
		raw, _ := json.Marshal(ev)
		if !exec(insertEvent, ev.ID, ev.Kind, ev.TimeMs, ev.World, ev.Pos[0], ev.Pos[1], ev.Pos[2],
			ev.Type, ev.Owner, ev.Actor, ev.Item, ev.Amount, ev.Reason, string(raw)) {
			continue
		}
		switch ev.Kind {
		case protocol.EventPlaced:
			if !exec(upsertGen, ev.World, ev.Pos[0], ev.Pos[1], ev.Pos[2], ev.Type, ev.Owner, 0, ev.TimeMs) {
				continue
			}
		case protocol.EventProduced:
			if !exec(upsertGen, ev.World, ev.Pos[0], ev.Pos[1], ev.Pos[2], ev.Type, ev.Owner, int64(ev.Produced), ev.TimeMs) {
				continue
			}
		case protocol.EventRemoved:
			if !exec(deleteGen, ev.World, ev.Pos[0], ev.Pos[1], ev.Pos[2]) {
				continue
			}
		case protocol.EventSaved:
			if !exec(insertSave, ev.TimeMs, ev.Reason, ev.Generators, ev.Players) {
				continue
			}
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			_ = commit()
		}
	}
	_ = commit()
}
