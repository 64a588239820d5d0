package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"itemgen.ai/internal/persistence/snapshot"
)

const (
	FileName  = "data.yml"
	BackupDir = "backups"
)

type Options struct {
	Dir string
	// KeepBackups is how many compressed backups to retain; 0 disables them.
	KeepBackups int
	Logger      *zap.Logger
	Now         func() time.Time
	// OnBackup is called with the path of every backup written.
	OnBackup func(path string)
}

// Store owns the state file in a data directory. Saves are serialised.
type Store struct {
	dir       string
	path      string
	backupDir string
	keep      int
	log       *zap.Logger
	now       func() time.Time
	onBackup  func(string)

	mu sync.Mutex
}

func New(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("store: empty data dir")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	s := &Store{
		dir:       opts.Dir,
		path:      filepath.Join(opts.Dir, FileName),
		backupDir: filepath.Join(opts.Dir, BackupDir),
		keep:      opts.KeepBackups,
		log:       opts.Logger,
		now:       opts.Now,
		onBackup:  opts.OnBackup,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

func (s *Store) Path() string      { return s.path }
func (s *Store) BackupDir() string { return s.backupDir }

func (s *Store) SetKeepBackups(n int) {
	s.mu.Lock()
	s.keep = n
	s.mu.Unlock()
}

// Save atomically replaces the state file and, when backups are enabled,
// writes a compressed backup alongside it.
func (s *Store) Save(st State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	fs := toFile(st)
	backup := snapshot.PathFor(s.backupDir, now)
	var g errgroup.Group
	g.Go(func() error { return writeFileAtomic(s.path, fs) })
	if s.keep > 0 {
		g.Go(func() error {
			if err := snapshot.WriteSnapshot(backup, toSnapshot(st, now)); err != nil {
				return fmt.Errorf("backup: %w", err)
			}
			if _, err := snapshot.Prune(s.backupDir, s.keep); err != nil {
				return fmt.Errorf("prune backups: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	if s.keep > 0 && s.onBackup != nil {
		s.onBackup(backup)
	}
	return nil
}

func writeFileAtomic(path string, fs fileState) error {
	b, err := yaml.Marshal(fs)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the state file. A missing file is an empty state. Entries that
// fail to decode, have no location, a type known rejects, or an unparseable
// id are logged and skipped. If the file exists but is not parseable yaml of
// the expected shape, the newest readable backup is used instead.
func (s *Store) Load(known func(typeName string) bool) (State, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{Players: map[uuid.UUID]Player{}}, nil
		}
		return State{}, err
	}
	var doc looseState
	if perr := yaml.Unmarshal(raw, &doc); perr != nil {
		s.log.Error("state file unreadable, trying backups", zap.String("path", s.path), zap.Error(perr))
		snap, from, berr := snapshot.Latest(s.backupDir)
		if berr != nil {
			return State{}, fmt.Errorf("%s: %w (no usable backup: %v)", s.path, perr, berr)
		}
		s.log.Warn("restored state from backup", zap.String("backup", from))
		return s.decode(fromSnapshot(snap), known), nil
	}
	return s.decode(s.decodeEntries(doc), known), nil
}

// decodeEntries decodes every entry on its own so one bad field only costs
// that entry.
func (s *Store) decodeEntries(doc looseState) fileState {
	fs := fileState{
		Generators: make([]fileGenerator, 0, len(doc.Generators)),
		Players:    make(map[string]filePlayer, len(doc.Players)),
	}
	for i := range doc.Generators {
		var g fileGenerator
		if err := doc.Generators[i].Decode(&g); err != nil {
			s.log.Warn("skip saved generator", zap.Int("line", doc.Generators[i].Line), zap.String("reason", "malformed entry"), zap.Error(err))
			continue
		}
		fs.Generators = append(fs.Generators, g)
	}
	for key, node := range doc.Players {
		var p filePlayer
		if err := node.Decode(&p); err != nil {
			s.log.Warn("skip saved player", zap.String("id", key), zap.String("reason", "malformed entry"), zap.Error(err))
			continue
		}
		fs.Players[key] = p
	}
	return fs
}

// RestoreBackup replaces the state file with the contents of the backup at
// path. It is meant for offline use while no server owns the directory.
func (s *Store) RestoreBackup(path string, known func(typeName string) bool) (State, error) {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return State{}, err
	}
	st := s.decode(fromSnapshot(snap), known)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, toFile(st)); err != nil {
		return State{}, fmt.Errorf("restore %s: %w", filepath.Base(path), err)
	}
	return st, nil
}

func (s *Store) decode(fs fileState, known func(string) bool) State {
	st := State{Players: make(map[uuid.UUID]Player, len(fs.Players))}
	seen := make(map[Location]bool, len(fs.Generators))
	for i, g := range fs.Generators {
		skip := func(reason string) {
			s.log.Warn("skip saved generator", zap.Int("index", i), zap.String("type", g.Type), zap.String("reason", reason))
		}
		switch {
		case g.Location == nil || g.Location.World == "":
			skip("missing location")
			continue
		case g.Type == "" || (known != nil && !known(g.Type)):
			skip("unknown type")
			continue
		case seen[*g.Location]:
			skip("duplicate location")
			continue
		}
		placer, err := uuid.Parse(g.Placer)
		if err != nil {
			skip("bad placer id")
			continue
		}
		seen[*g.Location] = true
		st.Generators = append(st.Generators, Generator{
			Location: *g.Location,
			Type:     g.Type,
			Placer:   placer,
			Produced: g.ItemsGenerated,
		})
	}
	for key, p := range fs.Players {
		id, err := uuid.Parse(key)
		if err != nil {
			s.log.Warn("skip saved player", zap.String("id", key), zap.String("reason", "bad id"))
			continue
		}
		st.Players[id] = Player{
			GeneratorsPlaced:    p.GeneratorsPlaced,
			TotalItemsGenerated: p.TotalItemsGenerated,
			FirstSeen:           msTime(p.FirstSeenMs),
			LastActive:          msTime(p.LastActiveMs),
		}
	}
	return st
}

func sortedPlayerIDs(m map[uuid.UUID]Player) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func toFile(st State) fileState {
	fs := fileState{
		Generators: make([]fileGenerator, 0, len(st.Generators)),
		Players:    make(map[string]filePlayer, len(st.Players)),
	}
	for _, g := range st.Generators {
		loc := g.Location
		fs.Generators = append(fs.Generators, fileGenerator{
			Location:       &loc,
			Type:           g.Type,
			Placer:         g.Placer.String(),
			ItemsGenerated: g.Produced,
		})
	}
	for id, p := range st.Players {
		fs.Players[id.String()] = filePlayer{
			GeneratorsPlaced:    p.GeneratorsPlaced,
			TotalItemsGenerated: p.TotalItemsGenerated,
			FirstSeenMs:         timeMs(p.FirstSeen),
			LastActiveMs:        timeMs(p.LastActive),
		}
	}
	return fs
}

func toSnapshot(st State, now time.Time) snapshot.StateV1 {
	snap := snapshot.StateV1{
		Header: snapshot.Header{
			Version:    snapshot.Version,
			SavedAtMs:  now.UnixMilli(),
			Generators: len(st.Generators),
			Players:    len(st.Players),
		},
	}
	for _, g := range st.Generators {
		snap.Generators = append(snap.Generators, snapshot.GeneratorV1{
			World:    g.Location.World,
			X:        g.Location.X,
			Y:        g.Location.Y,
			Z:        g.Location.Z,
			Type:     g.Type,
			Owner:    g.Placer.String(),
			Produced: g.Produced,
		})
	}
	for _, id := range sortedPlayerIDs(st.Players) {
		p := st.Players[id]
		snap.Players = append(snap.Players, snapshot.PlayerV1{
			ID:                  id.String(),
			GeneratorsPlaced:    p.GeneratorsPlaced,
			TotalItemsGenerated: p.TotalItemsGenerated,
			FirstSeenMs:         timeMs(p.FirstSeen),
			LastActiveMs:        timeMs(p.LastActive),
		})
	}
	return snap
}

func fromSnapshot(snap snapshot.StateV1) fileState {
	fs := fileState{Players: make(map[string]filePlayer, len(snap.Players))}
	for _, g := range snap.Generators {
		fs.Generators = append(fs.Generators, fileGenerator{
			Location:       &Location{World: g.World, X: g.X, Y: g.Y, Z: g.Z},
			Type:           g.Type,
			Placer:         g.Owner,
			ItemsGenerated: g.Produced,
		})
	}
	for _, p := range snap.Players {
		fs.Players[p.ID] = filePlayer{
			GeneratorsPlaced:    p.GeneratorsPlaced,
			TotalItemsGenerated: p.TotalItemsGenerated,
			FirstSeenMs:         p.FirstSeenMs,
			LastActiveMs:        p.LastActiveMs,
		}
	}
	return fs
}
