package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const (
	Version = 1
	suffix  = ".state.zst"
)

type Header struct {
	Version    int    `json:"version"`
	SavedAtMs  int64  `json:"saved_at_ms"`
	Generators int    `json:"generators"`
	Players    int    `json:"players"`
	Catalog    string `json:"catalog,omitempty"`
}

// StateV1 is a compressed backup of the generator state file.
type StateV1 struct {
	Header Header `json:"header"`

	Generators []GeneratorV1 `json:"generators"`
	Players    []PlayerV1    `json:"players"`
}

type GeneratorV1 struct {
	World    string `json:"world"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Type     string `json:"type"`
	Owner    string `json:"owner"`
	Produced uint64 `json:"produced"`
}

type PlayerV1 struct {
	ID                  string `json:"id"`
	GeneratorsPlaced    int    `json:"generators_placed"`
	TotalItemsGenerated uint64 `json:"total_items_generated"`
	FirstSeenMs         int64  `json:"first_seen_ms,omitempty"`
	LastActiveMs        int64  `json:"last_active_ms,omitempty"`
}

// PathFor names the backup written at t inside dir.
func PathFor(dir string, t time.Time) string {
	return filepath.Join(dir, strconv.FormatInt(t.UnixMilli(), 10)+suffix)
}

func WriteSnapshot(path string, snap StateV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
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

func encode(f *os.File, snap StateV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (StateV1, error) {
	var snap StateV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)

	// The header line is for tools that only peek; gob carries it again.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// List returns the backups in dir, newest first.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type entry struct {
		path string
		ms   int64
	}
	var found []entry
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, suffix) {
			continue
		}
		ms, err := strconv.ParseInt(strings.TrimSuffix(name, suffix), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, entry{path: filepath.Join(dir, name), ms: ms})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ms > found[j].ms })
	out := make([]string, len(found))
	for i, e := range found {
		out[i] = e.path
	}
	return out, nil
}

// Latest reads the newest readable backup in dir.
func Latest(dir string) (StateV1, string, error) {
	paths, err := List(dir)
	if err != nil {
		return StateV1{}, "", err
	}
	var lastErr error = os.ErrNotExist
	for _, p := range paths {
		snap, err := ReadSnapshot(p)
		if err == nil {
			return snap, p, nil
		}
		lastErr = fmt.Errorf("%s: %w", filepath.Base(p), err)
	}
	return StateV1{}, "", lastErr
}

// Prune deletes all but the newest keep backups. keep <= 0 keeps everything.
func Prune(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	paths, err := List(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, p := range paths[min(keep, len(paths)):] {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
