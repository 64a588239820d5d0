package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	persistlog "itemgen.ai/internal/persistence/log"
	"itemgen.ai/internal/persistence/snapshot"
	"itemgen.ai/internal/persistence/store"
	"itemgen.ai/internal/protocol"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "state":
			stateCmd(os.Args[2:])
			return
		case "restore":
			restoreCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "watch":
			watchCmd(os.Args[2:])
			return
		case "give":
			giveCmd(os.Args[2:])
			return
		case "reload":
			reloadCmd(os.Args[2:])
			return
		case "stats":
			statsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the backups in the data directory, newest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	paths, err := snapshot.List(filepath.Join(*dataDir, store.BackupDir))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
	for _, p := range paths {
		h, err := snapshot.ReadHeader(p)
		if err != nil {
			fmt.Printf("%s\tunreadable: %v\n", filepath.Base(p), err)
			continue
		}
		fmt.Printf("%s\tsaved=%s\tgenerators=%d\tplayers=%d\n",
			filepath.Base(p), time.UnixMilli(h.SavedAtMs).UTC().Format(time.RFC3339), h.Generators, h.Players)
	}
}

func anyType(string) bool { return true }

// stateCmd summarises data.yml offline.
func stateCmd(args []string) {
	fs := flag.NewFlagSet("state", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	verbose := fs.Bool("v", false, "print every generator")
	_ = fs.Parse(args)

	st, err := openStore(*dataDir).Load(anyType)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load:", err)
		os.Exit(1)
	}
	byType := map[string]int{}
	var produced uint64
	for _, g := range st.Generators {
		byType[g.Type]++
		produced += g.Produced
	}
	printJSON(map[string]any{
		"generators": len(st.Generators),
		"players":    len(st.Players),
		"by_type":    byType,
		"produced":   produced,
	})
	if *verbose {
		for _, g := range st.Generators {
			printJSON(g)
		}
	}
}

// restoreCmd replaces data.yml with a backup. Run it while the server is
// stopped.
func restoreCmd(args []string) {
	fs := flag.NewFlagSet("restore", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	backup := fs.String("backup", "", "backup path (default: newest readable backup)")
	_ = fs.Parse(args)

	s := openStore(*dataDir)
	path := strings.TrimSpace(*backup)
	if path == "" {
		_, latest, err := snapshot.Latest(s.BackupDir())
		if err != nil {
			fmt.Fprintln(os.Stderr, "no usable backup:", err)
			os.Exit(2)
		}
		path = latest
	}
	st, err := s.RestoreBackup(path, anyType)
	if err != nil {
		fmt.Fprintln(os.Stderr, "restore:", err)
		os.Exit(1)
	}
	fmt.Printf("restore ok: backup=%s generators=%d players=%d out=%s\n",
		filepath.Base(path), len(st.Generators), len(st.Players), s.Path())
}

// journalCmd prints journal events matching the filters as JSON lines.
func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "", "event kind filter")
	owner := fs.String("owner", "", "owner uuid filter")
	since := fs.Duration("since", 0, "only events newer than this (e.g. 1h)")
	_ = fs.Parse(args)

	files, err := persistlog.JournalFiles(filepath.Join(*dataDir, "events"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "journal:", err)
		os.Exit(1)
	}
	var minMs int64
	if *since > 0 {
		minMs = time.Now().Add(-*since).UnixMilli()
	}
	filter := protocol.SubscribeMsg{Owner: *owner}
	if *kind != "" {
		filter.Kinds = []string{strings.ToUpper(*kind)}
	}
	n := 0
	for _, f := range files {
		err := persistlog.ReadJournal(f, func(ev protocol.Event) error {
			if ev.TimeMs < minMs || !filter.Match(ev) {
				return nil
			}
			n++
			printJSON(ev)
			return nil
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "read:", err)
			os.Exit(1)
		}
	}
	fmt.Fprintf(os.Stderr, "%d events\n", n)
}

func openStore(dataDir string) *store.Store {
	s, err := store.New(store.Options{Dir: dataDir, Logger: zap.NewNop()})
	if err != nil {
		fmt.Fprintln(os.Stderr, "open store:", err)
		os.Exit(1)
	}
	return s
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
