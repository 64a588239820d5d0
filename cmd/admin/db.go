package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"itemgen.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/events.sqlite)")
	kind := fs.String("kind", "", "event kind filter (events)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "events"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "events.sqlite")
	}

	db, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()
	ctx := context.Background()

	switch q {
	case "events":
		rows, err := indexdb.RecentEvents(ctx, db, strings.ToUpper(*kind), *limit)
		exitOnErr(err)
		for _, r := range rows {
			printJSON(r)
		}
	case "saves":
		rows, err := indexdb.Saves(ctx, db, *limit)
		exitOnErr(err)
		for _, r := range rows {
			printJSON(r)
		}
	case "top":
		rows, err := indexdb.TopOwners(ctx, db, *limit)
		exitOnErr(err)
		for _, r := range rows {
			printJSON(r)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(events|saves|top)")
		os.Exit(2)
	}
}

func exitOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
}
