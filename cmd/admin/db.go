package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"puzzleplatform.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	platformID := fs.String("platform", "", "platform filter (runs)")
	tick := fs.Uint64("tick", 0, "tick (digest)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "platforms.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch q {
	case "runs":
		runs, err := idx.RunsFor(ctx, *platformID, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, r := range runs {
			printJSON(r)
		}

	case "outcomes":
		counts, err := idx.OutcomeCounts(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(counts)

	case "snapshot":
		t, p, ok, err := idx.LatestSnapshot(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintln(os.Stderr, "no snapshots found")
			os.Exit(2)
		}
		printJSON(map[string]any{"tick": t, "path": p})

	case "digest":
		d, ok, err := idx.TickDigest(ctx, *tick)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Fprintf(os.Stderr, "tick %d not indexed\n", *tick)
			os.Exit(2)
		}
		printJSON(map[string]any{"tick": *tick, "digest": d})

	case "events":
		if *platformID == "" {
			fmt.Fprintln(os.Stderr, "missing -platform")
			os.Exit(2)
		}
		kinds, err := idx.EventsFor(ctx, *platformID)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		printJSON(kinds)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(runs|outcomes|snapshot|digest|events)")
		os.Exit(2)
	}
}
