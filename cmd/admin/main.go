package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/sim/encoding"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "queues":
			queuesCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "status":
			statusCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "runs":
			runsCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

// listCmd prints the snapshots in the data dir, oldest first.
func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	dir := filepath.Join(*dataDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	var rows []snapshot.Header
	paths := map[uint64]string{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", e.Name(), err)
			continue
		}
		rows = append(rows, h)
		paths[h.Tick] = path
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Tick < rows[j].Tick })
	for _, h := range rows {
		fmt.Printf("%d\tv%d\t%s\t%s\n", h.Tick, h.Version, h.Scenario, paths[h.Tick])
	}
}

// queuesCmd decodes the command queues stored in a snapshot.
func queuesCmd(args []string) {
	fs := flag.NewFlagSet("queues", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	snapPath := fs.String("snapshot", "", "snapshot path (optional; defaults to latest)")
	platformID := fs.String("platform", "", "platform id filter (optional)")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*snapPath)
	if path == "" {
		path = snapshot.Latest(filepath.Join(*dataDir, "snapshots"))
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "no snapshot found; provide -snapshot or run server until it writes one")
		os.Exit(2)
	}
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}

	for _, p := range snap.Platforms {
		if *platformID != "" && p.ID != *platformID {
			continue
		}
		cmds, err := encoding.DecodeCommands(p.Commands)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: decode commands: %v\n", p.ID, err)
			os.Exit(1)
		}
		printJSON(struct {
			ID       string          `json:"id"`
			Queue    string          `json:"queue"`
			Slots    int             `json:"slots"`
			WaitTime float64         `json:"wait_time"`
			Waits    map[int]float64 `json:"waits,omitempty"`
			Rest     [3]float64      `json:"rest"`
			Runs     uint64          `json:"runs"`
		}{p.ID, encoding.FormatCommands(cmds), len(cmds), p.WaitTime, p.Waits, p.Rest, p.Runs})
	}
}

func printJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "json:", err)
		os.Exit(1)
	}
	fmt.Println(string(b))
}
