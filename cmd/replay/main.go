package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"sort"

	persistlog "puzzleplatform.ai/internal/persistence/log"
	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/manager"
	"puzzleplatform.ai/internal/sim/platform"
	"puzzleplatform.ai/internal/sim/tuning"
)

func main() {
	var (
		scenarioPath = flag.String("scenario", "", "scenario file the log was recorded with (empty for the built-in demo)")
		snapPath     = flag.String("snapshot", "", "path to .snap.zst to start from (optional)")
		eventsDir    = flag.String("events", "./data/events", "events dir containing events-*.jsonl.zst")
		fromTick     = flag.Uint64("from_tick", 0, "start verifying from tick (inclusive, optional)")
		toTick       = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	scn := tuning.Demo()
	var err error
	if *scenarioPath != "" {
		scn, err = tuning.Load(*scenarioPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load scenario:", err)
			os.Exit(1)
		}
	} else {
		scn.Normalize()
	}

	m, err := manager.New(scn, manager.Options{})
	if err != nil {
		fmt.Fprintln(os.Stderr, "manager:", err)
		os.Exit(1)
	}

	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d scenario=%s tick=%d platforms=%d boxes=%d\n",
			snap.Header.Version, snap.Header.Scenario, snap.Header.Tick, len(snap.Platforms), len(snap.Boxes))
		if err := m.ImportSnapshot(snap); err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
	}

	rep, err := replay(m, *eventsDir, *fromTick, *toTick)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	rep.print()
	if len(rep.notReturned) > 0 {
		os.Exit(1)
	}
}

// report summarises the runs seen in a replayed log.
type report struct {
	startTick uint64
	checked   uint64
	outcomes  map[string]int
	// notReturned lists RETURNED runs whose end position differs from
	// their start.
	notReturned []protocol.Event
}

func (r report) print() {
	fmt.Printf("replay ok: checked=%d ticks (from tick=%d)\n", r.checked, r.startTick)
	keys := make([]string, 0, len(r.outcomes))
	for k := range r.outcomes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("runs %-9s %d\n", k, r.outcomes[k])
	}
	for _, ev := range r.notReturned {
		fmt.Printf("run %s#%d did not return: start=%v end=%v\n", ev.Platform, ev.Run, *ev.Start, *ev.End)
	}
}

var errStop = errors.New("stop")

// replay steps m through the logged controls and compares each digest.
func replay(m *manager.Manager, dir string, fromTick, toTick uint64) (report, error) {
	rep := report{startTick: m.CurrentTick(), outcomes: map[string]int{}}
	verifyFrom := fromTick
	if verifyFrom < rep.startTick {
		verifyFrom = rep.startTick
	}

	err := persistlog.ReadTicks(dir, func(entry manager.TickLogEntry) error {
		if entry.Tick < rep.startTick {
			return nil
		}
		if toTick != 0 && entry.Tick > toTick {
			return errStop
		}
		if entry.Tick != m.CurrentTick() {
			return fmt.Errorf("tick mismatch: want=%d got=%d", m.CurrentTick(), entry.Tick)
		}
		tick, gotDigest := m.StepOnce(entry.Controls)
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
		}
		if tick < verifyFrom {
			return nil
		}
		rep.checked++
		if gotDigest != entry.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, gotDigest, entry.Digest)
		}
		for _, ev := range entry.Events {
			if ev.Kind != protocol.EventRunFinished {
				continue
			}
			rep.outcomes[ev.Outcome]++
			if ev.Outcome == string(platform.OutcomeReturned) && !sameSpot(ev.Start, ev.End) {
				rep.notReturned = append(rep.notReturned, ev)
			}
		}
		return nil
	})
	if errors.Is(err, errStop) {
		err = nil
	}
	return rep, err
}

func sameSpot(a, b *[3]float64) bool {
	if a == nil || b == nil {
		return false
	}
	for i := 0; i < 3; i++ {
		if math.Abs(a[i]-b[i]) > 1e-6 {
			return false
		}
	}
	return true
}
