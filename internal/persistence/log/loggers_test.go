package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"puzzleplatform.ai/internal/protocol"
	"puzzleplatform.ai/internal/sim/manager"
)

func TestTickLoggerRoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := uint64(0); i < 3; i++ {
		e := manager.TickLogEntry{Tick: i, Digest: "d"}
		if i == 1 {
			e.Controls = []protocol.ControlMsg{{Type: protocol.TypeControl, ReqID: "r1", Op: protocol.OpExecute, Platform: "P1"}}
			e.Events = []protocol.Event{{Tick: 1, Platform: "P1", Kind: protocol.EventRunStarted, Run: 1}}
		}
		if err := l.WriteTick(e); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	var got []manager.TickLogEntry
	err := ReadTicks(filepath.Join(dir, "events"), func(e manager.TickLogEntry) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(got) != 3 || got[2].Tick != 2 {
		t.Fatalf("entries %+v", got)
	}
	if len(got[1].Controls) != 1 || got[1].Controls[0].Op != protocol.OpExecute || got[1].Events[0].Run != 1 {
		t.Fatalf("entry 1 %+v", got[1])
	}
}

func TestWriterAppendsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		l := NewRunLogger(dir)
		if err := l.WriteRun(manager.RunRecord{Platform: "P1", Run: uint64(i + 1), Outcome: "RETURNED"}); err != nil {
			t.Fatalf("WriteRun: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("Close: %v", err)
		}
	}
	runs, err := ReadRuns(filepath.Join(dir, "runs"))
	if err != nil {
		t.Fatalf("ReadRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].Run != 1 || runs[1].Run != 2 {
		t.Fatalf("runs %+v", runs)
	}
}

func TestHourlyWriterRotates(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 59, 0, 0, time.UTC)
	l := NewTickLogger(dir)
	l.now = func() time.Time { return now }

	for i := uint64(0); i < 4; i++ {
		if i == 2 {
			now = now.Add(2 * time.Minute)
		}
		if err := l.WriteTick(manager.TickLogEntry{Tick: i}); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.Lines() != 4 {
		t.Fatalf("lines=%d", l.Lines())
	}

	files, err := ListFiles(filepath.Join(dir, "events"), "events")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2026-03-04-05.jsonl.zst" || filepath.Base(files[1]) != "events-2026-03-04-06.jsonl.zst" {
		t.Fatalf("files %v", files)
	}
	var ticks []uint64
	err = ReadTicks(filepath.Join(dir, "events"), func(e manager.TickLogEntry) error {
		ticks = append(ticks, e.Tick)
		return nil
	})
	if err != nil {
		t.Fatalf("ReadTicks: %v", err)
	}
	if len(ticks) != 4 || ticks[0] != 0 || ticks[3] != 3 {
		t.Fatalf("ticks %v", ticks)
	}
}

func TestListFilesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"events-2026-01-02-03.jsonl.zst", "events-2026-01-01-23.jsonl.zst", "runs-2026-01-01-00.jsonl.zst", "events.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	files, err := ListFiles(dir, "events")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "events-2026-01-01-23.jsonl.zst" {
		t.Fatalf("files %v", files)
	}
}

func TestReadTicksStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	l := NewTickLogger(dir)
	for i := uint64(0); i < 5; i++ {
		if err := l.WriteTick(manager.TickLogEntry{Tick: i}); err != nil {
			t.Fatalf("WriteTick: %v", err)
		}
	}
	_ = l.Close()

	stop := errors.New("stop")
	n := 0
	err := ReadTicks(filepath.Join(dir, "events"), func(manager.TickLogEntry) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) || n != 2 {
		t.Fatalf("err=%v n=%d", err, n)
	}
	if err := ReadTicks(t.TempDir(), func(manager.TickLogEntry) error { return nil }); err == nil {
		t.Fatalf("expected error for empty dir")
	}
}
