package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"puzzleplatform.ai/internal/sim/manager"
)

const hourLayout = "2006-01-02-15"

// HourlyWriter appends JSON lines to <dir>/<prefix>-<hour>.jsonl.zst, one
// file per UTC hour. A file is a valid zstd stream once it has been rotated
// away from or closed; reopening an hour appends a new frame.
type HourlyWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	hour  string
	f     *os.File
	zw    *zstd.Encoder
	buf   *bufio.Writer
	lines uint64
}

func NewHourlyWriter(dir, prefix string) *HourlyWriter {
	return &HourlyWriter{dir: dir, prefix: prefix, now: time.Now}
}

// Write marshals v and appends it as one line.
func (w *HourlyWriter) Write(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	if hour := w.now().UTC().Format(hourLayout); hour != w.hour || w.buf == nil {
		if err := w.openLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(line); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return err
	}
	w.lines++
	return nil
}

// Lines counts the entries written since the writer was created.
func (w *HourlyWriter) Lines() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lines
}

func (w *HourlyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *HourlyWriter) openLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.zw, w.hour = f, zw, hour
	w.buf = bufio.NewWriterSize(zw, 128*1024)
	return nil
}

func (w *HourlyWriter) closeLocked() error {
	var errs []error
	if w.buf != nil {
		errs = append(errs, w.buf.Flush())
		w.buf = nil
	}
	if w.zw != nil {
		errs = append(errs, w.zw.Close())
		w.zw = nil
	}
	if w.f != nil {
		errs = append(errs, w.f.Close())
		w.f = nil
	}
	return errors.Join(errs...)
}

// TickLogger keeps the replayable record: one entry per stepped tick with
// its controls, events and digest. Files live under <data>/events.
type TickLogger struct{ *HourlyWriter }

func NewTickLogger(dataDir string) *TickLogger {
	return &TickLogger{NewHourlyWriter(filepath.Join(dataDir, "events"), "events")}
}

func (l *TickLogger) WriteTick(e manager.TickLogEntry) error { return l.Write(e) }

// RunLogger records finished runs under <data>/runs.
type RunLogger struct{ *HourlyWriter }

func NewRunLogger(dataDir string) *RunLogger {
	return &RunLogger{NewHourlyWriter(filepath.Join(dataDir, "runs"), "runs")}
}

func (l *RunLogger) WriteRun(r manager.RunRecord) error { return l.Write(r) }
