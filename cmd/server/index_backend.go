package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"puzzleplatform.ai/internal/persistence/indexdb"
	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/sim/manager"
	"puzzleplatform.ai/internal/sim/tuning"
)

type runIndex interface {
	manager.TickLogger
	manager.RunRecorder
	Close() error
	UpsertScenario(name string, scn tuning.Scenario) error
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	RunsFor(ctx context.Context, platform string, limit int) ([]manager.RunRecord, error)
	OutcomeCounts(ctx context.Context) (map[string]int, error)
	Flush(ctx context.Context) error
	Stats() indexdb.Stats
}

func openRunIndex(dataDir string, disableDB bool) (runIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("PP_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(dataDir, "index", "platforms.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported PP_INDEX_BACKEND: %s", backend)
	}
}

// multiTickLogger fans tick entries out to the event log and the index.
type multiTickLogger struct {
	a manager.TickLogger
	b manager.TickLogger
}

func (m multiTickLogger) WriteTick(entry manager.TickLogEntry) error {
	if m.a != nil {
		_ = m.a.WriteTick(entry)
	}
	if m.b != nil {
		_ = m.b.WriteTick(entry)
	}
	return nil
}

type runWriter interface {
	WriteRun(r manager.RunRecord) error
}

type multiRunRecorder struct {
	log runWriter
	idx manager.RunRecorder
}

func (m multiRunRecorder) RecordRun(r manager.RunRecord) {
	if m.log != nil {
		_ = m.log.WriteRun(r)
	}
	if m.idx != nil {
		m.idx.RecordRun(r)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
