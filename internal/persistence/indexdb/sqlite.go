package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"puzzleplatform.ai/internal/persistence/snapshot"
	"puzzleplatform.ai/internal/sim/manager"
	"puzzleplatform.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of the tick log, finished runs
// and snapshots. Writes are queued and applied by one goroutine; when the
// queue is full they are dropped and counted. The JSONL logs remain the
// source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropTick     atomic.Uint64
	dropRun      atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqTick reqKind = iota + 1
	reqRun
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	tick     manager.TickLogEntry
	run      manager.RunRecord
	snapshot snapshotRow
	done     chan struct{}
}

type snapshotRow struct {
	Tick      uint64
	Path      string
	Scenario  string
	Platforms int
	Boxes     int
	Cells     int
}

// Stats reports queue health.
type Stats struct {
	DropTickTotal     uint64
	DropRunTotal      uint64
	DropSnapshotTotal uint64
	QueueDepth        int
	QueueCapacity     int
}

const (
	commitEvery   = 2000
	commitMaxWait = 2 * time.Second
)

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS scenarios (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			tick INTEGER PRIMARY KEY,
			digest TEXT NOT NULL,
			controls INTEGER NOT NULL,
			events INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS controls (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			req_id TEXT NOT NULL,
			op TEXT NOT NULL,
			platform TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_controls_platform_tick ON controls(platform, tick);`,
		`CREATE TABLE IF NOT EXISTS events (
			tick INTEGER NOT NULL,
			seq INTEGER NOT NULL,
			platform TEXT NOT NULL,
			kind TEXT NOT NULL,
			raw_json TEXT NOT NULL,
			PRIMARY KEY (tick, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_platform_tick ON events(platform, tick);`,
		`CREATE INDEX IF NOT EXISTS idx_events_kind_tick ON events(kind, tick);`,
		`CREATE TABLE IF NOT EXISTS runs (
			platform TEXT NOT NULL,
			run INTEGER NOT NULL,
			start_tick INTEGER NOT NULL,
			end_tick INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			steps INTEGER NOT NULL,
			collisions INTEGER NOT NULL,
			start_x REAL NOT NULL,
			start_y REAL NOT NULL,
			start_z REAL NOT NULL,
			end_x REAL NOT NULL,
			end_y REAL NOT NULL,
			end_z REAL NOT NULL,
			commands TEXT NOT NULL,
			fault TEXT,
			PRIMARY KEY (platform, run)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_outcome ON runs(outcome, end_tick);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			scenario TEXT NOT NULL,
			platforms INTEGER NOT NULL,
			boxes INTEGER NOT NULL,
			cells INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropTickTotal:     s.dropTick.Load(),
		DropRunTotal:      s.dropRun.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
	}
}

func (s *SQLiteIndex) WriteTick(entry manager.TickLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqTick, tick: entry}:
	default:
		s.dropTick.Add(1)
	}
	return nil
}

// RecordRun implements manager.RunRecorder.
func (s *SQLiteIndex) RecordRun(r manager.RunRecord) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqRun, run: r}:
	default:
		s.dropRun.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRow{
		Tick:      snap.Header.Tick,
		Path:      path,
		Scenario:  snap.Header.Scenario,
		Platforms: len(snap.Platforms),
		Boxes:     len(snap.Boxes),
		Cells:     len(snap.Cells),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// Flush commits everything queued before the call. Queries issued after
// Flush returns see those writes.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// UpsertScenario stores the scenario actually loaded, as canonical JSON.
func (s *SQLiteIndex) UpsertScenario(name string, scn tuning.Scenario) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(scn)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	digest := hex.EncodeToString(sum[:])
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('scenario',?)`, name); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO scenarios(name,digest,json,updated_at) VALUES(?,?,?,?)`, name, digest, string(b), now); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertTick, _ := s.db.Prepare(`INSERT OR REPLACE INTO ticks(tick,digest,controls,events,raw_json) VALUES(?,?,?,?,?)`)
	insertControl, _ := s.db.Prepare(`INSERT OR REPLACE INTO controls(tick,seq,req_id,op,platform,raw_json) VALUES(?,?,?,?,?,?)`)
	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(tick,seq,platform,kind,raw_json) VALUES(?,?,?,?,?)`)
	insertRun, _ := s.db.Prepare(`INSERT OR REPLACE INTO runs(platform,run,start_tick,end_tick,outcome,steps,collisions,start_x,start_y,start_z,end_x,end_y,end_z,commands,fault) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,scenario,platforms,boxes,cells) VALUES(?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertTick, insertControl, insertEvent, insertRun, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx         *sql.Tx
		opCount    int
		lastCommit = time.Now()
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) bool {
		if st == nil || tx == nil {
			return false
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return false
		}
		opCount++
		return true
	}

	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-ticker.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqTick:
			t := r.tick
			b, _ := json.Marshal(t)
			if !exec(insertTick, int64(t.Tick), t.Digest, len(t.Controls), len(t.Events), string(b)) {
				continue
			}
			for i, c := range t.Controls {
				raw, _ := json.Marshal(c)
				if !exec(insertControl, int64(t.Tick), i, c.ReqID, c.Op, c.Platform, string(raw)) {
					break
				}
			}
			for i, ev := range t.Events {
				raw, _ := json.Marshal(ev)
				if !exec(insertEvent, int64(t.Tick), i, ev.Platform, ev.Kind, string(raw)) {
					break
				}
			}

		case reqRun:
			rr := r.run
			var fault any
			if rr.Fault != "" {
				fault = rr.Fault
			}
			exec(insertRun,
				rr.Platform, int64(rr.Run), int64(rr.StartTick), int64(rr.EndTick),
				rr.Outcome, rr.Steps, rr.Collisions,
				rr.Start[0], rr.Start[1], rr.Start[2],
				rr.End[0], rr.End[1], rr.End[2],
				rr.Commands, fault,
			)

		case reqSnapshot:
			sn := r.snapshot
			exec(insertSnapshot, int64(sn.Tick), sn.Path, sn.Scenario, sn.Platforms, sn.Boxes, sn.Cells)
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}
}
