package indexdb

import (
	"context"
	"database/sql"
	"errors"

	"puzzleplatform.ai/internal/sim/manager"
)

// Queries read committed rows only; call Flush first to include queued
// writes.

// RunsFor returns the recorded runs of a platform, oldest first. An empty
// platform returns every run. limit <= 0 means no limit.
func (s *SQLiteIndex) RunsFor(ctx context.Context, platform string, limit int) ([]manager.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `SELECT platform,run,start_tick,end_tick,outcome,steps,collisions,
		start_x,start_y,start_z,end_x,end_y,end_z,commands,COALESCE(fault,'')
		FROM runs WHERE (?='' OR platform=?) ORDER BY end_tick, platform, run LIMIT ?`, platform, platform, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []manager.RunRecord
	for rows.Next() {
		var (
			r           manager.RunRecord
			run, st, et int64
		)
		if err := rows.Scan(&r.Platform, &run, &st, &et, &r.Outcome, &r.Steps, &r.Collisions,
			&r.Start[0], &r.Start[1], &r.Start[2], &r.End[0], &r.End[1], &r.End[2],
			&r.Commands, &r.Fault); err != nil {
			return nil, err
		}
		r.Run, r.StartTick, r.EndTick = uint64(run), uint64(st), uint64(et)
		out = append(out, r)
	}
	return out, rows.Err()
}

// OutcomeCounts tallies runs by outcome.
func (s *SQLiteIndex) OutcomeCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT outcome, COUNT(*) FROM runs GROUP BY outcome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]int{}
	for rows.Next() {
		var k string
		var n int
		if err := rows.Scan(&k, &n); err != nil {
			return nil, err
		}
		out[k] = n
	}
	return out, rows.Err()
}

// TickDigest returns the digest recorded for tick.
func (s *SQLiteIndex) TickDigest(ctx context.Context, tick uint64) (string, bool, error) {
	var d string
	err := s.db.QueryRowContext(ctx, `SELECT digest FROM ticks WHERE tick=?`, int64(tick)).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return d, true, nil
}

// LatestSnapshot returns the newest recorded snapshot path.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (uint64, string, bool, error) {
	var (
		tick int64
		path string
	)
	err := s.db.QueryRowContext(ctx, `SELECT tick, path FROM snapshots ORDER BY tick DESC LIMIT 1`).Scan(&tick, &path)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", false, nil
	}
	if err != nil {
		return 0, "", false, err
	}
	return uint64(tick), path, true, nil
}

// EventsFor returns event kinds recorded for a platform in tick order.
func (s *SQLiteIndex) EventsFor(ctx context.Context, platform string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind FROM events WHERE platform=? ORDER BY tick, seq`, platform)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}
