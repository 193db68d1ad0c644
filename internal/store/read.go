package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const runColumns = `id, started_at, finished_at, config, working_set, published,
	publish_failures, sweeps, probes, churned, stop_reason, status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	err := row.Scan(
		&r.ID, &started, &finished, &r.Config, &r.WorkingSet, &r.Published,
		&r.PublishFailures, &r.Sweeps, &r.Probes, &r.Churned, &r.StopReason, &r.Status,
	)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = fromMicros(started)
	if finished.Valid {
		r.FinishedAt = fromMicros(finished.Int64)
	}
	return r, nil
}

// GetRun returns one run or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns every run, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		ORDER BY started_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// ReadRecords returns the working set of a run in insertion order.
func (s *Store) ReadRecords(ctx context.Context, runID string) ([]RecordRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pubkey, published_at FROM records
		WHERE run_id = ?
		ORDER BY rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read records: %w", err)
	}
	defer rows.Close()

	var out []RecordRow
	for rows.Next() {
		var (
			r  RecordRow
			us int64
		)
		if err := rows.Scan(&r.PublicKey, &us); err != nil {
			return nil, fmt.Errorf("read records: %w", err)
		}
		r.PublishedAt = fromMicros(us)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReadChurnEvents returns a run's churn events in write order.
func (s *Store) ReadChurnEvents(ctx context.Context, runID string) ([]ChurnEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT pubkey, time_s FROM churn_events
		WHERE run_id = ?
		ORDER BY rowid ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read churn events: %w", err)
	}
	defer rows.Close()

	var out []ChurnEvent
	for rows.Next() {
		var ev ChurnEvent
		if err := rows.Scan(&ev.PublicKey, &ev.TimeS); err != nil {
			return nil, fmt.Errorf("read churn events: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReadNodeSamples returns a run's per-record samples in write order.
func (s *Store) ReadNodeSamples(ctx context.Context, runID string) ([]NodeSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_s, pubkey, nodes_count FROM node_samples
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read node samples: %w", err)
	}
	defer rows.Close()

	var out []NodeSample
	for rows.Next() {
		var ns NodeSample
		if err := rows.Scan(&ns.TimestampS, &ns.PublicKey, &ns.NodesCount); err != nil {
			return nil, fmt.Errorf("read node samples: %w", err)
		}
		out = append(out, ns)
	}
	return out, rows.Err()
}

// ReadGlobalSamples returns a run's aggregate samples in write order.
func (s *Store) ReadGlobalSamples(ctx context.Context, runID string) ([]GlobalSample, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT node_count, timestamp_s FROM global_samples
		WHERE run_id = ?
		ORDER BY id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("read global samples: %w", err)
	}
	defer rows.Close()

	var out []GlobalSample
	for rows.Next() {
		var gs GlobalSample
		if err := rows.Scan(&gs.NodeCount, &gs.TimestampS); err != nil {
			return nil, fmt.Errorf("read global samples: %w", err)
		}
		out = append(out, gs)
	}
	return out, rows.Err()
}

// ChurnTimes returns the churn delays (time_s > 0) of a run, ascending.
func (s *Store) ChurnTimes(ctx context.Context, runID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT time_s FROM churn_events
		WHERE run_id = ? AND time_s > 0
		ORDER BY time_s ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("churn times: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("churn times: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
