package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateRun inserts a new run row with status running.
func (s *Store) CreateRun(ctx context.Context, run Run) error {
	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}
	config := run.Config
	if config == "" {
		config = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, config, status)
		VALUES (?, ?, ?, ?)
	`, run.ID, toMicros(run.StartedAt), config, status)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// SetPublishStats records the outcome of the publish phase.
func (s *Store) SetPublishStats(ctx context.Context, runID string, published, failures int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET published = ?, publish_failures = ? WHERE id = ?
	`, published, failures, runID)
	if err != nil {
		return fmt.Errorf("set publish stats: %w", err)
	}
	return requireOneRow(res, runID)
}

// FinishRun stores the final summary of a run.
func (s *Store) FinishRun(ctx context.Context, runID string, result RunResult) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET finished_at = ?, working_set = ?, sweeps = ?, probes = ?, churned = ?,
		    stop_reason = ?, status = ?
		WHERE id = ?
	`,
		toMicros(result.FinishedAt),
		result.WorkingSet,
		result.Sweeps,
		result.Probes,
		result.Churned,
		result.StopReason,
		result.Status,
		runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return requireOneRow(res, runID)
}

// WriteRecords inserts the working set in one transaction.
// Uses ON CONFLICT DO NOTHING so re-registering a record is harmless.
func (s *Store) WriteRecords(ctx context.Context, runID string, rows []RecordRow) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO records (run_id, pubkey, published_at)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, pubkey) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, runID, r.PublicKey, toMicros(r.PublishedAt)); err != nil {
			return fmt.Errorf("write records: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}

// WriteChurnEvent stores a record's churn event.
// Uses ON CONFLICT DO NOTHING: the first event for a record wins.
func (s *Store) WriteChurnEvent(ctx context.Context, runID string, ev ChurnEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO churn_events (run_id, pubkey, time_s)
		VALUES (?, ?, ?)
		ON CONFLICT(run_id, pubkey) DO NOTHING
	`, runID, ev.PublicKey, ev.TimeS)
	if err != nil {
		return fmt.Errorf("write churn event: %w", err)
	}
	return nil
}

// WriteNodeSample appends a per-record node count.
func (s *Store) WriteNodeSample(ctx context.Context, runID string, sample NodeSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO node_samples (run_id, timestamp_s, pubkey, nodes_count)
		VALUES (?, ?, ?, ?)
	`, runID, sample.TimestampS, sample.PublicKey, sample.NodesCount)
	if err != nil {
		return fmt.Errorf("write node sample: %w", err)
	}
	return nil
}

// WriteGlobalSample appends an aggregate node count.
func (s *Store) WriteGlobalSample(ctx context.Context, runID string, sample GlobalSample) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_samples (run_id, node_count, timestamp_s)
		VALUES (?, ?, ?)
	`, runID, sample.NodeCount, sample.TimestampS)
	if err != nil {
		return fmt.Errorf("write global sample: %w", err)
	}
	return nil
}

func requireOneRow(res sql.Result, runID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}
