package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run ID has no record.
var ErrRunNotFound = errors.New("run not found")

// Runs returns every recorded run, oldest first.
//
// Returns an empty slice (not nil) if nothing was recorded.
func (s *Store) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at, r.description, r.config,
		       (SELECT COUNT(*) FROM ticks t WHERE t.run_id = r.id)
		FROM runs r
		ORDER BY r.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadRun returns the run with the given ID.
func (s *Store) ReadRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT r.id, r.started_at, r.description, r.config,
		       (SELECT COUNT(*) FROM ticks t WHERE t.run_id = r.id)
		FROM runs r
		WHERE r.id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// Samples returns the samples recorded for one tick, ordered by node ID.
func (s *Store) Samples(ctx context.Context, runID string, tick int64) ([]Sample, error) {
	return s.querySamples(ctx, `
		SELECT run_id, tick, node_id, value
		FROM samples
		WHERE run_id = ? AND tick = ?
		ORDER BY node_id COLLATE BINARY ASC
	`, runID, tick)
}

// Series returns every recorded sample of one node, ordered by tick.
func (s *Store) Series(ctx context.Context, runID, nodeID string) ([]Sample, error) {
	return s.querySamples(ctx, `
		SELECT run_id, tick, node_id, value
		FROM samples
		WHERE run_id = ? AND node_id = ?
		ORDER BY tick ASC
	`, runID, nodeID)
}

func (s *Store) querySamples(ctx context.Context, query string, args ...any) ([]Sample, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	samples := []Sample{}
	for rows.Next() {
		var sm Sample
		if err := rows.Scan(&sm.RunID, &sm.Tick, &sm.NodeID, &sm.Value); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		samples = append(samples, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate samples: %w", err)
	}
	return samples, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run     Run
		started string
	)
	if err := sc.Scan(&run.ID, &started, &run.Description, &run.Config, &run.Ticks); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("parse started_at of run %s: %w", run.ID, err)
	}
	run.StartedAt = t
	return run, nil
}
