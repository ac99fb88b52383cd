package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Run is one recorded engine run.
type Run struct {
	ID          string
	StartedAt   time.Time
	Description string
	Config      string

	// Ticks is the number of recorded ticks. Filled by reads only.
	Ticks int64
}

// Sample is the committed value of one node at one tick.
type Sample struct {
	RunID  string
	Tick   int64
	NodeID string
	Value  float64
}

// BeginRun creates a run record with a fresh UUIDv7 and returns it.
func (s *Store) BeginRun(ctx context.Context, description, config string) (Run, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}

	run := Run{
		ID:          id.String(),
		StartedAt:   time.Now().UTC(),
		Description: description,
		Config:      config,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, description, config)
		VALUES (?, ?, ?, ?)
	`, run.ID, run.StartedAt.Format(time.RFC3339Nano), run.Description, run.Config)
	if err != nil {
		return Run{}, fmt.Errorf("begin run: %w", err)
	}
	return run, nil
}

// WriteTick records one committed tick and its samples in a single
// transaction. nodes is the size of the committed partition, which may be
// larger than len(samples) when only some groups are recorded.
//
// Uses ON CONFLICT DO NOTHING: a tick already recorded is left unchanged.
func (s *Store) WriteTick(ctx context.Context, runID string, tick int64, nodes int, samples []Sample) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write tick %d: %w", tick, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO ticks (run_id, tick, nodes)
		VALUES (?, ?, ?)
		ON CONFLICT DO NOTHING
	`, runID, tick, nodes); err != nil {
		return fmt.Errorf("write tick %d: %w", tick, err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO samples (run_id, tick, node_id, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write tick %d: %w", tick, err)
	}
	defer stmt.Close()

	for _, sm := range samples {
		if _, err = stmt.ExecContext(ctx, runID, tick, sm.NodeID, sm.Value); err != nil {
			return fmt.Errorf("write sample %s@%d: %w", sm.NodeID, tick, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("write tick %d: %w", tick, err)
	}
	return nil
}
