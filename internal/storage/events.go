package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/model"
)

// AppendEvent records one progress event. The (job_id, sequence) primary
// key rejects duplicate sequence numbers outright.
func (db *DB) AppendEvent(ctx context.Context, e model.ProgressEvent) error {
	var state *string
	if e.State != "" {
		s := string(e.State)
		state = &s
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO job_events (job_id, sequence, phase, percent, message, emitted_at, terminal, state, result, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.JobID, e.Sequence, e.Phase, e.Percent, e.Message, e.EmittedAt,
		e.Terminal, state, e.Result, e.Error,
	)
	if err != nil {
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

// ListEvents returns a job's events with Sequence > after, in order.
func (db *DB) ListEvents(ctx context.Context, jobID uuid.UUID, after int64) ([]model.ProgressEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT job_id, sequence, phase, percent, message, emitted_at, terminal, state, result, error
		 FROM job_events WHERE job_id = $1 AND sequence > $2
		 ORDER BY sequence`,
		jobID, after,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list events: %w", err)
	}
	defer rows.Close()

	var events []model.ProgressEvent
	for rows.Next() {
		var e model.ProgressEvent
		var state *string
		if err := rows.Scan(&e.JobID, &e.Sequence, &e.Phase, &e.Percent, &e.Message,
			&e.EmittedAt, &e.Terminal, &state, &e.Result, &e.Error); err != nil {
			return nil, fmt.Errorf("storage: scan event: %w", err)
		}
		if state != nil {
			e.State = model.JobState(*state)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LastSequence returns the highest event sequence recorded for a job,
// or 0 if none.
func (db *DB) LastSequence(ctx context.Context, jobID uuid.UUID) (int64, error) {
	var seq int64
	err := db.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM job_events WHERE job_id = $1`, jobID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("storage: last sequence: %w", err)
	}
	return seq, nil
}
