package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/datascout-ai/datascout/internal/model"
)

const jobColumns = `id, kind, state, payload, result, error_reason, created_at, started_at, finished_at`

// CreateJob inserts a new job row.
func (db *DB) CreateJob(ctx context.Context, j model.Job) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		j.ID, string(j.Kind), string(j.State), j.Payload, j.Result,
		j.ErrorReason, j.CreatedAt, j.StartedAt, j.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (db *DB) GetJob(ctx context.Context, id uuid.UUID) (model.Job, error) {
	j, err := scanJob(db.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Job{}, fmt.Errorf("storage: job %s: %w", id, model.ErrNotFound)
		}
		return model.Job{}, fmt.Errorf("storage: get job: %w", err)
	}
	return j, nil
}

// Transition atomically moves a job between states. The row is locked for
// the duration so concurrent cancel and worker transitions serialize; the
// whole transaction retries on serialization conflicts.
func (db *DB) Transition(ctx context.Context, id uuid.UUID, from, to model.JobState, update func(*model.Job)) (model.Job, error) {
	var out model.Job
	err := WithRetry(ctx, 3, 50*time.Millisecond, func() error {
		tx, err := db.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("storage: begin transition: %w", err)
		}
		defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

		j, err := scanJob(tx.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("storage: job %s: %w", id, model.ErrNotFound)
			}
			return fmt.Errorf("storage: lock job: %w", err)
		}

		if j.State.Terminal() {
			return fmt.Errorf("storage: job %s is %s: %w", id, j.State, model.ErrJobTerminal)
		}
		if j.State != from {
			return fmt.Errorf("storage: job %s is %s, not %s: %w", id, j.State, from, model.ErrInvalidInput)
		}
		if !from.CanTransition(to) {
			return fmt.Errorf("storage: job %s: illegal transition %s -> %s: %w", id, from, to, model.ErrInvalidInput)
		}

		j.State = to
		if update != nil {
			update(&j)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE jobs SET state = $1, payload = $2, result = $3, error_reason = $4,
			        started_at = $5, finished_at = $6
			 WHERE id = $7`,
			string(j.State), j.Payload, j.Result, j.ErrorReason,
			j.StartedAt, j.FinishedAt, j.ID,
		); err != nil {
			return fmt.Errorf("storage: update job: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("storage: commit transition: %w", err)
		}
		out = j
		return nil
	})
	return out, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (model.Job, error) {
	var j model.Job
	var kind, state string
	err := row.Scan(&j.ID, &kind, &state, &j.Payload, &j.Result,
		&j.ErrorReason, &j.CreatedAt, &j.StartedAt, &j.FinishedAt)
	if err != nil {
		return model.Job{}, err
	}
	j.Kind = model.JobKind(kind)
	j.State = model.JobState(state)
	return j, nil
}
