// Package job provides the asynchronous job runtime: persistence, a worker
// pool, progress reporting, and event fan-out for streaming consumers.
//
// Jobs move through queued -> running -> one of succeeded, failed or
// cancelled. Every phase change is recorded as a ProgressEvent with a
// per-job sequence number that strictly increases, so consumers can resume
// a stream from the last sequence they saw.
package job

import (
	"context"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/model"
)

// Store persists jobs and their progress events.
// Implementations must be safe for concurrent use.
type Store interface {
	// CreateJob inserts a new job in the queued state.
	CreateJob(ctx context.Context, j model.Job) error

	// GetJob returns a job by ID, or model.ErrNotFound.
	GetJob(ctx context.Context, id uuid.UUID) (model.Job, error)

	// Transition atomically moves a job from one state to another,
	// applying update to the row while holding it. It returns
	// model.ErrNotFound if the job does not exist, model.ErrJobTerminal
	// if the job is already in a terminal state, and
	// model.ErrInvalidInput if the job is not currently in from.
	Transition(ctx context.Context, id uuid.UUID, from, to model.JobState, update func(*model.Job)) (model.Job, error)

	// AppendEvent records a progress event. Sequence numbers are assigned
	// by the caller and must strictly increase per job.
	AppendEvent(ctx context.Context, e model.ProgressEvent) error

	// ListEvents returns events for a job with Sequence > after, in
	// sequence order. after=0 returns the full history.
	ListEvents(ctx context.Context, jobID uuid.UUID, after int64) ([]model.ProgressEvent, error)

	// LastSequence returns the highest event sequence recorded for a job,
	// or 0 if none.
	LastSequence(ctx context.Context, jobID uuid.UUID) (int64, error)

	// CreateArtifact records a produced artifact.
	CreateArtifact(ctx context.Context, a model.Artifact) error

	// ListArtifacts returns the artifacts a job produced.
	ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]model.Artifact, error)
}
