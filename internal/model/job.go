package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobKind distinguishes the two long-running job types.
type JobKind string

const (
	JobKindAcquisition JobKind = "acquisition"
	JobKindTraining    JobKind = "training"
)

// JobState is the lifecycle state shared by acquisition and training jobs.
// Transitions: Queued→Running, Running→Succeeded|Failed|Cancelled. Terminal
// states never transition again.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobCancelled JobState = "cancelled"
)

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCancelled
}

// CanTransition reports whether moving from s to next is a legal step.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobQueued:
		return next == JobRunning || next == JobCancelled
	case JobRunning:
		return next.Terminal()
	default:
		return false
	}
}

// Job is the durable record of one acquisition or training job. The record
// is owned exclusively by the runner executing it until a terminal state is
// reached, after which it is read-only history.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Kind        JobKind         `json:"kind"`
	State       JobState        `json:"state"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorReason string          `json:"error_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// ProgressEvent is one entry in a job's ordered progress stream. For a given
// job, Sequence is strictly increasing and Percent is non-decreasing until
// the terminal event. A successful terminal event always carries Percent 100;
// failed or cancelled terminal events carry the last observed percent with no
// guarantee.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	Sequence  int64     `json:"sequence"`
	Phase     string    `json:"phase"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	EmittedAt time.Time `json:"emitted_at"`

	// Terminal payload; set only on the final event.
	Terminal bool            `json:"terminal,omitempty"`
	State    JobState        `json:"state,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Phase names used by both job types. Jobs may add their own.
const (
	PhaseQueued      = "queued"
	PhaseConnecting  = "connecting"
	PhaseTransfer    = "transferring"
	PhasePostProcess = "post-processing"
	PhaseLoad        = "loading"
	PhaseInferTarget = "target-inference"
	PhaseFit         = "fitting"
	PhaseEvaluate    = "evaluating"
	PhaseFinalize    = "finalizing"
	PhaseDone        = "done"
)

// ColumnSummary describes one column of an acquired dataset.
type ColumnSummary struct {
	Name         string `json:"name"`
	InferredType string `json:"inferred_type"` // "integer", "float", "boolean", "string"
	NullCount    int    `json:"null_count"`
	DistinctHint int    `json:"distinct_hint"` // distinct values observed in the sample, capped
}

// SchemaSummary is the derived preview of an acquired dataset.
type SchemaSummary struct {
	Columns   []ColumnSummary `json:"columns"`
	RowCount  int             `json:"row_count"`
	RowSample [][]string      `json:"row_sample"`
}

// AcquisitionResult is the terminal payload of a successful acquisition job.
type AcquisitionResult struct {
	Source     SourceName    `json:"source"`
	ExternalID string        `json:"external_id"`
	LocalRef   string        `json:"local_ref"`
	SizeBytes  int64         `json:"size_bytes"`
	Schema     SchemaSummary `json:"schema_summary"`
}

// Metric is one named evaluation result.
type Metric struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// TrainingResult is the terminal payload of a successful training job.
type TrainingResult struct {
	BestModelID    string   `json:"best_model_id"`
	TargetColumn   string   `json:"target_column"`
	TargetInferred bool     `json:"target_inferred"`
	TaskType       string   `json:"task_type"` // "classification" or "regression"
	Metrics        []Metric `json:"metrics"`
	ArtifactRef    string   `json:"artifact_ref"`
}

// Artifact is a durable reference to a persisted output (acquired dataset or
// trained model).
type Artifact struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Kind      string    `json:"kind"` // "dataset" or "model"
	LocalRef  string    `json:"local_ref"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}
