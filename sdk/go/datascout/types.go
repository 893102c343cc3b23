package datascout

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SearchRequest is the input to Client.Search.
type SearchRequest struct {
	// Query is the free-text dataset query (e.g. "hosing prices in california").
	Query string `json:"query"`

	// WantReranking asks the server to rerank candidates by semantic
	// similarity. When the server's embedding provider is unavailable the
	// response carries DegradedReranking and popularity order instead.
	WantReranking bool `json:"want_reranking"`

	// Limit is the number of ranked candidates to return. 0 uses the
	// server default.
	Limit int `json:"limit,omitempty"`
}

// Candidate is one dataset returned by a search, ranked.
type Candidate struct {
	ExternalID      string  `json:"external_id"`
	Title           string  `json:"title"`
	Description     string  `json:"description"`
	Source          string  `json:"source"`
	SourceURL       string  `json:"source_url"`
	Popularity      int64   `json:"popularity"`
	SimilarityScore float64 `json:"similarity_score"`
}

// SourceWarning reports a per-catalog degradation that did not fail the
// search (timeout, missing credentials, upstream error).
type SourceWarning struct {
	Source  string `json:"source"`
	Message string `json:"message"`
}

// SearchResponse is the output of Client.Search.
type SearchResponse struct {
	CorrectedQuery    string          `json:"corrected_query"`
	Keywords          []string        `json:"keywords"`
	DegradedReranking bool            `json:"degraded_reranking,omitempty"`
	PerSourceCounts   map[string]int  `json:"per_source_counts"`
	Warnings          []SourceWarning `json:"warnings,omitempty"`
	RankedCandidates  []Candidate     `json:"ranked_candidates"`
}

// AcquireRequest is the input to Client.Acquire.
type AcquireRequest struct {
	// Source is the catalog name: "kaggle", "huggingface", or "openml".
	Source string `json:"source"`

	// ExternalID is the dataset's identity within the source, as returned
	// by Search (e.g. "uci/iris").
	ExternalID string `json:"external_id"`
}

// TrainRequest is the input to Client.Train.
type TrainRequest struct {
	// DatasetRef is the local_ref of a previously acquired dataset.
	DatasetRef string `json:"dataset_ref"`

	// TargetColumn names the column to predict. Empty lets the server
	// infer one.
	TargetColumn string `json:"target_column,omitempty"`

	// BudgetSeconds caps training wall-clock time. 0 uses the server
	// default.
	BudgetSeconds int `json:"budget_seconds,omitempty"`
}

// Job is the durable record of one acquisition or training job.
type Job struct {
	ID          uuid.UUID       `json:"id"`
	Kind        string          `json:"kind"`  // "acquisition" or "training"
	State       string          `json:"state"` // "queued", "running", "succeeded", "failed", "cancelled"
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	ErrorReason string          `json:"error_reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
}

// Terminal reports whether the job's state admits no further transitions.
func (j Job) Terminal() bool {
	return j.State == "succeeded" || j.State == "failed" || j.State == "cancelled"
}

// JobSnapshot is the output of Client.GetJob.
type JobSnapshot struct {
	Job          Job   `json:"job"`
	LastSequence int64 `json:"last_sequence"`
}

// CancelResponse is the output of Client.CancelJob.
type CancelResponse struct {
	JobID uuid.UUID `json:"job_id"`
	State string    `json:"state"`
}

// ProgressEvent is one entry in a job's ordered progress stream. Sequence
// is strictly increasing per job and Percent never decreases before the
// terminal event.
type ProgressEvent struct {
	JobID     uuid.UUID `json:"job_id"`
	Sequence  int64     `json:"sequence"`
	Phase     string    `json:"phase"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	EmittedAt time.Time `json:"emitted_at"`

	// Terminal payload; set only on the final event.
	Terminal bool            `json:"terminal,omitempty"`
	State    string          `json:"state,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Artifact is a durable reference to a persisted job output.
type Artifact struct {
	ID        uuid.UUID `json:"id"`
	JobID     uuid.UUID `json:"job_id"`
	Kind      string    `json:"kind"` // "dataset" or "model"
	LocalRef  string    `json:"local_ref"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// HealthResponse is the output of Client.Health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Postgres      string  `json:"postgres"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}
