package model

import (
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ErrorDetail carries a machine-readable code and a human-readable message.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ResponseMeta is attached to every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Error codes returned by the API.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest exchanges an API key for a JWT.
type AuthTokenRequest struct {
	ClientID string `json:"client_id"`
	APIKey   string `json:"api_key"`
}

// AuthTokenResponse carries the minted token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SearchRequest is the body of POST /v1/search.
type SearchRequest struct {
	Query         string `json:"query"`
	WantReranking bool   `json:"want_reranking"`
	Limit         int    `json:"limit,omitempty"` // top-K; 0 means the server default
}

// SearchResponse is the body of a successful search.
type SearchResponse struct {
	CorrectedQuery    string             `json:"corrected_query"`
	Keywords          []string           `json:"keywords"`
	DegradedReranking bool               `json:"degraded_reranking,omitempty"`
	PerSourceCounts   map[SourceName]int `json:"per_source_counts"`
	Warnings          []SourceWarning    `json:"warnings,omitempty"`
	RankedCandidates  []RankedCandidate  `json:"ranked_candidates"`
}

// AcquireRequest is the body of POST /v1/acquisitions.
type AcquireRequest struct {
	Source     SourceName `json:"source"`
	ExternalID string     `json:"external_id"`
}

// Validate rejects malformed acquisition requests before a job is created.
func (r AcquireRequest) Validate() error {
	if !ValidSource(r.Source) {
		return errInvalidf("unknown source %q", r.Source)
	}
	if r.ExternalID == "" {
		return errInvalidf("external_id is required")
	}
	return nil
}

// Training budget bounds, in wall-clock seconds.
const (
	DefaultTrainBudgetSeconds = 300
	MaxTrainBudgetSeconds     = 3600
)

// TrainRequest is the body of POST /v1/trainings.
type TrainRequest struct {
	DatasetRef    string `json:"dataset_ref"`
	TargetColumn  string `json:"target_column,omitempty"`
	BudgetSeconds int    `json:"budget_seconds,omitempty"`
}

// Validate rejects malformed training requests before a job is created.
func (r TrainRequest) Validate() error {
	if r.DatasetRef == "" {
		return errInvalidf("dataset_ref is required")
	}
	if r.BudgetSeconds < 0 || r.BudgetSeconds > MaxTrainBudgetSeconds {
		return errInvalidf("budget_seconds must be between 0 and %d", MaxTrainBudgetSeconds)
	}
	return nil
}

// JobResponse is the snapshot returned by GET /v1/jobs/{job_id}.
type JobResponse struct {
	Job          Job   `json:"job"`
	LastSequence int64 `json:"last_sequence"`
}

// CancelResponse is returned by POST /v1/jobs/{job_id}/cancel.
type CancelResponse struct {
	JobID uuid.UUID `json:"job_id"`
	State JobState  `json:"state"`
}
