// Package model defines the core domain types shared across datascout:
// search specs, dataset candidates, jobs, progress events, and the API
// request/response shapes.
package model

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Query length limits. Queries above the cap are rejected before any
// external call is made.
const (
	MinQueryLen = 1
	MaxQueryLen = 500
)

// SourceName identifies one external dataset catalog.
type SourceName string

const (
	SourceKaggle      SourceName = "kaggle"
	SourceHuggingFace SourceName = "huggingface"
	SourceOpenML      SourceName = "openml"
)

// KnownSources lists every catalog the service can query, in the order
// their counts are reported.
var KnownSources = []SourceName{SourceKaggle, SourceHuggingFace, SourceOpenML}

// ValidSource reports whether s names a known catalog.
func ValidSource(s SourceName) bool {
	for _, k := range KnownSources {
		if s == k {
			return true
		}
	}
	return false
}

// SearchSpec is the structured form of a user query. Produced once by the
// normalizer and treated as immutable for the rest of the pipeline.
type SearchSpec struct {
	CorrectedQuery string   `json:"corrected_query"`
	Keywords       []string `json:"keywords"`
}

// ValidateQuery checks the raw free-text query before normalization.
func ValidateQuery(query string) error {
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < MinQueryLen {
		return fmt.Errorf("%w: query is empty", ErrInvalidInput)
	}
	if utf8.RuneCountInString(trimmed) > MaxQueryLen {
		return fmt.Errorf("%w: query exceeds %d characters", ErrInvalidInput, MaxQueryLen)
	}
	return nil
}

// CandidateRecord is one dataset entry returned by a catalog, normalized to
// a common shape. ExternalID is unique only within a source; the pair
// (Source, ExternalID) is the global identity.
type CandidateRecord struct {
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Source      SourceName `json:"source"`
	SourceURL   string     `json:"source_url"`
	Popularity  int64      `json:"popularity"`
	RawRankHint *float64   `json:"raw_rank_hint,omitempty"`
}

// Key returns the global identity of the candidate.
func (c CandidateRecord) Key() string {
	return string(c.Source) + "/" + c.ExternalID
}

// EmbeddingText returns the text embedded for semantic ranking.
func (c CandidateRecord) EmbeddingText() string {
	if c.Description == "" {
		return c.Title
	}
	return c.Title + ": " + c.Description
}

// RankedCandidate is a CandidateRecord with its semantic similarity to the
// query. SimilarityScore is in [0, 1]; ordering of a ranked slice is the
// ranker's primary output contract.
type RankedCandidate struct {
	CandidateRecord
	SimilarityScore float64 `json:"similarity_score"`
}

// SourceWarning reports a per-source degradation (unconfigured, timed out,
// upstream error) without failing the search.
type SourceWarning struct {
	Source  SourceName `json:"source"`
	Message string     `json:"message"`
}
