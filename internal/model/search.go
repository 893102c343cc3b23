package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// SearchRecord is the stored log entry of one search request. The query
// embedding is kept when semantic reranking ran; degraded searches log nil.
type SearchRecord struct {
	ID             uuid.UUID        `json:"id"`
	Query          string           `json:"query"`
	CorrectedQuery string           `json:"corrected_query"`
	Keywords       []string         `json:"keywords"`
	Degraded       bool             `json:"degraded"`
	ResultCount    int              `json:"result_count"`
	QueryEmbedding *pgvector.Vector `json:"-"`
	CreatedAt      time.Time        `json:"created_at"`
}
