package storage

import (
	"context"
	"fmt"

	"github.com/datascout-ai/datascout/internal/model"
)

// RecordSearch logs one search request. The log is advisory: callers
// treat failures as non-fatal and the search response never depends on it.
func (db *DB) RecordSearch(ctx context.Context, rec model.SearchRecord) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO searches (id, query, corrected_query, keywords, degraded, result_count, query_embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Query, rec.CorrectedQuery, rec.Keywords,
		rec.Degraded, rec.ResultCount, rec.QueryEmbedding, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: record search: %w", err)
	}
	return nil
}

// ListRecentSearches returns the latest logged searches, newest first.
func (db *DB) ListRecentSearches(ctx context.Context, limit int) ([]model.SearchRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, query, corrected_query, keywords, degraded, result_count, created_at
		 FROM searches ORDER BY created_at DESC LIMIT $1`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list searches: %w", err)
	}
	defer rows.Close()

	var records []model.SearchRecord
	for rows.Next() {
		var r model.SearchRecord
		if err := rows.Scan(&r.ID, &r.Query, &r.CorrectedQuery, &r.Keywords,
			&r.Degraded, &r.ResultCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan search: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
