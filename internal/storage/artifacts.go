package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/model"
)

// CreateArtifact records one produced artifact.
func (db *DB) CreateArtifact(ctx context.Context, a model.Artifact) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO artifacts (id, job_id, kind, local_ref, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.JobID, a.Kind, a.LocalRef, a.SizeBytes, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("storage: create artifact: %w", err)
	}
	return nil
}

// ListArtifacts returns a job's artifacts in creation order.
func (db *DB) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]model.Artifact, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, job_id, kind, local_ref, size_bytes, created_at
		 FROM artifacts WHERE job_id = $1 ORDER BY created_at`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list artifacts: %w", err)
	}
	defer rows.Close()

	var artifacts []model.Artifact
	for rows.Next() {
		var a model.Artifact
		if err := rows.Scan(&a.ID, &a.JobID, &a.Kind, &a.LocalRef, &a.SizeBytes, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan artifact: %w", err)
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, rows.Err()
}
