package job

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/model"
)

// MemoryStore is an in-process Store. It backs single-node deployments and
// tests; multi-node deployments use the Postgres store instead.
type MemoryStore struct {
	mu        sync.RWMutex
	jobs      map[uuid.UUID]model.Job
	events    map[uuid.UUID][]model.ProgressEvent
	artifacts map[uuid.UUID][]model.Artifact
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[uuid.UUID]model.Job),
		events:    make(map[uuid.UUID][]model.ProgressEvent),
		artifacts: make(map[uuid.UUID][]model.Artifact),
	}
}

// CreateJob inserts a new job.
func (s *MemoryStore) CreateJob(_ context.Context, j model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; ok {
		return fmt.Errorf("job %s already exists: %w", j.ID, model.ErrInvalidInput)
	}
	s.jobs[j.ID] = j
	return nil
}

// GetJob returns a job by ID.
func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	return j, nil
}

// Transition atomically moves a job between states.
func (s *MemoryStore) Transition(_ context.Context, id uuid.UUID, from, to model.JobState, update func(*model.Job)) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, model.ErrNotFound)
	}
	if j.State.Terminal() {
		return model.Job{}, fmt.Errorf("job %s is %s: %w", id, j.State, model.ErrJobTerminal)
	}
	if j.State != from {
		return model.Job{}, fmt.Errorf("job %s is %s, not %s: %w", id, j.State, from, model.ErrInvalidInput)
	}
	if !from.CanTransition(to) {
		return model.Job{}, fmt.Errorf("job %s: illegal transition %s -> %s: %w", id, from, to, model.ErrInvalidInput)
	}

	j.State = to
	if update != nil {
		update(&j)
	}
	s.jobs[id] = j
	return j, nil
}

// AppendEvent records a progress event.
func (s *MemoryStore) AppendEvent(_ context.Context, e model.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[e.JobID] = append(s.events[e.JobID], e)
	return nil
}

// ListEvents returns events with Sequence > after, in order.
func (s *MemoryStore) ListEvents(_ context.Context, jobID uuid.UUID, after int64) ([]model.ProgressEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ProgressEvent
	for _, e := range s.events[jobID] {
		if e.Sequence > after {
			out = append(out, e)
		}
	}
	return out, nil
}

// LastSequence returns the highest recorded sequence for a job.
func (s *MemoryStore) LastSequence(_ context.Context, jobID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[jobID]
	if len(events) == 0 {
		return 0, nil
	}
	return events[len(events)-1].Sequence, nil
}

// CreateArtifact records an artifact.
func (s *MemoryStore) CreateArtifact(_ context.Context, a model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[a.JobID] = append(s.artifacts[a.JobID], a)
	return nil
}

// ListArtifacts returns a job's artifacts.
func (s *MemoryStore) ListArtifacts(_ context.Context, jobID uuid.UUID) ([]model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Artifact, len(s.artifacts[jobID]))
	copy(out, s.artifacts[jobID])
	return out, nil
}
