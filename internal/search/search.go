// Package search orchestrates the dataset search pipeline: query
// normalization, concurrent catalog fan-out, and ranking. Both the HTTP
// handlers and the MCP tools call the same Service so the two surfaces
// can never drift apart.
package search

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/catalog"
	"github.com/datascout-ai/datascout/internal/model"
	"github.com/datascout-ai/datascout/internal/normalize"
	"github.com/datascout-ai/datascout/internal/rank"
)

// Recorder persists a search for later analysis. Recording is advisory:
// a failure is logged and never fails the search.
type Recorder interface {
	RecordSearch(ctx context.Context, rec model.SearchRecord) error
}

// Service runs the full search pipeline.
type Service struct {
	normalizer normalize.Normalizer
	aggregator *catalog.Aggregator
	semantic   rank.Ranker
	popularity rank.Ranker
	recorder   Recorder
	logger     *slog.Logger
}

// NewService wires the pipeline stages together. recorder may be nil when
// no database is configured.
func NewService(normalizer normalize.Normalizer, aggregator *catalog.Aggregator, ranker rank.Ranker, recorder Recorder, logger *slog.Logger) *Service {
	return &Service{
		normalizer: normalizer,
		aggregator: aggregator,
		semantic:   ranker,
		popularity: rank.PopularityRanker{},
		recorder:   recorder,
		logger:     logger.With("component", "search"),
	}
}

// Search executes one query end to end. The only errors returned are
// invalid input and the caller's own context cancellation; upstream
// degradations surface as warnings and flags on the response instead.
func (s *Service) Search(ctx context.Context, req model.SearchRequest) (model.SearchResponse, error) {
	spec, err := s.normalizer.Normalize(ctx, req.Query)
	if err != nil {
		return model.SearchResponse{}, err
	}

	agg, err := s.aggregator.Search(ctx, spec)
	if err != nil {
		return model.SearchResponse{}, err
	}

	ranker := s.popularity
	if req.WantReranking {
		ranker = s.semantic
	}
	ranked, err := ranker.Rank(ctx, spec, agg.Candidates, req.Limit)
	if err != nil {
		return model.SearchResponse{}, err
	}

	resp := model.SearchResponse{
		CorrectedQuery:    spec.CorrectedQuery,
		Keywords:          spec.Keywords,
		DegradedReranking: ranked.Degraded,
		PerSourceCounts:   agg.PerSourceCounts,
		Warnings:          agg.Warnings,
		RankedCandidates:  ranked.Candidates,
	}

	s.record(ctx, req, spec, ranked)
	return resp, nil
}

func (s *Service) record(ctx context.Context, req model.SearchRequest, spec model.SearchSpec, ranked rank.Result) {
	if s.recorder == nil {
		return
	}
	rec := model.SearchRecord{
		ID:             uuid.New(),
		Query:          strings.TrimSpace(req.Query),
		CorrectedQuery: spec.CorrectedQuery,
		Keywords:       spec.Keywords,
		Degraded:       ranked.Degraded,
		ResultCount:    len(ranked.Candidates),
		QueryEmbedding: ranked.QueryVector,
	}
	if err := s.recorder.RecordSearch(ctx, rec); err != nil {
		s.logger.Warn("search history write failed", "error", err)
	}
}
