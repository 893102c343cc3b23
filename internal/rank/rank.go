// Package rank orders dataset candidates by semantic similarity to the
// user's query, with a popularity fallback when embeddings are unavailable.
package rank

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/pgvector/pgvector-go"

	"github.com/datascout-ai/datascout/internal/model"
	"github.com/datascout-ai/datascout/internal/service/embedding"
)

// DefaultTopK is the number of ranked candidates returned to the caller.
const DefaultTopK = 5

// Result is the outcome of one ranking pass.
type Result struct {
	Candidates []model.RankedCandidate

	// Degraded is true when embedding failed and the ordering fell back
	// to popularity. The response surfaces this so callers know scores
	// are not similarity values.
	Degraded bool

	// QueryVector is the embedding of the corrected query, set only when
	// semantic scoring succeeded. Callers may persist it for analytics.
	QueryVector *pgvector.Vector
}

// Ranker orders candidates for a query.
type Ranker interface {
	Rank(ctx context.Context, spec model.SearchSpec, candidates []model.CandidateRecord, topK int) (Result, error)
}

// SemanticRanker embeds the corrected query and each candidate's text and
// ranks by cosine similarity. Candidate pools are small and ephemeral, so
// vectors live only for the duration of the call.
type SemanticRanker struct {
	provider embedding.Provider
	logger   *slog.Logger
}

// NewSemanticRanker creates a ranker backed by the given embedding provider.
func NewSemanticRanker(provider embedding.Provider, logger *slog.Logger) *SemanticRanker {
	return &SemanticRanker{
		provider: provider,
		logger:   logger.With("component", "ranker"),
	}
}

// Rank returns the top candidates ordered by similarity to the query,
// best first. On embedding failure it degrades to popularity ordering
// rather than failing the search. Ties keep aggregation order.
func (r *SemanticRanker) Rank(ctx context.Context, spec model.SearchSpec, candidates []model.CandidateRecord, topK int) (Result, error) {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(candidates) == 0 {
		return Result{Candidates: []model.RankedCandidate{}}, nil
	}

	scored, queryVec, err := r.score(ctx, spec.CorrectedQuery, candidates)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		r.logger.Warn("embedding unavailable, falling back to popularity ordering", "error", err)
		return Result{Candidates: top(byPopularity(candidates), topK), Degraded: true}, nil
	}
	return Result{Candidates: top(scored, topK), QueryVector: queryVec}, nil
}

func (r *SemanticRanker) score(ctx context.Context, query string, candidates []model.CandidateRecord) ([]model.RankedCandidate, *pgvector.Vector, error) {
	queryVec, err := r.provider.Embed(ctx, embedding.ModeQuery, query)
	if err != nil {
		return nil, nil, fmt.Errorf("rank: embed query: %w", err)
	}
	q := queryVec.Slice()
	if norm(q) == 0 {
		return nil, nil, fmt.Errorf("rank: %w: provider returned a zero query vector", model.ErrUpstreamUnavailable)
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.EmbeddingText()
	}
	docVecs, err := r.provider.EmbedBatch(ctx, embedding.ModeDocument, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("rank: embed candidates: %w", err)
	}
	if len(docVecs) != len(candidates) {
		return nil, nil, fmt.Errorf("rank: provider returned %d vectors for %d candidates", len(docVecs), len(candidates))
	}

	scored := make([]model.RankedCandidate, len(candidates))
	for i, c := range candidates {
		scored[i] = model.RankedCandidate{
			CandidateRecord: c,
			SimilarityScore: similarity(q, docVecs[i].Slice()),
		}
	}
	// Stable: candidates with equal scores keep their aggregation order,
	// so repeated identical searches rank identically.
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].SimilarityScore > scored[j].SimilarityScore
	})
	return scored, &queryVec, nil
}

// similarity maps cosine similarity from [-1, 1] onto [0, 1], clamping
// float drift at the edges. A zero document vector scores 0.
func similarity(a, b []float32) float64 {
	na, nb := norm(a), norm(b)
	if na == 0 || nb == 0 || len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	cos := dot / (na * nb)
	return math.Min(1, math.Max(0, (cos+1)/2))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// PopularityRanker orders candidates purely by their source popularity
// signal. Used when the caller opts out of semantic reranking; the result
// is never marked degraded because no embedding was attempted.
type PopularityRanker struct{}

// Rank returns the top candidates by popularity, highest first.
func (PopularityRanker) Rank(ctx context.Context, _ model.SearchSpec, candidates []model.CandidateRecord, topK int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	if len(candidates) == 0 {
		return Result{Candidates: []model.RankedCandidate{}}, nil
	}
	return Result{Candidates: top(byPopularity(candidates), topK)}, nil
}

// byPopularity orders candidates by their source popularity signal,
// highest first, keeping aggregation order for ties.
func byPopularity(candidates []model.CandidateRecord) []model.RankedCandidate {
	ranked := make([]model.RankedCandidate, len(candidates))
	for i, c := range candidates {
		ranked[i] = model.RankedCandidate{CandidateRecord: c}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Popularity > ranked[j].Popularity
	})
	return ranked
}

func top(ranked []model.RankedCandidate, k int) []model.RankedCandidate {
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked
}
