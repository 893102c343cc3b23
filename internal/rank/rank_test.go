package rank

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout-ai/datascout/internal/model"
	"github.com/datascout-ai/datascout/internal/service/embedding"
)

// stubProvider returns a fixed query vector and one document vector per
// candidate, keyed by the candidate's position.
type stubProvider struct {
	queryVec []float32
	docVecs  [][]float32
	err      error
}

func (p *stubProvider) Embed(_ context.Context, _ embedding.Mode, _ string) (pgvector.Vector, error) {
	if p.err != nil {
		return pgvector.Vector{}, p.err
	}
	return pgvector.NewVector(p.queryVec), nil
}

func (p *stubProvider) EmbedBatch(_ context.Context, _ embedding.Mode, texts []string) ([]pgvector.Vector, error) {
	if p.err != nil {
		return nil, p.err
	}
	vecs := make([]pgvector.Vector, len(texts))
	for i := range texts {
		vecs[i] = pgvector.NewVector(p.docVecs[i])
	}
	return vecs, nil
}

func (p *stubProvider) Dimensions() int { return len(p.queryVec) }

func candidates(titles ...string) []model.CandidateRecord {
	out := make([]model.CandidateRecord, len(titles))
	for i, title := range titles {
		out[i] = model.CandidateRecord{
			ExternalID: fmt.Sprintf("d%d", i),
			Title:      title,
			Source:     model.SourceKaggle,
			Popularity: int64(100 - i),
		}
	}
	return out
}

func TestRankOrdersBySimilarity(t *testing.T) {
	provider := &stubProvider{
		queryVec: []float32{1, 0},
		docVecs: [][]float32{
			{0, 1},  // orthogonal, score 0.5
			{1, 0},  // identical, score 1
			{-1, 0}, // opposite, score 0
		},
	}
	r := NewSemanticRanker(provider, slog.Default())

	res, err := r.Rank(context.Background(), model.SearchSpec{CorrectedQuery: "q"}, candidates("a", "b", "c"), 5)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Len(t, res.Candidates, 3)

	assert.Equal(t, "b", res.Candidates[0].Title)
	assert.InDelta(t, 1.0, res.Candidates[0].SimilarityScore, 1e-9)
	assert.Equal(t, "a", res.Candidates[1].Title)
	assert.InDelta(t, 0.5, res.Candidates[1].SimilarityScore, 1e-9)
	assert.Equal(t, "c", res.Candidates[2].Title)
	assert.InDelta(t, 0.0, res.Candidates[2].SimilarityScore, 1e-9)
}

func TestRankTiesKeepAggregationOrder(t *testing.T) {
	provider := &stubProvider{
		queryVec: []float32{1, 0},
		docVecs: [][]float32{
			{1, 0},
			{2, 0}, // same direction, same cosine
			{3, 0},
		},
	}
	r := NewSemanticRanker(provider, slog.Default())

	res, err := r.Rank(context.Background(), model.SearchSpec{CorrectedQuery: "q"}, candidates("first", "second", "third"), 5)
	require.NoError(t, err)

	assert.Equal(t, "first", res.Candidates[0].Title)
	assert.Equal(t, "second", res.Candidates[1].Title)
	assert.Equal(t, "third", res.Candidates[2].Title)
}

func TestRankTruncatesToTopK(t *testing.T) {
	provider := &stubProvider{
		queryVec: []float32{1, 0},
		docVecs:  [][]float32{{1, 0}, {1, 0}, {1, 0}, {1, 0}},
	}
	r := NewSemanticRanker(provider, slog.Default())

	res, err := r.Rank(context.Background(), model.SearchSpec{CorrectedQuery: "q"}, candidates("a", "b", "c", "d"), 2)
	require.NoError(t, err)
	assert.Len(t, res.Candidates, 2)
}

func TestRankFallsBackToPopularity(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("embedding api: connection refused")}
	r := NewSemanticRanker(provider, slog.Default())

	pool := candidates("low", "high", "mid")
	pool[0].Popularity = 10
	pool[1].Popularity = 9000
	pool[2].Popularity = 500

	res, err := r.Rank(context.Background(), model.SearchSpec{CorrectedQuery: "q"}, pool, 5)
	require.NoError(t, err, "embedding failure degrades, never fails the search")
	require.True(t, res.Degraded)

	assert.Equal(t, "high", res.Candidates[0].Title)
	assert.Equal(t, "mid", res.Candidates[1].Title)
	assert.Equal(t, "low", res.Candidates[2].Title)
	for _, c := range res.Candidates {
		assert.Zero(t, c.SimilarityScore)
	}
}

func TestRankNoopProviderDegrades(t *testing.T) {
	r := NewSemanticRanker(embedding.NewNoopProvider(4), slog.Default())

	res, err := r.Rank(context.Background(), model.SearchSpec{CorrectedQuery: "q"}, candidates("a", "b"), 5)
	require.NoError(t, err)
	assert.True(t, res.Degraded, "zero vectors carry no signal")
}

func TestRankEmptyPool(t *testing.T) {
	r := NewSemanticRanker(&stubProvider{queryVec: []float32{1}}, slog.Default())

	res, err := r.Rank(context.Background(), model.SearchSpec{CorrectedQuery: "q"}, nil, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Candidates)
	assert.False(t, res.Degraded)
}

func TestRankCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	provider := &stubProvider{err: context.Canceled}
	r := NewSemanticRanker(provider, slog.Default())

	_, err := r.Rank(ctx, model.SearchSpec{CorrectedQuery: "q"}, candidates("a"), 5)
	assert.ErrorIs(t, err, context.Canceled)
}
