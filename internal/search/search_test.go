package search_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout-ai/datascout/internal/catalog"
	"github.com/datascout-ai/datascout/internal/model"
	"github.com/datascout-ai/datascout/internal/normalize"
	"github.com/datascout-ai/datascout/internal/rank"
	"github.com/datascout-ai/datascout/internal/search"
)

// stubSource returns canned candidates for one catalog.
type stubSource struct {
	name    model.SourceName
	records []model.CandidateRecord
	err     error
}

func (s *stubSource) Name() model.SourceName { return s.name }
func (s *stubSource) Enabled() bool          { return true }

func (s *stubSource) Search(context.Context, model.SearchSpec, int) ([]model.CandidateRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.records, nil
}

// stubRanker records the spec it was called with and echoes a fixed result.
type stubRanker struct {
	called bool
	spec   model.SearchSpec
	result rank.Result
	err    error
}

func (r *stubRanker) Rank(_ context.Context, spec model.SearchSpec, candidates []model.CandidateRecord, topK int) (rank.Result, error) {
	r.called = true
	r.spec = spec
	if r.err != nil {
		return rank.Result{}, r.err
	}
	if r.result.Candidates != nil {
		return r.result, nil
	}
	ranked := make([]model.RankedCandidate, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, model.RankedCandidate{CandidateRecord: c})
	}
	if len(ranked) > topK && topK > 0 {
		ranked = ranked[:topK]
	}
	return rank.Result{Candidates: ranked}, nil
}

// memRecorder captures recorded searches.
type memRecorder struct {
	records []model.SearchRecord
	err     error
}

func (m *memRecorder) RecordSearch(_ context.Context, rec model.SearchRecord) error {
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func candidates(source model.SourceName, ids ...string) []model.CandidateRecord {
	out := make([]model.CandidateRecord, 0, len(ids))
	for i, id := range ids {
		out = append(out, model.CandidateRecord{
			ExternalID: id,
			Title:      id,
			Source:     source,
			Popularity: int64(100 - i),
		})
	}
	return out
}

func newService(t *testing.T, ranker rank.Ranker, recorder search.Recorder, sources ...catalog.Source) *search.Service {
	t.Helper()
	registry := catalog.NewRegistry(sources...)
	agg := catalog.NewAggregator(registry, 15, 2*time.Second, testLogger())
	return search.NewService(normalize.Passthrough{}, agg, ranker, recorder, testLogger())
}

func TestSearchEndToEnd(t *testing.T) {
	kaggle := &stubSource{name: model.SourceKaggle, records: candidates(model.SourceKaggle, "a/one", "a/two")}
	openml := &stubSource{name: model.SourceOpenML, records: candidates(model.SourceOpenML, "61")}
	ranker := &stubRanker{}
	rec := &memRecorder{}

	svc := newService(t, ranker, rec, kaggle, openml)
	resp, err := svc.Search(context.Background(), model.SearchRequest{
		Query:         "iris flowers",
		WantReranking: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "iris flowers", resp.CorrectedQuery)
	assert.True(t, ranker.called, "semantic ranker should run when reranking is requested")
	assert.Equal(t, "iris flowers", ranker.spec.CorrectedQuery)
	assert.Len(t, resp.RankedCandidates, 3)
	assert.Equal(t, 2, resp.PerSourceCounts[model.SourceKaggle])
	assert.Equal(t, 1, resp.PerSourceCounts[model.SourceOpenML])
	assert.Empty(t, resp.Warnings)

	require.Len(t, rec.records, 1)
	assert.Equal(t, "iris flowers", rec.records[0].Query)
	assert.Equal(t, 3, rec.records[0].ResultCount)
}

func TestSearchCorrectsTypoAcrossSources(t *testing.T) {
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{
					"content": `{"corrected_query": "diabetes analysis", "keywords": ["diabetes", "analysis"]}`,
				}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
	defer llm.Close()

	kaggle := &stubSource{name: model.SourceKaggle, records: []model.CandidateRecord{
		{ExternalID: "a/pima", Title: "Pima Indians Diabetes Database", Source: model.SourceKaggle, Popularity: 900},
		{ExternalID: "a/heart", Title: "Heart Disease", Source: model.SourceKaggle, Popularity: 400},
	}}
	openml := &stubSource{name: model.SourceOpenML, records: []model.CandidateRecord{
		{ExternalID: "37", Title: "diabetes", Source: model.SourceOpenML, Popularity: 700},
	}}

	registry := catalog.NewRegistry(kaggle, openml)
	agg := catalog.NewAggregator(registry, 15, 2*time.Second, testLogger())
	normalizer := normalize.NewLLMNormalizer(llm.URL, "test-model", "", llm.Client(), testLogger())
	svc := search.NewService(normalizer, agg, &stubRanker{}, nil, testLogger())

	resp, err := svc.Search(context.Background(), model.SearchRequest{Query: "dibetes analussi"})
	require.NoError(t, err)

	assert.Equal(t, "diabetes analysis", resp.CorrectedQuery)
	assert.Equal(t, []string{"diabetes", "analysis"}, resp.Keywords)
	assert.Empty(t, resp.Warnings)

	total := 0
	for _, n := range resp.PerSourceCounts {
		total += n
	}
	assert.Equal(t, len(resp.RankedCandidates), total, "per-source counts must sum to the candidate pool")
	assert.Equal(t, 2, resp.PerSourceCounts[model.SourceKaggle])
	assert.Equal(t, 1, resp.PerSourceCounts[model.SourceOpenML])

	require.NotEmpty(t, resp.RankedCandidates)
	assert.Contains(t, strings.ToLower(resp.RankedCandidates[0].Title), "diabetes",
		"the corrected query must surface a diabetes dataset on top")
}

func TestSearchWithoutRerankingUsesPopularity(t *testing.T) {
	src := &stubSource{name: model.SourceKaggle, records: []model.CandidateRecord{
		{ExternalID: "a/low", Title: "low", Source: model.SourceKaggle, Popularity: 5},
		{ExternalID: "a/high", Title: "high", Source: model.SourceKaggle, Popularity: 500},
	}}
	semantic := &stubRanker{}

	svc := newService(t, semantic, nil, src)
	resp, err := svc.Search(context.Background(), model.SearchRequest{Query: "anything"})
	require.NoError(t, err)

	assert.False(t, semantic.called, "semantic ranker must not run when reranking is off")
	assert.False(t, resp.DegradedReranking)
	require.Len(t, resp.RankedCandidates, 2)
	assert.Equal(t, "a/high", resp.RankedCandidates[0].ExternalID)
}

func TestSearchSurfacesSourceWarnings(t *testing.T) {
	good := &stubSource{name: model.SourceKaggle, records: candidates(model.SourceKaggle, "a/one")}
	broken := &stubSource{name: model.SourceHuggingFace, err: errors.New("upstream 500")}

	svc := newService(t, &stubRanker{}, nil, good, broken)
	resp, err := svc.Search(context.Background(), model.SearchRequest{Query: "anything", WantReranking: true})
	require.NoError(t, err)

	assert.Len(t, resp.RankedCandidates, 1)
	require.Len(t, resp.Warnings, 1)
	assert.Equal(t, model.SourceHuggingFace, resp.Warnings[0].Source)
	assert.Equal(t, 0, resp.PerSourceCounts[model.SourceHuggingFace])
}

func TestSearchDegradedFlagPropagates(t *testing.T) {
	src := &stubSource{name: model.SourceKaggle, records: candidates(model.SourceKaggle, "a/one")}
	degraded := &stubRanker{result: rank.Result{
		Candidates: []model.RankedCandidate{{CandidateRecord: model.CandidateRecord{ExternalID: "a/one"}}},
		Degraded:   true,
	}}
	rec := &memRecorder{}

	svc := newService(t, degraded, rec, src)
	resp, err := svc.Search(context.Background(), model.SearchRequest{Query: "anything", WantReranking: true})
	require.NoError(t, err)

	assert.True(t, resp.DegradedReranking)
	require.Len(t, rec.records, 1)
	assert.True(t, rec.records[0].Degraded)
}

func TestSearchInvalidQuery(t *testing.T) {
	svc := newService(t, &stubRanker{}, nil,
		&stubSource{name: model.SourceKaggle})

	_, err := svc.Search(context.Background(), model.SearchRequest{Query: "   "})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestSearchRecorderFailureIsAdvisory(t *testing.T) {
	src := &stubSource{name: model.SourceKaggle, records: candidates(model.SourceKaggle, "a/one")}
	rec := &memRecorder{err: errors.New("db down")}

	svc := newService(t, &stubRanker{}, rec, src)
	resp, err := svc.Search(context.Background(), model.SearchRequest{Query: "anything", WantReranking: true})
	require.NoError(t, err, "history failures must not fail the search")
	assert.Len(t, resp.RankedCandidates, 1)
}

func TestSearchRankErrorPropagates(t *testing.T) {
	src := &stubSource{name: model.SourceKaggle, records: candidates(model.SourceKaggle, "a/one")}
	ranker := &stubRanker{err: context.Canceled}

	svc := newService(t, ranker, nil, src)
	_, err := svc.Search(context.Background(), model.SearchRequest{Query: "anything", WantReranking: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchEmptyPool(t *testing.T) {
	src := &stubSource{name: model.SourceKaggle, records: nil}
	rec := &memRecorder{}

	svc := newService(t, &stubRanker{}, rec, src)
	resp, err := svc.Search(context.Background(), model.SearchRequest{Query: "anything", WantReranking: true})
	require.NoError(t, err)

	assert.Empty(t, resp.RankedCandidates)
	require.Len(t, rec.records, 1)
	assert.Equal(t, 0, rec.records[0].ResultCount)
}
