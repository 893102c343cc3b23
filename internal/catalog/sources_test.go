package catalog

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datascout-ai/datascout/internal/model"
)

func TestKaggleSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/datasets/list", r.URL.Path)
		assert.Equal(t, "diabetes analysis", r.URL.Query().Get("search"))
		assert.Equal(t, "votes", r.URL.Query().Get("sortBy"))

		user, key, ok := r.BasicAuth()
		require.True(t, ok, "kaggle requires basic auth")
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", key)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"ref": "uciml/pima-indians-diabetes-database", "title": "Pima Indians Diabetes Database",
			 "subtitle": "Predict diabetes onset", "url": "https://kaggle.com/d/1", "voteCount": 2300},
			{"ref": "other/cardio", "title": "Cardio", "description": "long form text", "voteCount": 10}
		]`))
	}))
	defer server.Close()

	s := NewKaggleSource("alice", "secret")
	s.baseURL = server.URL
	s.httpClient = server.Client()
	require.True(t, s.Enabled())

	records, err := s.Search(context.Background(), model.SearchSpec{CorrectedQuery: "diabetes analysis"}, 15)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "uciml/pima-indians-diabetes-database", records[0].ExternalID)
	assert.Equal(t, model.SourceKaggle, records[0].Source)
	assert.Equal(t, int64(2300), records[0].Popularity)
	assert.Equal(t, "Predict diabetes onset", records[0].Description)
	// Description falls back to the long form when subtitle is absent.
	assert.Equal(t, "long form text", records[1].Description)
}

func TestKaggleDisabledWithoutCredentials(t *testing.T) {
	assert.False(t, NewKaggleSource("", "").Enabled())
	assert.False(t, NewKaggleSource("alice", "").Enabled())
}

func TestKaggleResolveDownloadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	s := NewKaggleSource("alice", "secret")
	s.baseURL = server.URL
	s.httpClient = server.Client()

	_, err := s.ResolveDownload(context.Background(), "gone/dataset")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.False(t, errors.Is(err, model.ErrTransientIO), "missing dataset must fail without retries")
}

func TestKaggleResolveDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"ref": "uciml/pima", "title": "Pima", "voteCount": 1, "totalBytes": 9000}]`))
	}))
	defer server.Close()

	s := NewKaggleSource("alice", "secret")
	s.baseURL = server.URL
	s.httpClient = server.Client()

	dl, err := s.ResolveDownload(context.Background(), "uciml/pima")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/datasets/download/uciml/pima", dl.URL)
	assert.Equal(t, int64(9000), dl.SizeBytes)
	assert.NotEmpty(t, dl.Header.Get("Authorization"))
}

func TestHuggingFaceSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/datasets", r.URL.Path)
		assert.Equal(t, "downloads", r.URL.Query().Get("sort"))
		assert.Equal(t, "-1", r.URL.Query().Get("direction"))
		assert.Empty(t, r.Header.Get("Authorization"), "no token configured")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "scikit-learn/diabetes", "description": "Diabetes progression data", "downloads": 51234},
			{"id": "health/records", "downloads": 99}
		]`))
	}))
	defer server.Close()

	s := NewHuggingFaceSource("")
	s.baseURL = server.URL
	s.httpClient = server.Client()
	require.True(t, s.Enabled(), "hub works anonymously")

	records, err := s.Search(context.Background(), model.SearchSpec{CorrectedQuery: "diabetes"}, 15)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "scikit-learn/diabetes", records[0].ExternalID)
	assert.Equal(t, int64(51234), records[0].Popularity)
	assert.Equal(t, server.URL+"/datasets/scikit-learn/diabetes", records[0].SourceURL)
}

func TestHuggingFaceResolveDownloadPicksCSV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/datasets/health/records", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id": "health/records", "siblings": [
			{"rfilename": "README.md", "size": 100},
			{"rfilename": "data/train.csv", "size": 4096},
			{"rfilename": "data/test.csv", "size": 1024}
		]}`))
	}))
	defer server.Close()

	s := NewHuggingFaceSource("tok")
	s.baseURL = server.URL
	s.httpClient = server.Client()

	dl, err := s.ResolveDownload(context.Background(), "health/records")
	require.NoError(t, err)
	assert.Equal(t, server.URL+"/datasets/health/records/resolve/main/data/train.csv", dl.URL)
	assert.Equal(t, int64(4096), dl.SizeBytes)
	assert.Equal(t, "Bearer tok", dl.Header.Get("Authorization"))
}

func TestHuggingFaceResolveDownloadNoCSV(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "x/y", "siblings": [{"rfilename": "model.safetensors"}]}`))
	}))
	defer server.Close()

	s := NewHuggingFaceSource("")
	s.baseURL = server.URL
	s.httpClient = server.Client()

	_, err := s.ResolveDownload(context.Background(), "x/y")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestHuggingFaceResolveDownloadNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Repository not found", http.StatusNotFound)
	}))
	defer server.Close()

	s := NewHuggingFaceSource("")
	s.baseURL = server.URL
	s.httpClient = server.Client()

	_, err := s.ResolveDownload(context.Background(), "gone/gone")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNotFound))
}

func TestOpenMLSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/list/data_name/diabetes/limit/15/status/active", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": {"dataset": [
			{"did": 37, "name": "diabetes", "version": 1, "nr_of_downloads": 81000},
			{"did": 4541, "name": "diabetes130US", "version": 1, "nr_of_downloads": 1200}
		]}}`))
	}))
	defer server.Close()

	s := NewOpenMLSource(true)
	s.baseURL = server.URL
	s.httpClient = server.Client()

	records, err := s.Search(context.Background(),
		model.SearchSpec{CorrectedQuery: "diabetes analysis", Keywords: []string{"diabetes", "analysis"}}, 15)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "37", records[0].ExternalID)
	assert.Equal(t, "diabetes", records[0].Title)
	assert.Equal(t, int64(81000), records[0].Popularity)
}

func TestOpenMLSearchNoMatchesIsEmpty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// OpenML's "no results" answer.
		http.Error(w, `{"error":{"code":"372","message":"No results"}}`, http.StatusPreconditionFailed)
	}))
	defer server.Close()

	s := NewOpenMLSource(true)
	s.baseURL = server.URL
	s.httpClient = server.Client()

	records, err := s.Search(context.Background(), model.SearchSpec{CorrectedQuery: "qzx"}, 15)
	require.NoError(t, err, "no matches is a valid empty result")
	assert.Empty(t, records)
}

func TestOpenMLResolveDownload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/61", r.URL.Path)
		w.Write([]byte(`{"data_set_description": {"id": "61", "name": "iris",
			"description": "Fisher's iris data", "url": "https://api.openml.org/data/download/61/iris.csv"}}`))
	}))
	defer server.Close()

	s := NewOpenMLSource(true)
	s.baseURL = server.URL
	s.httpClient = server.Client()

	dl, err := s.ResolveDownload(context.Background(), "61")
	require.NoError(t, err)
	assert.Equal(t, "https://api.openml.org/data/download/61/iris.csv", dl.URL)
	assert.Equal(t, "iris.csv", dl.Filename)
	assert.Equal(t, int64(-1), dl.SizeBytes)
}

func TestRegistry(t *testing.T) {
	kaggle := NewKaggleSource("u", "k")
	openml := NewOpenMLSource(true)
	r := NewRegistry(kaggle, openml)

	s, ok := r.ByName(model.SourceOpenML)
	require.True(t, ok)
	assert.Equal(t, model.SourceOpenML, s.Name())

	_, ok = r.ByName(model.SourceHuggingFace)
	assert.False(t, ok)

	d, ok := r.DownloaderFor(model.SourceKaggle)
	require.True(t, ok)
	assert.NotNil(t, d)
}
