package datascout

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

// mockServer creates an httptest server that mimics the Datascout API.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	// Always register auth endpoint.
	if _, ok := handlers["POST /auth/token"]; !ok {
		mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  serverURL,
		ClientID: "test-client",
		APIKey:   "test-key",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
	}{
		{"missing base url", Config{ClientID: "c", APIKey: "k"}},
		{"missing client id", Config{BaseURL: "http://x", APIKey: "k"}},
		{"missing api key", Config{BaseURL: "http://x", ClientID: "c"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewClient(tc.cfg); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSearchReturnsRankedCandidates(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/search": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer test-token-xyz" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "bad token"},
				})
				return
			}
			var req SearchRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decode search request: %v", err)
			}
			if req.Query != "hosing prices" {
				t.Errorf("expected query 'hosing prices', got %q", req.Query)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": SearchResponse{
					CorrectedQuery:  "housing prices",
					Keywords:        []string{"housing", "prices"},
					PerSourceCounts: map[string]int{"kaggle": 2, "huggingface": 1},
					RankedCandidates: []Candidate{
						{ExternalID: "camnugent/california-housing-prices", Source: "kaggle", SimilarityScore: 0.91},
					},
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	resp, err := client.Search(context.Background(), SearchRequest{Query: "hosing prices", WantReranking: true})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if resp.CorrectedQuery != "housing prices" {
		t.Errorf("expected corrected query 'housing prices', got %q", resp.CorrectedQuery)
	}
	if len(resp.RankedCandidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(resp.RankedCandidates))
	}
	if resp.PerSourceCounts["kaggle"] != 2 {
		t.Errorf("expected 2 kaggle hits, got %d", resp.PerSourceCounts["kaggle"])
	}
}

func TestAcquireSubmitsJob(t *testing.T) {
	jobID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/acquisitions": func(w http.ResponseWriter, r *http.Request) {
			var req AcquireRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.Source != "kaggle" || req.ExternalID != "uci/iris" {
				t.Errorf("unexpected acquire request: %+v", req)
			}
			writeJSON(w, http.StatusAccepted, map[string]any{
				"data": Job{ID: jobID, Kind: "acquisition", State: "queued", CreatedAt: time.Now()},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	j, err := client.Acquire(context.Background(), AcquireRequest{Source: "kaggle", ExternalID: "uci/iris"})
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if j.ID != jobID {
		t.Errorf("expected job ID %s, got %s", jobID, j.ID)
	}
	if j.State != "queued" {
		t.Errorf("expected state 'queued', got %q", j.State)
	}
}

func TestGetJobSnapshot(t *testing.T) {
	jobID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/jobs/{job_id}": func(w http.ResponseWriter, r *http.Request) {
			if r.PathValue("job_id") != jobID.String() {
				writeJSON(w, http.StatusNotFound, map[string]any{
					"error": map[string]any{"code": "NOT_FOUND", "message": "job not found"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": JobSnapshot{
					Job:          Job{ID: jobID, Kind: "training", State: "running"},
					LastSequence: 4,
				},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	snap, err := client.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if snap.LastSequence != 4 {
		t.Errorf("expected last sequence 4, got %d", snap.LastSequence)
	}

	_, err = client.GetJob(context.Background(), uuid.New())
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound, got %v", err)
	}
}

func TestCancelConflict(t *testing.T) {
	jobID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/jobs/{job_id}/cancel": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "CONFLICT", "message": "job already terminal"},
				"meta":  map[string]any{"request_id": "req-7"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.CancelJob(context.Background(), jobID)
	if !IsConflict(err) {
		t.Fatalf("expected IsConflict, got %v", err)
	}
	var apiErr *Error
	if ok := asError(err, &apiErr); !ok {
		t.Fatal("expected *Error")
	}
	if apiErr.RequestID != "req-7" {
		t.Errorf("expected request ID 'req-7', got %q", apiErr.RequestID)
	}
}

func asError(err error, target **Error) bool {
	e, ok := err.(*Error)
	if ok {
		*target = e
	}
	return ok
}

func TestTokenIsCachedAcrossRequests(t *testing.T) {
	var authCalls atomic.Int64
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			authCalls.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "test-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": HealthResponse{Status: "healthy"}})
		},
		"POST /v1/search": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": SearchResponse{}})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := client.Search(context.Background(), SearchRequest{Query: "iris"}); err != nil {
			t.Fatalf("Search %d failed: %v", i, err)
		}
	}
	if got := authCalls.Load(); got != 1 {
		t.Errorf("expected 1 auth call, got %d", got)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv := mockServer(t, map[string]http.HandlerFunc{
		"POST /auth/token": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid credentials"},
			})
		},
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health request should not carry Authorization")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": HealthResponse{Status: "healthy", Postgres: "connected", Version: "1.2.3"},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	h, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("Health failed: %v", err)
	}
	if h.Status != "healthy" || h.Version != "1.2.3" {
		t.Errorf("unexpected health response: %+v", h)
	}
}

func TestStreamEventsUntilTerminal(t *testing.T) {
	jobID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/jobs/{job_id}/events": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("from") != "1" {
				t.Errorf("expected from=1, got %q", r.URL.Query().Get("from"))
			}
			w.Header().Set("Content-Type", "text/event-stream")
			events := []ProgressEvent{
				{JobID: jobID, Sequence: 2, Phase: "transferring", Percent: 40},
				{JobID: jobID, Sequence: 3, Phase: "done", Percent: 100, Terminal: true, State: "succeeded"},
			}
			for _, e := range events {
				data, _ := json.Marshal(e)
				fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", e.Sequence, data)
			}
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	var got []ProgressEvent
	err := client.StreamEvents(context.Background(), jobID, 1, func(e ProgressEvent) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("StreamEvents failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if !got[1].Terminal || got[1].Percent != 100 {
		t.Errorf("unexpected terminal event: %+v", got[1])
	}
}

func TestStreamEventsTruncatedStream(t *testing.T) {
	jobID := uuid.New()
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/jobs/{job_id}/events": func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/event-stream")
			data, _ := json.Marshal(ProgressEvent{JobID: jobID, Sequence: 1, Phase: "queued"})
			fmt.Fprintf(w, "id: 1\nevent: progress\ndata: %s\n\n", data)
			// Stream ends without a terminal event.
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	err := client.StreamEvents(context.Background(), jobID, 0, func(ProgressEvent) error { return nil })
	if err == nil {
		t.Fatal("expected error for truncated stream")
	}
}

func TestWaitForJobPollsToTerminal(t *testing.T) {
	jobID := uuid.New()
	var polls atomic.Int64
	srv := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/jobs/{job_id}": func(w http.ResponseWriter, r *http.Request) {
			state := "running"
			if polls.Add(1) >= 3 {
				state = "succeeded"
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": JobSnapshot{Job: Job{ID: jobID, Kind: "acquisition", State: state}},
			})
		},
	})
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	j, err := client.WaitForJob(context.Background(), jobID, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForJob failed: %v", err)
	}
	if j.State != "succeeded" {
		t.Errorf("expected 'succeeded', got %q", j.State)
	}
	if polls.Load() < 3 {
		t.Errorf("expected at least 3 polls, got %d", polls.Load())
	}
}
