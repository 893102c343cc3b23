package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/auth"
	"github.com/datascout-ai/datascout/internal/job"
	"github.com/datascout-ai/datascout/internal/model"
	"github.com/datascout-ai/datascout/internal/search"
)

// Pinger checks database liveness. Nil when running without a database.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	jwtMgr              *auth.JWTManager
	keyring             *auth.APIKeyring
	searcher            *search.Service
	runner              *job.Runner
	store               job.Store
	broker              *job.Broker
	db                  Pinger
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): DB.
type HandlersDeps struct {
	JWTMgr              *auth.JWTManager
	Keyring             *auth.APIKeyring
	Searcher            *search.Service
	Runner              *job.Runner
	Store               job.Store
	Broker              *job.Broker
	DB                  Pinger
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		jwtMgr:              d.JWTMgr,
		keyring:             d.Keyring,
		searcher:            d.Searcher,
		runner:              d.Runner,
		store:               d.Store,
		broker:              d.Broker,
		db:                  d.DB,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleAuthToken handles POST /auth/token: exchanges a client API key for a JWT.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ClientID == "" || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "client_id and api_key are required")
		return
	}

	role, ok := h.keyring.Verify(req.ClientID, req.APIKey)
	if !ok {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(req.ClientID, role)
	if err != nil {
		h.writeInternalError(w, r, "issue token", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleSearch handles POST /v1/search.
func (h *Handlers) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var req model.SearchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.searcher.Search(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, resp)
}

// HandleCreateAcquisition handles POST /v1/acquisitions.
func (h *Handlers) HandleCreateAcquisition(w http.ResponseWriter, r *http.Request) {
	var req model.AcquireRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.submitJob(w, r, model.JobKindAcquisition, req)
}

// HandleCreateTraining handles POST /v1/trainings.
func (h *Handlers) HandleCreateTraining(w http.ResponseWriter, r *http.Request) {
	var req model.TrainRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeDomainError(w, r, err)
		return
	}
	h.submitJob(w, r, model.JobKindTraining, req)
}

func (h *Handlers) submitJob(w http.ResponseWriter, r *http.Request, kind model.JobKind, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		h.writeInternalError(w, r, "marshal job payload", err)
		return
	}

	j, err := h.runner.Submit(r.Context(), kind, raw)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, j)
}

// HandleGetJob handles GET /v1/jobs/{job_id}.
func (h *Handlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	j, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	lastSeq, err := h.store.LastSequence(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "last sequence", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.JobResponse{
		Job:          j,
		LastSequence: lastSeq,
	})
}

// HandleListArtifacts handles GET /v1/jobs/{job_id}/artifacts.
func (h *Handlers) HandleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if _, err := h.store.GetJob(r.Context(), id); err != nil {
		writeDomainError(w, r, err)
		return
	}
	artifacts, err := h.store.ListArtifacts(r.Context(), id)
	if err != nil {
		h.writeInternalError(w, r, "list artifacts", err)
		return
	}
	if artifacts == nil {
		artifacts = []model.Artifact{}
	}
	writeJSON(w, r, http.StatusOK, artifacts)
}

// HandleCancelJob handles POST /v1/jobs/{job_id}/cancel.
func (h *Handlers) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	id, err := parseJobID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	j, err := h.runner.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusAccepted, model.CancelResponse{
		JobID: j.ID,
		State: j.State,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK
	pgStatus := "not configured"

	if h.db != nil {
		pgStatus = "connected"
		if err := h.db.Ping(r.Context()); err != nil {
			pgStatus = "disconnected"
			status = "unhealthy"
			httpStatus = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, r, httpStatus, map[string]any{
		"status":         status,
		"version":        h.version,
		"postgres":       pgStatus,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, action string, err error) {
	h.logger.Error("internal error",
		"action", action,
		"error", err,
		"request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
}

// --- Shared helpers ---

func parseJobID(r *http.Request) (uuid.UUID, error) {
	raw := r.PathValue("job_id")
	if raw == "" {
		return uuid.Nil, fmt.Errorf("job_id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid job_id: %s", raw)
	}
	return id, nil
}

func queryInt64(r *http.Request, key string, defaultVal int64) int64 {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultVal
}
