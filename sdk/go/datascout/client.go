package datascout

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the Datascout server (e.g. "http://localhost:8080").
	BaseURL string

	// ClientID identifies this client for authentication.
	ClientID string

	// APIKey is the secret used to obtain a JWT token.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used. Note that StreamEvents uses its own
	// client without a timeout; a long-lived stream would otherwise be cut.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the Datascout dataset discovery API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	streamer *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL, ClientID, or APIKey is empty.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("datascout: BaseURL is required")
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("datascout: ClientID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("datascout: APIKey is required")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		streamer: &http.Client{},
		tokenMgr: newTokenManager(baseURL, cfg.ClientID, cfg.APIKey, httpClient),
	}, nil
}

// Search runs a natural-language dataset search across the configured
// catalogs.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	var resp SearchResponse
	if err := c.post(ctx, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Acquire submits an acquisition job for one dataset and returns the
// queued job. Follow progress with StreamEvents or poll with GetJob.
func (c *Client) Acquire(ctx context.Context, req AcquireRequest) (*Job, error) {
	var resp Job
	if err := c.post(ctx, "/v1/acquisitions", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Train submits a training job over a previously acquired dataset and
// returns the queued job.
func (c *Client) Train(ctx context.Context, req TrainRequest) (*Job, error) {
	var resp Job
	if err := c.post(ctx, "/v1/trainings", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetJob retrieves a job snapshot with its latest event sequence.
func (c *Client) GetJob(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, error) {
	var resp JobSnapshot
	if err := c.get(ctx, "/v1/jobs/"+jobID.String(), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListArtifacts retrieves the persisted outputs of a job.
func (c *Client) ListArtifacts(ctx context.Context, jobID uuid.UUID) ([]Artifact, error) {
	var resp []Artifact
	if err := c.get(ctx, "/v1/jobs/"+jobID.String()+"/artifacts", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// CancelJob requests cancellation of a queued or running job. Cancelling
// a finished job returns an error for which IsConflict reports true.
func (c *Client) CancelJob(ctx context.Context, jobID uuid.UUID) (*CancelResponse, error) {
	var resp CancelResponse
	if err := c.post(ctx, "/v1/jobs/"+jobID.String()+"/cancel", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WaitForJob polls until the job reaches a terminal state or ctx expires.
func (c *Client) WaitForJob(ctx context.Context, jobID uuid.UUID, pollInterval time.Duration) (*Job, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		snap, err := c.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if snap.Job.Terminal() {
			return &snap.Job, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// StreamEvents follows a job's progress stream, calling fn for each event
// in sequence order. Events already recorded are replayed first; pass
// afterSeq > 0 to resume from a known sequence. StreamEvents returns nil
// after the terminal event, or the first error from the stream or fn.
func (c *Client) StreamEvents(ctx context.Context, jobID uuid.UUID, afterSeq int64, fn func(ProgressEvent) error) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}

	path := "/v1/jobs/" + jobID.String() + "/events"
	if afterSeq > 0 {
		path += "?from=" + strconv.FormatInt(afterSeq, 10)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("datascout: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamer.Do(req)
	if err != nil {
		return fmt.Errorf("datascout: GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return parseErrorResponse(resp.StatusCode, body)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var e ProgressEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &e); err != nil {
			return fmt.Errorf("datascout: decode progress event: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
		if e.Terminal {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("datascout: event stream: %w", err)
	}
	return fmt.Errorf("datascout: event stream ended before terminal event")
}

// Health checks the server's health status. This endpoint does not require
// authentication and will work even if the client has invalid credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.getNoAuth(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("datascout: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("datascout: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("datascout: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) getNoAuth(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("datascout: create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("datascout: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("datascout: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("datascout: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}

	// 204 No Content — nothing to decode.
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	// Unwrap the server's { "data": ... } envelope.
	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("datascout: decode response envelope: %w", err)
	}

	if envelope.Data == nil {
		// Fallback: some endpoints may not wrap in "data".
		return json.Unmarshal(bodyBytes, dest)
	}

	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.RequestID = envelope.Meta.RequestID
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
