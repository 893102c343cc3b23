// Package normalize turns a noisy free-text dataset query into a structured
// search spec: a typo-corrected query plus a small keyword set.
//
// Normalization is a quality enhancement, never a gate. If the correction
// call fails for any reason the verbatim input is used as both the corrected
// query and the sole keyword, and the degradation is logged.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/datascout-ai/datascout/internal/model"
)

// maxKeywords caps the keyword set extracted from one query.
const maxKeywords = 8

// Normalizer produces a SearchSpec from a free-text query.
type Normalizer interface {
	Normalize(ctx context.Context, query string) (model.SearchSpec, error)
}

// LLMNormalizer corrects queries with one call to an OpenAI-compatible
// chat-completions endpoint.
type LLMNormalizer struct {
	baseURL    string
	modelName  string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMNormalizer creates a normalizer that calls baseURL with the given
// model. Timeout bounds the single correction call; the fallback makes a
// slow normalizer cost at most that timeout.
func NewLLMNormalizer(baseURL, modelName, apiKey string, client *http.Client, logger *slog.Logger) *LLMNormalizer {
	if client == nil {
		client = &http.Client{}
	}
	return &LLMNormalizer{
		baseURL:    baseURL,
		modelName:  modelName,
		apiKey:     apiKey,
		httpClient: client,
		logger:     logger,
	}
}

const systemPrompt = `You fix typos in dataset search queries and extract keywords.
Respond with a single JSON object: {"corrected_query": "...", "keywords": ["...", ...]}.
Keep the meaning of the query; do not add new concepts. Keywords are lowercase, at most 8.`

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type correction struct {
	CorrectedQuery string   `json:"corrected_query"`
	Keywords       []string `json:"keywords"`
}

// Normalize corrects the query. The returned SearchSpec is always usable:
// on any failure of the correction call it contains the verbatim input.
// The error return is reserved for invalid input, never for upstream faults.
func (n *LLMNormalizer) Normalize(ctx context.Context, query string) (model.SearchSpec, error) {
	if err := model.ValidateQuery(query); err != nil {
		return model.SearchSpec{}, err
	}
	query = strings.TrimSpace(query)

	spec, err := n.correct(ctx, query)
	if err != nil {
		n.logger.Warn("normalize: correction degraded to verbatim query", "error", err)
		return Fallback(query), nil
	}
	return spec, nil
}

func (n *LLMNormalizer) correct(ctx context.Context, query string) (model.SearchSpec, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model: n.modelName,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: query},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return model.SearchSpec{}, fmt.Errorf("normalize: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL, bytes.NewReader(reqBody))
	if err != nil {
		return model.SearchSpec{}, fmt.Errorf("normalize: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return model.SearchSpec{}, fmt.Errorf("normalize: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return model.SearchSpec{}, fmt.Errorf("normalize: status %d: %s", resp.StatusCode, string(body))
	}

	var result chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return model.SearchSpec{}, fmt.Errorf("normalize: decode response: %w", err)
	}
	if result.Error != nil {
		return model.SearchSpec{}, fmt.Errorf("normalize: upstream error: %s", result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return model.SearchSpec{}, fmt.Errorf("normalize: empty completion")
	}

	var c correction
	if err := json.Unmarshal([]byte(result.Choices[0].Message.Content), &c); err != nil {
		return model.SearchSpec{}, fmt.Errorf("normalize: parse correction: %w", err)
	}
	if strings.TrimSpace(c.CorrectedQuery) == "" {
		return model.SearchSpec{}, fmt.Errorf("normalize: correction returned empty query")
	}

	keywords := make([]string, 0, len(c.Keywords))
	for _, k := range c.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		keywords = append(keywords, k)
		if len(keywords) == maxKeywords {
			break
		}
	}
	if len(keywords) == 0 {
		keywords = []string{strings.ToLower(c.CorrectedQuery)}
	}

	return model.SearchSpec{
		CorrectedQuery: strings.TrimSpace(c.CorrectedQuery),
		Keywords:       keywords,
	}, nil
}

// Fallback builds the degraded SearchSpec used when correction is
// unavailable: the verbatim query is both the corrected query and the sole
// keyword.
func Fallback(query string) model.SearchSpec {
	return model.SearchSpec{
		CorrectedQuery: query,
		Keywords:       []string{query},
	}
}

// Passthrough is a Normalizer that never calls out; it always returns the
// fallback spec. Used when no LLM endpoint is configured.
type Passthrough struct{}

// Normalize validates the query and returns the verbatim spec.
func (Passthrough) Normalize(_ context.Context, query string) (model.SearchSpec, error) {
	if err := model.ValidateQuery(query); err != nil {
		return model.SearchSpec{}, err
	}
	return Fallback(strings.TrimSpace(query)), nil
}
