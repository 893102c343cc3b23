package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/datascout-ai/datascout/internal/httputil"
	"github.com/datascout-ai/datascout/internal/model"
)

const hfDefaultBaseURL = "https://huggingface.co"

// HuggingFaceSource queries the Hugging Face Hub datasets API. Public
// datasets need no token; a token raises rate limits and unlocks gated
// repos. Default sort is download count descending.
type HuggingFaceSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHuggingFaceSource creates a Hub source. The token is optional.
func NewHuggingFaceSource(token string) *HuggingFaceSource {
	return &HuggingFaceSource{
		baseURL: hfDefaultBaseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the catalog identifier.
func (s *HuggingFaceSource) Name() model.SourceName { return model.SourceHuggingFace }

// Enabled always reports true: the Hub serves public datasets anonymously.
func (s *HuggingFaceSource) Enabled() bool { return true }

type hfDataset struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Downloads   int64    `json:"downloads"`
	Likes       int64    `json:"likes"`
	Tags        []string `json:"tags"`
}

// Search queries the datasets API sorted by downloads.
func (s *HuggingFaceSource) Search(ctx context.Context, spec model.SearchSpec, limit int) ([]model.CandidateRecord, error) {
	params := url.Values{
		"search":    {spec.CorrectedQuery},
		"sort":      {"downloads"},
		"direction": {"-1"},
		"limit":     {strconv.Itoa(limit)},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/datasets?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("huggingface: create request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("huggingface: %w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("huggingface: %w: status %d: %s", model.ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	var datasets []hfDataset
	if err := json.NewDecoder(resp.Body).Decode(&datasets); err != nil {
		return nil, fmt.Errorf("huggingface: decode response: %w", err)
	}

	records := make([]model.CandidateRecord, 0, len(datasets))
	for _, d := range datasets {
		records = append(records, model.CandidateRecord{
			ExternalID:  d.ID,
			Title:       d.ID,
			Description: d.Description,
			Source:      model.SourceHuggingFace,
			SourceURL:   s.baseURL + "/datasets/" + d.ID,
			Popularity:  d.Downloads,
		})
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

type hfRepoInfo struct {
	ID       string `json:"id"`
	Siblings []struct {
		RFilename string `json:"rfilename"`
		Size      int64  `json:"size"`
	} `json:"siblings"`
}

// ResolveDownload picks the first CSV file in the repo and points at the
// raw resolve endpoint for it. Repos without a CSV are rejected: payload
// format internals beyond CSV are out of scope for acquisition.
func (s *HuggingFaceSource) ResolveDownload(ctx context.Context, externalID string) (Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/datasets/"+externalID, nil)
	if err != nil {
		return Download{}, fmt.Errorf("huggingface: create request: %w", err)
	}
	s.authorize(req)

	resp, err := httputil.DoWithRetry(ctx, s.httpClient, req, 0, 0)
	if err != nil {
		return Download{}, fmt.Errorf("huggingface: resolve %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Download{}, fmt.Errorf("huggingface: dataset %s: %w", externalID, model.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Download{}, fmt.Errorf("huggingface: %w: status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var info hfRepoInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Download{}, fmt.Errorf("huggingface: decode repo info: %w", err)
	}

	for _, f := range info.Siblings {
		if !strings.HasSuffix(f.RFilename, ".csv") {
			continue
		}
		size := f.Size
		if size == 0 {
			size = -1
		}
		header := http.Header{}
		if s.token != "" {
			header.Set("Authorization", "Bearer "+s.token)
		}
		return Download{
			URL:       s.baseURL + "/datasets/" + externalID + "/resolve/main/" + f.RFilename,
			Header:    header,
			SizeBytes: size,
			Filename:  f.RFilename,
		}, nil
	}
	return Download{}, fmt.Errorf("huggingface: dataset %s has no CSV payload: %w", externalID, model.ErrInvalidInput)
}

func (s *HuggingFaceSource) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
