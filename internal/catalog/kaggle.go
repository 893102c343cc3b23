package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/datascout-ai/datascout/internal/httputil"
	"github.com/datascout-ai/datascout/internal/model"
)

const kaggleDefaultBaseURL = "https://www.kaggle.com/api/v1"

// KaggleSource queries the Kaggle datasets API. Requires a username/key
// pair; without one the source reports itself disabled. Default sort is
// vote count descending, Kaggle's strongest popularity signal.
type KaggleSource struct {
	baseURL    string
	username   string
	key        string
	httpClient *http.Client
}

// NewKaggleSource creates a Kaggle source. Empty credentials disable it.
func NewKaggleSource(username, key string) *KaggleSource {
	return &KaggleSource{
		baseURL:  kaggleDefaultBaseURL,
		username: username,
		key:      key,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the catalog identifier.
func (s *KaggleSource) Name() model.SourceName { return model.SourceKaggle }

// Enabled reports whether credentials are configured.
func (s *KaggleSource) Enabled() bool { return s.username != "" && s.key != "" }

type kaggleDataset struct {
	Ref         string `json:"ref"`
	Title       string `json:"title"`
	Subtitle    string `json:"subtitle"`
	Description string `json:"description"`
	URL         string `json:"url"`
	VoteCount   int64  `json:"voteCount"`
	TotalBytes  int64  `json:"totalBytes"`
}

// Search queries the datasets list endpoint sorted by votes.
func (s *KaggleSource) Search(ctx context.Context, spec model.SearchSpec, limit int) ([]model.CandidateRecord, error) {
	params := url.Values{
		"search":   {spec.CorrectedQuery},
		"sortBy":   {"votes"},
		"pageSize": {strconv.Itoa(limit)},
		"page":     {"1"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/datasets/list?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("kaggle: create request: %w", err)
	}
	req.SetBasicAuth(s.username, s.key)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kaggle: %w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("kaggle: %w: status %d: %s", model.ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	var datasets []kaggleDataset
	if err := json.NewDecoder(resp.Body).Decode(&datasets); err != nil {
		return nil, fmt.Errorf("kaggle: decode response: %w", err)
	}

	records := make([]model.CandidateRecord, 0, len(datasets))
	for _, d := range datasets {
		desc := d.Subtitle
		if desc == "" {
			desc = d.Description
		}
		records = append(records, model.CandidateRecord{
			ExternalID:  d.Ref,
			Title:       d.Title,
			Description: desc,
			Source:      model.SourceKaggle,
			SourceURL:   d.URL,
			Popularity:  d.VoteCount,
		})
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

// ResolveDownload points at the dataset archive download endpoint.
// Kaggle does not report the archive size ahead of the transfer when the
// dataset holds multiple files, so SizeBytes comes from the list metadata
// when a prior search cached it, otherwise -1.
func (s *KaggleSource) ResolveDownload(ctx context.Context, externalID string) (Download, error) {
	// Confirm the dataset still exists; the download endpoint answers 404
	// with an HTML body that is unhelpful to surface directly.
	params := url.Values{"search": {externalID}, "pageSize": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/datasets/list?"+params.Encode(), nil)
	if err != nil {
		return Download{}, fmt.Errorf("kaggle: create request: %w", err)
	}
	req.SetBasicAuth(s.username, s.key)

	resp, err := httputil.DoWithRetry(ctx, s.httpClient, req, 0, 0)
	if err != nil {
		return Download{}, fmt.Errorf("kaggle: resolve %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Download{}, fmt.Errorf("kaggle: dataset %s: %w", externalID, model.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Download{}, fmt.Errorf("kaggle: %w: status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var datasets []kaggleDataset
	if err := json.NewDecoder(resp.Body).Decode(&datasets); err != nil {
		return Download{}, fmt.Errorf("kaggle: decode response: %w", err)
	}
	size := int64(-1)
	found := false
	for _, d := range datasets {
		if d.Ref == externalID {
			found = true
			if d.TotalBytes > 0 {
				size = d.TotalBytes
			}
			break
		}
	}
	if !found {
		return Download{}, fmt.Errorf("kaggle: dataset %s: %w", externalID, model.ErrNotFound)
	}

	header := http.Header{}
	header.Set("Authorization", basicAuthHeader(s.username, s.key))
	return Download{
		URL:       s.baseURL + "/datasets/download/" + externalID,
		Header:    header,
		SizeBytes: size,
		Filename:  "dataset.zip",
	}, nil
}

func basicAuthHeader(username, key string) string {
	req, _ := http.NewRequest(http.MethodGet, "http://x", nil)
	req.SetBasicAuth(username, key)
	return req.Header.Get("Authorization")
}
