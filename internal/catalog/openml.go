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

const openmlDefaultBaseURL = "https://www.openml.org/api/v1/json"

// OpenMLSource queries the OpenML data listing API. No credentials are
// required. OpenML reports downloads per dataset, which serves as the
// popularity signal; results are requested most-downloaded first.
type OpenMLSource struct {
	baseURL    string
	enabled    bool
	httpClient *http.Client
}

// NewOpenMLSource creates an OpenML source.
func NewOpenMLSource(enabled bool) *OpenMLSource {
	return &OpenMLSource{
		baseURL: openmlDefaultBaseURL,
		enabled: enabled,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Name returns the catalog identifier.
func (s *OpenMLSource) Name() model.SourceName { return model.SourceOpenML }

// Enabled reports whether the source is switched on in configuration.
func (s *OpenMLSource) Enabled() bool { return s.enabled }

type openmlListResponse struct {
	Data struct {
		Dataset []openmlDataset `json:"dataset"`
	} `json:"data"`
}

type openmlDataset struct {
	DID       int64  `json:"did"`
	Name      string `json:"name"`
	Version   int    `json:"version"`
	Downloads int64  `json:"nr_of_downloads"`
}

// Search queries the data list endpoint filtered by name.
func (s *OpenMLSource) Search(ctx context.Context, spec model.SearchSpec, limit int) ([]model.CandidateRecord, error) {
	// OpenML matches on exact name fragments; the corrected query's first
	// keyword is the sharpest filter available.
	term := spec.CorrectedQuery
	if len(spec.Keywords) > 0 {
		term = spec.Keywords[0]
	}

	endpoint := s.baseURL + "/data/list/data_name/" + url.PathEscape(term) +
		"/limit/" + strconv.Itoa(limit) + "/status/active"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("openml: create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openml: %w: %v", model.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	// OpenML answers 412 when a filter matches nothing; that is a valid
	// empty result, not a fault.
	if resp.StatusCode == http.StatusPreconditionFailed {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("openml: %w: status %d: %s", model.ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	var list openmlListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("openml: decode response: %w", err)
	}

	records := make([]model.CandidateRecord, 0, len(list.Data.Dataset))
	for _, d := range list.Data.Dataset {
		id := strconv.FormatInt(d.DID, 10)
		records = append(records, model.CandidateRecord{
			ExternalID: id,
			Title:      d.Name,
			Source:     model.SourceOpenML,
			SourceURL:  "https://www.openml.org/d/" + id,
			Popularity: d.Downloads,
		})
		if len(records) == limit {
			break
		}
	}
	return records, nil
}

type openmlDescribeResponse struct {
	DataSetDescription struct {
		ID          string `json:"id"`
		Name        string `json:"name"`
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"data_set_description"`
}

// ResolveDownload fetches the dataset description, which carries the file URL.
func (s *OpenMLSource) ResolveDownload(ctx context.Context, externalID string) (Download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/data/"+url.PathEscape(externalID), nil)
	if err != nil {
		return Download{}, fmt.Errorf("openml: create request: %w", err)
	}

	resp, err := httputil.DoWithRetry(ctx, s.httpClient, req, 0, 0)
	if err != nil {
		return Download{}, fmt.Errorf("openml: resolve %s: %w", externalID, err)
	}
	defer resp.Body.Close()

	// Unknown dataset IDs answer 404; deactivated ones answer 412.
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusPreconditionFailed {
		return Download{}, fmt.Errorf("openml: dataset %s: %w", externalID, model.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Download{}, fmt.Errorf("openml: %w: status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	var desc openmlDescribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return Download{}, fmt.Errorf("openml: decode description: %w", err)
	}
	if desc.DataSetDescription.URL == "" {
		return Download{}, fmt.Errorf("openml: dataset %s has no file URL: %w", externalID, model.ErrNotFound)
	}

	return Download{
		URL:       desc.DataSetDescription.URL,
		SizeBytes: -1,
		Filename:  desc.DataSetDescription.Name + ".csv",
	}, nil
}
