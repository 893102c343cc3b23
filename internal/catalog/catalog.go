// Package catalog queries external dataset catalogs and returns candidates
// normalized to a common record shape.
//
// Each catalog is one Source implementation with its own default sort order
// and page size; the aggregator fans out to all enabled sources concurrently
// and never lets one source's fault reach the caller. New catalogs are added
// by implementing Source, not by editing the aggregator.
package catalog

import (
	"context"
	"net/http"

	"github.com/datascout-ai/datascout/internal/model"
)

// Source searches a single external dataset catalog.
// Implementations must be safe for concurrent use.
type Source interface {
	// Name returns the catalog identifier.
	Name() model.SourceName

	// Enabled reports whether the source is configured and should be
	// queried. A disabled source yields a structured warning, not an error.
	Enabled() bool

	// Search returns up to limit candidates for the spec, ordered by the
	// source's default sort key. Candidates carry the source's native
	// popularity signal.
	Search(ctx context.Context, spec model.SearchSpec, limit int) ([]model.CandidateRecord, error)
}

// Download describes how to fetch one dataset's payload.
type Download struct {
	URL       string
	Header    http.Header // Source-specific auth headers; may be nil.
	SizeBytes int64       // -1 when the source does not report a size.
	Filename  string
}

// Downloader resolves a dataset's payload location. Sources that support
// acquisition implement this in addition to Source.
type Downloader interface {
	// ResolveDownload returns the transfer parameters for externalID.
	// A dataset that no longer exists upstream yields model.ErrNotFound.
	ResolveDownload(ctx context.Context, externalID string) (Download, error)
}

// Registry holds the configured sources in reporting order.
type Registry struct {
	sources []Source
}

// NewRegistry creates a registry. Order is preserved and determines the
// concatenation order of aggregated results.
func NewRegistry(sources ...Source) *Registry {
	return &Registry{sources: sources}
}

// All returns every registered source.
func (r *Registry) All() []Source {
	return r.sources
}

// ByName returns the source with the given name.
func (r *Registry) ByName(name model.SourceName) (Source, bool) {
	for _, s := range r.sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// DownloaderFor returns the Downloader for a source, if it supports
// acquisition.
func (r *Registry) DownloaderFor(name model.SourceName) (Downloader, bool) {
	s, ok := r.ByName(name)
	if !ok {
		return nil, false
	}
	d, ok := s.(Downloader)
	return d, ok
}

// dedupeByExternalID removes repeated external IDs within one source's
// results, keeping the first occurrence. Cross-source duplicates are left
// alone: two catalogs may host the same dataset under different identities,
// and heuristic merging risks false positives.
func dedupeByExternalID(records []model.CandidateRecord) []model.CandidateRecord {
	seen := make(map[string]struct{}, len(records))
	out := records[:0]
	for _, r := range records {
		if _, ok := seen[r.ExternalID]; ok {
			continue
		}
		seen[r.ExternalID] = struct{}{}
		out = append(out, r)
	}
	return out
}
