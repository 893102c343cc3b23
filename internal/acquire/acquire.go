// Package acquire implements the dataset acquisition job: resolve a
// download location, stream the payload to local storage with progress
// reporting, and derive a schema summary of the result.
package acquire

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/datascout-ai/datascout/internal/catalog"
	"github.com/datascout-ai/datascout/internal/httputil"
	"github.com/datascout-ai/datascout/internal/job"
	"github.com/datascout-ai/datascout/internal/model"
)

const (
	copyChunkSize = 256 * 1024

	// Progress percent boundaries for the transfer phase. Resolution and
	// post-processing take the remainder.
	transferStartPercent = 5
	transferEndPercent   = 90
)

// Acquirer executes acquisition jobs.
type Acquirer struct {
	registry   *catalog.Registry
	store      job.Store
	dataDir    string
	httpClient *http.Client
	logger     *slog.Logger

	// Transfer retry knobs, overridden in tests to avoid real sleeps.
	maxRetries int
	retryDelay time.Duration
}

// NewAcquirer creates the acquisition executor. Downloads land under
// dataDir/datasets/<job-id>/.
func NewAcquirer(registry *catalog.Registry, store job.Store, dataDir string, logger *slog.Logger) *Acquirer {
	return &Acquirer{
		registry: registry,
		store:    store,
		dataDir:  dataDir,
		httpClient: &http.Client{
			// No overall timeout: large datasets take as long as they
			// take. Cancellation comes from the job context.
			Timeout: 0,
		},
		logger:     logger.With("component", "acquirer"),
		maxRetries: httputil.DefaultMaxRetries,
		retryDelay: 500 * time.Millisecond,
	}
}

// Kind identifies the executor.
func (a *Acquirer) Kind() model.JobKind { return model.JobKindAcquisition }

// Execute runs one acquisition to completion. On any failure or
// cancellation every partial file is removed before returning, so no
// half-written artifact survives a non-successful job.
func (a *Acquirer) Execute(ctx context.Context, j model.Job, progress *job.Reporter) (json.RawMessage, error) {
	var req model.AcquireRequest
	if err := json.Unmarshal(j.Payload, &req); err != nil {
		return nil, fmt.Errorf("acquire: decode payload: %w: %v", model.ErrInvalidInput, err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	downloader, ok := a.registry.DownloaderFor(req.Source)
	if !ok {
		return nil, fmt.Errorf("acquire: source %q does not support downloads: %w", req.Source, model.ErrInvalidInput)
	}

	progress.Report(ctx, model.PhaseConnecting, 2, "resolving download location")
	dl, err := downloader.ResolveDownload(ctx, req.ExternalID)
	if err != nil {
		return nil, err
	}

	jobDir := filepath.Join(a.dataDir, "datasets", j.ID.String())
	if err := os.MkdirAll(jobDir, 0o750); err != nil {
		return nil, fmt.Errorf("acquire: create job dir: %w", err)
	}
	cleanup := true
	defer func() {
		if cleanup {
			if err := os.RemoveAll(jobDir); err != nil {
				a.logger.Warn("partial download cleanup failed", "job_id", j.ID, "dir", jobDir, "error", err)
			}
		}
	}()

	payloadPath := filepath.Join(jobDir, dl.Filename)
	size, err := a.download(ctx, dl, payloadPath, progress)
	if err != nil {
		return nil, err
	}

	progress.Report(ctx, model.PhasePostProcess, transferEndPercent, "deriving schema summary")
	csvPath, err := a.locateCSV(payloadPath, jobDir)
	if err != nil {
		return nil, err
	}
	schema, err := summarizeCSV(csvPath)
	if err != nil {
		return nil, err
	}

	localRef := filepath.Join("datasets", j.ID.String(), filepath.Base(csvPath))
	artifact := model.Artifact{
		ID:        uuid.New(),
		JobID:     j.ID,
		Kind:      "dataset",
		LocalRef:  localRef,
		SizeBytes: size,
		CreatedAt: time.Now().UTC(),
	}
	if err := a.store.CreateArtifact(ctx, artifact); err != nil {
		return nil, fmt.Errorf("acquire: record artifact: %w", err)
	}

	result := model.AcquisitionResult{
		Source:     req.Source,
		ExternalID: req.ExternalID,
		LocalRef:   localRef,
		SizeBytes:  size,
		Schema:     schema,
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("acquire: encode result: %w", err)
	}

	cleanup = false
	a.logger.Info("dataset acquired",
		"job_id", j.ID, "source", req.Source, "external_id", req.ExternalID,
		"bytes", size, "columns", len(schema.Columns))
	return out, nil
}

// download transfers the payload to path, retrying transient faults with
// bounded attempts and exponential backoff. Each attempt restarts the
// transfer from scratch; os.Create truncates the previous partial file.
// Permanent faults (404, unsupported formats, cancellation) fail the first
// time they are seen.
func (a *Acquirer) download(ctx context.Context, dl catalog.Download, path string, progress *job.Reporter) (int64, error) {
	var lastErr error
	delay := a.retryDelay
	for attempt := 0; ; attempt++ {
		written, err := a.fetch(ctx, dl, path, progress)
		if err == nil {
			return written, nil
		}
		if !errors.Is(err, model.ErrTransientIO) {
			return 0, err
		}
		lastErr = err

		if attempt >= a.maxRetries {
			return 0, fmt.Errorf("acquire: transfer failed after %d attempts: %w", attempt+1, lastErr)
		}
		a.logger.Warn("transfer interrupted, retrying",
			"url", dl.URL, "attempt", attempt+1, "bytes", written, "error", err)
		progress.Report(ctx, model.PhaseTransfer, transferStartPercent,
			fmt.Sprintf("transfer interrupted, retrying (attempt %d of %d)", attempt+2, a.maxRetries+1))

		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}

// fetch performs one transfer attempt, streaming the body to path with
// progress reporting. Faults worth retrying come back wrapping
// model.ErrTransientIO; everything else is permanent.
func (a *Acquirer) fetch(ctx context.Context, dl catalog.Download, path string, progress *job.Reporter) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dl.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("acquire: create request: %w", err)
	}
	for k, vs := range dl.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if httputil.Transient(err, 0) {
			return 0, fmt.Errorf("acquire: fetch %s: %w: %v", dl.URL, model.ErrTransientIO, err)
		}
		return 0, fmt.Errorf("acquire: fetch %s: %w", dl.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("acquire: payload gone upstream: %w", model.ErrNotFound)
	}
	if httputil.Transient(nil, resp.StatusCode) {
		return 0, fmt.Errorf("acquire: fetch %s: %w: status %d", dl.URL, model.ErrTransientIO, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("acquire: %w: status %d", model.ErrUpstreamUnavailable, resp.StatusCode)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = dl.SizeBytes
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("acquire: create payload file: %w", err)
	}
	defer f.Close()

	progress.Report(ctx, model.PhaseTransfer, transferStartPercent, transferMessage(0, total))

	var written int64
	lastReported := transferStartPercent
	buf := make([]byte, copyChunkSize)
	for {
		// Chunk boundaries are the cancellation points of the transfer.
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := f.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("acquire: write payload: %w", err)
			}
			written += int64(n)
			if pct := transferPercent(written, total); pct > lastReported {
				lastReported = pct
				progress.Report(ctx, model.PhaseTransfer, pct, transferMessage(written, total))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return written, ctx.Err()
			}
			return written, fmt.Errorf("acquire: read payload: %w: %v", model.ErrTransientIO, readErr)
		}
	}
	if err := f.Sync(); err != nil {
		return written, fmt.Errorf("acquire: flush payload: %w", err)
	}
	return written, nil
}

// transferPercent maps transferred bytes onto the transfer window.
// Unknown totals stay at the window floor.
func transferPercent(written, total int64) int {
	if total <= 0 {
		return transferStartPercent
	}
	span := int64(transferEndPercent - transferStartPercent)
	pct := transferStartPercent + int(written*span/total)
	if pct > transferEndPercent {
		pct = transferEndPercent
	}
	return pct
}

func transferMessage(written, total int64) string {
	if total <= 0 {
		return fmt.Sprintf("transferred %d bytes", written)
	}
	return fmt.Sprintf("transferred %d of %d bytes", written, total)
}

// locateCSV returns the CSV to summarize. Plain CSV payloads are used as
// is; ZIP archives have their first CSV member extracted next to them.
func (a *Acquirer) locateCSV(payloadPath, jobDir string) (string, error) {
	if strings.HasSuffix(strings.ToLower(payloadPath), ".csv") {
		return payloadPath, nil
	}
	if !strings.HasSuffix(strings.ToLower(payloadPath), ".zip") {
		return "", fmt.Errorf("acquire: unsupported payload format %q: %w", filepath.Ext(payloadPath), model.ErrInvalidInput)
	}

	zr, err := zip.OpenReader(payloadPath)
	if err != nil {
		return "", fmt.Errorf("acquire: open archive: %w: %v", model.ErrInvalidInput, err)
	}
	defer zr.Close()

	for _, member := range zr.File {
		if !strings.HasSuffix(strings.ToLower(member.Name), ".csv") {
			continue
		}
		dst := filepath.Join(jobDir, filepath.Base(member.Name))
		if err := extractMember(member, dst); err != nil {
			return "", err
		}
		return dst, nil
	}
	return "", fmt.Errorf("acquire: archive holds no CSV: %w", model.ErrInvalidInput)
}

func extractMember(member *zip.File, dst string) error {
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("acquire: open archive member: %w", err)
	}
	defer src.Close()

	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("acquire: create extracted file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, src); err != nil {
		return fmt.Errorf("acquire: extract archive member: %w", err)
	}
	return nil
}
