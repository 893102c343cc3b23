package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/datascout-ai/datascout/internal/model"
	"github.com/datascout-ai/datascout/internal/telemetry"
)

// AggregateResult is the unified candidate pool plus per-source accounting.
type AggregateResult struct {
	Candidates      []model.CandidateRecord
	PerSourceCounts map[model.SourceName]int
	Warnings        []model.SourceWarning
}

// Aggregator fans a search out to every enabled source concurrently.
// It never fails: a source that errors, times out, or is disabled
// contributes an empty slice and a warning. An entirely empty pool is a
// valid, reportable outcome.
type Aggregator struct {
	registry *Registry
	limit    int
	timeout  time.Duration
	logger   *slog.Logger

	// Identical queries issued concurrently share one fan-out.
	flight singleflight.Group

	resultCounter  otelmetric.Int64Counter
	failureCounter otelmetric.Int64Counter
}

// NewAggregator creates an aggregator over the registry's sources.
// limit is the per-source page size; timeout bounds each source call
// independently so one slow catalog cannot stall the pool.
func NewAggregator(registry *Registry, limit int, timeout time.Duration, logger *slog.Logger) *Aggregator {
	meter := telemetry.Meter("datascout/catalog")
	resultCounter, _ := meter.Int64Counter("catalog.search.results",
		otelmetric.WithDescription("Candidates returned per source"))
	failureCounter, _ := meter.Int64Counter("catalog.search.failures",
		otelmetric.WithDescription("Source searches that failed or timed out"))

	return &Aggregator{
		registry:       registry,
		limit:          limit,
		timeout:        timeout,
		logger:         logger,
		resultCounter:  resultCounter,
		failureCounter: failureCounter,
	}
}

// sourceOutcome is one source's contribution, collected positionally so the
// final order never depends on completion order.
type sourceOutcome struct {
	records []model.CandidateRecord
	warning *model.SourceWarning
}

// Search fans out to all enabled sources and returns the concatenated,
// per-source-deduplicated pool in registry order. Total latency is the
// slowest source, not the sum. The only error returned is the caller's own
// context cancellation.
func (a *Aggregator) Search(ctx context.Context, spec model.SearchSpec) (AggregateResult, error) {
	key := flightKey(spec, a.limit)
	v, err, shared := a.flight.Do(key, func() (any, error) {
		return a.fanOut(ctx, spec)
	})
	if err != nil {
		return AggregateResult{}, err
	}
	if shared {
		a.logger.Debug("catalog: search collapsed onto in-flight query", "query", spec.CorrectedQuery)
	}
	return v.(AggregateResult), nil
}

func (a *Aggregator) fanOut(ctx context.Context, spec model.SearchSpec) (AggregateResult, error) {
	sources := a.registry.All()
	outcomes := make([]sourceOutcome, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		if !src.Enabled() {
			outcomes[i] = sourceOutcome{warning: &model.SourceWarning{
				Source:  src.Name(),
				Message: "source not configured",
			}}
			continue
		}

		g.Go(func() error {
			srcCtx, cancel := context.WithTimeout(gctx, a.timeout)
			defer cancel()

			start := time.Now()
			records, err := src.Search(srcCtx, spec, a.limit)
			if err != nil {
				a.failureCounter.Add(ctx, 1, otelmetric.WithAttributes(
					attribute.String("source", string(src.Name()))))
				a.logger.Warn("catalog: source search failed",
					"source", src.Name(),
					"error", err,
					"duration_ms", time.Since(start).Milliseconds())
				outcomes[i] = sourceOutcome{warning: &model.SourceWarning{
					Source:  src.Name(),
					Message: warningMessage(srcCtx, err),
				}}
				return nil
			}

			records = dedupeByExternalID(records)
			a.resultCounter.Add(ctx, int64(len(records)), otelmetric.WithAttributes(
				attribute.String("source", string(src.Name()))))
			outcomes[i] = sourceOutcome{records: records}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return AggregateResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return AggregateResult{}, fmt.Errorf("catalog: search cancelled: %w", err)
	}

	result := AggregateResult{
		PerSourceCounts: make(map[model.SourceName]int, len(sources)),
	}
	for i, src := range sources {
		out := outcomes[i]
		result.PerSourceCounts[src.Name()] = len(out.records)
		result.Candidates = append(result.Candidates, out.records...)
		if out.warning != nil {
			result.Warnings = append(result.Warnings, *out.warning)
		}
	}
	return result, nil
}

// warningMessage reports a timeout distinctly from an upstream fault.
func warningMessage(srcCtx context.Context, err error) string {
	if srcCtx.Err() == context.DeadlineExceeded {
		return "source timed out"
	}
	return err.Error()
}

func flightKey(spec model.SearchSpec, limit int) string {
	return spec.CorrectedQuery + "\x00" + strconv.Itoa(limit)
}
