package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/semmed/internal/cache"
	"github.com/efebarandurmaz/semmed/internal/config"
	"github.com/efebarandurmaz/semmed/internal/metrics"
	"github.com/efebarandurmaz/semmed/internal/pipeline"
	"github.com/efebarandurmaz/semmed/internal/predication"
	"github.com/efebarandurmaz/semmed/internal/semtype"
	"github.com/efebarandurmaz/semmed/internal/sink"
	"github.com/efebarandurmaz/semmed/internal/source"
)

// ActivityResult is the serializable outcome of a load or prebuild.
type ActivityResult struct {
	Rows      int
	Skipped   int
	Invalid   int
	Documents int
	CacheHit  bool
	Errors    []string
}

func resultFrom(m *metrics.RunMetrics) ActivityResult {
	return ActivityResult{
		Rows:      m.Rows.Read,
		Skipped:   m.Rows.Skipped,
		Invalid:   m.Rows.Invalid,
		Documents: m.Documents,
		CacheHit:  m.CacheHit,
		Errors:    m.Errors,
	}
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Config *config.Config
	// NewSink opens the output sink for one load. Defaults to sink.New.
	NewSink func(ctx context.Context, cfg *config.Config) (sink.Sink, error)
	Logger  *slog.Logger
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func currentDeps() (*Dependencies, error) {
	if deps == nil || deps.Config == nil {
		return nil, errors.New("temporal activities: dependencies not set")
	}
	return deps, nil
}

func (d *Dependencies) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// newPipeline loads the semantic-type map and builds a pipeline for input
// that heartbeats after every batch.
func (d *Dependencies) newPipeline(ctx context.Context, phase string, input IngestInput, snk sink.Sink) (*pipeline.Pipeline, error) {
	types, err := semtype.Load(input.semanticTypesPath(d.Config))
	if err != nil {
		return nil, sdktemporal.NewNonRetryableApplicationError("load semantic types", "SemanticTypes", err)
	}

	var store *cache.Store
	if d.Config.Cache.Enabled {
		store = cache.New(d.Config.Cache.ResolveDir(d.Config.Data)).WithLogger(d.logger())
	}
	opts := pipeline.Options{
		Workers:         d.Config.Pipeline.Workers,
		BatchSize:       d.Config.Pipeline.BatchSize,
		SkipInvalidRows: d.Config.Pipeline.SkipInvalidRows,
		SinkName:        d.Config.Sink.Kind,
		OnBatch: func(rows, documents int) {
			recordHeartbeat(ctx, Progress{Phase: phase, Rows: rows, Documents: documents})
		},
	}
	return pipeline.New(types, snk, store, opts).WithLogger(d.logger()), nil
}

// classify marks data errors as non-retryable; a retry would read the same
// bad row again.
func classify(err error) error {
	if errors.Is(err, predication.ErrCardinalityMismatch) || errors.Is(err, source.ErrInvalidRow) {
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), "InvalidRow", err)
	}
	return err
}

// LoadActivity runs one pipeline load into the configured sink.
func LoadActivity(ctx context.Context, input IngestInput) (ActivityResult, error) {
	d, err := currentDeps()
	if err != nil {
		return ActivityResult{}, err
	}
	newSink := d.NewSink
	if newSink == nil {
		newSink = func(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
			return sink.New(ctx, cfg, d.logger())
		}
	}

	snk, err := newSink(ctx, d.Config)
	if err != nil {
		return ActivityResult{}, fmt.Errorf("open sink: %w", err)
	}
	p, err := d.newPipeline(ctx, "load", input, snk)
	if err != nil {
		_ = snk.Close(ctx)
		return ActivityResult{}, err
	}

	recordHeartbeat(ctx, Progress{Phase: "load"})
	m, runErr := p.Run(ctx, input.predicationsPath(d.Config))
	closeErr := snk.Close(ctx)
	if runErr != nil {
		return resultFrom(m), classify(runErr)
	}
	if closeErr != nil {
		return resultFrom(m), fmt.Errorf("close sink: %w", closeErr)
	}
	return resultFrom(m), nil
}

// PrebuildCacheActivity computes and caches documents without loading them.
func PrebuildCacheActivity(ctx context.Context, input IngestInput) (ActivityResult, error) {
	d, err := currentDeps()
	if err != nil {
		return ActivityResult{}, err
	}
	p, err := d.newPipeline(ctx, "prebuild", input, nil)
	if err != nil {
		return ActivityResult{}, err
	}

	recordHeartbeat(ctx, Progress{Phase: "prebuild"})
	m, err := p.Prebuild(ctx, input.predicationsPath(d.Config), input.ForceRebuild)
	if err != nil {
		if errors.Is(err, pipeline.ErrNoCache) {
			return resultFrom(m), sdktemporal.NewNonRetryableApplicationError(err.Error(), "CacheDisabled", err)
		}
		return resultFrom(m), classify(err)
	}
	return resultFrom(m), nil
}

// Progress is the heartbeat detail of a running activity.
type Progress struct {
	Phase     string
	Rows      int
	Documents int
}

var heartbeat = activity.RecordHeartbeat

// recordHeartbeat is a no-op outside an activity context. The SDK throttles
// heartbeats sent to the server.
func recordHeartbeat(ctx context.Context, p Progress) {
	if activity.IsActivity(ctx) {
		heartbeat(ctx, p)
	}
}
