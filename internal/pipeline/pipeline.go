// Package pipeline runs a predication dump through transformation into a
// sink, serving repeat runs from the document cache.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/semmed/internal/cache"
	"github.com/efebarandurmaz/semmed/internal/metrics"
	"github.com/efebarandurmaz/semmed/internal/observability"
	"github.com/efebarandurmaz/semmed/internal/predication"
	"github.com/efebarandurmaz/semmed/internal/semtype"
	"github.com/efebarandurmaz/semmed/internal/sink"
	"github.com/efebarandurmaz/semmed/internal/source"
)

// ErrNoCache is returned by Prebuild when the pipeline has no cache store.
var ErrNoCache = errors.New("cache is disabled")

// Options tunes a pipeline run.
type Options struct {
	Workers   int // Transform goroutines per batch
	BatchSize int // Rows per batch
	// SkipInvalidRows counts and logs malformed rows instead of failing.
	SkipInvalidRows bool
	// SinkName labels metrics and spans.
	SinkName string
	// OnBatch, if set, is called after every batch with the running row
	// and document counts.
	OnBatch func(rows, documents int)
}

func (o Options) normalized() Options {
	if o.Workers < 1 {
		o.Workers = 1
	}
	if o.BatchSize < 1 {
		o.BatchSize = 1
	}
	if o.SinkName == "" {
		o.SinkName = "none"
	}
	return o
}

// Pipeline transforms predication rows into documents.
type Pipeline struct {
	types  semtype.Map
	sink   sink.Sink
	store  *cache.Store
	opts   Options
	logger *slog.Logger
}

// New creates a pipeline. A nil sink discards documents; a nil store
// disables the cache. The store is bound to types and the invalid-row
// policy, so a cache built under other settings is not replayed.
func New(types semtype.Map, snk sink.Sink, store *cache.Store, opts Options) *Pipeline {
	if store != nil {
		store.WithParams(cache.Params{
			SemanticTypes:   types.Digest(),
			SkipInvalidRows: opts.SkipInvalidRows,
		})
	}
	return &Pipeline{
		types:  types,
		sink:   snk,
		store:  store,
		opts:   opts.normalized(),
		logger: slog.Default(),
	}
}

// WithLogger sets the pipeline logger.
func (p *Pipeline) WithLogger(l *slog.Logger) *Pipeline {
	if l != nil {
		p.logger = l
	}
	return p
}

// Run loads sourcePath into the sink. A valid cache is replayed; otherwise
// the dump is transformed and, if a store is configured, cached on success.
// The returned metrics are populated even when err is non-nil.
func (p *Pipeline) Run(ctx context.Context, sourcePath string) (*metrics.RunMetrics, error) {
	m := metrics.New(sourcePath, p.opts.SinkName)
	ctx, span := observability.StartRunSpan(ctx, "load", sourcePath)
	defer span.End()

	var err error
	if p.store != nil && p.store.Exists(sourcePath) {
		err = p.replay(ctx, sourcePath, m)
	} else {
		err = p.transform(ctx, sourcePath, m)
	}
	p.finish(m, err)
	observability.RecordRunResult(span, m.Rows.Read, m.Documents, m.CacheHit)
	observability.RecordError(span, err)
	return m, err
}

// Prebuild computes and caches the documents for sourcePath without
// sinking them. An up-to-date cache is left alone unless force is set.
func (p *Pipeline) Prebuild(ctx context.Context, sourcePath string, force bool) (*metrics.RunMetrics, error) {
	m := metrics.New(sourcePath, "cache")
	if p.store == nil {
		p.finish(m, ErrNoCache)
		return m, ErrNoCache
	}
	ctx, span := observability.StartRunSpan(ctx, "prebuild", sourcePath)
	defer span.End()

	if force {
		if err := p.store.Invalidate(sourcePath); err != nil {
			err = fmt.Errorf("invalidate cache: %w", err)
			p.finish(m, err)
			observability.RecordError(span, err)
			return m, err
		}
	} else if p.store.Exists(sourcePath) {
		manifest, err := p.store.LoadManifest(sourcePath)
		if err == nil && manifest != nil {
			m.Documents = manifest.Documents
		}
		m.CacheHit = true
		p.logger.Info("Cache up to date", "source", sourcePath, "dir", p.store.Dir())
		p.finish(m, nil)
		return m, nil
	}

	discard := &Pipeline{types: p.types, store: p.store, opts: p.opts, logger: p.logger}
	err := discard.transform(ctx, sourcePath, m)
	p.finish(m, err)
	observability.RecordRunResult(span, m.Rows.Read, m.Documents, m.CacheHit)
	observability.RecordError(span, err)
	return m, err
}

func (p *Pipeline) finish(m *metrics.RunMetrics, err error) {
	var errs []string
	if err != nil {
		errs = []string{err.Error()}
	}
	m.Finish(errs)
	if err != nil {
		p.logger.Error("Run failed", "source", m.Source, "error", err, "documents", m.Documents)
		return
	}
	p.logger.Info("Run complete",
		"source", m.Source,
		"cache_hit", m.CacheHit,
		"rows", m.Rows.Read,
		"skipped", m.Rows.Skipped,
		"invalid", m.Rows.Invalid,
		"documents", m.Documents,
		"duration", m.Duration,
	)
}

func (p *Pipeline) replay(ctx context.Context, sourcePath string, m *metrics.RunMetrics) error {
	ctx, span := observability.StartCacheSpan(ctx, "read", p.store.Dir())
	defer span.End()

	p.logger.Info("Replaying cache", "source", sourcePath, "dir", p.store.Dir())
	m.CacheHit = true
	_, err := p.store.Read(ctx, sourcePath, p.opts.BatchSize, func(docs []predication.Document) error {
		if err := p.deliver(ctx, docs, m); err != nil {
			return err
		}
		p.progress(m)
		return nil
	})
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("replay cache: %w", err)
	}
	return nil
}

func (p *Pipeline) transform(ctx context.Context, sourcePath string, m *metrics.RunMetrics) error {
	f, err := source.Open(sourcePath)
	if err != nil {
		return err
	}
	defer f.Close()

	var cw *cache.Writer
	if p.store != nil {
		if cw, err = p.store.Create(sourcePath); err != nil {
			return fmt.Errorf("create cache: %w", err)
		}
		m.CacheWrite = true
	}
	abort := func(err error) error {
		if cw != nil {
			cw.Abort()
			m.CacheWrite = false
		}
		return err
	}

	batch := make([]predication.Row, 0, p.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		docs, err := p.transformBatch(ctx, m.Batches, batch, m)
		if err != nil {
			return err
		}
		if cw != nil {
			if err := cw.Write(docs); err != nil {
				return fmt.Errorf("write cache: %w", err)
			}
		}
		batch = batch[:0]
		if err := p.deliver(ctx, docs, m); err != nil {
			return err
		}
		p.progress(m)
		return nil
	}

	for row, err := range f.Rows() {
		if err != nil {
			if !errors.Is(err, source.ErrInvalidRow) {
				return abort(err)
			}
			m.Rows.Read++
			if rerr := p.reject(err, m); rerr != nil {
				return abort(rerr)
			}
			continue
		}
		m.Rows.Read++
		batch = append(batch, row)
		if len(batch) == p.opts.BatchSize {
			if err := flush(); err != nil {
				return abort(err)
			}
		}
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
	}
	if err := flush(); err != nil {
		return abort(err)
	}

	if cw != nil {
		_, span := observability.StartCacheSpan(ctx, "commit", p.store.Dir())
		cw.SetInvalidRows(m.Rows.Invalid)
		err := cw.Commit()
		observability.RecordError(span, err)
		span.End()
		if err != nil {
			m.CacheWrite = false
			return fmt.Errorf("commit cache: %w", err)
		}
	}
	return nil
}

// transformBatch transforms rows on up to Workers goroutines and returns
// their documents in row order.
func (p *Pipeline) transformBatch(ctx context.Context, index int, rows []predication.Row, m *metrics.RunMetrics) ([]predication.Document, error) {
	ctx, span := observability.StartTransformSpan(ctx, index, len(rows))
	defer span.End()

	results := make([][]predication.Document, len(rows))
	errs := make([]error, len(rows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for _, c := range chunks(len(rows), p.opts.Workers) {
		g.Go(func() error {
			for i := c.lo; i < c.hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				results[i], errs[i] = predication.Transform(rows[i], p.types)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	var docs []predication.Document
	for i, row := range rows {
		if err := errs[i]; err != nil {
			err = fmt.Errorf("row %s: %w", row.PredicationID, err)
			if rerr := p.reject(err, m); rerr != nil {
				observability.RecordError(span, rerr)
				return nil, rerr
			}
			continue
		}
		if len(results[i]) == 0 {
			m.Rows.Skipped++
			p.logger.Debug("Skipping row with invalid object identifier",
				"predication_id", row.PredicationID, "object_cui", row.Object.CUI)
			continue
		}
		docs = append(docs, results[i]...)
	}
	return docs, nil
}

// reject applies the invalid-row policy: the error is returned unless
// SkipInvalidRows is set.
func (p *Pipeline) reject(err error, m *metrics.RunMetrics) error {
	if !p.opts.SkipInvalidRows {
		return err
	}
	m.Rows.Invalid++
	p.logger.Error("Skipping invalid row", "error", err)
	return nil
}

func (p *Pipeline) deliver(ctx context.Context, docs []predication.Document, m *metrics.RunMetrics) error {
	if len(docs) == 0 {
		return nil
	}
	m.Batches++
	if p.sink != nil {
		sctx, span := observability.StartSinkSpan(ctx, p.opts.SinkName, len(docs))
		err := p.sink.Write(sctx, docs)
		observability.RecordError(span, err)
		span.End()
		if err != nil {
			return fmt.Errorf("sink %s: %w", p.opts.SinkName, err)
		}
	}
	m.Documents += len(docs)
	return nil
}

func (p *Pipeline) progress(m *metrics.RunMetrics) {
	if p.opts.OnBatch != nil {
		p.opts.OnBatch(m.Rows.Read, m.Documents)
	}
}

type chunk struct{ lo, hi int }

// chunks splits n items into at most k contiguous ranges of near-equal size.
func chunks(n, k int) []chunk {
	if n == 0 {
		return nil
	}
	if k > n {
		k = n
	}
	out := make([]chunk, 0, k)
	size, rem := n/k, n%k
	lo := 0
	for i := 0; i < k; i++ {
		hi := lo + size
		if i < rem {
			hi++
		}
		out = append(out, chunk{lo, hi})
		lo = hi
	}
	return out
}
