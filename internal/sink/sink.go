// Package sink delivers predication documents to their destination.
package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/semmed/internal/config"
	"github.com/efebarandurmaz/semmed/internal/predication"
)

// Sink receives documents in batches. Batches arrive in output order.
type Sink interface {
	// Write stores one batch.
	Write(ctx context.Context, docs []predication.Document) error
	// Close flushes buffered output and releases resources.
	Close(ctx context.Context) error
}

// New builds the sink selected by cfg.Sink.Kind.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Sink.Kind {
	case "", "jsonl":
		return NewJSONL(cfg.Sink.Path)
	case "neo4j":
		return NewNeo4j(ctx, cfg.Graph, logger)
	case "redis":
		return NewRedis(ctx, cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}
}
