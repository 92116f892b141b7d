package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/efebarandurmaz/semmed/internal/config"
	"github.com/efebarandurmaz/semmed/internal/predication"
)

// Redis stores each document as a JSON string under <prefix><_id>.
type Redis struct {
	rdb    goredis.UniversalClient
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis sink: redis.addr is required")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: 5 * time.Second,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisClient(rdb, cfg.KeyPrefix, time.Duration(cfg.TTLSeconds)*time.Second, logger), nil
}

// NewRedisClient wraps an existing client. A zero ttl keeps keys forever.
func NewRedisClient(rdb goredis.UniversalClient, prefix string, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, prefix: prefix, ttl: ttl, logger: logger.With("sink", "redis")}
}

// Key returns the key a document is stored under.
func (s *Redis) Key(id string) string {
	return s.prefix + id
}

// Write sends the batch as a single pipeline.
func (s *Redis) Write(ctx context.Context, docs []predication.Document) error {
	if len(docs) == 0 {
		return nil
	}
	pipe := s.rdb.Pipeline()
	for i := range docs {
		raw, err := json.Marshal(&docs[i])
		if err != nil {
			return fmt.Errorf("encode %s: %w", docs[i].ID, err)
		}
		pipe.Set(ctx, s.Key(docs[i].ID), raw, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (%d documents): %w", len(docs), err)
	}
	s.logger.Debug("Batch stored", "documents", len(docs))
	return nil
}

func (s *Redis) Close(_ context.Context) error {
	return s.rdb.Close()
}

var _ Sink = (*Redis)(nil)
