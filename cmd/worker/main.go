package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	temporalclient "go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"

	"github.com/efebarandurmaz/semmed/internal/config"
	"github.com/efebarandurmaz/semmed/internal/observability"
	"github.com/efebarandurmaz/semmed/internal/server"
	temporalmod "github.com/efebarandurmaz/semmed/internal/temporal"
)

func main() {
	configPath := "configs/semmed.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(sctx)
	}()

	temporalmod.SetDependencies(&temporalmod.Dependencies{
		Config: cfg,
		Logger: logger,
	})

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	health := server.NewHealthServer(observability.Version)
	health.RegisterCheck("temporal", server.TemporalHealthChecker(func(ctx context.Context) error {
		_, err := c.CheckHealth(ctx, &temporalclient.CheckHealthRequest{})
		return err
	}))
	health.RegisterCheck("predications", server.FileHealthChecker(cfg.Data.PredicationsPath()))
	health.RegisterCheck("semantic_types", server.FileHealthChecker(cfg.Data.SemanticTypesPath()))
	if cfg.Temporal.HealthAddr != "" {
		go func() {
			if err := health.Serve(ctx, cfg.Temporal.HealthAddr); err != nil {
				logger.Error("Health server stopped", "error", err)
			}
		}()
	}

	w, err := temporalmod.StartWorker(c, cfg.Temporal.TaskQueue)
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
	health.SetReady(true)

	fmt.Printf("Worker started on task queue: %s (sink %s)\n", cfg.Temporal.TaskQueue, cfg.Sink.Kind)

	<-ctx.Done()

	health.SetReady(false)
	w.Stop()
	fmt.Println("Worker stopped")
}
