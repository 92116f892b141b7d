package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/semmed/internal/cache"
	"github.com/efebarandurmaz/semmed/internal/config"
	"github.com/efebarandurmaz/semmed/internal/metrics"
	"github.com/efebarandurmaz/semmed/internal/observability"
	"github.com/efebarandurmaz/semmed/internal/pipeline"
	"github.com/efebarandurmaz/semmed/internal/predication"
	"github.com/efebarandurmaz/semmed/internal/semtype"
	"github.com/efebarandurmaz/semmed/internal/sink"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "semmed",
		Short:         "Load SemMedDB predications as subject-predicate-object documents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/semmed.yaml", "Config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")

	loadConfig := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger := newLogger(cfg.Log, os.Stderr)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	var (
		jsonReport  bool
		noCache     bool
		sinkKind    string
		outputPath  string
		skipInvalid bool
	)
	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Transform the predication dump (or replay its cache) into the configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("sink") {
				cfg.Sink.Kind = sinkKind
			}
			if cmd.Flags().Changed("output") {
				cfg.Sink.Path = outputPath
			}
			if noCache {
				cfg.Cache.Enabled = false
			}
			if skipInvalid {
				cfg.Pipeline.SkipInvalidRows = true
			}
			return runLoad(cmd.Context(), cfg, logger, jsonReport)
		},
	}
	loadCmd.Flags().BoolVar(&jsonReport, "json", false, "Output metrics as JSON")
	loadCmd.Flags().BoolVar(&noCache, "no-cache", false, "Neither read nor write the document cache")
	loadCmd.Flags().StringVar(&sinkKind, "sink", "", "Override sink.kind (jsonl, neo4j, redis)")
	loadCmd.Flags().StringVar(&outputPath, "output", "", "Override sink.path for the jsonl sink (- for stdout)")
	loadCmd.Flags().BoolVar(&skipInvalid, "skip-invalid", false, "Count and log malformed rows instead of failing")

	var force bool
	prebuildCmd := &cobra.Command{
		Use:   "prebuild-cache",
		Short: "Compute the documents for the dump and write the cache without loading",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if skipInvalid {
				cfg.Pipeline.SkipInvalidRows = true
			}
			return runPrebuild(cmd.Context(), cfg, logger, force, jsonReport)
		},
	}
	prebuildCmd.Flags().BoolVar(&force, "force", false, "Rebuild even if the cache is up to date")
	prebuildCmd.Flags().BoolVar(&jsonReport, "json", false, "Output metrics as JSON")
	prebuildCmd.Flags().BoolVar(&skipInvalid, "skip-invalid", false, "Count and log malformed rows instead of failing")

	semtypesCmd := &cobra.Command{
		Use:   "semtypes [code...]",
		Short: "Print the semantic-type map, or look up codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			types, err := semtype.Load(cfg.Data.SemanticTypesPath())
			if err != nil {
				return err
			}
			return printSemTypes(os.Stdout, types, args)
		},
	}

	var rf rowFlags
	transformCmd := &cobra.Command{
		Use:   "transform",
		Short: "Transform a single row given as flags and print its documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			types, err := semtype.Load(cfg.Data.SemanticTypesPath())
			if err != nil {
				return err
			}
			return printTransform(os.Stdout, rf.build(cmd), types)
		},
	}
	rf.register(transformCmd)

	rootCmd.AddCommand(loadCmd, prebuildCmd, semtypesCmd, transformCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// newLogger builds the process logger from log.level and log.format.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// rowFlags binds a single predication row to command flags.
type rowFlags struct {
	row                           predication.Row
	subjectNovelty, objectNovelty int8
}

func (f *rowFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.row.PredicationID, "id", "", "PREDICATION_ID")
	fs.StringVar(&f.row.PMID, "pmid", "", "PubMed id")
	fs.StringVar(&f.row.Predicate, "predicate", "", "Predicate, e.g. TREATS")
	fs.StringVar(&f.row.Subject.CUI, "subject-cui", "", "Subject CUI or |-separated gene ids")
	fs.StringVar(&f.row.Subject.Name, "subject-name", "", "Subject name(s)")
	fs.StringVar(&f.row.Subject.SemType, "subject-semtype", "", "Subject semantic-type code")
	fs.Int8Var(&f.subjectNovelty, "subject-novelty", 0, "Subject novelty flag")
	fs.StringVar(&f.row.Object.CUI, "object-cui", "", "Object CUI")
	fs.StringVar(&f.row.Object.Name, "object-name", "", "Object name(s)")
	fs.StringVar(&f.row.Object.SemType, "object-semtype", "", "Object semantic-type code")
	fs.Int8Var(&f.objectNovelty, "object-novelty", 0, "Object novelty flag")
	for _, name := range []string{"id", "pmid", "predicate", "subject-cui", "subject-name", "object-cui", "object-name"} {
		_ = cmd.MarkFlagRequired(name)
	}
}

// build returns the row. Novelty is only set when its flag was given.
func (f *rowFlags) build(cmd *cobra.Command) predication.Row {
	row := f.row
	if cmd.Flags().Changed("subject-novelty") {
		n := f.subjectNovelty
		row.Subject.Novelty = &n
	}
	if cmd.Flags().Changed("object-novelty") {
		n := f.objectNovelty
		row.Object.Novelty = &n
	}
	return row
}

// setup loads the semantic types and opens the cache store shared by load
// and prebuild-cache.
func setup(cfg *config.Config, logger *slog.Logger) (semtype.Map, *cache.Store, error) {
	types, err := semtype.Load(cfg.Data.SemanticTypesPath())
	if err != nil {
		return semtype.Map{}, nil, err
	}
	logger.Info("Semantic types loaded", "path", cfg.Data.SemanticTypesPath(), "count", types.Len())

	var store *cache.Store
	if cfg.Cache.Enabled {
		store = cache.New(cfg.Cache.ResolveDir(cfg.Data)).WithLogger(logger)
	}
	return types, store, nil
}

func pipelineOptions(cfg *config.Config) pipeline.Options {
	return pipeline.Options{
		Workers:         cfg.Pipeline.Workers,
		BatchSize:       cfg.Pipeline.BatchSize,
		SkipInvalidRows: cfg.Pipeline.SkipInvalidRows,
		SinkName:        cfg.Sink.Kind,
	}
}

func runLoad(ctx context.Context, cfg *config.Config, logger *slog.Logger, jsonReport bool) error {
	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdownTracing(tp, logger)

	types, store, err := setup(cfg, logger)
	if err != nil {
		return err
	}

	snk, err := sink.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	m, runErr := pipeline.New(types, snk, store, pipelineOptions(cfg)).WithLogger(logger).Run(ctx, cfg.Data.PredicationsPath())
	if err := snk.Close(context.WithoutCancel(ctx)); err != nil && runErr == nil {
		runErr = fmt.Errorf("close sink: %w", err)
	}

	// Documents may be streaming to stdout.
	report := io.Writer(os.Stdout)
	if cfg.Sink.Kind == "jsonl" && (cfg.Sink.Path == "" || cfg.Sink.Path == "-") {
		report = os.Stderr
	}
	if err := finishReport(report, cfg, m, jsonReport, logger); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func runPrebuild(ctx context.Context, cfg *config.Config, logger *slog.Logger, force, jsonReport bool) error {
	if !cfg.Cache.Enabled {
		return fmt.Errorf("prebuild-cache: %w (set cache.enabled)", pipeline.ErrNoCache)
	}
	tp, err := observability.InitTracing(ctx, cfg.Tracing)
	if err != nil {
		return err
	}
	defer shutdownTracing(tp, logger)

	types, store, err := setup(cfg, logger)
	if err != nil {
		return err
	}

	source := cfg.Data.PredicationsPath()
	fmt.Printf("Source: %s\n", source)
	fmt.Printf("Cache:  %s\n", store.Dir())

	m, runErr := pipeline.New(types, nil, store, pipelineOptions(cfg)).WithLogger(logger).Prebuild(ctx, source, force)
	if err := finishReport(os.Stdout, cfg, m, jsonReport, logger); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

func finishReport(w io.Writer, cfg *config.Config, m *metrics.RunMetrics, jsonReport bool, logger *slog.Logger) error {
	if jsonReport {
		data, err := m.JSON()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	} else {
		m.PrintSummary(w)
	}
	if cfg.Metrics.Textfile != "" {
		if err := m.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			return err
		}
		logger.Debug("Metrics textfile written", "path", cfg.Metrics.Textfile)
	}
	return nil
}

func shutdownTracing(tp *observability.TracerProvider, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		logger.Warn("Tracing shutdown failed", "error", err)
	}
}

func printSemTypes(w io.Writer, types semtype.Map, codes []string) error {
	if len(codes) == 0 {
		codes = types.Codes()
	}
	missing := 0
	for _, code := range codes {
		label, ok := types.Lookup(code)
		if !ok {
			missing++
			label = "(unknown)"
		}
		fmt.Fprintf(w, "%s\t%s\n", code, label)
	}
	if missing > 0 {
		return fmt.Errorf("%d unknown semantic type code(s)", missing)
	}
	return nil
}

func printTransform(w io.Writer, row predication.Row, types semtype.Map) error {
	if err := row.Validate(); err != nil {
		return err
	}
	docs, err := predication.Transform(row, types)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		fmt.Fprintf(os.Stderr, "Row %s skipped: object identifier %q is not a concept\n", row.PredicationID, row.Object.CUI)
		return nil
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	for i := range docs {
		if err := enc.Encode(&docs[i]); err != nil {
			return err
		}
	}
	return nil
}
