package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Graph    GraphConfig    `mapstructure:"graph"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Temporal TemporalConfig `mapstructure:"temporal"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// DataConfig locates the input files. Relative file names are resolved
// against Folder.
type DataConfig struct {
	Folder        string `mapstructure:"folder"`
	Predications  string `mapstructure:"predications"`
	SemanticTypes string `mapstructure:"semantic_types"`
}

// PredicationsPath returns the resolved path of the PREDICATION dump.
func (d DataConfig) PredicationsPath() string {
	return d.resolve(d.Predications)
}

// SemanticTypesPath returns the resolved path of the semantic-type table.
func (d DataConfig) SemanticTypesPath() string {
	return d.resolve(d.SemanticTypes)
}

func (d DataConfig) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) || d.Folder == "" {
		return name
	}
	return filepath.Join(d.Folder, name)
}

type CacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Dir defaults to <data.folder>/cache when empty.
	Dir string `mapstructure:"dir"`
}

// ResolveDir returns the cache directory.
func (c CacheConfig) ResolveDir(data DataConfig) string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(data.Folder, "cache")
}

type PipelineConfig struct {
	Workers   int `mapstructure:"workers"`
	BatchSize int `mapstructure:"batch_size"`
	// SkipInvalidRows counts and logs structurally broken rows instead of
	// aborting the run.
	SkipInvalidRows bool `mapstructure:"skip_invalid_rows"`
}

// SinkConfig selects where documents go: "jsonl", "neo4j" or "redis".
type SinkConfig struct {
	Kind string `mapstructure:"kind"`
	// Path is the JSON Lines output file; "-" means stdout.
	Path string `mapstructure:"path"`
}

type GraphConfig struct {
	URI                   string `mapstructure:"uri"`
	Username              string `mapstructure:"username"`
	Password              string `mapstructure:"password"`
	Database              string `mapstructure:"database"`
	MaxPoolSize           int    `mapstructure:"max_pool_size"`
	ConnectTimeoutSeconds int    `mapstructure:"connect_timeout_seconds"`
}

type RedisConfig struct {
	Addr       string `mapstructure:"addr"`
	Password   string `mapstructure:"password"`
	DB         int    `mapstructure:"db"`
	KeyPrefix  string `mapstructure:"key_prefix"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

type TemporalConfig struct {
	Host      string `mapstructure:"host"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`

	// HealthAddr is where the worker serves its probes; empty disables them.
	HealthAddr string `mapstructure:"health_addr"`
}

type TracingConfig struct {
	// OTLPEndpoint is the OTLP gRPC endpoint; tracing is off when empty.
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	Environment  string  `mapstructure:"environment"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type MetricsConfig struct {
	// Textfile, when set, receives Prometheus text-format metrics at the
	// end of each run.
	Textfile string `mapstructure:"textfile"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Data: DataConfig{
			Folder:        ".",
			Predications:  "semmedVER43_2022_R_PREDICATION.csv",
			SemanticTypes: "SemanticTypes_2013AA.txt",
		},
		Cache:    CacheConfig{Enabled: true},
		Pipeline: PipelineConfig{Workers: 4, BatchSize: 5000},
		Sink:     SinkConfig{Kind: "jsonl", Path: "-"},
		Graph: GraphConfig{
			Username:              "neo4j",
			MaxPoolSize:           50,
			ConnectTimeoutSeconds: 10,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "semmed:",
		},
		Temporal: TemporalConfig{
			Host:       "localhost:7233",
			Namespace:  "default",
			TaskQueue:  "semmed",
			HealthAddr: ":8081",
		},
		Tracing: TracingConfig{Environment: "development", SampleRate: 1.0},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

var knownSinks = map[string]bool{"jsonl": true, "neo4j": true, "redis": true}

var knownLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Pipeline.Workers < 1 {
		warnings = append(warnings, fmt.Sprintf("pipeline workers %d is less than 1; using 1", c.Pipeline.Workers))
	}
	if c.Pipeline.BatchSize < 1 {
		warnings = append(warnings, fmt.Sprintf("pipeline batch_size %d is less than 1; using 1", c.Pipeline.BatchSize))
	}

	if !knownSinks[c.Sink.Kind] {
		warnings = append(warnings, fmt.Sprintf("unknown sink kind '%s'", c.Sink.Kind))
	}
	if c.Sink.Kind == "neo4j" && c.Graph.URI == "" {
		warnings = append(warnings, "sink 'neo4j' is selected but graph.uri is empty")
	}
	if c.Sink.Kind == "redis" && c.Redis.Addr == "" {
		warnings = append(warnings, "sink 'redis' is selected but redis.addr is empty")
	}

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		warnings = append(warnings, fmt.Sprintf("tracing sample_rate %.2f is outside [0.0, 1.0]", c.Tracing.SampleRate))
	}

	if c.Log.Level != "" && !knownLevels[strings.ToLower(c.Log.Level)] {
		warnings = append(warnings, fmt.Sprintf("unknown log level '%s'", c.Log.Level))
	}

	return warnings
}

// setDefaults registers every key so environment overrides apply even when
// the key is missing from the file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("data.folder", d.Data.Folder)
	v.SetDefault("data.predications", d.Data.Predications)
	v.SetDefault("data.semantic_types", d.Data.SemanticTypes)
	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.dir", d.Cache.Dir)
	v.SetDefault("pipeline.workers", d.Pipeline.Workers)
	v.SetDefault("pipeline.batch_size", d.Pipeline.BatchSize)
	v.SetDefault("pipeline.skip_invalid_rows", d.Pipeline.SkipInvalidRows)
	v.SetDefault("sink.kind", d.Sink.Kind)
	v.SetDefault("sink.path", d.Sink.Path)
	v.SetDefault("graph.uri", d.Graph.URI)
	v.SetDefault("graph.username", d.Graph.Username)
	v.SetDefault("graph.password", d.Graph.Password)
	v.SetDefault("graph.database", d.Graph.Database)
	v.SetDefault("graph.max_pool_size", d.Graph.MaxPoolSize)
	v.SetDefault("graph.connect_timeout_seconds", d.Graph.ConnectTimeoutSeconds)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)
	v.SetDefault("redis.ttl_seconds", d.Redis.TTLSeconds)
	v.SetDefault("temporal.host", d.Temporal.Host)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("temporal.health_addr", d.Temporal.HealthAddr)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads configuration from file and environment. A missing file is
// not an error: defaults and SEMMED_* environment variables still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SEMMED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Warning: config file %s not found, using defaults\n", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
