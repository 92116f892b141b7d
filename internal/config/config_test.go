package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestValidate_Default(t *testing.T) {
	warnings := Default().Validate()
	if len(warnings) != 0 {
		t.Errorf("default config should have no warnings, got %v", warnings)
	}
}

func TestValidate_Pipeline(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.Workers = 0
	cfg.Pipeline.BatchSize = -1
	warnings := cfg.Validate()
	if !hasWarning(warnings, "workers") {
		t.Error("expected warning about workers")
	}
	if !hasWarning(warnings, "batch_size") {
		t.Error("expected warning about batch_size")
	}
}

func TestValidate_Sink(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		want string
	}{
		{"unknown kind", func(c *Config) { c.Sink.Kind = "elasticsearch" }, "unknown sink"},
		{"neo4j without uri", func(c *Config) { c.Sink.Kind = "neo4j" }, "graph.uri"},
		{"redis without addr", func(c *Config) { c.Sink.Kind = "redis"; c.Redis.Addr = "" }, "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mod(cfg)
			if !hasWarning(cfg.Validate(), tt.want) {
				t.Errorf("expected warning containing %q", tt.want)
			}
		})
	}
}

func TestValidate_SampleRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want bool // true = should warn
	}{
		{"zero", 0, false},
		{"half", 0.5, false},
		{"one", 1.0, false},
		{"negative", -0.1, true},
		{"too_high", 1.5, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Tracing.SampleRate = tt.rate
			if got := hasWarning(cfg.Validate(), "sample_rate"); got != tt.want {
				t.Errorf("rate=%.1f: hasWarn=%v, want=%v", tt.rate, got, tt.want)
			}
		})
	}
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "DEBUG"
	if hasWarning(cfg.Validate(), "log level") {
		t.Error("level matching should be case-insensitive")
	}
	cfg.Log.Level = "verbose"
	if !hasWarning(cfg.Validate(), "log level") {
		t.Error("expected warning about unknown log level")
	}
}

func TestDataPaths(t *testing.T) {
	d := DataConfig{Folder: "/data/semmed", Predications: "pred.csv", SemanticTypes: "/abs/types.txt"}
	if got := d.PredicationsPath(); got != filepath.Join("/data/semmed", "pred.csv") {
		t.Errorf("unexpected predications path %s", got)
	}
	if got := d.SemanticTypesPath(); got != "/abs/types.txt" {
		t.Errorf("absolute path should be kept, got %s", got)
	}

	c := CacheConfig{}
	if got := c.ResolveDir(d); got != filepath.Join("/data/semmed", "cache") {
		t.Errorf("unexpected default cache dir %s", got)
	}
	c.Dir = "/tmp/c"
	if got := c.ResolveDir(d); got != "/tmp/c" {
		t.Errorf("explicit cache dir should win, got %s", got)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "semmed.yaml")
	content := `
data:
  folder: /srv/semmed
pipeline:
  workers: 8
  skip_invalid_rows: true
sink:
  kind: neo4j
graph:
  uri: bolt://db:7687
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Data.Folder != "/srv/semmed" || cfg.Pipeline.Workers != 8 || !cfg.Pipeline.SkipInvalidRows {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Graph.URI != "bolt://db:7687" || cfg.Sink.Kind != "neo4j" {
		t.Errorf("graph/sink values not applied: %+v %+v", cfg.Graph, cfg.Sink)
	}
	// Keys absent from the file keep their defaults.
	if cfg.Pipeline.BatchSize != 5000 || cfg.Data.Predications != "semmedVER43_2022_R_PREDICATION.csv" {
		t.Errorf("defaults not applied: %+v", cfg.Pipeline)
	}
}

func TestLoad_MissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("SEMMED_PIPELINE_WORKERS", "12")
	t.Setenv("SEMMED_SINK_KIND", "redis")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not fail: %v", err)
	}
	if cfg.Pipeline.Workers != 12 {
		t.Errorf("expected env override workers=12, got %d", cfg.Pipeline.Workers)
	}
	if cfg.Sink.Kind != "redis" {
		t.Errorf("expected env override sink=redis, got %s", cfg.Sink.Kind)
	}
	if cfg.Temporal.TaskQueue != "semmed" {
		t.Errorf("expected default task queue, got %s", cfg.Temporal.TaskQueue)
	}
	if cfg.Temporal.HealthAddr != ":8081" {
		t.Errorf("expected default health addr, got %s", cfg.Temporal.HealthAddr)
	}
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("pipeline: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
