package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics collects statistics for one load or prebuild run.
type RunMetrics struct {
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
	Source     string        `json:"source"`
	Sink       string        `json:"sink"`
	CacheHit   bool          `json:"cache_hit"`
	CacheWrite bool          `json:"cache_write"`
	Rows       RowMetrics    `json:"rows"`
	Documents  int           `json:"documents"`
	Batches    int           `json:"batches"`
	Errors     []string      `json:"errors,omitempty"`
}

// RowMetrics counts source rows by outcome. Rows are not read on a cache hit.
type RowMetrics struct {
	Read int `json:"read"`
	// Skipped rows failed the object identifier gate.
	Skipped int `json:"skipped"`
	// Invalid rows were malformed and dropped under skip_invalid_rows.
	Invalid int `json:"invalid"`
}

// New starts tracking a run.
func New(source, sink string) *RunMetrics {
	return &RunMetrics{StartedAt: time.Now(), Source: source, Sink: sink}
}

// Finish marks the run as complete.
func (m *RunMetrics) Finish(errs []string) {
	m.FinishedAt = time.Now()
	m.Duration = m.FinishedAt.Sub(m.StartedAt)
	m.DurationMS = m.Duration.Milliseconds()
	m.Errors = errs
}

// Succeeded reports whether the run finished without errors.
func (m *RunMetrics) Succeeded() bool {
	return !m.FinishedAt.IsZero() && len(m.Errors) == 0
}

// RowsPerSecond is the transform throughput; zero on a cache hit.
func (m *RunMetrics) RowsPerSecond() float64 {
	if m.Duration <= 0 || m.Rows.Read == 0 {
		return 0
	}
	return float64(m.Rows.Read) / m.Duration.Seconds()
}

// PrintSummary writes a human-readable summary.
func (m *RunMetrics) PrintSummary(w io.Writer) {
	mode := "transform"
	if m.CacheHit {
		mode = "cache replay"
	}
	fmt.Fprintf(w, "\n╔══════════════════════════════════════╗\n")
	fmt.Fprintf(w, "║        SEMMED LOAD REPORT            ║\n")
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ Duration:    %-23s║\n", m.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "║ Mode:        %-23s║\n", mode)
	fmt.Fprintf(w, "║ Sink:        %-23s║\n", m.Sink)
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ SOURCE %s\n", m.Source)
	fmt.Fprintf(w, "║   Rows read:   %d\n", m.Rows.Read)
	fmt.Fprintf(w, "║   Skipped:     %d\n", m.Rows.Skipped)
	fmt.Fprintf(w, "║   Invalid:     %d\n", m.Rows.Invalid)
	if rate := m.RowsPerSecond(); rate > 0 {
		fmt.Fprintf(w, "║   Throughput:  %s rows/s\n", formatCount(rate))
	}
	fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
	fmt.Fprintf(w, "║ OUTPUT\n")
	fmt.Fprintf(w, "║   Documents:   %d\n", m.Documents)
	fmt.Fprintf(w, "║   Batches:     %d\n", m.Batches)
	fmt.Fprintf(w, "║   Cache write: %t\n", m.CacheWrite)
	if len(m.Errors) > 0 {
		fmt.Fprintf(w, "╠══════════════════════════════════════╣\n")
		fmt.Fprintf(w, "║ ERRORS\n")
		for _, e := range m.Errors {
			fmt.Fprintf(w, "║   • %s\n", e)
		}
	}
	fmt.Fprintf(w, "╚══════════════════════════════════════╝\n")
}

// JSON returns the metrics as formatted JSON.
func (m *RunMetrics) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Registry returns a Prometheus registry holding the run as last-run gauges.
func (m *RunMetrics) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"source": m.Source, "sink": m.Sink}

	rows := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "semmed_last_run_rows",
		Help:        "Source rows seen in the last run, by outcome.",
		ConstLabels: labels,
	}, []string{"outcome"})
	rows.WithLabelValues("read").Set(float64(m.Rows.Read))
	rows.WithLabelValues("skipped").Set(float64(m.Rows.Skipped))
	rows.WithLabelValues("invalid").Set(float64(m.Rows.Invalid))

	gauge := func(name, help string, v float64) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: name, Help: help, ConstLabels: labels})
		g.Set(v)
		return g
	}

	reg.MustRegister(
		rows,
		gauge("semmed_last_run_documents", "Documents delivered to the sink in the last run.", float64(m.Documents)),
		gauge("semmed_last_run_duration_seconds", "Wall time of the last run.", m.Duration.Seconds()),
		gauge("semmed_last_run_cache_hit", "1 if the last run replayed the cache.", boolValue(m.CacheHit)),
		gauge("semmed_last_run_success", "1 if the last run finished without errors.", boolValue(m.Succeeded())),
		gauge("semmed_last_run_timestamp_seconds", "Unix time the last run finished.", float64(m.FinishedAt.Unix())),
	)
	return reg
}

// WriteTextfile writes the run in Prometheus text format for the
// node-exporter textfile collector.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.Registry()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func formatCount(v float64) string {
	switch {
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fK", v/1e3)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
