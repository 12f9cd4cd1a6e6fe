package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	attemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ablatext_attempts_total",
			Help: "Generation attempts by content kind and status",
		},
		[]string{"kind", "status"}, // status: "scored" / "structural_failure"
	)

	gateResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ablatext_gate_results_total",
			Help: "Quality gate outcomes per attempt by content kind",
		},
		[]string{"kind", "result"}, // result: "pass" / "fail"
	)

	jobResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ablatext_job_results_total",
			Help: "Terminal job outcomes by content kind",
		},
		[]string{"kind", "result"}, // result: "pass" / "exhausted"
	)

	generationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ablatext_generation_duration_seconds",
			Help:    "Generation call duration by content kind",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"kind"},
	)

	scorerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ablatext_scorer_duration_seconds",
			Help:    "Scoring call duration by scorer",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
		},
		[]string{"scorer"}, // "detection" / "subjective"
	)

	strictnessReached = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ablatext_job_final_strictness",
			Help:    "Strictness level at which jobs terminated",
			Buckets: []float64{1, 2, 3, 4, 5},
		},
		[]string{"kind"},
	)
)

// Collector records pipeline metrics; safe for concurrent use since all
// state lives in prometheus collectors.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordAttempt counts one generation attempt
func (c *Collector) RecordAttempt(kind, status string) {
	attemptsTotal.WithLabelValues(kind, status).Inc()
}

// RecordGate counts one per-attempt gate decision
func (c *Collector) RecordGate(kind string, passed bool) {
	result := "fail"
	if passed {
		result = "pass"
	}
	gateResults.WithLabelValues(kind, result).Inc()
}

// RecordJob counts one terminal job outcome and its final strictness
func (c *Collector) RecordJob(kind string, passed bool, finalStrictness int) {
	result := "exhausted"
	if passed {
		result = "pass"
	}
	jobResults.WithLabelValues(kind, result).Inc()
	strictnessReached.WithLabelValues(kind).Observe(float64(finalStrictness))
}

// RecordGeneration records a generation call duration
func (c *Collector) RecordGeneration(kind string, duration time.Duration) {
	generationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordScorer records a scoring call duration
func (c *Collector) RecordScorer(scorer string, duration time.Duration) {
	scorerDuration.WithLabelValues(scorer).Observe(duration.Seconds())
}
