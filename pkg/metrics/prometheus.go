// Package metrics exposes Prometheus instrumentation for training runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TrainingMetrics holds all Prometheus metrics for the trainer.
type TrainingMetrics struct {
	StepsTotal          prometheus.Counter
	ExamplesTotal       prometheus.Counter
	SkippedExamplesTotal prometheus.Counter
	SkippedUpdatesTotal prometheus.Counter
	IllegalProgramsTotal prometheus.Counter
	CheckpointsTotal    prometheus.Counter

	RewardHistogram   prometheus.Histogram
	BeamSizeHistogram prometheus.Histogram
	StepSeconds       prometheus.Histogram

	TrainAccuracy    prometheus.Gauge
	PolicyVersion    prometheus.Gauge
	CacheHitsTotal   prometheus.Counter
	CacheMissesTotal prometheus.Counter
}

// New registers and returns the training metrics on the default registry.
func New() *TrainingMetrics {
	return &TrainingMetrics{
		StepsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_train_steps_total",
			Help: "Total number of completed training steps",
		}),
		ExamplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_train_examples_total",
			Help: "Total number of examples processed",
		}),
		SkippedExamplesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_train_skipped_examples_total",
			Help: "Examples skipped after a search or evaluation failure",
		}),
		SkippedUpdatesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_train_skipped_updates_total",
			Help: "Parameter updates rejected for non-finite gradients",
		}),
		IllegalProgramsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_train_illegal_programs_total",
			Help: "Candidate programs that halted on an illegal operation",
		}),
		CheckpointsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_train_checkpoints_total",
			Help: "Checkpoints written",
		}),
		RewardHistogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tangram_train_reward",
			Help:    "Reward of evaluated candidates",
			Buckets: prometheus.LinearBuckets(-1.0, 0.25, 9),
		}),
		BeamSizeHistogram: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tangram_train_beam_size",
			Help:    "Terminated candidates returned per search",
			Buckets: prometheus.LinearBuckets(0, 4, 9),
		}),
		StepSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "tangram_train_step_seconds",
			Help:    "Wall time per training step",
			Buckets: prometheus.DefBuckets,
		}),
		TrainAccuracy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tangram_train_accuracy",
			Help: "Fraction of examples whose best candidate matched the gold target",
		}),
		PolicyVersion: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "tangram_policy_version",
			Help: "Current policy parameter version",
		}),
		CacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_eval_cache_hits_total",
			Help: "Evaluation cache hits",
		}),
		CacheMissesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "tangram_eval_cache_misses_total",
			Help: "Evaluation cache misses",
		}),
	}
}

// Serve exposes /metrics on the given address. Blocks; run in a goroutine.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, mux)
}
