package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful operations.
	OutcomeSuccess = "success"
	// OutcomeError labels failed operations.
	OutcomeError = "error"
)

var (
	anonymizationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune_pipeline",
			Name:      "anonymizations_total",
			Help:      "Total records anonymized, partitioned by technique and outcome.",
		},
		[]string{"technique", "outcome"},
	)

	syntheticSamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune_pipeline",
			Name:      "synthetic_samples_total",
			Help:      "Synthetic samples kept after quality filtering, partitioned by method.",
		},
		[]string{"method"},
	)

	rewardsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "attune_pipeline",
			Name:      "rewards_total",
			Help:      "Total reward calculations performed.",
		},
	)

	trainingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune_pipeline",
			Name:      "training_runs_total",
			Help:      "Training runs, partitioned by model type and outcome.",
		},
		[]string{"model_type", "outcome"},
	)

	trainingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "attune_pipeline",
			Name:      "training_seconds",
			Help:      "Training run latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	deploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "attune_pipeline",
			Name:      "deployments_total",
			Help:      "Deployment operations, partitioned by rollout type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	requestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "attune_pipeline",
			Name:      "request_seconds",
			Help:      "API request latency in seconds, partitioned by operation.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)
)

// Register attaches pipeline collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		anonymizationsTotal,
		syntheticSamplesTotal,
		rewardsTotal,
		trainingRunsTotal,
		trainingDurationSeconds,
		deploymentsTotal,
		requestDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveAnonymization records one anonymization attempt.
func ObserveAnonymization(technique, outcome string) {
	anonymizationsTotal.WithLabelValues(technique, normalizeOutcome(outcome)).Inc()
}

// ObserveSyntheticSamples records samples kept for one generation request.
func ObserveSyntheticSamples(method string, count int) {
	if count < 0 {
		count = 0
	}
	syntheticSamplesTotal.WithLabelValues(method).Add(float64(count))
}

// ObserveReward records one reward calculation.
func ObserveReward() {
	rewardsTotal.Inc()
}

// ObserveTraining records a training run's duration and outcome.
func ObserveTraining(modelType string, duration time.Duration, outcome string) {
	trainingRunsTotal.WithLabelValues(modelType, normalizeOutcome(outcome)).Inc()
	if duration < 0 {
		duration = 0
	}
	trainingDurationSeconds.Observe(duration.Seconds())
}

// ObserveDeployment records one deployment operation.
func ObserveDeployment(deployType, outcome string) {
	deploymentsTotal.WithLabelValues(deployType, normalizeOutcome(outcome)).Inc()
}

// ObserveRequest records one API request duration.
func ObserveRequest(operation string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	requestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

func normalizeOutcome(outcome string) string {
	if outcome != OutcomeError {
		return OutcomeSuccess
	}
	return OutcomeError
}
