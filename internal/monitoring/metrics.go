package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// DecisionAccident labels windows classified as accidents.
	DecisionAccident = "accident"
	// DecisionNormal labels windows classified as normal driving.
	DecisionNormal = "normal"
)

var (
	windowsClassified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "windows_classified_total",
			Help:      "Windows scored by the serving path, partitioned by decision.",
		},
		[]string{"decision"},
	)

	classifySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "impact",
			Name:      "classify_seconds",
			Help:      "Feature extraction plus scoring latency per window.",
			Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		},
	)

	samplesRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "samples_rejected_total",
			Help:      "Streamed samples dropped before windowing, by reason.",
		},
		[]string{"reason"},
	)

	activeVehicles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "impact",
			Name:      "active_vehicles",
			Help:      "Vehicles with a live stream buffer.",
		},
	)

	modelReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "model_reloads_total",
			Help:      "Model artifact reload attempts, by outcome.",
		},
		[]string{"outcome"},
	)

	trainingRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "impact",
			Name:      "training_runs_total",
			Help:      "Completed training runs, by outcome.",
		},
		[]string{"outcome"},
	)
)

// Register attaches the impact collectors to the supplied registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		windowsClassified,
		classifySeconds,
		samplesRejected,
		activeVehicles,
		modelReloads,
		trainingRuns,
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

// ObserveClassification records one scored window.
func ObserveClassification(duration time.Duration, accident bool) {
	label := DecisionNormal
	if accident {
		label = DecisionAccident
	}
	windowsClassified.WithLabelValues(label).Inc()
	if duration < 0 {
		duration = 0
	}
	classifySeconds.Observe(duration.Seconds())
}

// ObserveRejectedSample counts a streamed sample that was dropped.
func ObserveRejectedSample(reason string) {
	samplesRejected.WithLabelValues(reason).Inc()
}

// AddActiveVehicles adjusts the live vehicle stream count. Several arenas
// may run at once, so callers report deltas rather than totals.
func AddActiveVehicles(delta int) {
	activeVehicles.Add(float64(delta))
}

// ObserveModelReload counts a reload attempt.
func ObserveModelReload(err error) {
	modelReloads.WithLabelValues(outcome(err)).Inc()
}

// ObserveTrainingRun counts a finished training run.
func ObserveTrainingRun(err error) {
	trainingRuns.WithLabelValues(outcome(err)).Inc()
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
