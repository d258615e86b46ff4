package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Forecast provider metrics
var (
	// ForecastAttemptsTotal counts individual forecast HTTP attempts
	ForecastAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_attempts_total",
			Help: "Total number of forecast request attempts",
		},
		[]string{"provider", "outcome"},
	)

	// ForecastAttemptDuration tracks the latency of a single attempt
	ForecastAttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forecast_attempt_duration_seconds",
			Help:    "Duration of forecast request attempts in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	// ForecastRetriesTotal counts backoff waits taken before another attempt
	ForecastRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecast_retries_total",
			Help: "Total number of forecast retries after a failed attempt",
		},
		[]string{"provider"},
	)
)

// Batch metrics
var (
	// PointOutcomesTotal counts settled points by outcome kind ("OK" or an error kind)
	PointOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_point_outcomes_total",
			Help: "Total number of settled points by outcome kind",
		},
		[]string{"kind"},
	)

	// BatchesTotal counts completed batches
	BatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "batches_total",
			Help: "Total number of completed enrichment batches",
		},
	)

	// BatchDuration tracks wall time from fan-out to completion
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "batch_duration_seconds",
			Help:    "Duration of enrichment batches in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	// BatchPointsFailed tracks failed points in the last completed batch
	BatchPointsFailed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_last_failed_points",
			Help: "Number of failed points in the most recently completed batch",
		},
	)

	// BatchPointsTotal tracks size of the last completed batch
	BatchPointsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "batch_last_points",
			Help: "Number of points in the most recently completed batch",
		},
	)

	// AppStartTime records when the application started
	AppStartTime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "trip_weather_app_start_time_seconds",
			Help: "Unix timestamp of when the application started",
		},
	)
)

func init() {
	AppStartTime.SetToCurrentTime()
}

// RecordForecastAttempt records one forecast attempt
func RecordForecastAttempt(provider, outcome string, duration time.Duration) {
	ForecastAttemptsTotal.WithLabelValues(provider, outcome).Inc()
	ForecastAttemptDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordRetry records a backoff wait before the next attempt
func RecordRetry(provider string) {
	ForecastRetriesTotal.WithLabelValues(provider).Inc()
}

// RecordPointOutcome records a settled point
func RecordPointOutcome(kind string) {
	PointOutcomesTotal.WithLabelValues(kind).Inc()
}

// RecordBatch records a completed batch
func RecordBatch(points, failed int, duration time.Duration) {
	BatchesTotal.Inc()
	BatchDuration.Observe(duration.Seconds())
	BatchPointsTotal.Set(float64(points))
	BatchPointsFailed.Set(float64(failed))
}
