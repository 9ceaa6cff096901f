// Package metrics is the ambient Prometheus instrumentation layer, adapted
// from phenomenon0-polymarket-agents' pkg/trader/metrics/metrics.go
// (CounterVec/GaugeVec/HistogramVec per concern, sync.Once-backed
// singleton). Every core component records through here rather than
// rolling its own counters.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every counter/gauge/histogram the core components touch.
type Metrics struct {
	PredictorLatencyMs    *prometheus.HistogramVec
	PredictorTimeouts     *prometheus.CounterVec
	PredictorInvalidInput *prometheus.CounterVec

	SignalChanges      *prometheus.CounterVec
	SignalChecksSkipped *prometheus.CounterVec
	SignalTicksDropped *prometheus.CounterVec

	DeliveryAccepted   *prometheus.CounterVec
	DeliverySuppressed *prometheus.CounterVec
	DeliveryRetries    *prometheus.CounterVec
	DeliveryFailures   *prometheus.CounterVec

	PositionRecommendations *prometheus.CounterVec
	PositionTrailingMoves   *prometheus.CounterVec
	PositionNotifications   *prometheus.CounterVec

	TrainingRuns      *prometheus.CounterVec
	ModelPromotions   *prometheus.CounterVec
	ActiveModelCount  prometheus.Gauge
}

var (
	once     sync.Once
	instance *Metrics
)

// Default returns the process-wide Metrics singleton, registering its
// collectors with the default Prometheus registry on first use.
func Default() *Metrics {
	once.Do(func() {
		instance = newMetrics()
	})
	return instance
}

// Handler returns an http.Handler serving the default Prometheus registry,
// for mounting at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

func newMetrics() *Metrics {
	m := &Metrics{
		PredictorLatencyMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fxadvisor_predictor_latency_ms",
			Help:    "Predictor RPC latency in milliseconds.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000, 15000, 30000},
		}, []string{"pair", "timeframe"}),
		PredictorTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_predictor_timeouts_total",
			Help: "Predictor RPC calls that returned Unavailable.",
		}, []string{"pair", "timeframe"}),
		PredictorInvalidInput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_predictor_invalid_input_total",
			Help: "Predictor RPC calls rejected as InvalidInput.",
		}, []string{"pair", "timeframe"}),

		SignalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_signal_changes_total",
			Help: "Detected signal.changed events.",
		}, []string{"pair", "timeframe", "direction"}),
		SignalChecksSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_signal_checks_skipped_total",
			Help: "Check tasks skipped (insufficient data or predictor unavailable).",
		}, []string{"pair", "timeframe", "reason"}),
		SignalTicksDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_signal_ticks_dropped_total",
			Help: "Ticks dropped because a check task for the key was already in flight.",
		}, []string{"pair", "timeframe"}),

		DeliveryAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_delivery_accepted_total",
			Help: "Notifications accepted and dispatched.",
		}, []string{"pair", "timeframe"}),
		DeliverySuppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_delivery_suppressed_total",
			Help: "Notifications suppressed by an eligibility rule.",
		}, []string{"reason"}),
		DeliveryRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_delivery_retries_total",
			Help: "Transport send retries.",
		}, []string{"channel"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_delivery_failures_total",
			Help: "Permanent transport send failures after exhausting retries.",
		}, []string{"channel"}),

		PositionRecommendations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_position_recommendations_total",
			Help: "Position Monitor recommendations issued.",
		}, []string{"recommendation"}),
		PositionTrailingMoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_position_trailing_moves_total",
			Help: "Trailing-stop adjustments applied.",
		}, []string{"stage"}),
		PositionNotifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_position_notifications_total",
			Help: "Position notifications sent, by urgency level.",
		}, []string{"level"}),

		TrainingRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_training_runs_total",
			Help: "Learning Controller training runs, by type and outcome.",
		}, []string{"type", "outcome"}),
		ModelPromotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fxadvisor_model_promotions_total",
			Help: "Model version promotions.",
		}, []string{"result"}),
		ActiveModelCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fxadvisor_active_model_count",
			Help: "Number of currently routable model versions (1 normally, 2 during an A/B test).",
		}),
	}

	prometheus.MustRegister(
		m.PredictorLatencyMs, m.PredictorTimeouts, m.PredictorInvalidInput,
		m.SignalChanges, m.SignalChecksSkipped, m.SignalTicksDropped,
		m.DeliveryAccepted, m.DeliverySuppressed, m.DeliveryRetries, m.DeliveryFailures,
		m.PositionRecommendations, m.PositionTrailingMoves, m.PositionNotifications,
		m.TrainingRuns, m.ModelPromotions, m.ActiveModelCount,
	)
	return m
}
