package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsCollector struct {
	registry            *prometheus.Registry
	verdictsTotal       *prometheus.CounterVec
	degradedTotal       prometheus.Counter
	scoringDuration     prometheus.Histogram
	scoreDistribution   prometheus.Histogram
	advisoryTotal       *prometheus.CounterVec
	trackedFingerprints prometheus.Gauge
	sweptWindows        prometheus.Counter
	breakerTransitions  *prometheus.CounterVec
	insightsDropped     prometheus.Counter
	logger              *slog.Logger
}

func NewMetricsCollector(logger *slog.Logger) *MetricsCollector {
	if logger == nil {
		logger = slog.Default()
	}

	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &MetricsCollector{
		registry: registry,
		verdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_verdicts_total",
			Help: "Scored transactions by risk label",
		}, []string{"label"}),
		degradedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_verdicts_degraded_total",
			Help: "Verdicts produced by the failure path",
		}),
		scoringDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_scoring_duration_seconds",
			Help:    "Time taken to score a transaction",
			Buckets: prometheus.DefBuckets,
		}),
		scoreDistribution: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_final_score_distribution",
			Help:    "Distribution of blended risk scores",
			Buckets: []float64{0.1, 0.2, 0.35, 0.5, 0.6, 0.8, 1},
		}),
		advisoryTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_advisory_requests_total",
			Help: "Heuristic scores by source",
		}, []string{"used"}),
		trackedFingerprints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_velocity_tracked_fingerprints",
			Help: "Card fingerprints currently held in the velocity store",
		}),
		sweptWindows: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_velocity_swept_total",
			Help: "Idle velocity windows removed by the sweeper",
		}),
		breakerTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_advisory_breaker_transitions_total",
			Help: "Advisory circuit breaker state changes",
		}, []string{"to"}),
		insightsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_insights_dropped_total",
			Help: "Insights dropped because the publish queue was full",
		}),
		logger: logger,
	}
}

func (m *MetricsCollector) RecordVerdict(label string, score float64, duration time.Duration, degraded bool) {
	m.verdictsTotal.WithLabelValues(label).Inc()
	if degraded {
		m.degradedTotal.Inc()
	}
	m.scoringDuration.Observe(duration.Seconds())
	m.scoreDistribution.Observe(score)
}

func (m *MetricsCollector) RecordAdvisory(used bool) {
	m.advisoryTotal.WithLabelValues(strconv.FormatBool(used)).Inc()
}

func (m *MetricsCollector) SetTrackedFingerprints(n int) {
	m.trackedFingerprints.Set(float64(n))
}

func (m *MetricsCollector) RecordSweep(removed int) {
	m.sweptWindows.Add(float64(removed))
}

func (m *MetricsCollector) RecordBreakerTransition(to string) {
	m.breakerTransitions.WithLabelValues(to).Inc()
}

func (m *MetricsCollector) RecordInsightDropped() {
	m.insightsDropped.Inc()
}

func (m *MetricsCollector) Registry() *prometheus.Registry {
	return m.registry
}

func (m *MetricsCollector) GetHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *MetricsCollector) StartMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.GetHandler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		m.logger.Info("Starting metrics server", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()

	return server
}

func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	m.logger.Info("Metrics collector shutdown complete")
	return nil
}
