package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	contextBuildDuration prometheus.Histogram
	contextTokens        prometheus.Histogram
	orphansDropped       prometheus.Counter
	pairsRepaired        prometheus.Counter
	outputsTruncated     prometheus.Counter

	compressionTotal    prometheus.Counter
	compressedMessages  prometheus.Histogram
	compressionDuration prometheus.Histogram

	providerAttemptTotal *prometheus.CounterVec
	providerCallDuration *prometheus.HistogramVec
	providerErrorsTotal  *prometheus.CounterVec
	fallbackExhausted    prometheus.Counter

	activeSessions      prometheus.Gauge
	sessionLoadDuration prometheus.Histogram
	sessionSaveDuration prometheus.Histogram
	turnLaneDepth       *prometheus.GaugeVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			contextBuildDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "context_build_duration_seconds",
					Help:    "Prompt context assembly duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			contextTokens: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "context_tokens",
					Help:    "Estimated token count of assembled contexts.",
					Buckets: prometheus.ExponentialBuckets(128, 2, 12),
				},
			),
			orphansDropped: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_orphans_dropped_total",
					Help: "Tool messages dropped because no originating call was found.",
				},
			),
			pairsRepaired: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_pairs_repaired_total",
					Help: "Tool call pairs restored during context assembly.",
				},
			),
			outputsTruncated: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "context_outputs_truncated_total",
					Help: "Tool outputs truncated to fit the per-message budget.",
				},
			),
			compressionTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "compression_total",
					Help: "Total session compressions applied.",
				},
			),
			compressedMessages: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "compression_messages",
					Help:    "Messages folded into a summary per compression.",
					Buckets: prometheus.ExponentialBuckets(4, 2, 8),
				},
			),
			compressionDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "compression_duration_seconds",
					Help:    "Compression apply duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			providerAttemptTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_attempt_total",
					Help: "Total provider attempts by provider and status.",
				},
				[]string{"provider", "status"},
			),
			providerCallDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "provider_call_duration_seconds",
					Help:    "Provider call duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			providerErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "provider_errors_total",
					Help: "Total classified provider errors by provider and kind.",
				},
				[]string{"provider", "kind"},
			),
			fallbackExhausted: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "fallback_exhausted_total",
					Help: "Requests where every candidate provider failed.",
				},
			),
			activeSessions: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_sessions",
					Help: "Current active session count.",
				},
			),
			sessionLoadDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_load_duration_seconds",
					Help:    "Session load duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			sessionSaveDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "session_save_duration_seconds",
					Help:    "Session save duration in seconds.",
					Buckets: prometheus.DefBuckets,
				},
			),
			turnLaneDepth: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "turn_lane_depth",
					Help: "Turns waiting or running per session lane.",
				},
				[]string{"lane"},
			),
		}

		prometheus.MustRegister(
			m.contextBuildDuration,
			m.contextTokens,
			m.orphansDropped,
			m.pairsRepaired,
			m.outputsTruncated,
			m.compressionTotal,
			m.compressedMessages,
			m.compressionDuration,
			m.providerAttemptTotal,
			m.providerCallDuration,
			m.providerErrorsTotal,
			m.fallbackExhausted,
			m.activeSessions,
			m.sessionLoadDuration,
			m.sessionSaveDuration,
			m.turnLaneDepth,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordContextBuild(duration time.Duration, tokens int) {
	m := getMetrics()
	m.contextBuildDuration.Observe(duration.Seconds())
	m.contextTokens.Observe(float64(tokens))
}

func RecordOrphanDropped() {
	getMetrics().orphansDropped.Inc()
}

func RecordPairRepaired() {
	getMetrics().pairsRepaired.Inc()
}

func RecordOutputTruncated() {
	getMetrics().outputsTruncated.Inc()
}

func RecordCompression(duration time.Duration, messages int) {
	m := getMetrics()
	m.compressionTotal.Inc()
	m.compressedMessages.Observe(float64(messages))
	m.compressionDuration.Observe(duration.Seconds())
}

func RecordProviderAttempt(provider string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.providerAttemptTotal.WithLabelValues(provider, status).Inc()
	m.providerCallDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func RecordProviderError(provider, kind string) {
	getMetrics().providerErrorsTotal.WithLabelValues(provider, kind).Inc()
}

func RecordFallbackExhausted() {
	getMetrics().fallbackExhausted.Inc()
}

func SetActiveSessions(count int) {
	getMetrics().activeSessions.Set(float64(count))
}

func RecordSessionLoad(duration time.Duration) {
	getMetrics().sessionLoadDuration.Observe(duration.Seconds())
}

func RecordSessionSave(duration time.Duration) {
	getMetrics().sessionSaveDuration.Observe(duration.Seconds())
}

func SetTurnLaneDepth(lane string, depth int) {
	getMetrics().turnLaneDepth.WithLabelValues(lane).Set(float64(depth))
}
