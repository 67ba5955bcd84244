package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveConversations prometheus.Gauge
	ConversationEvents  *prometheus.CounterVec
	WSMessages          *prometheus.CounterVec
	ProviderErrors      *prometheus.CounterVec
	BackgroundTasks     *prometheus.CounterVec
	NegotiationLatency  prometheus.Histogram
	FinalizeLatency     *prometheus.HistogramVec

	stages *stageWindow
}

func NewMetrics(namespace string) *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer, namespace)
}

// NewMetricsWith registers the instruments on reg. Tests pass a fresh registry.
func NewMetricsWith(reg prometheus.Registerer, namespace string) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ActiveConversations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_conversations",
			Help:      "Number of live interview conversations.",
		}),
		ConversationEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_events_total",
			Help:      "Conversation events by type.",
		}, []string{"event"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Upstream provider errors by provider and code.",
		}, []string{"provider", "code"}),
		BackgroundTasks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "background_tasks_total",
			Help:      "Finalization background task outcomes.",
		}, []string{"task", "status"}),
		NegotiationLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "negotiation_latency_ms",
			Help:      "Realtime session negotiation latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000},
		}),
		FinalizeLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "finalize_stage_latency_ms",
			Help:      "Finalization stage latency in milliseconds.",
			Buckets:   []float64{10, 50, 100, 250, 500, 1000, 5000, 30000},
		}, []string{"stage"}),
		stages: newStageWindow(256),
	}
}

func (m *Metrics) ObserveNegotiation(d time.Duration) {
	if m == nil {
		return
	}
	m.NegotiationLatency.Observe(float64(d.Milliseconds()))
	m.stages.Observe("negotiation", d)
}

func (m *Metrics) ObserveFinalizeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.FinalizeLatency.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
	m.stages.Observe(stage, d)
}

func (m *Metrics) CountEvent(event string) {
	if m == nil {
		return
	}
	m.ConversationEvents.WithLabelValues(event).Inc()
	m.stages.CountEvent(event)
}

func (m *Metrics) CountTask(task, status string) {
	if m == nil {
		return
	}
	m.BackgroundTasks.WithLabelValues(task, status).Inc()
}

func (m *Metrics) CountProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

// SnapshotStages returns the finalization stage latencies against their budgets.
func (m *Metrics) SnapshotStages() StageSnapshot {
	if m == nil || m.stages == nil {
		return StageSnapshot{GeneratedAt: time.Now().UTC(), Stages: []StageReport{}}
	}
	return m.stages.Snapshot()
}

func (m *Metrics) CountWSMessage(direction, msgType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

func (m *Metrics) SetActiveConversations(n int) {
	if m == nil {
		return
	}
	m.ActiveConversations.Set(float64(n))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
