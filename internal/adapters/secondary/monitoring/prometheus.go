package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fredcamaral/devsync/internal/domain/entities"
	"github.com/fredcamaral/devsync/internal/domain/ports"
)

// Config configures the Prometheus metrics
type Config struct {
	// Namespace is the metrics namespace (default: "devsync")
	Namespace string

	// Buckets are the histogram buckets for broadcast duration
	Buckets []float64

	// Registry receives the collectors. When nil a fresh registry is
	// created together with the Go runtime and process collectors.
	Registry *prometheus.Registry
}

// Option configures the Prometheus metrics
type Option func(*Config)

// WithNamespace sets the metrics namespace
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithBuckets sets the broadcast duration buckets
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry registers the collectors on registry
func WithRegistry(registry *prometheus.Registry) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "devsync",
		Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
	}
}

// PrometheusMetrics records server activity as Prometheus collectors
type PrometheusMetrics struct {
	registry *prometheus.Registry

	connections       *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	messages          *prometheus.CounterVec
	deliveryFailures  *prometheus.CounterVec
	broadcastDuration prometheus.Histogram
	cyclesStarted     prometheus.Counter
	cyclesSuperseded  prometheus.Counter
	cyclesResolved    *prometheus.CounterVec
}

// NewPrometheusMetrics creates the collectors and registers them
func NewPrometheusMetrics(opts ...Option) *PrometheusMetrics {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
		config.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	factory := promauto.With(config.Registry)
	ns := config.Namespace

	return &PrometheusMetrics{
		registry: config.Registry,

		connections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connections",
			Help:      "Currently registered client connections",
		}, []string{"transport"}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "connections_total",
			Help:      "Total number of client connections accepted",
		}, []string{"transport"}),

		messages: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_delivered_total",
			Help:      "Total number of messages delivered to clients",
		}, []string{"transport", "type"}),

		deliveryFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "delivery_failures_total",
			Help:      "Deliveries that failed and dropped the connection",
		}, []string{"transport"}),

		broadcastDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "broadcast_duration_seconds",
			Help:      "Time to deliver one message to every connection",
			Buckets:   config.Buckets,
		}),

		cyclesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "build_cycles_started_total",
			Help:      "Build cycles announced to clients",
		}),

		cyclesSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "build_cycles_superseded_total",
			Help:      "Build cycles replaced by a newer invalidation before completing",
		}),

		cyclesResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "build_cycles_resolved_total",
			Help:      "Build cycles completed, by terminal message",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the registry the collectors live on
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusMetrics) ConnectionOpened(transport string) {
	m.connections.WithLabelValues(transport).Inc()
	m.connectionsTotal.WithLabelValues(transport).Inc()
}

func (m *PrometheusMetrics) ConnectionClosed(transport string) {
	m.connections.WithLabelValues(transport).Dec()
}

func (m *PrometheusMetrics) MessageDelivered(transport string, msgType entities.MessageType) {
	m.messages.WithLabelValues(transport, string(msgType)).Inc()
}

func (m *PrometheusMetrics) DeliveryFailed(transport string) {
	m.deliveryFailures.WithLabelValues(transport).Inc()
}

func (m *PrometheusMetrics) BroadcastDuration(d time.Duration) {
	m.broadcastDuration.Observe(d.Seconds())
}

func (m *PrometheusMetrics) CycleStarted() {
	m.cyclesStarted.Inc()
}

func (m *PrometheusMetrics) CycleSuperseded() {
	m.cyclesSuperseded.Inc()
}

func (m *PrometheusMetrics) CycleResolved(terminal entities.MessageType) {
	m.cyclesResolved.WithLabelValues(string(terminal)).Inc()
}

var _ ports.Metrics = (*PrometheusMetrics)(nil)
