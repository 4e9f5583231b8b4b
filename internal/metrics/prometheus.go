package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the LiveLink stream service
type Metrics struct {
	registerer prometheus.Registerer

	// UDP scene packet metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed *prometheus.CounterVec
	PacketsDropped   *prometheus.CounterVec
	ParseErrors      prometheus.Counter
	QueueSize        prometheus.Gauge

	// Stream object metrics
	StreamOperations *prometheus.CounterVec

	// Publisher metrics
	PublishTicks    prometheus.Counter
	PublishSkipped  prometheus.Counter
	PublishFailures prometheus.Counter
	FramesPublished prometheus.Counter
	FramesMissing   prometheus.Counter
	PublishDuration prometheus.Histogram

	// Transport metrics
	TransportRetries prometheus.Counter
	BreakerState     prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		registerer: reg,

		// UDP scene packet metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_scene_packets_received_total",
			Help: "Total number of scene packets received over UDP",
		}),
		PacketsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livelink_scene_packets_processed_total",
			Help: "Total number of scene packets applied to the scene mirror",
		}, []string{"packet_type"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livelink_scene_packets_dropped_total",
			Help: "Total number of scene packets dropped",
		}, []string{"reason"}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_scene_parse_errors_total",
			Help: "Total number of scene packet parsing errors",
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livelink_scene_packet_queue_size",
			Help: "Current number of packets in processing queue",
		}),

		// Stream object metrics
		StreamOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livelink_stream_object_operations_total",
			Help: "Total number of stream object operations by result",
		}, []string{"operation", "result"}),

		// Publisher metrics
		PublishTicks: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_publish_ticks_total",
			Help: "Total number of completed publish ticks",
		}),
		PublishSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_publish_ticks_skipped_total",
			Help: "Total number of publish ticks skipped while a send was in flight",
		}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_publish_failures_total",
			Help: "Total number of publish ticks whose batch could not be sent",
		}),
		FramesPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_frames_published_total",
			Help: "Total number of stream object frames published",
		}),
		FramesMissing: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_frames_missing_total",
			Help: "Total number of streamed objects without scene data at tick time",
		}),
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "livelink_publish_duration_seconds",
			Help:    "Duration of publish ticks",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		}),

		// Transport metrics
		TransportRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "livelink_transport_retries_total",
			Help: "Total number of relay request retries",
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livelink_transport_breaker_state",
			Help: "Relay circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livelink_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "livelink_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "livelink_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RegisterSourceGauges registers gauges read from live state on each scrape
func (m *Metrics) RegisterSourceGauges(sceneObjects, streamObjects func() float64) {
	factory := promauto.With(m.registerer)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "livelink_scene_objects",
		Help: "Current number of objects in the scene mirror",
	}, sceneObjects)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "livelink_stream_objects",
		Help: "Current number of streamed objects",
	}, streamObjects)
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the processed counter for a packet type
func (m *Metrics) RecordPacketProcessed(packetType string) {
	m.PacketsProcessed.WithLabelValues(packetType).Inc()
}

// RecordPacketDropped increments the dropped counter for a reason
func (m *Metrics) RecordPacketDropped(reason string) {
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordStreamOperation records an add or remove and its result code
func (m *Metrics) RecordStreamOperation(operation, result string) {
	m.StreamOperations.WithLabelValues(operation, result).Inc()
}

// RecordPublishTick records a completed publish tick
func (m *Metrics) RecordPublishTick(frames, missing int, duration time.Duration) {
	m.PublishTicks.Inc()
	m.FramesPublished.Add(float64(frames))
	m.FramesMissing.Add(float64(missing))
	m.PublishDuration.Observe(duration.Seconds())
}

// RecordPublishSkipped increments the skipped ticks counter
func (m *Metrics) RecordPublishSkipped() {
	m.PublishSkipped.Inc()
}

// RecordPublishFailure increments the publish failures counter
func (m *Metrics) RecordPublishFailure() {
	m.PublishFailures.Inc()
}

// RecordTransportRetry increments the retry counter
func (m *Metrics) RecordTransportRetry() {
	m.TransportRetries.Inc()
}

// RecordBreakerState sets the breaker gauge from a state name
func (m *Metrics) RecordBreakerState(state string) {
	switch state {
	case "half-open":
		m.BreakerState.Set(1)
	case "open":
		m.BreakerState.Set(2)
	default:
		m.BreakerState.Set(0)
	}
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
