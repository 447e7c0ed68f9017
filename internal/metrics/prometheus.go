package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the acoustic wallet transport.
// Every Record method is safe to call on a nil *Metrics.
type Metrics struct {
	// Transmission metrics
	Transmissions    prometheus.Counter
	TransmitErrors   *prometheus.CounterVec
	TransmitDuration prometheus.Histogram

	// Capture and decode metrics
	FramesCaptured  prometheus.Counter
	DecodeAttempts  prometheus.Counter
	DecodeSuccesses prometheus.Counter
	EnvelopesByKind *prometheus.CounterVec
	ParseErrors     *prometheus.CounterVec
	EchoesDropped   prometheus.Counter
	InboxDropped    prometheus.Counter
	BufferSamples   prometheus.Gauge
	BufferTrims     prometheus.Counter

	// Session metrics
	SessionsStarted  prometheus.Counter
	SessionOutcomes  *prometheus.CounterVec
	HandshakeRetries prometheus.Counter
	SessionDuration  prometheus.Histogram

	// Signer metrics
	SignerRequests *prometheus.CounterVec
	BusyRejections prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg. A nil reg registers on
// the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Transmission metrics
		Transmissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_transmissions_total",
			Help: "Total number of envelopes played",
		}),
		TransmitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gibber_transmit_errors_total",
			Help: "Total number of failed transmissions",
		}, []string{"reason"}),
		TransmitDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gibber_transmit_duration_seconds",
			Help:    "Time spent playing one envelope",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),

		// Capture and decode metrics
		FramesCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_frames_captured_total",
			Help: "Total number of microphone frames captured while listening",
		}),
		DecodeAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_decode_attempts_total",
			Help: "Total number of decode attempts on the accumulation buffer",
		}),
		DecodeSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_decode_successes_total",
			Help: "Total number of decode attempts that produced a payload",
		}),
		EnvelopesByKind: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gibber_envelopes_received_total",
			Help: "Total number of valid envelopes received",
		}, []string{"kind"}),
		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gibber_parse_errors_total",
			Help: "Total number of decoded payloads that were not valid envelopes",
		}, []string{"code"}),
		EchoesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_echoes_dropped_total",
			Help: "Total number of received envelopes recognized as our own transmission",
		}),
		InboxDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_inbox_dropped_total",
			Help: "Total number of envelopes dropped because the inbox was full",
		}),
		BufferSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "gibber_buffer_samples",
			Help: "Current number of samples in the accumulation buffer",
		}),
		BufferTrims: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_buffer_trims_total",
			Help: "Total number of times the accumulation buffer was trimmed",
		}),

		// Session metrics
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_sessions_started_total",
			Help: "Total number of client sessions started",
		}),
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gibber_session_outcomes_total",
			Help: "Total number of finished client sessions by result",
		}, []string{"result"}),
		HandshakeRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_handshake_retries_total",
			Help: "Total number of repeated connect attempts",
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "gibber_session_duration_seconds",
			Help:    "Duration of client sessions",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),

		// Signer metrics
		SignerRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gibber_signer_requests_total",
			Help: "Total number of signing requests handled by outcome",
		}, []string{"outcome"}),
		BusyRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "gibber_busy_rejections_total",
			Help: "Total number of requests refused because one was already in flight",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gibber_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gibber_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gibber_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordTransmission records a completed transmission
func (m *Metrics) RecordTransmission(durationSeconds float64) {
	if m == nil {
		return
	}
	m.Transmissions.Inc()
	m.TransmitDuration.Observe(durationSeconds)
}

// RecordTransmitError records a failed transmission
func (m *Metrics) RecordTransmitError(reason string) {
	if m == nil {
		return
	}
	m.TransmitErrors.WithLabelValues(reason).Inc()
}

// RecordFrameCaptured increments the captured frames counter
func (m *Metrics) RecordFrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Inc()
}

// RecordDecode records a decode attempt and whether it produced a payload
func (m *Metrics) RecordDecode(success bool) {
	if m == nil {
		return
	}
	m.DecodeAttempts.Inc()
	if success {
		m.DecodeSuccesses.Inc()
	}
}

// RecordEnvelope increments the received envelopes counter for kind
func (m *Metrics) RecordEnvelope(kind string) {
	if m == nil {
		return
	}
	m.EnvelopesByKind.WithLabelValues(kind).Inc()
}

// RecordParseError increments the parse errors counter for code
func (m *Metrics) RecordParseError(code string) {
	if m == nil {
		return
	}
	m.ParseErrors.WithLabelValues(code).Inc()
}

// RecordEcho increments the dropped echoes counter
func (m *Metrics) RecordEcho() {
	if m == nil {
		return
	}
	m.EchoesDropped.Inc()
}

// RecordInboxDropped increments the inbox overflow counter
func (m *Metrics) RecordInboxDropped() {
	if m == nil {
		return
	}
	m.InboxDropped.Inc()
}

// SetBufferSamples sets the current accumulation buffer fill
func (m *Metrics) SetBufferSamples(samples int) {
	if m == nil {
		return
	}
	m.BufferSamples.Set(float64(samples))
}

// RecordBufferTrim increments the buffer trims counter
func (m *Metrics) RecordBufferTrim() {
	if m == nil {
		return
	}
	m.BufferTrims.Inc()
}

// RecordSessionStarted increments the sessions started counter
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionOutcome records how a session ended and how long it took
func (m *Metrics) RecordSessionOutcome(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.SessionOutcomes.WithLabelValues(result).Inc()
	m.SessionDuration.Observe(durationSeconds)
}

// RecordHandshakeRetry increments the handshake retries counter
func (m *Metrics) RecordHandshakeRetry() {
	if m == nil {
		return
	}
	m.HandshakeRetries.Inc()
}

// RecordSignerRequest records how the signer disposed of a request
func (m *Metrics) RecordSignerRequest(outcome string) {
	if m == nil {
		return
	}
	m.SignerRequests.WithLabelValues(outcome).Inc()
}

// RecordBusyRejection increments the busy rejections counter
func (m *Metrics) RecordBusyRejection() {
	if m == nil {
		return
	}
	m.BusyRejections.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
