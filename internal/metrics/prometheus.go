package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the recorder.
// Every Record/Set method is safe to call on a nil *Metrics.
type Metrics struct {
	// Recording metrics
	StateTransitions *prometheus.CounterVec
	RecordingActive  prometheus.Gauge
	ElapsedSeconds   prometheus.Gauge
	SilenceWarnings  prometheus.Counter
	CaptureFailures  prometheus.Counter

	// Segment metrics
	SegmentsClosed prometheus.Counter
	SegmentSize    prometheus.Histogram

	// Background job metrics
	JobsEnqueued  *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobsRetried   *prometheus.CounterVec
	JobsPending   prometheus.Gauge

	// Transcription metrics
	TranscriptionRequests  prometheus.Counter
	TranscriptionSuccesses prometheus.Counter
	TranscriptionFailures  prometheus.Counter
	TranscriptionDuration  prometheus.Histogram
	TranscriptionRetries   prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Recording metrics
		StateTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_recorder_state_transitions_total",
			Help: "Total number of recorder state transitions by target state",
		}, []string{"state"}),
		RecordingActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echo_recorder_recording_active",
			Help: "1 while audio is being captured, 0 otherwise",
		}),
		ElapsedSeconds: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echo_recorder_elapsed_seconds",
			Help: "Recorded time of the current session excluding pauses",
		}),
		SilenceWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_recorder_silence_warnings_total",
			Help: "Total number of sustained silence warnings raised",
		}),
		CaptureFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_recorder_capture_failures_total",
			Help: "Total number of audio capture or segment write failures",
		}),

		// Segment metrics
		SegmentsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_recorder_segments_closed_total",
			Help: "Total number of audio segments finalized on disk",
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_recorder_segment_size_bytes",
			Help:    "Size of finalized audio segments in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 2, 8), // 16KB to ~2MB
		}),

		// Background job metrics
		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_jobs_enqueued_total",
			Help: "Total number of background jobs accepted",
		}, []string{"kind"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_jobs_completed_total",
			Help: "Total number of background jobs that succeeded",
		}, []string{"kind"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_jobs_failed_total",
			Help: "Total number of background jobs abandoned",
		}, []string{"kind"}),
		JobsRetried: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_jobs_retried_total",
			Help: "Total number of background job retries scheduled",
		}, []string{"kind"}),
		JobsPending: factory.NewGauge(prometheus.GaugeOpts{
			Name: "echo_jobs_pending",
			Help: "Current number of queued, running or retrying jobs",
		}),

		// Transcription metrics
		TranscriptionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_transcription_requests_total",
			Help: "Total number of transcription requests sent",
		}),
		TranscriptionSuccesses: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_transcription_successes_total",
			Help: "Total number of successful transcription requests",
		}),
		TranscriptionFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_transcription_failures_total",
			Help: "Total number of failed transcription requests",
		}),
		TranscriptionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "echo_transcription_duration_seconds",
			Help:    "Duration of transcription requests",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),
		TranscriptionRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "echo_transcription_retries_total",
			Help: "Total number of transcription request retries",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "echo_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "echo_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordStateTransition counts a transition into state
func (m *Metrics) RecordStateTransition(state string, capturing bool) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(state).Inc()
	if capturing {
		m.RecordingActive.Set(1)
	} else {
		m.RecordingActive.Set(0)
	}
}

// SetElapsed publishes the elapsed recording time
func (m *Metrics) SetElapsed(seconds float64) {
	if m == nil {
		return
	}
	m.ElapsedSeconds.Set(seconds)
}

// RecordSilenceWarning increments the silence warning counter
func (m *Metrics) RecordSilenceWarning() {
	if m == nil {
		return
	}
	m.SilenceWarnings.Inc()
}

// RecordCaptureFailure increments the capture failure counter
func (m *Metrics) RecordCaptureFailure() {
	if m == nil {
		return
	}
	m.CaptureFailures.Inc()
}

// RecordSegmentClosed records a finalized segment
func (m *Metrics) RecordSegmentClosed(sizeBytes int) {
	if m == nil {
		return
	}
	m.SegmentsClosed.Inc()
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordJobEnqueued records an accepted job
func (m *Metrics) RecordJobEnqueued(kind string) {
	if m == nil {
		return
	}
	m.JobsEnqueued.WithLabelValues(kind).Inc()
	m.JobsPending.Inc()
}

// RecordJobCompleted records a successful job
func (m *Metrics) RecordJobCompleted(kind string) {
	if m == nil {
		return
	}
	m.JobsCompleted.WithLabelValues(kind).Inc()
	m.JobsPending.Dec()
}

// RecordJobFailed records an abandoned job
func (m *Metrics) RecordJobFailed(kind string) {
	if m == nil {
		return
	}
	m.JobsFailed.WithLabelValues(kind).Inc()
	m.JobsPending.Dec()
}

// RecordJobRetried records a scheduled retry
func (m *Metrics) RecordJobRetried(kind string) {
	if m == nil {
		return
	}
	m.JobsRetried.WithLabelValues(kind).Inc()
}

// RecordTranscriptionRequest increments transcription requests counter
func (m *Metrics) RecordTranscriptionRequest() {
	if m == nil {
		return
	}
	m.TranscriptionRequests.Inc()
}

// RecordTranscriptionSuccess records a successful transcription
func (m *Metrics) RecordTranscriptionSuccess(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionSuccesses.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionFailure records a failed transcription
func (m *Metrics) RecordTranscriptionFailure(durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
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
