package jamf

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer directions used as metric labels.
const (
	DirectionUpload   = "upload"
	DirectionDownload = "download"
)

// Metrics holds the Prometheus collectors of one client instance. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Requests counts HTTP requests by method and status code
	Requests *prometheus.CounterVec

	// RequestDuration tracks request latency by method
	RequestDuration *prometheus.HistogramVec

	// TokenRefreshes counts token refreshes by token kind
	TokenRefreshes *prometheus.CounterVec

	// DispatchInflight tracks handler invocations currently running
	DispatchInflight prometheus.Gauge

	// TransferBytes counts bytes moved by chunked transfers
	TransferBytes *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered, which keeps separate clients independent.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jamf_requests_total",
				Help: "Total number of Jamf Pro API requests",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "jamf_request_duration_seconds",
				Help:    "Jamf Pro API request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		TokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jamf_token_refreshes_total",
				Help: "Total number of access token refreshes",
			},
			[]string{"kind"},
		),
		DispatchInflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "jamf_dispatch_inflight",
				Help: "Handler invocations currently in flight",
			},
		),
		TransferBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jamf_transfer_bytes_total",
				Help: "Bytes moved by JCDS transfers",
			},
			[]string{"direction"}, // "upload", "download"
		),
	}
}

// ObserveRequest records one completed request. status 0 means a transport error.
func (m *Metrics) ObserveRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}

	m.Requests.WithLabelValues(method, label).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// TokenRefreshed records a token refresh.
func (m *Metrics) TokenRefreshed(kind TokenKind) {
	if m == nil {
		return
	}

	m.TokenRefreshes.WithLabelValues(string(kind)).Inc()
}

// InvocationStarted marks a handler invocation as in flight.
func (m *Metrics) InvocationStarted() {
	if m == nil {
		return
	}

	m.DispatchInflight.Inc()
}

// InvocationFinished marks a handler invocation as done.
func (m *Metrics) InvocationFinished() {
	if m == nil {
		return
	}

	m.DispatchInflight.Dec()
}

// Transferred records n bytes moved in direction.
func (m *Metrics) Transferred(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}

	m.TransferBytes.WithLabelValues(direction).Add(float64(n))
}
