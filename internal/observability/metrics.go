package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompctl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"service", "method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stompctl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "method", "route", "status"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompctl",
			Subsystem: "broker",
			Name:      "connect_attempts_total",
			Help:      "Broker connect attempts by outcome.",
		},
		[]string{"endpoint", "outcome"},
	)
	connectDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "stompctl",
			Subsystem: "broker",
			Name:      "connect_duration_seconds",
			Help:      "Time from dial to CONNECTED or failure.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint", "outcome"},
	)
	framesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompctl",
			Subsystem: "broker",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the broker by command.",
		},
		[]string{"endpoint", "command"},
	)
	framesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompctl",
			Subsystem: "broker",
			Name:      "frames_sent_total",
			Help:      "Frames written to the broker by command.",
		},
		[]string{"endpoint", "command"},
	)
	observerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "stompctl",
			Subsystem: "dispatch",
			Name:      "observer_failures_total",
			Help:      "Observer callbacks that returned an error or panicked.",
		},
		[]string{"command"},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "stompctl",
			Subsystem: "broker",
			Name:      "connection_state",
			Help:      "1 for the current connection state of an endpoint, 0 otherwise.",
		},
		[]string{"endpoint", "state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			connectAttempts, connectDuration,
			framesReceived, framesSent,
			observerFailures, connectionState,
		)
	})
}

func RecordHTTPRequest(service, method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	code := strconv.Itoa(status)
	httpRequests.WithLabelValues(service, method, route, code).Inc()
	httpDuration.WithLabelValues(service, method, route, code).Observe(duration.Seconds())
}

// RecordConnectAttempt counts one Open call. outcome is "connected" or an
// error kind such as "timeout" or "refused".
func RecordConnectAttempt(endpoint, outcome string, duration time.Duration) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(endpoint, outcome).Inc()
	connectDuration.WithLabelValues(endpoint, outcome).Observe(duration.Seconds())
}

func RecordFrameReceived(endpoint, command string) {
	RegisterMetrics()
	framesReceived.WithLabelValues(endpoint, command).Inc()
}

func RecordFrameSent(endpoint, command string) {
	RegisterMetrics()
	framesSent.WithLabelValues(endpoint, command).Inc()
}

func RecordObserverFailure(command string) {
	RegisterMetrics()
	observerFailures.WithLabelValues(command).Inc()
}

// SetConnectionState marks state as the active one for endpoint among
// states.
func SetConnectionState(endpoint, state string, states []string) {
	RegisterMetrics()
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		connectionState.WithLabelValues(endpoint, s).Set(v)
	}
}
