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
			Namespace: "dccrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dccrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	packetsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dccrelay",
			Subsystem: "broker",
			Name:      "packets_received_total",
			Help:      "Packets decoded and dispatched to listeners.",
		},
		[]string{"broker", "kind"},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dccrelay",
			Subsystem: "broker",
			Name:      "packets_dropped_total",
			Help:      "Packets dropped before dispatch.",
		},
		[]string{"broker", "reason"},
	)
	listenerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dccrelay",
			Subsystem: "broker",
			Name:      "listener_failures_total",
			Help:      "Listener failures by class (io tears the connection down).",
		},
		[]string{"broker", "class"},
	)
	connectionsOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dccrelay",
			Subsystem: "broker",
			Name:      "connections_open",
			Help:      "Live connections per broker.",
		},
		[]string{"broker"},
	)
	connectionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dccrelay",
			Subsystem: "broker",
			Name:      "connection_events_total",
			Help:      "Connection lifecycle transitions.",
		},
		[]string{"broker", "event"},
	)
	relayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dccrelay",
			Subsystem: "station",
			Name:      "relayed_total",
			Help:      "Packets forwarded to peers, by direction and outcome.",
		},
		[]string{"direction", "success"},
	)
	replayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dccrelay",
			Subsystem: "station",
			Name:      "replayed_total",
			Help:      "Remembered definitions replayed to new accessory peers.",
		},
		[]string{"family"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests, httpDuration,
			packetsReceived, packetsDropped, listenerFailures,
			connectionsOpen, connectionEvents,
			relayed, replayed,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordPacketReceived(broker, kind string) {
	RegisterMetrics()
	packetsReceived.WithLabelValues(broker, kind).Inc()
}

func RecordPacketDropped(broker, reason string) {
	RegisterMetrics()
	packetsDropped.WithLabelValues(broker, reason).Inc()
}

func RecordListenerFailure(broker string, io bool) {
	RegisterMetrics()
	class := "other"
	if io {
		class = "io"
	}
	listenerFailures.WithLabelValues(broker, class).Inc()
}

func RecordConnectionOpened(broker string) {
	RegisterMetrics()
	connectionsOpen.WithLabelValues(broker).Inc()
	connectionEvents.WithLabelValues(broker, "open").Inc()
}

// RecordConnectionClosed records the end of a connection; faulted marks an
// I/O failure rather than a graceful close.
func RecordConnectionClosed(broker string, faulted bool) {
	RegisterMetrics()
	connectionsOpen.WithLabelValues(broker).Dec()
	event := "close"
	if faulted {
		event = "fault"
	}
	connectionEvents.WithLabelValues(broker, event).Inc()
}

func RecordRelay(direction string, success bool) {
	RegisterMetrics()
	relayed.WithLabelValues(direction, strconv.FormatBool(success)).Inc()
}

func RecordReplay(family string) {
	RegisterMetrics()
	replayed.WithLabelValues(family).Inc()
}
