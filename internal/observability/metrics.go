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
			Namespace: "bridgectl",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridgectl",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	setupWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "setup",
			Name:      "writes_total",
			Help:      "Control channel writes by envelope type and result.",
		},
		[]string{"type", "result"},
	)
	setupReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "setup",
			Name:      "reads_total",
			Help:      "Control channel polls by whether a response was buffered.",
		},
		[]string{"buffered"},
	)
	setupSessions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "setup",
			Name:      "sessions_total",
			Help:      "Setup session lifecycle transitions.",
		},
		[]string{"event"},
	)
	pluginTurns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "plugin",
			Name:      "turns_total",
			Help:      "Plugin configure turns by outcome.",
		},
		[]string{"plugin", "outcome"},
	)
	pluginTurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "bridgectl",
			Subsystem: "plugin",
			Name:      "turn_duration_seconds",
			Help:      "Time spent inside one plugin configure call.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"plugin"},
	)
	configChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "bridgectl",
			Subsystem: "config",
			Name:      "changes_total",
			Help:      "Persisted configuration changes by kind.",
		},
		[]string{"kind", "replace"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			setupWrites,
			setupReads,
			setupSessions,
			pluginTurns,
			pluginTurnDuration,
			configChanges,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

// RecordSetupWrite counts one decoded (or dropped) control channel write.
func RecordSetupWrite(envelopeType, result string) {
	RegisterMetrics()
	if envelopeType == "" {
		envelopeType = "unknown"
	}
	setupWrites.WithLabelValues(envelopeType, result).Inc()
}

func RecordSetupRead(buffered bool) {
	RegisterMetrics()
	setupReads.WithLabelValues(strconv.FormatBool(buffered)).Inc()
}

// RecordSessionEvent counts created, evicted, terminated, failed and expired sessions.
func RecordSessionEvent(event string) {
	RegisterMetrics()
	setupSessions.WithLabelValues(event).Inc()
}

func RecordPluginTurn(plugin, outcome string, duration time.Duration) {
	RegisterMetrics()
	pluginTurns.WithLabelValues(plugin, outcome).Inc()
	pluginTurnDuration.WithLabelValues(plugin).Observe(duration.Seconds())
}

func RecordConfigChange(kind string, replace bool) {
	RegisterMetrics()
	configChanges.WithLabelValues(kind, strconv.FormatBool(replace)).Inc()
}
