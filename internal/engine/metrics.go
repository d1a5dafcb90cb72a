package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropRateLimit  = "rate_limit"
	dropProtocol   = "protocol"
	dropUnresolved = "unresolved"
	dropOverflow   = "overflow"
)

type metrics struct {
	registry *prometheus.Registry

	connectionsActive prometheus.Gauge
	connectionsTotal  *prometheus.CounterVec
	framesReceived    prometheus.Counter
	framesSent        prometheus.Counter
	framesDropped     *prometheus.CounterVec
	cacheMisses       prometheus.Counter
	handlerFailures   prometheus.Counter
	cipherRejected    prometheus.Counter
	tickDuration      prometheus.Histogram
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &metrics{
		registry: reg,
		connectionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "connections_active",
			Help: "Connections currently attached.",
		}),
		connectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "connections_total",
			Help: "Connections attached since start, by transport kind.",
		}, []string{"kind"}),
		framesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "frames_received_total",
			Help: "Complete frames decoded from peers.",
		}),
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "frames_sent_total",
			Help: "Frames written to peers.",
		}),
		framesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "frames_dropped_total",
			Help: "Frames discarded before or during dispatch.",
		}, []string{"reason"}),
		cacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "dispatch_cache_misses_total",
			Help: "RPC names resolved through the service lookup.",
		}),
		handlerFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "handler_failures_total",
			Help: "RPC handlers that returned an error or panicked.",
		}),
		cipherRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name: "cipher_rejected_total",
			Help: "Cipher pairs that failed the install self-test.",
		}),
		tickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "appserver", Subsystem: "engine",
			Name:    "tick_duration_seconds",
			Help:    "Time spent in service OnTick hooks per tick.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}
}
