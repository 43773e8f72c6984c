// monitor/monitor.go
package monitor

import (
	"expvar"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	ConnectedServers prometheus.Gauge
	ActivePlayers    *prometheus.GaugeVec
	MessagesReceived prometheus.Counter
	FlaggedSyncs     prometheus.Counter
	SyncLatency      prometheus.Histogram
}

func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		ConnectedServers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_servers",
			Help:      "Number of connected game servers",
		}),
		ActivePlayers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_players",
			Help:      "Number of session-locked players per server",
		}, []string{"server"}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of sync messages received",
		}),
		FlaggedSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flagged_syncs_total",
			Help:      "Total number of syncs flagged for operator review",
		}),
		SyncLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_latency_seconds",
			Help:      "Sync operation processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
		}),
	}

	prometheus.MustRegister(
		m.ConnectedServers,
		m.ActivePlayers,
		m.MessagesReceived,
		m.FlaggedSyncs,
		m.SyncLatency,
	)

	return m
}

type Monitor struct {
	metrics      *Metrics
	startTime    time.Time
	requestCount int64
	mutex        sync.Mutex
}

func NewMonitor(namespace string) *Monitor {
	return &Monitor{
		metrics:   NewMetrics(namespace),
		startTime: time.Now(),
	}
}

func (m *Monitor) StartServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())

	expvar.Publish("uptime", expvar.Func(func() interface{} {
		return time.Since(m.startTime).Seconds()
	}))

	expvar.Publish("requests", expvar.Func(func() interface{} {
		m.mutex.Lock()
		defer m.mutex.Unlock()
		return m.requestCount
	}))

	go http.ListenAndServe(addr, nil)
}

func (m *Monitor) IncConnectedServers() {
	m.metrics.ConnectedServers.Inc()
}

func (m *Monitor) DecConnectedServers() {
	m.metrics.ConnectedServers.Dec()
}

func (m *Monitor) SetActivePlayers(serverID string, count int) {
	m.metrics.ActivePlayers.WithLabelValues(serverID).Set(float64(count))
}

func (m *Monitor) IncMessagesReceived() {
	m.metrics.MessagesReceived.Inc()
	m.mutex.Lock()
	m.requestCount++
	m.mutex.Unlock()
}

func (m *Monitor) IncFlaggedSyncs() {
	m.metrics.FlaggedSyncs.Inc()
}

func (m *Monitor) ObserveSyncLatency(duration time.Duration) {
	m.metrics.SyncLatency.Observe(duration.Seconds())
}
