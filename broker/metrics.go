package broker

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/golang-io/requests"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the broker's Prometheus instrumentation. Grounded on the
// teacher's stat.go Stat type, generalized from a package-level singleton
// registered against the global default registry to a per-Broker instance
// with its own prometheus.Registry, so more than one Broker (as in tests)
// can coexist without a duplicate-registration panic.
type Metrics struct {
	registry *prometheus.Registry

	Uptime            prometheus.Counter
	ActiveSessions    prometheus.Gauge
	SubscriptionCount prometheus.Gauge
	RetainedCount     prometheus.Gauge
	QueueDepth        prometheus.Gauge
	PacketsReceived   prometheus.Counter
	PacketsSent       prometheus.Counter
}

// NewMetrics builds and registers a fresh metric set.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry:          prometheus.NewRegistry(),
		Uptime:            prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldwatch_broker_uptime_seconds", Help: "Seconds since the broker started"}),
		ActiveSessions:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "fieldwatch_broker_active_sessions", Help: "Currently active client sessions"}),
		SubscriptionCount: prometheus.NewGauge(prometheus.GaugeOpts{Name: "fieldwatch_broker_subscriptions", Help: "Live subscription-table entries"}),
		RetainedCount:     prometheus.NewGauge(prometheus.GaugeOpts{Name: "fieldwatch_broker_retained_messages", Help: "Retained messages currently held"}),
		QueueDepth:        prometheus.NewGauge(prometheus.GaugeOpts{Name: "fieldwatch_broker_queue_depth", Help: "Pending jobs in the dispatch queue"}),
		PacketsReceived:   prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldwatch_broker_packets_received", Help: "Total inbound MQTT packets"}),
		PacketsSent:       prometheus.NewCounter(prometheus.CounterOpts{Name: "fieldwatch_broker_packets_sent", Help: "Total outbound MQTT packets"}),
	}
	m.registry.MustRegister(m.Uptime, m.ActiveSessions, m.SubscriptionCount, m.RetainedCount, m.QueueDepth, m.PacketsReceived, m.PacketsSent)
	return m
}

// refreshMetricsLoop ticks gauges that track live broker state rather than being
// updated at the call site (queue depth, subscription/retained counts).
func (b *Broker) refreshMetricsLoop() {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-b.sweeperStop:
			return
		case <-tick.C:
			b.metrics.Uptime.Inc()
			b.metrics.QueueDepth.Set(float64(b.pool.Depth()))
			b.metrics.SubscriptionCount.Set(float64(b.Router.Count()))
			b.metrics.RetainedCount.Set(float64(b.Retained.Count()))
		}
	}
}

// adminLog adapts requests.Logf's per-request hook to the standard logger,
// mirroring the teacher's ServerLog in stat.go.
func adminLog(ctx context.Context, stat *requests.Stat) {
	b, err := json.Marshal(stat.Request.Body)
	log.Printf("%s # body=%s, resp=%v, err=%v", stat.Print(), b, stat.Response.Body, err)
}

// ServeAdmin starts the admin HTTP endpoint (Prometheus /metrics plus
// pprof) on addr, blocking until it fails or the process exits. Grounded on
// the teacher's Httpd in stat.go, using the same golang-io/requests mux and
// server wrapper.
func (b *Broker) ServeAdmin(addr string) error {
	go b.refreshMetricsLoop()
	mux := requests.NewServeMux(requests.URL(addr), requests.Logf(adminLog))
	mux.Route("/metrics", promhttp.HandlerFor(b.metrics.registry, promhttp.HandlerOpts{}))
	mux.Pprof()
	s := requests.NewServer(context.Background(), mux, requests.OnStart(func(s *http.Server) {
		log.Printf("broker: admin http serve: %s", s.Addr)
	}))
	return s.ListenAndServe()
}
