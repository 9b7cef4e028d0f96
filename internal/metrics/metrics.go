// Package metrics turns event bus traffic into Prometheus series.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"relaybot/internal/eventbus"
	logx "relaybot/pkg/logx"
)

const namespace = "relaybot"

type Collector struct {
	reg *prometheus.Registry
	log logx.Logger

	inbound       *prometheus.CounterVec
	inboundFailed prometheus.Counter
	repliesOpened prometheus.Counter
	replies       *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	broadcasts    prometheus.Counter
	runDuration   prometheus.Histogram
	sending       prometheus.Gauge
}

// New builds a collector on its own registry, including the Go runtime and
// process collectors.
func New(log logx.Logger) *Collector {
	if log.IsZero() {
		log = logx.Nop()
	}
	c := &Collector{
		reg: prometheus.NewRegistry(),
		log: log.With(logx.String("comp", "metrics")),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_relayed_total",
			Help: "End-user messages relayed to the operator.",
		}, []string{"media"}),
		inboundFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_failed_total",
			Help: "End-user messages that could not be stored or relayed.",
		}),
		repliesOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reply_sessions_opened_total",
			Help: "Reply actions pressed by the operator.",
		}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "replies_total",
			Help: "Operator replies by result.",
		}, []string{"result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcast_deliveries_total",
			Help: "Broadcast sends by result.",
		}, []string{"result"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "broadcasts_total",
			Help: "Broadcast runs finished, including interrupted runs.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "broadcast_duration_seconds",
			Help:    "Wall time of broadcast runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		sending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "broadcast_sending",
			Help: "1 while a broadcast run is in progress.",
		}),
	}
	c.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.inbound, c.inboundFailed, c.repliesOpened, c.replies,
		c.deliveries, c.broadcasts, c.runDuration, c.sending,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// Observe updates series for one event. Unknown types are ignored.
func (c *Collector) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.InboundRelayed:
		media := "text"
		if in, ok := e.Data.(eventbus.Inbound); ok && in.Media != "" {
			media = in.Media
		}
		c.inbound.WithLabelValues(media).Inc()
	case eventbus.InboundFailed:
		c.inboundFailed.Inc()
	case eventbus.ReplyOpened:
		c.repliesOpened.Inc()
	case eventbus.ReplySent:
		c.replies.WithLabelValues("sent").Inc()
	case eventbus.ReplyFailed:
		c.replies.WithLabelValues("failed").Inc()
	case eventbus.BroadcastStarted:
		c.sending.Set(1)
	case eventbus.BroadcastDelivery:
		d, ok := e.Data.(eventbus.Delivery)
		if !ok {
			return
		}
		switch {
		case d.OK:
			c.deliveries.WithLabelValues("ok").Inc()
		case d.Unreachable:
			c.deliveries.WithLabelValues("unreachable").Inc()
		default:
			c.deliveries.WithLabelValues("failed").Inc()
		}
	case eventbus.BroadcastFinished:
		c.sending.Set(0)
		c.broadcasts.Inc()
		if f, ok := e.Data.(eventbus.Finished); ok {
			c.runDuration.Observe(f.Duration.Seconds())
		}
	}
}

// Run consumes the bus until ctx is done.
func (c *Collector) Run(ctx context.Context, bus eventbus.Bus) {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	c.log.Debug("metrics collector started")
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			c.Observe(e)
		}
	}
}
