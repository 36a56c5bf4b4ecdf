// Package metrics exposes the daemon's Prometheus instrumentation: pool
// gauges, verb latency, and notification queue depth, in the style
// artpromedia-email's imap-server package-level promauto vars use.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"gromox.run/internal/exrpc"
)

var (
	// OpenMailboxes tracks how many Store handles the daemon currently
	// holds open (one per mailbox directory opened since startup; the
	// daemon does not close a store once opened).
	OpenMailboxes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exmdbd_open_mailboxes",
		Help: "Number of mailbox stores currently open",
	})

	// ActiveConnections tracks live exmdb RPC connections; cmd/exmdbd
	// counts only listen_notification channels, not command connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "exmdbd_active_connections",
		Help: "Number of active exmdb RPC connections",
	})

	// VerbsTotal counts every dispatched verb by name and outcome.
	VerbsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exmdbd_verbs_total",
		Help: "Total exmdb verbs dispatched",
	}, []string{"verb", "result"})

	// VerbLatency is per-verb dispatch latency.
	VerbLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "exmdbd_verb_latency_seconds",
		Help:    "exmdb verb dispatch latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"verb"})

	// NotificationQueueDepth reports how many buffered notifications a
	// listen_notification subscriber currently holds, sampled at publish
	// time rather than continuously.
	NotificationQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "exmdbd_notification_queue_depth",
		Help: "Buffered notifications per listen_notification subscriber",
	}, []string{"remote_id"})

	// PoolReconnects counts exclient.Pool reconnect attempts by remote and
	// outcome, for alerting on a flapping backend.
	PoolReconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "exmdbd_pool_reconnects_total",
		Help: "exmdb client pool reconnect attempts",
	}, []string{"remote", "result"})
)

// ObserveVerb records one verb dispatch's outcome and latency.
func ObserveVerb(verb string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	VerbsTotal.WithLabelValues(verb, result).Inc()
	VerbLatency.WithLabelValues(verb).Observe(time.Since(start).Seconds())
}

// instrumentedDispatcher wraps an exrpc.Dispatcher, recording VerbsTotal and
// VerbLatency around every call.
type instrumentedDispatcher struct {
	next exrpc.Dispatcher
}

// Instrument wraps next so every dispatched verb is timed and counted.
func Instrument(next exrpc.Dispatcher) exrpc.Dispatcher {
	return &instrumentedDispatcher{next: next}
}

func (d *instrumentedDispatcher) Dispatch(call exrpc.CallID, payload []byte) ([]byte, error) {
	start := time.Now()
	resp, err := d.next.Dispatch(call, payload)
	ObserveVerb(call.Name(), start, err)
	return resp, err
}
