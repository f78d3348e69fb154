package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clobex",
		Name:      "engine_commands_total",
		Help:      "Commands applied by the sequencer",
	}, []string{"type", "result"})

	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "clobex",
		Name:      "engine_command_duration_seconds",
		Help:      "Command apply latency",
		Buckets:   prometheus.ExponentialBuckets(0.000005, 2, 16), // 5us ~ 160ms
	}, []string{"type"})

	BatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clobex",
		Name:      "engine_batch_size",
		Help:      "Commands drained from the mailbox per batch",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	TradesTotal   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "clobex", Name: "engine_trades_total"}, []string{"market"})
	MailboxFull   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "clobex", Name: "engine_mailbox_full_total"})
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{Namespace: "clobex", Name: "engine_events_dropped_total"})
	WalErrors     = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "clobex", Name: "engine_wal_errors_total"}, []string{"file", "op"})

	OpenOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "clobex",
		Name:      "book_open_orders",
		Help:      "Resting orders per market and side",
	}, []string{"market", "side"})

	PublishedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clobex",
		Name:      "gateway_published_events_total",
		Help:      "Events forwarded to the broker",
	}, []string{"type", "result"})
)
