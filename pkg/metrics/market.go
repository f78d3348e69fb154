package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 行情：K 线聚合 + websocket 推送
var (
	KlineTradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clobex",
		Name:      "kline_trades_total",
		Help:      "Trades offered to the kline aggregator",
	}, []string{"result"}) // ok/dropped/late

	KlineBarsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clobex",
		Name:      "kline_bars_total",
		Help:      "Bars emitted by interval",
	}, []string{"interval"})

	WsConns = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "clobex",
		Name:      "ws_conns",
		Help:      "Active websocket connections",
	})
	WsConnCloseTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clobex",
		Name:      "ws_conn_close_total",
		Help:      "Websocket connections closed by code and reason",
	}, []string{"code", "reason"})
	WsSubOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clobex",
		Name:      "ws_sub_ops_total",
		Help:      "Subscription operations",
	}, []string{"op"})
	WsMsgsOutTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "clobex", Name: "ws_msgs_out_total"})
	WsBytesOutTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "clobex", Name: "ws_bytes_out_total"})
	WsWriteErrors   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "clobex", Name: "ws_write_errors_total"})
	WsDroppedTotal  = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "clobex", Name: "ws_dropped_total"}, []string{"why"})

	WsWriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "clobex",
		Name:      "ws_write_duration_seconds",
		Help:      "Duration of a websocket write batch",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms -> ~4s
	})
)

func WsOnOpen() { WsConns.Inc() }

func WsOnClose(code int, reason string) {
	WsConns.Dec()
	WsConnCloseTotal.WithLabelValues(strconv.Itoa(code), reason).Inc()
}

func WsObserveWrite(n, bytes int, dur time.Duration, err error) {
	if n > 0 {
		WsMsgsOutTotal.Add(float64(n))
	}
	if bytes > 0 {
		WsBytesOutTotal.Add(float64(bytes))
	}
	WsWriteDuration.Observe(dur.Seconds())
	if err != nil {
		WsWriteErrors.Inc()
	}
}
