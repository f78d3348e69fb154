package main

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clobex.com/internal/config"
	"clobex.com/internal/gateway"
	"clobex.com/internal/kline"
	"clobex.com/internal/kline/influxsink"
	"clobex.com/internal/ws"
	"clobex.com/pkg/logger"
	"clobex.com/pkg/safe"
)

// startMarketData broker 成交 -> K 线聚合 -> 历史/ws/influx
// 没启用时返回 nil，HTTP 层按 nil 处理
func startMarketData(ctx context.Context, g *errgroup.Group, cfg config.Config, broker gateway.Broker) (*kline.History, *ws.Server, error) {
	md := cfg.MarketData
	if !md.Enabled {
		return nil, nil, nil
	}
	agg, err := kline.NewShardedAggregator(md.KlineConfig())
	if err != nil {
		return nil, nil, err
	}
	hist := kline.NewHistory(md.History)
	dec := cfg.KlineDecimals()

	var (
		bridge *ws.Bridge
		wss    *ws.Server
	)
	if md.WS {
		hub := ws.NewHub()
		wss = ws.NewServer(ctx, hub)
		bridge = ws.NewBridge(hub, dec)
	}
	var sink *influxsink.Sink
	if md.Influx.URL != "" {
		sc := md.Influx.SinkConfig()
		sink = influxsink.New(sc, dec)
		logger.Info(ctx, "influx sink enabled", zap.Stringer("cfg", sc))
	}

	agg.Run(ctx)
	g.Go(func() error {
		// ctx 结束后 worker flush 完才关闭 Out
		<-ctx.Done()
		agg.Close()
		return nil
	})
	g.Go(func() error {
		defer func() {
			if sink != nil {
				sink.Close()
			}
		}()
		for b := range agg.Out() {
			hist.Add(b)
			if bridge != nil {
				bridge.Bar(b)
			}
			if sink != nil {
				sink.WriteBar(b)
			}
		}
		return nil
	})

	var onTrade func(kline.Trade)
	if bridge != nil {
		onTrade = bridge.Trade
	}
	g.Go(func() error {
		return safe.Run(ctx, "kline-ingest", func(ctx context.Context) error {
			return kline.Ingest(ctx, broker, agg, onTrade)
		})
	})
	logger.Info(ctx, "market data started", zap.Int("shards", md.KlineConfig().Shards), zap.Bool("ws", md.WS))
	return hist, wss, nil
}
