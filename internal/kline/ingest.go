package kline

import (
	"context"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"clobex.com/internal/engine"
	"clobex.com/internal/gateway"
	"clobex.com/pkg/logger"
)

// TradeTopic 所有市场的成交
var TradeTopic = gateway.TopicPrefix + ":*:" + engine.EvTrade.String()

// Ingest 从 broker 订阅成交事件喂给聚合器，直到 ctx 结束或订阅被关闭
// onTrade 可为 nil，用于逐笔推送
func Ingest(ctx context.Context, b gateway.Broker, agg *ShardedAggregator, onTrade func(Trade)) error {
	ch, err := b.Subscribe(ctx, []string{TradeTopic})
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var ev engine.Event
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				logger.Warn(ctx, "kline: bad trade payload", zap.String("topic", m.Topic), zap.Error(err))
				continue
			}
			t, ok := TradeFromEvent(ev)
			if !ok {
				continue
			}
			agg.OfferTrade(t)
			if onTrade != nil {
				onTrade(t)
			}
		}
	}
}
