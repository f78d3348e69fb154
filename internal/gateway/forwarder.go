package gateway

import (
	"context"
	"errors"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"clobex.com/internal/engine"
	"clobex.com/pkg/logger"
	"clobex.com/pkg/metrics"
	"clobex.com/pkg/ratelimit"
)

const (
	TopicPrefix = "clob"
	// 没有市场归属的事件（余额变化、充值提现被拒）
	AccountScope = "accounts"
)

var ErrBrokerClosed = errors.New("gateway: broker closed")

// Topic 事件的发布主题：clob:<market>:<type>
func Topic(ev engine.Event) string {
	scope := ev.Market
	if scope == "" {
		scope = AccountScope
	}
	return TopicPrefix + ":" + scope + ":" + ev.Type.String()
}

// BreakerName 发布走的熔断器名字
const BreakerName = "broker"

// Forwarder 把引擎事件 JSON 编码后发到 broker
type Forwarder struct {
	broker   Broker
	breakers *ratelimit.Breakers
}

func NewForwarder(b Broker) *Forwarder { return &Forwarder{broker: b} }

// WithBreakers broker 连续失败时熔断，熔断期间直接丢弃，不再阻塞在下游
func (f *Forwarder) WithBreakers(b *ratelimit.Breakers) *Forwarder {
	f.breakers = b
	return f
}

// Run 消费事件直到 ctx 结束或 events 被关闭；单条发布失败只记日志
func (f *Forwarder) Run(ctx context.Context, events <-chan engine.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			f.forward(ctx, ev)
		}
	}
}

func (f *Forwarder) forward(ctx context.Context, ev engine.Event) {
	typ := ev.Type.String()
	payload, err := json.Marshal(ev)
	if err != nil {
		metrics.PublishedEvents.WithLabelValues(typ, "encode_error").Inc()
		logger.Warn(ctx, "event encode failed", zap.Uint64("seq", ev.Seq), zap.Error(err))
		return
	}
	if err := f.publish(ctx, Topic(ev), payload); err != nil {
		if ratelimit.IsOpen(err) {
			metrics.PublishedEvents.WithLabelValues(typ, "breaker_open").Inc()
			return
		}
		metrics.PublishedEvents.WithLabelValues(typ, "error").Inc()
		logger.Warn(ctx, "broker publish failed", zap.String("topic", Topic(ev)), zap.Error(err))
		return
	}
	metrics.PublishedEvents.WithLabelValues(typ, "ok").Inc()
}

func (f *Forwarder) publish(ctx context.Context, topic string, payload []byte) error {
	if f.breakers == nil {
		return f.broker.Publish(ctx, topic, payload)
	}
	return f.breakers.Do(BreakerName, func() error {
		return f.broker.Publish(ctx, topic, payload)
	})
}
