package kline

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/segmentio/encoding/json"

	"clobex.com/internal/engine"
	"clobex.com/internal/gateway"
)

// chanBroker Subscribe 直接返回预先灌好的 channel
type chanBroker struct {
	ch     chan gateway.Message
	topics []string
}

func (b *chanBroker) Publish(context.Context, string, []byte) error { return nil }
func (b *chanBroker) Close() error                                  { return nil }

func (b *chanBroker) Subscribe(_ context.Context, topics []string) (<-chan gateway.Message, error) {
	b.topics = topics
	return b.ch, nil
}

func TestIngest_TradesOnly(t *testing.T) {
	b := &chanBroker{ch: make(chan gateway.Message, 8)}
	put := func(ev engine.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		b.ch <- gateway.Message{Topic: gateway.Topic(ev), Payload: payload}
	}
	put(engine.Event{Type: engine.EvTrade, Market: "ETH-USDC", Time: int64(1500 * time.Millisecond),
		Price: uint256.NewInt(100), Amount: uint256.NewInt(2), Quote: uint256.NewInt(200)})
	put(engine.Event{Type: engine.EvAdded, Market: "ETH-USDC", Time: int64(1600 * time.Millisecond)})
	b.ch <- gateway.Message{Topic: "clob:ETH-USDC:trade", Payload: []byte("{")}
	close(b.ch)

	agg, err := NewShardedAggregator(Config{Shards: 1})
	if err != nil {
		t.Fatalf("NewShardedAggregator err=%v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	agg.Run(ctx)

	var seen []Trade
	if err := Ingest(ctx, b, agg, func(t Trade) { seen = append(seen, t) }); err != nil {
		t.Fatalf("ingest err=%v", err)
	}
	if len(b.topics) != 1 || b.topics[0] != "clob:*:trade" {
		t.Fatalf("subscribed topics: %v", b.topics)
	}
	if len(seen) != 1 || seen[0].TsMs != 1500 || seen[0].Quote != u(200) {
		t.Fatalf("trades mismatch: %+v", seen)
	}

	cancel()
	agg.Close()
	secs := filterBars(collectAll(t, agg.Out(), 2*time.Second), time.Second, "ETH-USDC")
	if len(secs) != 1 || secs[0].Volume != u(2) {
		t.Fatalf("1s bars mismatch: %v", secs)
	}
}
