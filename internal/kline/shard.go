package kline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"clobex.com/pkg/metrics"
)

type Config struct {
	Shards        int
	ReorderWindow time.Duration
	TZOffset      time.Duration

	// 补空K（1s 不补）
	FillGaps1m bool
	FillGaps1h bool
	FillGaps1d bool

	// inbox 满时阻塞还是丢弃
	InboxSize    int
	DropWhenFull bool

	// >0 时按墙钟推进 1s 水位线，没有成交也能收 bar
	Tick time.Duration
	Now  func() time.Time
}

// ShardedAggregator 按市场分片，每个分片一个 goroutine 跑 1s->1m->1h->1d 聚合链
type ShardedAggregator struct {
	cfg Config
	out chan Bar

	shards []shard
	wg     sync.WaitGroup
}

type shard struct {
	inbox chan Trade
	// 聚合链只在本 shard 的 goroutine 访问，无锁
	sAgg *TradeAgg
	mAgg *RollupAgg
	hAgg *RollupAgg
	dAgg *RollupAgg
}

func NewShardedAggregator(cfg Config) (*ShardedAggregator, error) {
	if cfg.Shards <= 0 {
		return nil, errors.New("kline: shards must be > 0")
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 8192
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	a := &ShardedAggregator{
		cfg:    cfg,
		out:    make(chan Bar, 65536),
		shards: make([]shard, cfg.Shards),
	}
	for i := range a.shards {
		sh := &a.shards[i]
		sh.inbox = make(chan Trade, cfg.InboxSize)

		sh.dAgg = NewRollupAggFill(24*time.Hour, cfg.TZOffset, cfg.FillGaps1d, a.emit)
		sh.hAgg = NewRollupAggFill(time.Hour, cfg.TZOffset, cfg.FillGaps1h, func(b Bar) {
			a.emit(b)
			sh.dAgg.OfferBar(b)
		})
		sh.mAgg = NewRollupAggFill(time.Minute, cfg.TZOffset, cfg.FillGaps1m, func(b Bar) {
			a.emit(b)
			sh.hAgg.OfferBar(b)
		})
		sh.sAgg = NewTradeAggReorder(time.Second, cfg.TZOffset, cfg.ReorderWindow, func(b Bar) {
			a.emit(b)
			sh.mAgg.OfferBar(b)
		})
	}
	return a, nil
}

func (a *ShardedAggregator) emit(b Bar) {
	metrics.KlineBarsTotal.WithLabelValues(b.TF()).Inc()
	a.out <- b
}

func (a *ShardedAggregator) Out() <-chan Bar { return a.out }

// Run 启动 shard workers，ctx 结束时 flush 所有未关闭的 bar
func (a *ShardedAggregator) Run(ctx context.Context) {
	for i := range a.shards {
		a.wg.Add(1)
		go a.loop(ctx, &a.shards[i])
	}
}

func (a *ShardedAggregator) loop(ctx context.Context, sh *shard) {
	defer a.wg.Done()

	var tick <-chan time.Time
	if a.cfg.Tick > 0 {
		t := time.NewTicker(a.cfg.Tick)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			// inbox 里剩下的先处理完
			for n := len(sh.inbox); n > 0; n-- {
				a.offer(sh, <-sh.inbox)
			}
			sh.sAgg.Flush()
			sh.mAgg.Flush()
			sh.hAgg.Flush()
			sh.dAgg.Flush()
			return
		case t := <-sh.inbox:
			a.offer(sh, t)
		case <-tick:
			sh.sAgg.Advance(a.cfg.Now().UnixMilli())
		}
	}
}

func (a *ShardedAggregator) offer(sh *shard, t Trade) {
	before := sh.sAgg.LateDrops()
	sh.sAgg.OfferTrade(t)
	if sh.sAgg.LateDrops() != before {
		metrics.KlineTradesTotal.WithLabelValues("late").Inc()
		return
	}
	metrics.KlineTradesTotal.WithLabelValues("ok").Inc()
}

// Close 等 worker 退出并关闭 out（外部 cancel ctx 之后调用）
func (a *ShardedAggregator) Close() {
	a.wg.Wait()
	close(a.out)
}

// OfferTrade 路由到市场所在 shard
func (a *ShardedAggregator) OfferTrade(t Trade) bool {
	sh := &a.shards[shardIndex(t.Market, len(a.shards))]
	if !a.cfg.DropWhenFull {
		sh.inbox <- t
		return true
	}
	select {
	case sh.inbox <- t:
		return true
	default:
		metrics.KlineTradesTotal.WithLabelValues("dropped").Inc()
		return false
	}
}

func shardIndex(market string, shards int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(market))
	return int(h.Sum64() % uint64(shards))
}
