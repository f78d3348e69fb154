package kline

import (
	"slices"
	"time"
)

// TradeAgg 每个市场维护正在构建的 bar
// 收到成交时按时间归桶：新桶先输出旧 bar；乱序成交在窗口内仍可更新，超出窗口丢弃
type TradeAgg struct {
	intervalMs      int64
	offsetMs        int64
	reorderWindowMs int64 // 0 表示不等待乱序

	markets map[string]*marketState
	emit    func(Bar)

	lateDrops int64
}

type marketState struct {
	latestTsMs int64
	bars       map[int64]*Bar // key = bucket start

	lastEmittedStartMs int64
	hasEmitted         bool
}

func NewTradeAgg(interval, tzOffset time.Duration, emit func(Bar)) *TradeAgg {
	return NewTradeAggReorder(interval, tzOffset, 0, emit)
}

func NewTradeAggReorder(interval, tzOffset, reorderWindow time.Duration, emit func(Bar)) *TradeAgg {
	return &TradeAgg{
		intervalMs:      int64(interval / time.Millisecond),
		offsetMs:        int64(tzOffset / time.Millisecond),
		reorderWindowMs: int64(reorderWindow / time.Millisecond),
		markets:         make(map[string]*marketState, 16),
		emit:            emit,
	}
}

func (a *TradeAgg) LateDrops() int64 { return a.lateDrops }

func (a *TradeAgg) OfferTrade(t Trade) {
	st := a.markets[t.Market]
	if st == nil {
		st = &marketState{bars: make(map[int64]*Bar, 8)}
		a.markets[t.Market] = st
	}
	if t.TsMs > st.latestTsMs {
		st.latestTsMs = t.TsMs
	}
	watermark := st.latestTsMs - a.reorderWindowMs

	bs := bucketStartMs(t.TsMs, a.intervalMs, a.offsetMs)
	// 所在桶已经可以关闭（或已输出）的成交视为迟到
	if bs+a.intervalMs <= watermark || (st.hasEmitted && bs <= st.lastEmittedStartMs) {
		a.lateDrops++
		a.emitReady(st, watermark)
		return
	}

	b := st.bars[bs]
	if b == nil {
		b = &Bar{
			Market:   t.Market,
			Interval: time.Duration(a.intervalMs) * time.Millisecond,
			StartMs:  bs,
			EndMs:    bs + a.intervalMs,
			Count:    1,
		}
		b.Open.Set(&t.Price)
		b.High.Set(&t.Price)
		b.Low.Set(&t.Price)
		b.Close.Set(&t.Price)
		b.Volume.Set(&t.Amount)
		b.QuoteVolume.Set(&t.Quote)
		st.bars[bs] = b
	} else {
		if t.Price.Gt(&b.High) {
			b.High.Set(&t.Price)
		}
		if t.Price.Lt(&b.Low) {
			b.Low.Set(&t.Price)
		}
		b.Close.Set(&t.Price)
		b.Volume.Add(&b.Volume, &t.Amount)
		b.QuoteVolume.Add(&b.QuoteVolume, &t.Quote)
		b.Count++
	}
	a.emitReady(st, watermark)
}

// Advance 用墙钟推进水位线，没有新成交时也能按时收 bar
func (a *TradeAgg) Advance(nowMs int64) {
	for _, st := range a.markets {
		a.emitReady(st, nowMs-a.reorderWindowMs)
	}
}

// emitReady 按时间顺序输出 EndMs <= watermark 的 bar
func (a *TradeAgg) emitReady(st *marketState, watermarkMs int64) {
	ready := make([]int64, 0, 4)
	for start, b := range st.bars {
		if b.EndMs <= watermarkMs {
			ready = append(ready, start)
		}
	}
	a.emitStarts(st, ready)
}

func (a *TradeAgg) emitStarts(st *marketState, starts []int64) {
	if len(starts) == 0 {
		return
	}
	slices.Sort(starts)
	for _, start := range starts {
		b := st.bars[start]
		delete(st.bars, start)
		a.emit(*b)
		st.lastEmittedStartMs = start
		st.hasEmitted = true
	}
}

// Flush 输出所有未关闭的 bar，退出和测试用
func (a *TradeAgg) Flush() {
	for _, st := range a.markets {
		starts := make([]int64, 0, len(st.bars))
		for start := range st.bars {
			starts = append(starts, start)
		}
		a.emitStarts(st, starts)
	}
}

// RollupAgg 低周期 bar 合成高周期 bar（1s->1m->1h->1d）
// Open 取第一个子 bar，Close 取最后一个，High/Low 取极值，成交量累加
type RollupAgg struct {
	intervalMs int64
	offsetMs   int64
	cur        map[string]*Bar
	emit       func(Bar)

	// 补空 K：跳过的桶用上一根的收盘价补齐，成交量为 0
	fillGaps bool
}

func NewRollupAgg(interval, tzOffset time.Duration, emit func(Bar)) *RollupAgg {
	return NewRollupAggFill(interval, tzOffset, false, emit)
}

func NewRollupAggFill(interval, tzOffset time.Duration, fillGaps bool, emit func(Bar)) *RollupAgg {
	return &RollupAgg{
		intervalMs: int64(interval / time.Millisecond),
		offsetMs:   int64(tzOffset / time.Millisecond),
		cur:        make(map[string]*Bar, 16),
		emit:       emit,
		fillGaps:   fillGaps,
	}
}

func (a *RollupAgg) open(child Bar, bs int64) *Bar {
	b := child
	b.Interval = time.Duration(a.intervalMs) * time.Millisecond
	b.StartMs, b.EndMs = bs, bs+a.intervalMs
	b.Count = 1
	return &b
}

func (a *RollupAgg) OfferBar(child Bar) {
	bs := bucketStartMs(child.StartMs, a.intervalMs, a.offsetMs)
	cb := a.cur[child.Market]
	if cb == nil {
		a.cur[child.Market] = a.open(child, bs)
		return
	}
	switch {
	case bs < cb.StartMs:
		// 乱序子 bar 丢弃
		return
	case bs > cb.StartMs:
		a.emit(*cb)
		if a.fillGaps {
			for next := cb.StartMs + a.intervalMs; next < bs; next += a.intervalMs {
				empty := Bar{
					Market:   cb.Market,
					Interval: cb.Interval,
					StartMs:  next,
					EndMs:    next + a.intervalMs,
				}
				empty.Open.Set(&cb.Close)
				empty.High.Set(&cb.Close)
				empty.Low.Set(&cb.Close)
				empty.Close.Set(&cb.Close)
				a.emit(empty)
			}
		}
		a.cur[child.Market] = a.open(child, bs)
		return
	}
	if child.High.Gt(&cb.High) {
		cb.High.Set(&child.High)
	}
	if child.Low.Lt(&cb.Low) {
		cb.Low.Set(&child.Low)
	}
	cb.Close.Set(&child.Close)
	cb.Volume.Add(&cb.Volume, &child.Volume)
	cb.QuoteVolume.Add(&cb.QuoteVolume, &child.QuoteVolume)
	cb.Count++
}

// Flush 输出当前 bar 并清空
func (a *RollupAgg) Flush() {
	markets := make([]string, 0, len(a.cur))
	for m := range a.cur {
		markets = append(markets, m)
	}
	slices.Sort(markets)
	for _, m := range markets {
		a.emit(*a.cur[m])
		delete(a.cur, m)
	}
}
