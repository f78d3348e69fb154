package kline

import (
	"sync"
	"time"
)

// History 每个 (market, interval) 保留最近 N 根已收盘的 bar，给 HTTP 查询用
type History struct {
	mu    sync.RWMutex
	size  int
	rings map[histKey]*ring
}

type histKey struct {
	market   string
	interval time.Duration
}

type ring struct {
	bars []Bar
	next int
	full bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = 1000
	}
	return &History{size: size, rings: make(map[histKey]*ring, 64)}
}

func (h *History) Add(b Bar) {
	k := histKey{b.Market, b.Interval}
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rings[k]
	if r == nil {
		r = &ring{bars: make([]Bar, h.size)}
		h.rings[k] = r
	}
	// 补空K 或 flush 可能重复同一个桶：覆盖最后一根
	if last, ok := r.last(); ok && last.StartMs == b.StartMs {
		r.bars[(r.next-1+len(r.bars))%len(r.bars)] = b
		return
	}
	r.bars[r.next] = b
	r.next++
	if r.next == len(r.bars) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) last() (Bar, bool) {
	if !r.full && r.next == 0 {
		return Bar{}, false
	}
	return r.bars[(r.next-1+len(r.bars))%len(r.bars)], true
}

// Recent 按时间升序返回最多 limit 根
func (h *History) Recent(market string, interval time.Duration, limit int) []Bar {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r := h.rings[histKey{market, interval}]
	if r == nil {
		return nil
	}
	n := r.next
	if r.full {
		n = len(r.bars)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Bar, 0, limit)
	for i := limit; i > 0; i-- {
		out = append(out, r.bars[(r.next-i+len(r.bars))%len(r.bars)])
	}
	return out
}
