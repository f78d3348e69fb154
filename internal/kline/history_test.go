package kline

import (
	"testing"
	"time"
)

func TestHistory_RecentWraps(t *testing.T) {
	h := NewHistory(3)
	for i := int64(0); i < 5; i++ {
		h.Add(Bar{Market: "ETH-USDC", Interval: time.Minute, StartMs: i * 60_000, Count: i})
	}
	got := h.Recent("ETH-USDC", time.Minute, 10)
	if len(got) != 3 {
		t.Fatalf("want 3 bars, got=%d", len(got))
	}
	for i, b := range got {
		if b.StartMs != int64(i+2)*60_000 {
			t.Fatalf("bar %d out of order: %d", i, b.StartMs)
		}
	}
	if got := h.Recent("ETH-USDC", time.Minute, 1); len(got) != 1 || got[0].StartMs != 240_000 {
		t.Fatalf("limit 1 should return the newest bar: %v", got)
	}
	if got := h.Recent("ETH-USDC", time.Hour, 10); got != nil {
		t.Fatalf("unknown interval should be empty: %v", got)
	}
}

func TestHistory_SameBucketReplaces(t *testing.T) {
	h := NewHistory(4)
	h.Add(Bar{Market: "ETH-USDC", Interval: time.Second, StartMs: 1000, Count: 1})
	h.Add(Bar{Market: "ETH-USDC", Interval: time.Second, StartMs: 1000, Count: 2})
	got := h.Recent("ETH-USDC", time.Second, 0)
	if len(got) != 1 || got[0].Count != 2 {
		t.Fatalf("same bucket should replace: %v", got)
	}
}
