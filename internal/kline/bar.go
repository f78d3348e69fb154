package kline

import (
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"clobex.com/internal/engine"
	"clobex.com/internal/fixed"
)

// Trade 聚合器的输入，来自引擎的成交事件；数值保持最小单位
type Trade struct {
	Market string
	Price  uint256.Int
	Amount uint256.Int // 基础资产
	Quote  uint256.Int // 报价资产
	TsMs   int64
}

// TradeFromEvent 只接受成交事件
func TradeFromEvent(ev engine.Event) (Trade, bool) {
	if ev.Type != engine.EvTrade || ev.Price == nil || ev.Amount == nil {
		return Trade{}, false
	}
	t := Trade{Market: ev.Market, TsMs: ev.Time / int64(time.Millisecond)}
	t.Price.Set(ev.Price)
	t.Amount.Set(ev.Amount)
	if ev.Quote != nil {
		t.Quote.Set(ev.Quote)
	}
	return t, true
}

// Bar K 线（OHLCV），覆盖 [StartMs, EndMs)
// Count：TradeAgg 里是成交笔数，RollupAgg 里是合并的子 bar 数
type Bar struct {
	Market   string
	Interval time.Duration
	StartMs  int64
	EndMs    int64

	Open  uint256.Int
	High  uint256.Int
	Low   uint256.Int
	Close uint256.Int

	Volume      uint256.Int
	QuoteVolume uint256.Int
	Count       int64
}

func (b Bar) TF() string { return TF(b.Interval) }

func (b Bar) String() string {
	return fmt.Sprintf("%s %s [%d,%d) O=%s H=%s L=%s C=%s V=%s n=%d",
		b.Market, b.TF(), b.StartMs, b.EndMs,
		b.Open.Dec(), b.High.Dec(), b.Low.Dec(), b.Close.Dec(), b.Volume.Dec(), b.Count)
}

// TF 周期的简写，用在 topic 和接口参数里
func TF(d time.Duration) string {
	switch d {
	case time.Second:
		return "1s"
	case time.Minute:
		return "1m"
	case time.Hour:
		return "1h"
	case 24 * time.Hour:
		return "1d"
	}
	if d > 0 && d%time.Second == 0 {
		return fmt.Sprintf("%ds", int64(d/time.Second))
	}
	return d.String()
}

// ParseTF TF 的反向
func ParseTF(s string) (time.Duration, bool) {
	switch s {
	case "1s":
		return time.Second, true
	case "1m":
		return time.Minute, true
	case "1h":
		return time.Hour, true
	case "1d":
		return 24 * time.Hour, true
	}
	return 0, false
}

// Decimals 市场精度；价格是 1e18 定点的 报价/基础 比值
type Decimals struct {
	Base, Quote int32
}

func (d Decimals) price() int32 { return fixed.Decimals + d.Quote - d.Base }

// BarDTO 对外格式，数值都是人类可读的十进制字符串
type BarDTO struct {
	Market      string `json:"market"`
	Interval    string `json:"interval"`
	StartMs     int64  `json:"start_ms"`
	EndMs       int64  `json:"end_ms"`
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	Volume      string `json:"volume"`
	QuoteVolume string `json:"quote_volume"`
	Count       int64  `json:"count"`
}

func ToDTO(b Bar, d Decimals) BarDTO {
	p := d.price()
	return BarDTO{
		Market:      b.Market,
		Interval:    b.TF(),
		StartMs:     b.StartMs,
		EndMs:       b.EndMs,
		Open:        fixed.FormatUnits(&b.Open, p),
		High:        fixed.FormatUnits(&b.High, p),
		Low:         fixed.FormatUnits(&b.Low, p),
		Close:       fixed.FormatUnits(&b.Close, p),
		Volume:      fixed.FormatUnits(&b.Volume, d.Base),
		QuoteVolume: fixed.FormatUnits(&b.QuoteVolume, d.Quote),
		Count:       b.Count,
	}
}

// bucketStartMs 时间戳所在桶的起点；offsetMs 用于按时区对齐（例如日线按 UTC+8 切）
// ((ts+off)/interval)*interval - off，负数时间戳向下取整
func bucketStartMs(tsMs, intervalMs, offsetMs int64) int64 {
	x := tsMs + offsetMs
	q := x / intervalMs
	if x%intervalMs < 0 {
		q--
	}
	return q*intervalMs - offsetMs
}
