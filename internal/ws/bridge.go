package ws

import (
	"github.com/segmentio/encoding/json"

	"clobex.com/internal/fixed"
	"clobex.com/internal/kline"
)

func KlineTopic(tf, market string) string { return "kline:" + tf + ":" + market }
func TradeTopic(market string) string     { return "trade:" + market }

// Bridge 把聚合器的 bar 和逐笔成交转成 ws payload 发到 hub
type Bridge struct {
	hub      *Hub
	decimals map[string]kline.Decimals
}

func NewBridge(h *Hub, decimals map[string]kline.Decimals) *Bridge {
	return &Bridge{hub: h, decimals: decimals}
}

func (b *Bridge) dec(market string) kline.Decimals {
	if d, ok := b.decimals[market]; ok {
		return d
	}
	return kline.Decimals{Base: fixed.Decimals, Quote: fixed.Decimals}
}

func (b *Bridge) Bar(bar kline.Bar) {
	dto := kline.ToDTO(bar, b.dec(bar.Market))
	topic := KlineTopic(dto.Interval, bar.Market)
	b.publish(topic, ServerMsg{Type: "kline", Topic: topic, Bar: &dto})
}

func (b *Bridge) Trade(t kline.Trade) {
	d := b.dec(t.Market)
	topic := TradeTopic(t.Market)
	b.publish(topic, ServerMsg{Type: "trade", Topic: topic, Trade: &TradeDTO{
		Market: t.Market,
		Price:  fixed.FormatUnits(&t.Price, fixed.Decimals+d.Quote-d.Base),
		Amount: fixed.FormatUnits(&t.Amount, d.Base),
		Quote:  fixed.FormatUnits(&t.Quote, d.Quote),
		TsMs:   t.TsMs,
	}})
}

func (b *Bridge) publish(topic string, msg ServerMsg) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	b.hub.Publish(topic, payload)
}
