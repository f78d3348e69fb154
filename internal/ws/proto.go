package ws

import "clobex.com/internal/kline"

const (
	OpSub   = "sub"
	OpUnsub = "unsub"
)

type ClientMsg struct {
	Type   string   `json:"type"` // sub | unsub
	Topics []string `json:"topics"`
}

type TradeDTO struct {
	Market string `json:"market"`
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Quote  string `json:"quote"`
	TsMs   int64  `json:"ts_ms"`
}

type ServerMsg struct {
	Type  string        `json:"type"`  // kline | trade
	Topic string        `json:"topic"` // kline:1m:ETH-USDC / trade:ETH-USDC
	Bar   *kline.BarDTO `json:"bar,omitempty"`
	Trade *TradeDTO     `json:"trade,omitempty"`
}
