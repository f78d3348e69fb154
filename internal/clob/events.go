package clob

import (
	"github.com/holiman/uint256"

	"clobex.com/internal/fee"
	"clobex.com/internal/ledger"
	"clobex.com/internal/order"
)

// Trade 一笔成交；Price 恒为 maker 的挂单价
type Trade struct {
	Market       string
	MakerOrderID uint64
	TakerOrderID uint64
	Maker        string
	Taker        string
	TakerSide    order.Side
	Price        uint256.Int
	Amount       uint256.Int // 基础资产
	Quote        uint256.Int // 报价资产
	MakerFee     uint256.Int // 以 maker 收到的资产计
	TakerFee     uint256.Int // 以 taker 收到的资产计
	MakerStatus  order.Status
	TakerStatus  order.Status
	Time         int64
}

// Emitter 由调用方提供；Market 只在调用成功提交后才回调（Rejected 除外）
type Emitter interface {
	Accepted(o order.Order)
	Rejected(market, trader string, orderID uint64, reason string)
	Added(o order.Order)
	Cancelled(o order.Order, reason string)
	Trade(t Trade)
	Rebate(market, trader, asset string, amount uint256.Int)
	Balance(c ledger.Change)
	FeesChanged(market string, s fee.Schedule, recipient string)
}

// NopEmitter 丢弃所有事件
type NopEmitter struct{}

func (NopEmitter) Accepted(order.Order)                       {}
func (NopEmitter) Rejected(string, string, uint64, string)    {}
func (NopEmitter) Added(order.Order)                          {}
func (NopEmitter) Cancelled(order.Order, string)              {}
func (NopEmitter) Trade(Trade)                                {}
func (NopEmitter) Rebate(string, string, string, uint256.Int) {}
func (NopEmitter) Balance(ledger.Change)                      {}
func (NopEmitter) FeesChanged(string, fee.Schedule, string)   {}

const (
	ReasonUser     = "user"
	ReasonUnfilled = "unfilled"
)
