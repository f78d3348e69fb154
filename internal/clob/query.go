package clob

import (
	"fmt"

	"github.com/holiman/uint256"

	"clobex.com/internal/fee"
	"clobex.com/internal/order"
)

func (m *Market) Order(id uint64) (order.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders.Get(id)
	if !ok {
		return order.Order{}, fmt.Errorf("%w: id=%d", ErrOrderNotFound, id)
	}
	return o, nil
}

func (m *Market) OrdersOf(trader string, openOnly bool) []order.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.orders.OrdersOf(trader, openOnly)
}

// BestBid 返回 (价格, 队头订单 id)
func (m *Market) BestBid() (uint256.Int, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.BestBid()
}

func (m *Market) BestAsk() (uint256.Int, uint64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.BestAsk()
}

// OrderBook 按撮合顺序返回两侧前 depth 个订单 id
func (m *Market) OrderBook(depth int) (bids, asks []uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.book.IDs(order.Buy, depth), m.book.IDs(order.Sell, depth)
}

// Level 聚合后的档位
type Level struct {
	Price  uint256.Int
	Amount uint256.Int // 该档剩余数量之和
	Orders int
}

// Depth 两侧前 depth 个档位的聚合深度
func (m *Market) Depth(depth int) (bids, asks []Level) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.levels(order.Buy, depth), m.levels(order.Sell, depth)
}

func (m *Market) levels(s order.Side, depth int) []Level {
	out := make([]Level, 0, 16)
	m.book.Levels(s, depth, func(price uint256.Int, ids []uint64) bool {
		lv := Level{Price: price, Orders: len(ids)}
		for _, id := range ids {
			o, _ := m.orders.Get(id)
			lv.Amount.Add(&lv.Amount, &o.Remaining)
		}
		out = append(out, lv)
		return true
	})
	return out
}

// Fees 当前费率表和手续费收款账户
func (m *Market) Fees() (fee.Schedule, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fees.Describe(), m.feeRecipient
}

// Stats 挂单概况
type Stats struct {
	Orders     int
	OpenOrders int
	Bids       int
	Asks       int
	BidLevels  int
	AskLevels  int
}

func (m *Market) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Orders:     m.orders.Len(),
		OpenOrders: m.orders.OpenLen(),
		Bids:       m.book.Len(order.Buy),
		Asks:       m.book.Len(order.Sell),
		BidLevels:  m.book.LevelCount(order.Buy),
		AskLevels:  m.book.LevelCount(order.Sell),
	}
}
