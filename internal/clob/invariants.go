package clob

import (
	"fmt"

	"github.com/holiman/uint256"

	"clobex.com/internal/ledger"
	"clobex.com/internal/order"
)

// CheckInvariants 检查单个市场的结构不变量：
// 价格簿不交叉、簿内 id 与订单一致、未终结的限价单都在簿内
func (m *Market) CheckInvariants() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkBook()
}

func (m *Market) checkBook() error {
	if !m.deferMatching && m.book.Crossed() {
		bid, _, _ := m.book.BestBid()
		ask, _, _ := m.book.BestAsk()
		return fmt.Errorf("%w: %s crossed bid=%s ask=%s", ErrInvariant, m.name, bid.Dec(), ask.Dec())
	}

	var err error
	for _, s := range []order.Side{order.Buy, order.Sell} {
		m.book.Levels(s, 0, func(price uint256.Int, ids []uint64) bool {
			var prevSeq uint64
			for _, id := range ids {
				o, ok := m.orders.Get(id)
				switch {
				case !ok:
					err = fmt.Errorf("%w: book id %d has no order", ErrInvariant, id)
				case !o.Status.Open():
					err = fmt.Errorf("%w: book id %d is %s", ErrInvariant, id, o.Status)
				case o.Side != s || !o.Price.Eq(&price):
					err = fmt.Errorf("%w: book id %d at %s/%s but order is %s/%s", ErrInvariant, id, s, price.Dec(), o.Side, o.Price.Dec())
				case o.Seq <= prevSeq:
					err = fmt.Errorf("%w: level %s/%s not in time priority", ErrInvariant, s, price.Dec())
				}
				if err != nil {
					return false
				}
				prevSeq = o.Seq
			}
			return true
		})
		if err != nil {
			return err
		}
	}

	m.orders.ForEachOpen(func(o order.Order) {
		if err != nil {
			return
		}
		switch {
		case o.Remaining.IsZero():
			err = fmt.Errorf("%w: open order %d has zero remaining", ErrInvariant, o.ID)
		case o.Remaining.Gt(&o.Original):
			err = fmt.Errorf("%w: order %d remaining > original", ErrInvariant, o.ID)
		case !m.book.Contains(o.ID):
			err = fmt.Errorf("%w: open order %d not in book", ErrInvariant, o.ID)
		}
	})
	return err
}

// reserved 本市场未终结订单按资产汇总的冻结额
func (m *Market) reserved(acc map[string]*uint256.Int) {
	m.orders.ForEachOpen(func(o order.Order) {
		asset := m.lockedAsset(o.Side)
		sum := acc[asset]
		if sum == nil {
			sum = new(uint256.Int)
			acc[asset] = sum
		}
		sum.Add(sum, &o.Reserved)
	})
}

// CheckLedger 检查共享账本的全局不变量：
// 每种资产托管守恒；账本冻结总额 == 所有市场未终结订单的冻结额之和
func CheckLedger(l *ledger.Ledger, markets ...*Market) error {
	for _, m := range markets {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	reserved := make(map[string]*uint256.Int, 8)
	for _, m := range markets {
		if err := m.checkBook(); err != nil {
			return err
		}
		m.reserved(reserved)
	}
	if err := l.CheckConservation(); err != nil {
		return err
	}
	// 账本里没有但订单有冻结额的资产也要检查
	assets := l.Assets()
	for asset := range reserved {
		assets = append(assets, asset)
	}
	for _, asset := range assets {
		_, locked := l.Totals(asset)
		want := reserved[asset]
		if want == nil {
			want = new(uint256.Int)
		}
		if !locked.Eq(want) {
			return fmt.Errorf("%w: %s locked=%s reserved=%s", ErrInvariant, asset, locked.Dec(), want.Dec())
		}
	}
	return nil
}
