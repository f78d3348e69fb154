package clob

import (
	"fmt"

	"github.com/holiman/uint256"

	"clobex.com/internal/fee"
	"clobex.com/internal/ledger"
	"clobex.com/internal/order"
)

type volumeRecord struct {
	trader   string
	notional uint256.Int
}

// call 一次写操作的上下文：账本事务 + 订单/价格簿的 undo 日志 + 暂存的事件
// 出错时按逆序执行 undo 并回滚账本，成功后才回调事件、记录成交量
type call struct {
	m       *Market
	tx      *ledger.Tx
	now     int64
	undo    []func()
	events  []func(Emitter)
	volumes []volumeRecord
}

func (m *Market) atomically(now int64, emit Emitter, fn func(c *call) error) (err error) {
	c := &call{m: m, tx: m.ledger.Begin(), now: now}
	committed := false
	defer func() {
		if committed {
			return
		}
		for i := len(c.undo) - 1; i >= 0; i-- {
			c.undo[i]()
		}
		c.tx.Rollback()
	}()

	if err = fn(c); err != nil {
		return err
	}
	changes := c.tx.Commit()
	committed = true

	for i := range c.volumes {
		m.fees.Record(c.volumes[i].trader, &c.volumes[i].notional, now)
	}
	if emit == nil {
		return nil
	}
	for _, ev := range c.events {
		ev(emit)
	}
	for _, ch := range changes {
		emit.Balance(ch)
	}
	return nil
}

func (c *call) emit(fn func(Emitter)) { c.events = append(c.events, fn) }

func (c *call) record(trader string, notional *uint256.Int) {
	if notional.IsZero() {
		return
	}
	r := volumeRecord{trader: trader}
	r.notional.Set(notional)
	c.volumes = append(c.volumes, r)
}

// ---------- 带 undo 的订单表操作 ----------

func (c *call) create(o order.Order) order.Order {
	c.m.seq++
	o.Seq = c.m.seq
	created := c.m.orders.Create(o)
	c.undo = append(c.undo, func() {
		c.m.orders.Discard(created.ID)
		c.m.seq--
	})
	return created
}

func (c *call) snapshot(id uint64) {
	before, ok := c.m.orders.Get(id)
	if !ok {
		return
	}
	c.undo = append(c.undo, func() { c.m.orders.Restore(before) })
}

func (c *call) fill(id uint64, base, quote *uint256.Int) (order.Order, error) {
	c.snapshot(id)
	return c.m.orders.Fill(id, base, quote)
}

func (c *call) cancel(id uint64) (order.Order, error) {
	c.snapshot(id)
	return c.m.orders.Cancel(id)
}

// release 减少订单冻结额，并在账本中解冻同样数量
func (c *call) release(o order.Order, amount *uint256.Int) (order.Order, error) {
	if amount.IsZero() {
		return o, nil
	}
	c.snapshot(o.ID)
	updated, err := c.m.orders.Release(o.ID, amount)
	if err != nil {
		return o, err
	}
	if err := c.tx.Unlock(o.Trader, c.m.lockedAsset(o.Side), amount); err != nil {
		return o, err
	}
	return updated, nil
}

// consume 成交消耗冻结额（账本侧由 SettleFill 扣减）
func (c *call) consume(o order.Order, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	c.snapshot(o.ID)
	_, err := c.m.orders.Release(o.ID, amount)
	return err
}

// ---------- 带 undo 的价格簿操作 ----------

func (c *call) rest(o order.Order) error {
	if err := c.m.book.Insert(o.ID, o.Side, &o.Price); err != nil {
		return fmt.Errorf("rest order %d: %w", o.ID, err)
	}
	c.undo = append(c.undo, func() { c.m.book.Remove(o.ID) })
	return nil
}

// popFront 被吃完的挂单必然在本侧最优档位的队头
func (c *call) popFront(o order.Order) error {
	price, front, ok := c.m.book.Best(o.Side)
	if !ok || front != o.ID || !price.Eq(&o.Price) {
		return fmt.Errorf("%w: order %d is not at the front of %s book", ErrInvariant, o.ID, o.Side)
	}
	c.m.book.RemoveFront(o.Side, &price)
	c.undo = append(c.undo, func() { _ = c.m.book.PushFront(o.ID, o.Side, &price) })
	return nil
}

func (c *call) quoteFee(trader string, role fee.Role) fee.Rates {
	return c.m.fees.Quote(trader, role, c.now)
}
