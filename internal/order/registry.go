package order

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrAlreadyTerminal   = errors.New("order: already terminal")
	ErrInvalidTransition = errors.New("order: invalid status transition")
	ErrOverfill          = errors.New("order: fill exceeds remaining")
	ErrOverRelease       = errors.New("order: release exceeds reserved")
)

// Registry id -> 订单；订单永不删除，只会进入终态
// 不自带锁，由所属的 Market 串行化访问
type Registry struct {
	orders   map[uint64]*Order
	open     map[uint64]struct{}
	byTrader map[string][]uint64
	lastID   uint64
}

func NewRegistry() *Registry {
	return &Registry{
		orders:   make(map[uint64]*Order, 1024),
		open:     make(map[uint64]struct{}, 1024),
		byTrader: make(map[string][]uint64, 256),
	}
}

// Create 分配单调递增的 id 并保存订单
func (r *Registry) Create(o Order) Order {
	r.lastID++
	o.ID = r.lastID
	if o.Status == 0 {
		o.Status = Active
	}
	cp := o
	r.orders[o.ID] = &cp
	if o.Status.Open() {
		r.open[o.ID] = struct{}{}
	}
	r.byTrader[o.Trader] = append(r.byTrader[o.Trader], o.ID)
	return o
}

// Discard 撤销最近一次 Create（只给回滚用）
func (r *Registry) Discard(id uint64) {
	o := r.orders[id]
	if o == nil || id != r.lastID {
		return
	}
	delete(r.orders, id)
	delete(r.open, id)
	ids := r.byTrader[o.Trader]
	if n := len(ids); n > 0 && ids[n-1] == id {
		r.byTrader[o.Trader] = ids[:n-1]
	}
	if len(r.byTrader[o.Trader]) == 0 {
		delete(r.byTrader, o.Trader)
	}
	r.lastID--
}

// Restore 覆盖为旧值（只给回滚用，不做单调性检查）
func (r *Registry) Restore(o Order) {
	cur := r.orders[o.ID]
	if cur == nil {
		return
	}
	*cur = o
	if o.Status.Open() {
		r.open[o.ID] = struct{}{}
	} else {
		delete(r.open, o.ID)
	}
}

func (r *Registry) Get(id uint64) (Order, bool) {
	o := r.orders[id]
	if o == nil {
		return Order{}, false
	}
	return *o, true
}

// Open 返回仍可撮合/撤单的订单
func (r *Registry) Open(id uint64) (Order, error) {
	o := r.orders[id]
	if o == nil {
		return Order{}, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	if !o.Status.Open() {
		return *o, fmt.Errorf("%w: id=%d status=%s", ErrAlreadyTerminal, id, o.Status)
	}
	return *o, nil
}

// Fill 成交 base 数量，累计成交额 quote；remaining 只减不增
func (r *Registry) Fill(id uint64, base, quote *uint256.Int) (Order, error) {
	o, err := r.mutable(id)
	if err != nil {
		return Order{}, err
	}
	if base.Gt(&o.Remaining) {
		return *o, fmt.Errorf("%w: id=%d remaining=%s fill=%s", ErrOverfill, id, o.Remaining.Dec(), base.Dec())
	}
	next := PartiallyFilled
	if base.Eq(&o.Remaining) {
		next = Filled
	}
	if !canTransition(o.Status, next) {
		return *o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, next)
	}
	o.Remaining.Sub(&o.Remaining, base)
	o.FilledQuote.Add(&o.FilledQuote, quote)
	o.Status = next
	if next == Filled {
		delete(r.open, id)
	}
	return *o, nil
}

// Release 订单冻结额减少 amount（成交消耗、价格改善退款、撤单解冻）
func (r *Registry) Release(id uint64, amount *uint256.Int) (Order, error) {
	o := r.orders[id]
	if o == nil {
		return Order{}, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	if amount.Gt(&o.Reserved) {
		return *o, fmt.Errorf("%w: id=%d reserved=%s release=%s", ErrOverRelease, id, o.Reserved.Dec(), amount.Dec())
	}
	o.Reserved.Sub(&o.Reserved, amount)
	return *o, nil
}

// Cancel 进入 CANCELLED 终态，剩余数量保留
func (r *Registry) Cancel(id uint64) (Order, error) {
	o, err := r.mutable(id)
	if err != nil {
		return Order{}, err
	}
	if !canTransition(o.Status, Cancelled) {
		return *o, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, Cancelled)
	}
	o.Status = Cancelled
	delete(r.open, id)
	return *o, nil
}

func (r *Registry) mutable(id uint64) (*Order, error) {
	o := r.orders[id]
	if o == nil {
		return nil, fmt.Errorf("%w: id=%d", ErrNotFound, id)
	}
	if !o.Status.Open() {
		return nil, fmt.Errorf("%w: id=%d status=%s", ErrAlreadyTerminal, id, o.Status)
	}
	return o, nil
}

// OrdersOf 按创建顺序返回某用户的订单
func (r *Registry) OrdersOf(trader string, openOnly bool) []Order {
	ids := r.byTrader[trader]
	out := make([]Order, 0, len(ids))
	for _, id := range ids {
		o := r.orders[id]
		if openOnly && !o.Status.Open() {
			continue
		}
		out = append(out, *o)
	}
	return out
}

// ForEachOpen 遍历所有未终结订单（顺序不保证）
func (r *Registry) ForEachOpen(fn func(o Order)) {
	for id := range r.open {
		fn(*r.orders[id])
	}
}

func (r *Registry) Len() int       { return len(r.orders) }
func (r *Registry) OpenLen() int   { return len(r.open) }
func (r *Registry) LastID() uint64 { return r.lastID }
