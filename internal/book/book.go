package book

import (
	"errors"

	"github.com/holiman/uint256"
	"github.com/tidwall/btree"

	"clobex.com/internal/order"
)

var (
	ErrDuplicateID = errors.New("book: duplicate order id")
	ErrInvalidSide = errors.New("book: invalid side")
	ErrZeroPrice   = errors.New("book: zero price")
)

// 一侧盘口：price -> level 做 O(1) 定位，btree 维护价格顺序
// btree 的 Min 永远是该侧最优价（买盘按价格降序，卖盘按价格升序）
type sideBook struct {
	levels map[uint256.Int]*priceLevel
	index  *btree.BTreeG[*priceLevel]
	orders int
}

func newSideBook(side order.Side) sideBook {
	less := func(a, b *priceLevel) bool { return a.price.Lt(&b.price) }
	if side == order.Buy {
		less = func(a, b *priceLevel) bool { return a.price.Gt(&b.price) }
	}
	return sideBook{
		levels: make(map[uint256.Int]*priceLevel, 1024),
		index:  btree.NewBTreeGOptions(less, btree.Options{NoLocks: true}),
	}
}

func (s *sideBook) level(price *uint256.Int, create bool) *priceLevel {
	lv := s.levels[*price]
	if lv == nil && create {
		lv = &priceLevel{price: *price}
		s.levels[*price] = lv
		s.index.Set(lv)
	}
	return lv
}

func (s *sideBook) drop(lv *priceLevel) {
	delete(s.levels, lv.price)
	s.index.Delete(lv)
}

// Book 价格档位簿：两侧价格索引 + 每档 FIFO 队列，只存订单 id
// 订单详情以 order.Registry 为准
type Book struct {
	bids sideBook
	asks sideBook
	byID map[uint64]*lvNode // 订单索引：orderID -> node（撤单 O(1)）
}

func New() *Book {
	return &Book{
		bids: newSideBook(order.Buy),
		asks: newSideBook(order.Sell),
		byID: make(map[uint64]*lvNode, 1024),
	}
}

func (b *Book) side(s order.Side) *sideBook {
	if s == order.Buy {
		return &b.bids
	}
	return &b.asks
}

func (b *Book) check(id uint64, s order.Side, price *uint256.Int) error {
	if !s.Valid() {
		return ErrInvalidSide
	}
	if price.IsZero() {
		return ErrZeroPrice
	}
	if _, exists := b.byID[id]; exists {
		return ErrDuplicateID
	}
	return nil
}

// Insert 追加到 price 档位队尾，档位不存在则创建
func (b *Book) Insert(id uint64, s order.Side, price *uint256.Int) error {
	if err := b.check(id, s, price); err != nil {
		return err
	}
	sb := b.side(s)
	lv := sb.level(price, true)
	n := &lvNode{id: id, lv: lv, side: s}
	lv.pushBack(n)
	b.byID[id] = n
	sb.orders++
	return nil
}

// PushFront 插到档位队头，用于撤销一次 RemoveFront
func (b *Book) PushFront(id uint64, s order.Side, price *uint256.Int) error {
	if err := b.check(id, s, price); err != nil {
		return err
	}
	sb := b.side(s)
	lv := sb.level(price, true)
	n := &lvNode{id: id, lv: lv, side: s}
	lv.pushFront(n)
	b.byID[id] = n
	sb.orders++
	return nil
}

// Remove 撤单：byID 定位 + 摘链，档位空了就删掉
func (b *Book) Remove(id uint64) bool {
	n := b.byID[id]
	if n == nil {
		return false
	}
	b.unlink(n)
	return true
}

// RemoveFront 弹出 price 档位的队头
func (b *Book) RemoveFront(s order.Side, price *uint256.Int) (uint64, bool) {
	if !s.Valid() {
		return 0, false
	}
	lv := b.side(s).level(price, false)
	if lv == nil || lv.empty() {
		return 0, false
	}
	n := lv.head
	b.unlink(n)
	return n.id, true
}

func (b *Book) unlink(n *lvNode) {
	sb := b.side(n.side)
	lv := n.lv
	lv.remove(n)
	delete(b.byID, n.id)
	sb.orders--
	if lv.empty() {
		sb.drop(lv)
	}
}

// Best 返回该侧最优价以及队头订单 id
func (b *Book) Best(s order.Side) (price uint256.Int, id uint64, ok bool) {
	if !s.Valid() {
		return price, 0, false
	}
	lv, ok := b.side(s).index.Min()
	if !ok {
		return price, 0, false
	}
	return lv.price, lv.head.id, true
}

// BestBid 最高买价
func (b *Book) BestBid() (uint256.Int, uint64, bool) { return b.Best(order.Buy) }

// BestAsk 最低卖价
func (b *Book) BestAsk() (uint256.Int, uint64, bool) { return b.Best(order.Sell) }

// Levels 按撮合顺序遍历前 depth 个档位（depth<=0 表示全部），fn 返回 false 提前结束
func (b *Book) Levels(s order.Side, depth int, fn func(price uint256.Int, ids []uint64) bool) {
	if !s.Valid() {
		return
	}
	n := 0
	b.side(s).index.Scan(func(lv *priceLevel) bool {
		if depth > 0 && n >= depth {
			return false
		}
		n++
		ids := make([]uint64, 0, lv.size)
		for cur := lv.head; cur != nil; cur = cur.next {
			ids = append(ids, cur.id)
		}
		return fn(lv.price, ids)
	})
}

// IDs 按撮合顺序返回前 depth 个订单 id（depth<=0 表示全部）
func (b *Book) IDs(s order.Side, depth int) []uint64 {
	out := make([]uint64, 0, 16)
	b.Levels(s, 0, func(_ uint256.Int, ids []uint64) bool {
		for _, id := range ids {
			if depth > 0 && len(out) >= depth {
				return false
			}
			out = append(out, id)
		}
		return depth <= 0 || len(out) < depth
	})
	return out
}

// Locate 返回订单所在的方向和价格
func (b *Book) Locate(id uint64) (order.Side, uint256.Int, bool) {
	n := b.byID[id]
	if n == nil {
		return 0, uint256.Int{}, false
	}
	return n.side, n.lv.price, true
}

func (b *Book) Contains(id uint64) bool {
	_, ok := b.byID[id]
	return ok
}

// Len 该侧挂单数
func (b *Book) Len(s order.Side) int {
	if !s.Valid() {
		return 0
	}
	return b.side(s).orders
}

// LevelCount 该侧档位数
func (b *Book) LevelCount(s order.Side) int {
	if !s.Valid() {
		return 0
	}
	return b.side(s).index.Len()
}

// Crossed 买一 >= 卖一
func (b *Book) Crossed() bool {
	bid, _, okb := b.BestBid()
	ask, _, oka := b.BestAsk()
	return okb && oka && !bid.Lt(&ask)
}
