package book

import (
	"testing"

	"github.com/holiman/uint256"

	"clobex.com/internal/order"
)

func p(v uint64) *uint256.Int { return uint256.NewInt(v) }

func mustInsert(t *testing.T, b *Book, id uint64, s order.Side, price uint64) {
	t.Helper()
	if err := b.Insert(id, s, p(price)); err != nil {
		t.Fatalf("insert %d: %v", id, err)
	}
}

func TestBook_BestAsk(t *testing.T) {
	b := New()
	mustInsert(t, b, 1, order.Sell, 101)
	mustInsert(t, b, 2, order.Sell, 100)

	price, id, ok := b.BestAsk()
	if !ok || price.Uint64() != 100 || id != 2 {
		t.Fatalf("best ask expected 100/#2, got %v #%d %v", price.Dec(), id, ok)
	}

	// 撤掉 best 桶里的订单，best 应该变为 101
	if !b.Remove(2) {
		t.Fatalf("remove failed")
	}
	price, id, ok = b.BestAsk()
	if !ok || price.Uint64() != 101 || id != 1 {
		t.Fatalf("best ask expected 101/#1, got %v #%d %v", price.Dec(), id, ok)
	}
	if b.LevelCount(order.Sell) != 1 {
		t.Fatalf("empty level should be dropped, levels=%d", b.LevelCount(order.Sell))
	}
}

func TestBook_BestBid(t *testing.T) {
	b := New()
	mustInsert(t, b, 1, order.Buy, 99)
	mustInsert(t, b, 2, order.Buy, 100)

	price, id, ok := b.BestBid()
	if !ok || price.Uint64() != 100 || id != 2 {
		t.Fatalf("best bid expected 100/#2, got %v #%d %v", price.Dec(), id, ok)
	}
	if !b.Remove(2) {
		t.Fatalf("remove failed")
	}
	price, _, ok = b.BestBid()
	if !ok || price.Uint64() != 99 {
		t.Fatalf("best bid expected 99, got %v %v", price.Dec(), ok)
	}
	if !b.Remove(1) {
		t.Fatalf("remove failed")
	}
	if _, _, ok = b.BestBid(); ok {
		t.Fatalf("bids should be empty")
	}
}

func TestBook_FIFOWithinLevel(t *testing.T) {
	b := New()
	mustInsert(t, b, 1, order.Sell, 100)
	mustInsert(t, b, 2, order.Sell, 100)
	mustInsert(t, b, 3, order.Sell, 100)

	for _, want := range []uint64{1, 2, 3} {
		id, ok := b.RemoveFront(order.Sell, p(100))
		if !ok || id != want {
			t.Fatalf("expected front %d, got %d %v", want, id, ok)
		}
	}
	if _, ok := b.RemoveFront(order.Sell, p(100)); ok {
		t.Fatalf("level should be empty")
	}
	if b.Len(order.Sell) != 0 || b.LevelCount(order.Sell) != 0 {
		t.Fatalf("book should be empty")
	}
}

func TestBook_PushFrontRestoresPriority(t *testing.T) {
	b := New()
	mustInsert(t, b, 1, order.Buy, 100)
	mustInsert(t, b, 2, order.Buy, 100)

	id, _ := b.RemoveFront(order.Buy, p(100))
	if err := b.PushFront(id, order.Buy, p(100)); err != nil {
		t.Fatalf("push front: %v", err)
	}
	ids := b.IDs(order.Buy, 0)
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("unexpected order after push front: %v", ids)
	}
}

func TestBook_IterationOrder(t *testing.T) {
	b := New()
	// 卖盘：价格升序，同价 FIFO
	mustInsert(t, b, 1, order.Sell, 102)
	mustInsert(t, b, 2, order.Sell, 100)
	mustInsert(t, b, 3, order.Sell, 101)
	mustInsert(t, b, 4, order.Sell, 100)
	// 买盘：价格降序
	mustInsert(t, b, 5, order.Buy, 90)
	mustInsert(t, b, 6, order.Buy, 95)

	asks := b.IDs(order.Sell, 0)
	want := []uint64{2, 4, 3, 1}
	for i := range want {
		if asks[i] != want[i] {
			t.Fatalf("ask order expected %v, got %v", want, asks)
		}
	}
	if got := b.IDs(order.Sell, 3); len(got) != 3 || got[2] != 3 {
		t.Fatalf("depth 3 expected [2 4 3], got %v", got)
	}
	bids := b.IDs(order.Buy, 0)
	if len(bids) != 2 || bids[0] != 6 || bids[1] != 5 {
		t.Fatalf("bid order expected [6 5], got %v", bids)
	}

	var prices []uint64
	b.Levels(order.Sell, 2, func(price uint256.Int, ids []uint64) bool {
		prices = append(prices, price.Uint64())
		return true
	})
	if len(prices) != 2 || prices[0] != 100 || prices[1] != 101 {
		t.Fatalf("levels expected [100 101], got %v", prices)
	}
}

func TestBook_RemoveMiddle(t *testing.T) {
	b := New()
	for i := uint64(1); i <= 5; i++ {
		mustInsert(t, b, i, order.Sell, 100+i)
	}
	if !b.Remove(3) {
		t.Fatalf("remove failed")
	}
	if b.Remove(3) {
		t.Fatalf("second remove should fail")
	}
	if b.Contains(3) {
		t.Fatalf("id 3 should be gone")
	}
	for _, id := range b.IDs(order.Sell, 0) {
		if id == 3 {
			t.Fatalf("id 3 still iterated")
		}
	}
	if b.Len(order.Sell) != 4 {
		t.Fatalf("expected 4 asks, got %d", b.Len(order.Sell))
	}
	side, price, ok := b.Locate(4)
	if !ok || side != order.Sell || price.Uint64() != 104 {
		t.Fatalf("locate 4: %v %v %v", side, price.Dec(), ok)
	}
}

func TestBook_Rejects(t *testing.T) {
	b := New()
	mustInsert(t, b, 1, order.Buy, 100)
	if err := b.Insert(1, order.Sell, p(101)); err != ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if err := b.Insert(2, order.Buy, p(0)); err != ErrZeroPrice {
		t.Fatalf("expected ErrZeroPrice, got %v", err)
	}
	if err := b.Insert(2, order.Side(9), p(1)); err != ErrInvalidSide {
		t.Fatalf("expected ErrInvalidSide, got %v", err)
	}
}

func TestBook_Crossed(t *testing.T) {
	b := New()
	mustInsert(t, b, 1, order.Buy, 100)
	mustInsert(t, b, 2, order.Sell, 101)
	if b.Crossed() {
		t.Fatalf("100/101 is not crossed")
	}
	mustInsert(t, b, 3, order.Buy, 101)
	if !b.Crossed() {
		t.Fatalf("101/101 is crossed")
	}
}
