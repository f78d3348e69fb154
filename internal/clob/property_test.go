package clob

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"pgregory.net/rapid"

	"clobex.com/internal/fee"
	"clobex.com/internal/fixed"
	"clobex.com/internal/ledger"
	"clobex.com/internal/order"
)

var traders = []string{"alice", "bob", "carol"}

// 允许的业务错误；其它错误（尤其是 ErrInvariant）都算失败
func expectedErr(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrAlreadyTerminal) ||
		errors.Is(err, ErrOrderNotFound)
}

func TestProperty_InvariantsHoldAfterEveryOperation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		deferMatching := rapid.Bool().Draw(t, "defer")
		makerBps := uint32(rapid.IntRange(0, 50).Draw(t, "makerBps"))
		takerBps := uint32(rapid.IntRange(0, 50).Draw(t, "takerBps"))
		flat, _ := fee.NewFlat(makerBps, takerBps)

		l := ledger.New()
		m, err := NewMarket(Config{
			Name: "BASE-QUOTE", Base: "BASE", Quote: "QUOTE",
			Fees: flat, DeferMatching: deferMatching, MaxMatchesPerCall: 4,
		}, l)
		if err != nil {
			t.Fatalf("new market: %v", err)
		}
		for _, tr := range traders {
			if _, err := l.Deposit(tr, "BASE", fixed.Units(200, 18)); err != nil {
				t.Fatalf("deposit: %v", err)
			}
			if _, err := l.Deposit(tr, "QUOTE", fixed.Units(20000, 18)); err != nil {
				t.Fatalf("deposit: %v", err)
			}
		}

		prevRemaining := map[uint64]uint256.Int{}
		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			now := int64(i + 1)
			rec := &recorder{}
			trader := rapid.SampledFrom(traders).Draw(t, "trader")
			op := rapid.IntRange(0, 5).Draw(t, "op")

			switch op {
			case 0, 1, 2:
				side := order.Side(rapid.IntRange(1, 2).Draw(t, "side"))
				req := SubmitRequest{
					Trader: trader,
					Side:   side,
					Kind:   order.Limit,
					Amount: fixed.Units(rapid.Uint64Range(1, 20).Draw(t, "amount"), 18),
					Price:  fixed.Units(rapid.Uint64Range(95, 105).Draw(t, "price"), 18),
					Time:   now,
				}
				if op == 2 {
					req.Kind, req.Price = order.Market, nil
					req.MaxQuote = fixed.Units(rapid.Uint64Range(1, 3000).Draw(t, "maxQuote"), 18)
				}
				if _, err := m.Submit(req, rec); err != nil && !expectedErr(err) {
					t.Fatalf("submit: %v", err)
				}
				checkPriority(t, side, rec.trades)
			case 3, 4:
				id := uint64(rapid.IntRange(1, int(m.orders.LastID())+1).Draw(t, "cancelID"))
				err := m.Cancel(trader, id, now, rec)
				if err != nil {
					if !expectedErr(err) {
						t.Fatalf("cancel: %v", err)
					}
					if len(rec.balances) != 0 || len(rec.cancelled) != 0 {
						t.Fatalf("failed cancel mutated state")
					}
				}
			case 5:
				n, err := m.MatchBatch(rapid.IntRange(0, 8).Draw(t, "max"), now, rec)
				if err != nil {
					t.Fatalf("match batch: %v", err)
				}
				if !deferMatching && n != 0 {
					t.Fatalf("continuous market matched %d in batch", n)
				}
			}

			if err := CheckLedger(l, m); err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			if bid, _, okb := m.BestBid(); okb && !deferMatching {
				if ask, _, oka := m.BestAsk(); oka && !bid.Lt(&ask) {
					t.Fatalf("crossed book bid=%s ask=%s", bid.Dec(), ask.Dec())
				}
			}

			for id := uint64(1); id <= m.orders.LastID(); id++ {
				o, _ := m.Order(id)
				if o.Remaining.IsZero() != (o.Status == order.Filled) {
					t.Fatalf("order %d remaining=%s status=%s", id, o.Remaining.Dec(), o.Status)
				}
				if prev, ok := prevRemaining[id]; ok && o.Remaining.Gt(&prev) {
					t.Fatalf("order %d remaining grew %s -> %s", id, prev.Dec(), o.Remaining.Dec())
				}
				prevRemaining[id] = o.Remaining
			}
		}
	})
}

// 同一次下单里成交价只会越来越差：买单价格不降，卖单价格不升；同价按挂单先后
func checkPriority(t *rapid.T, takerSide order.Side, trades []Trade) {
	for i := 1; i < len(trades); i++ {
		prev, cur := trades[i-1], trades[i]
		if cur.TakerOrderID != prev.TakerOrderID {
			continue
		}
		if takerSide == order.Buy && cur.Price.Lt(&prev.Price) ||
			takerSide == order.Sell && cur.Price.Gt(&prev.Price) {
			t.Fatalf("fill %d at better price than fill %d", i, i-1)
		}
		if cur.Price.Eq(&prev.Price) && cur.MakerOrderID < prev.MakerOrderID {
			t.Fatalf("later maker %d filled before %d at same price", prev.MakerOrderID, cur.MakerOrderID)
		}
	}
}
