package engine

import (
	"github.com/holiman/uint256"

	"clobex.com/internal/clob"
	"clobex.com/internal/fee"
	"clobex.com/internal/ledger"
	"clobex.com/internal/order"
)

// collector 把一条命令产生的回调收集成 Event，之后统一写 outbox 或直接发布
type collector struct {
	seq   uint64
	reqID string
	ts    int64
	evs   []Event
}

var _ clob.Emitter = (*collector)(nil)

func (c *collector) reset(seq uint64, cmd Command) {
	c.seq, c.reqID, c.ts = seq, cmd.ReqID, cmd.ClientTs
	c.evs = c.evs[:0]
}

func (c *collector) push(ev Event) {
	ev.Seq = c.seq
	ev.Idx = uint16(len(c.evs))
	ev.ReqID = c.reqID
	if ev.Time == 0 {
		ev.Time = c.ts
	}
	c.evs = append(c.evs, ev)
}

func u256(v uint256.Int) *uint256.Int { return &v }

func orderEvent(t EventType, o order.Order) Event {
	return Event{
		Type:      t,
		Market:    o.Market,
		OrderID:   o.ID,
		Trader:    o.Trader,
		Side:      o.Side,
		Kind:      o.Kind,
		Status:    o.Status,
		Price:     u256(o.Price),
		Amount:    u256(o.Original),
		Remaining: u256(o.Remaining),
	}
}

func (c *collector) Accepted(o order.Order) { c.push(orderEvent(EvAccepted, o)) }
func (c *collector) Added(o order.Order)    { c.push(orderEvent(EvAdded, o)) }

func (c *collector) Cancelled(o order.Order, reason string) {
	ev := orderEvent(EvCancelled, o)
	ev.Reason = reason
	c.push(ev)
}

func (c *collector) Rejected(market, trader string, orderID uint64, reason string) {
	c.push(Event{Type: EvRejected, Market: market, Trader: trader, OrderID: orderID, Reason: reason})
}

func (c *collector) Trade(t clob.Trade) {
	c.push(Event{
		Type:         EvTrade,
		Market:       t.Market,
		MakerOrderID: t.MakerOrderID,
		TakerOrderID: t.TakerOrderID,
		Maker:        t.Maker,
		Taker:        t.Taker,
		Side:         t.TakerSide,
		Status:       t.TakerStatus,
		Price:        u256(t.Price),
		Amount:       u256(t.Amount),
		Quote:        u256(t.Quote),
		MakerFee:     u256(t.MakerFee),
		TakerFee:     u256(t.TakerFee),
		Time:         t.Time,
	})
}

func (c *collector) Rebate(market, trader, asset string, amount uint256.Int) {
	c.push(Event{Type: EvRebate, Market: market, Trader: trader, Asset: asset, Amount: u256(amount)})
}

func (c *collector) Balance(ch ledger.Change) {
	c.push(Event{
		Type:      EvBalance,
		Trader:    ch.Trader,
		Asset:     ch.Asset,
		Available: u256(ch.Available),
		Locked:    u256(ch.Locked),
	})
}

func (c *collector) FeesChanged(market string, s fee.Schedule, recipient string) {
	c.push(Event{Type: EvFeesChanged, Market: market, Fees: &s, Recipient: recipient})
}
