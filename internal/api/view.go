package api

import (
	"github.com/holiman/uint256"

	"clobex.com/internal/clob"
	"clobex.com/internal/fee"
	"clobex.com/internal/fixed"
	"clobex.com/internal/order"
)

// units 市场的精度换算：数量按基础资产，成交额按报价资产，
// 价格是 1e18 定点的 报价/基础 比值，所以价格精度 = 18 + quote - base
type units struct {
	base, quote int32
}

func unitsOf(info clob.Info) units { return units{base: info.BaseDecimals, quote: info.QuoteDecimals} }

func (u units) price() int32 { return fixed.Decimals + u.quote - u.base }

func (u units) parsePrice(s string) (*uint256.Int, error)  { return fixed.ParseUnits(s, u.price()) }
func (u units) parseAmount(s string) (*uint256.Int, error) { return fixed.ParseUnits(s, u.base) }
func (u units) parseQuote(s string) (*uint256.Int, error)  { return fixed.ParseUnits(s, u.quote) }

func (u units) fmtPrice(v *uint256.Int) string  { return fixed.FormatUnits(v, u.price()) }
func (u units) fmtAmount(v *uint256.Int) string { return fixed.FormatUnits(v, u.base) }
func (u units) fmtQuote(v *uint256.Int) string  { return fixed.FormatUnits(v, u.quote) }

type OrderView struct {
	ID          uint64 `json:"id"`
	Market      string `json:"market"`
	Trader      string `json:"trader"`
	Side        string `json:"side"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Price       string `json:"price"`
	Amount      string `json:"amount"`
	Remaining   string `json:"remaining"`
	Filled      string `json:"filled"`
	FilledQuote string `json:"filled_quote"`
	Reserved    string `json:"reserved"`
	Timestamp   int64  `json:"timestamp"`
}

func (u units) order(o order.Order) OrderView {
	reserved := u.fmtAmount(&o.Reserved)
	if o.Side == order.Buy {
		reserved = u.fmtQuote(&o.Reserved)
	}
	return OrderView{
		ID:          o.ID,
		Market:      o.Market,
		Trader:      o.Trader,
		Side:        o.Side.String(),
		Kind:        o.Kind.String(),
		Status:      o.Status.String(),
		Price:       u.fmtPrice(&o.Price),
		Amount:      u.fmtAmount(&o.Original),
		Remaining:   u.fmtAmount(&o.Remaining),
		Filled:      u.fmtAmount(o.Filled()),
		FilledQuote: u.fmtQuote(&o.FilledQuote),
		Reserved:    reserved,
		Timestamp:   o.Timestamp,
	}
}

type LevelView struct {
	Price  string `json:"price"`
	Amount string `json:"amount"`
	Orders int    `json:"orders"`
}

type BookView struct {
	Market    string      `json:"market"`
	BestBid   string      `json:"best_bid,omitempty"`
	BestBidID uint64      `json:"best_bid_id,omitempty"`
	BestAsk   string      `json:"best_ask,omitempty"`
	BestAskID uint64      `json:"best_ask_id,omitempty"`
	Bids      []LevelView `json:"bids"`
	Asks      []LevelView `json:"asks"`
	BidIDs    []uint64    `json:"bid_ids"`
	AskIDs    []uint64    `json:"ask_ids"`
}

func (u units) levels(in []clob.Level) []LevelView {
	out := make([]LevelView, 0, len(in))
	for i := range in {
		out = append(out, LevelView{
			Price:  u.fmtPrice(&in[i].Price),
			Amount: u.fmtAmount(&in[i].Amount),
			Orders: in[i].Orders,
		})
	}
	return out
}

func bookView(m *clob.Market, depth int) BookView {
	u := unitsOf(m.Info())
	v := BookView{Market: m.Name()}
	if p, id, ok := m.BestBid(); ok {
		v.BestBid, v.BestBidID = u.fmtPrice(&p), id
	}
	if p, id, ok := m.BestAsk(); ok {
		v.BestAsk, v.BestAskID = u.fmtPrice(&p), id
	}
	bids, asks := m.Depth(depth)
	v.Bids, v.Asks = u.levels(bids), u.levels(asks)
	v.BidIDs, v.AskIDs = m.OrderBook(depth)
	return v
}

type BalanceView struct {
	Trader    string `json:"trader"`
	Asset     string `json:"asset"`
	Available string `json:"available"`
	Locked    string `json:"locked"`
}

type MarketView struct {
	clob.Info
	Fees         fee.Schedule `json:"fees"`
	FeeRecipient string       `json:"fee_recipient"`
	Stats        struct {
		Orders     int `json:"orders"`
		OpenOrders int `json:"open_orders"`
		Bids       int `json:"bids"`
		Asks       int `json:"asks"`
	} `json:"stats"`
}

func marketView(m *clob.Market) MarketView {
	v := MarketView{Info: m.Info()}
	v.Fees, v.FeeRecipient = m.Fees()
	st := m.Stats()
	v.Stats.Orders, v.Stats.OpenOrders, v.Stats.Bids, v.Stats.Asks = st.Orders, st.OpenOrders, st.Bids, st.Asks
	return v
}
