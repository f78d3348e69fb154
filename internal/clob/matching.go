package clob

import (
	"fmt"

	"github.com/holiman/uint256"

	"clobex.com/internal/fee"
	"clobex.com/internal/fixed"
	"clobex.com/internal/order"
)

type SubmitRequest struct {
	Trader string
	Side   order.Side
	Kind   order.Kind
	Price  *uint256.Int // 限价单必填，市价单忽略
	Amount *uint256.Int // 基础资产数量
	// MaxQuote 市价买单的报价资产上限，也是下单时冻结的数量
	MaxQuote *uint256.Int
	Time     int64 // 命令时间 unix nano
}

// Submit 下单：冻结 -> 建单 -> 撮合 -> 剩余挂单（市价单剩余撤销）
// 任何一步失败整笔调用回滚，返回错误之外不留下任何状态变化
func (m *Market) Submit(req SubmitRequest, emit Emitter) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var id uint64
	err := m.atomically(req.Time, emit, func(c *call) error {
		var err error
		id, err = c.submit(req)
		return err
	})
	if err != nil {
		if emit != nil {
			emit.Rejected(m.name, req.Trader, 0, err.Error())
		}
		return 0, err
	}
	return id, nil
}

func (m *Market) validate(req SubmitRequest) (lock *uint256.Int, err error) {
	if req.Trader == "" {
		return nil, fmt.Errorf("%w: empty trader", ErrInvalidAddress)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSide, req.Side)
	}
	if !req.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, req.Kind)
	}
	if req.Amount == nil || req.Amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	if req.Kind == order.Market {
		if req.Side == order.Sell {
			return req.Amount.Clone(), nil
		}
		if req.MaxQuote == nil || req.MaxQuote.IsZero() {
			return nil, fmt.Errorf("%w: market buy requires max quote", ErrInvalidAmount)
		}
		// 保证后续 BaseForQuote 不会溢出
		if _, err := fixed.BaseForQuote(req.MaxQuote, uint256.NewInt(1)); err != nil {
			return nil, fmt.Errorf("max quote %s: %w", req.MaxQuote.Dec(), err)
		}
		return req.MaxQuote.Clone(), nil
	}

	if req.Price == nil || req.Price.IsZero() {
		return nil, fmt.Errorf("%w: limit price must be positive", ErrInvalidPrice)
	}
	notional, err := fixed.QuoteAmount(req.Amount, req.Price)
	if err != nil {
		return nil, fmt.Errorf("amount %s at price %s: %w", req.Amount.Dec(), req.Price.Dec(), err)
	}
	if notional.IsZero() {
		return nil, fmt.Errorf("%w: notional rounds to zero", ErrInvalidAmount)
	}
	if req.Side == order.Buy {
		return notional, nil
	}
	return req.Amount.Clone(), nil
}

func (c *call) submit(req SubmitRequest) (uint64, error) {
	m := c.m
	lock, err := m.validate(req)
	if err != nil {
		return 0, err
	}
	if err := c.tx.Lock(req.Trader, m.lockedAsset(req.Side), lock); err != nil {
		return 0, err
	}

	o := order.Order{
		Market:    m.name,
		Trader:    req.Trader,
		Side:      req.Side,
		Kind:      req.Kind,
		Timestamp: req.Time,
	}
	if req.Kind == order.Limit {
		o.Price.Set(req.Price)
	}
	o.Original.Set(req.Amount)
	o.Remaining.Set(req.Amount)
	o.Reserved.Set(lock)
	o = c.create(o)
	accepted := o
	c.emit(func(e Emitter) { e.Accepted(accepted) })

	// 集合竞价模式：限价单只挂单
	if o.Kind == order.Limit && m.deferMatching {
		return o.ID, c.restOrder(o.ID)
	}

	matches := 0
	for {
		taker, _ := m.orders.Get(o.ID)
		if taker.Remaining.IsZero() {
			break
		}
		if taker.Kind == order.Market && matches >= m.maxMatches {
			break
		}
		bestPrice, makerID, ok := m.book.Best(taker.Side.Opposite())
		if !ok {
			break
		}
		if taker.Kind == order.Limit && !crosses(taker.Side, &taker.Price, &bestPrice) {
			break
		}
		maker, _ := m.orders.Get(makerID)
		amount := minOf(&taker.Remaining, &maker.Remaining)

		if taker.Kind == order.Market && taker.Side == order.Buy {
			// 剩余上限在这一档还能买多少
			affordable, err := fixed.BaseForQuote(&taker.Reserved, &bestPrice)
			if err != nil {
				return 0, err
			}
			if affordable.IsZero() {
				break
			}
			amount = minOf(amount, affordable)
		}
		if _, err := c.execute(taker.ID, maker.ID, amount, &bestPrice); err != nil {
			return 0, err
		}
		matches++
	}

	taker, _ := m.orders.Get(o.ID)
	switch {
	case taker.Remaining.IsZero():
		return taker.ID, nil
	case taker.Kind == order.Limit:
		return taker.ID, c.restOrder(taker.ID)
	default:
		// 市价单不挂单：剩余部分撤销，解冻未用的冻结额
		return taker.ID, c.cancelOrder(taker.ID, ReasonUnfilled)
	}
}

func crosses(side order.Side, limit, best *uint256.Int) bool {
	if side == order.Buy {
		return !limit.Lt(best)
	}
	return !limit.Gt(best)
}

func minOf(a, b *uint256.Int) *uint256.Int {
	return fixed.Min(a, b)
}

func (c *call) restOrder(id uint64) error {
	o, _ := c.m.orders.Get(id)
	if err := c.rest(o); err != nil {
		return err
	}
	c.emit(func(e Emitter) { e.Added(o) })
	return nil
}

// cancelOrder 撤单：终态 -> 解冻剩余冻结额 -> 从价格簿摘除
func (c *call) cancelOrder(id uint64, reason string) error {
	o, err := c.cancel(id)
	if err != nil {
		return err
	}
	if o, err = c.release(o, o.Reserved.Clone()); err != nil {
		return err
	}
	// 摘链放在最后：之后不再有可能失败的步骤，不需要 undo
	c.m.book.Remove(o.ID)
	c.emit(func(e Emitter) { e.Cancelled(o, reason) })
	return nil
}

// execute 以 price 成交 amount：结算双方、收取手续费、返佣、退还价格改善差额
func (c *call) execute(takerID, makerID uint64, amount, price *uint256.Int) (Trade, error) {
	m := c.m
	taker, _ := m.orders.Get(takerID)
	maker, _ := m.orders.Get(makerID)

	quote, err := fixed.QuoteAmount(amount, price)
	if err != nil {
		return Trade{}, err
	}

	buyer, seller := taker, maker
	if taker.Side == order.Sell {
		buyer, seller = maker, taker
	}
	takerRates := c.quoteFee(taker.Trader, fee.Taker)
	makerRates := c.quoteFee(maker.Trader, fee.Maker)
	buyerRates, sellerRates := takerRates, makerRates
	if taker.Side == order.Sell {
		buyerRates, sellerRates = makerRates, takerRates
	}
	// 手续费按各自收到的资产收取：买方收基础资产，卖方收报价资产
	buyerFee := fee.Amount(amount, buyerRates.FeeBps)
	sellerFee := fee.Amount(quote, sellerRates.FeeBps)

	if quote.Gt(&buyer.Reserved) {
		return Trade{}, fmt.Errorf("%w: order %d reserved %s < cost %s", ErrInvariant, buyer.ID, buyer.Reserved.Dec(), quote.Dec())
	}
	if err := c.tx.SettleFill(seller.Trader, buyer.Trader, m.feeRecipient, m.base, amount, buyerFee); err != nil {
		return Trade{}, err
	}
	if err := c.tx.SettleFill(buyer.Trader, seller.Trader, m.feeRecipient, m.quote, quote, sellerFee); err != nil {
		return Trade{}, err
	}
	if err := c.consume(seller, amount); err != nil {
		return Trade{}, err
	}
	if err := c.consume(buyer, quote); err != nil {
		return Trade{}, err
	}
	if buyer, err = c.fill(buyer.ID, amount, quote); err != nil {
		return Trade{}, err
	}
	if seller, err = c.fill(seller.ID, amount, quote); err != nil {
		return Trade{}, err
	}

	// 价格改善：限价买单按自己的限价冻结，成交价更优时退还差额
	if buyer.Kind == order.Limit && buyer.Price.Gt(price) {
		atLimit, err := fixed.QuoteAmount(amount, &buyer.Price)
		if err != nil {
			return Trade{}, err
		}
		refund := new(uint256.Int).Sub(atLimit, quote)
		if buyer, err = c.release(buyer, refund); err != nil {
			return Trade{}, err
		}
	}
	// 完全成交后取整余下的零头一并解冻
	for _, o := range []order.Order{buyer, seller} {
		if o.Status != order.Filled {
			continue
		}
		if _, err := c.release(o, o.Reserved.Clone()); err != nil {
			return Trade{}, err
		}
		if m.book.Contains(o.ID) {
			if err := c.popFront(o); err != nil {
				return Trade{}, err
			}
		}
	}

	// 做市商返佣：从手续费账户单独转出，不影响 taker 的手续费
	makerReceipt, makerFee, makerAsset := quote, sellerFee, m.quote
	if maker.Side == order.Buy {
		makerReceipt, makerFee, makerAsset = amount, buyerFee, m.base
	}
	rebate := fee.Rebate(makerReceipt, makerFee, makerRates.RebateBps)
	if !rebate.IsZero() {
		if err := c.tx.Transfer(m.feeRecipient, maker.Trader, makerAsset, rebate); err != nil {
			return Trade{}, err
		}
		r, trader := *rebate, maker.Trader
		c.emit(func(e Emitter) { e.Rebate(m.name, trader, makerAsset, r) })
	}

	c.record(taker.Trader, quote)
	c.record(maker.Trader, quote)

	takerAfter, _ := m.orders.Get(takerID)
	makerAfter, _ := m.orders.Get(makerID)
	t := Trade{
		Market:       m.name,
		MakerOrderID: makerID,
		TakerOrderID: takerID,
		Maker:        maker.Trader,
		Taker:        taker.Trader,
		TakerSide:    taker.Side,
		MakerStatus:  makerAfter.Status,
		TakerStatus:  takerAfter.Status,
		Time:         c.now,
	}
	t.Price.Set(price)
	t.Amount.Set(amount)
	t.Quote.Set(quote)
	if taker.Side == order.Buy {
		t.TakerFee.Set(buyerFee)
		t.MakerFee.Set(sellerFee)
	} else {
		t.TakerFee.Set(sellerFee)
		t.MakerFee.Set(buyerFee)
	}
	c.emit(func(e Emitter) { e.Trade(t) })
	return t, nil
}

// Cancel 撤单；只有下单人可以撤，已终结的订单返回 ErrAlreadyTerminal
func (m *Market) Cancel(trader string, id uint64, now int64, emit Emitter) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.atomically(now, emit, func(c *call) error {
		o, ok := m.orders.Get(id)
		if !ok {
			return fmt.Errorf("%w: id=%d", ErrOrderNotFound, id)
		}
		if o.Trader != trader {
			return fmt.Errorf("%w: order %d", ErrNotOwner, id)
		}
		if !o.Status.Open() {
			return fmt.Errorf("%w: order %d is %s", ErrAlreadyTerminal, id, o.Status)
		}
		return c.cancelOrder(id, ReasonUser)
	})
	if err != nil && emit != nil {
		emit.Rejected(m.name, trader, id, err.Error())
	}
	return err
}

// MatchBatch 集合竞价模式下撮合交叉的买一/卖一，最多 maxMatches 笔
// 后到的订单（Seq 较大）是 taker，成交价取先到订单的价格
// 连续撮合模式下价格簿不会交叉，直接返回 0
func (m *Market) MatchBatch(maxMatches int, now int64, emit Emitter) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.deferMatching {
		return 0, nil
	}
	if maxMatches <= 0 || maxMatches > m.maxMatches {
		maxMatches = m.maxMatches
	}

	n := 0
	err := m.atomically(now, emit, func(c *call) error {
		for n < maxMatches {
			bidPrice, bidID, okb := m.book.BestBid()
			askPrice, askID, oka := m.book.BestAsk()
			if !okb || !oka || bidPrice.Lt(&askPrice) {
				return nil
			}
			bid, _ := m.orders.Get(bidID)
			ask, _ := m.orders.Get(askID)
			taker, maker := bid, ask
			if ask.Seq > bid.Seq {
				taker, maker = ask, bid
			}
			amount := minOf(&bid.Remaining, &ask.Remaining)
			if _, err := c.execute(taker.ID, maker.ID, amount, &maker.Price); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		if emit != nil {
			emit.Rejected(m.name, "", 0, err.Error())
		}
		return 0, err
	}
	return n, nil
}
