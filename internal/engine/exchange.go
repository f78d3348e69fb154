package engine

import (
	"fmt"
	"sort"

	"clobex.com/internal/clob"
	"clobex.com/internal/fee"
	"clobex.com/internal/ledger"
	"clobex.com/pkg/metrics"
)

// Exchange 共享账本 + 所有市场；只被 sequencer 单线程写
type Exchange struct {
	ledger  *ledger.Ledger
	markets map[string]*clob.Market
	names   []string
}

func NewExchange(l *ledger.Ledger, cfgs []clob.Config) (*Exchange, error) {
	if l == nil {
		l = ledger.New()
	}
	x := &Exchange{ledger: l, markets: make(map[string]*clob.Market, len(cfgs))}
	for _, cfg := range cfgs {
		if _, dup := x.markets[cfg.Name]; dup {
			return nil, fmt.Errorf("duplicate market %q", cfg.Name)
		}
		m, err := clob.NewMarket(cfg, l)
		if err != nil {
			return nil, err
		}
		x.markets[cfg.Name] = m
		x.names = append(x.names, cfg.Name)
	}
	sort.Strings(x.names)
	return x, nil
}

func (x *Exchange) Ledger() *ledger.Ledger { return x.ledger }

func (x *Exchange) Market(name string) (*clob.Market, error) {
	m, ok := x.markets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMarket, name)
	}
	return m, nil
}

// Markets 按名字排序
func (x *Exchange) Markets() []*clob.Market {
	out := make([]*clob.Market, 0, len(x.names))
	for _, n := range x.names {
		out = append(out, x.markets[n])
	}
	return out
}

// CheckInvariants 账本守恒 + 每个市场的价格簿一致性 + 冻结额与订单预留额一致
func (x *Exchange) CheckInvariants() error {
	return clob.CheckLedger(x.ledger, x.Markets()...)
}

func (x *Exchange) Apply(cmd Command, emit clob.Emitter) Result {
	if emit == nil {
		emit = clob.NopEmitter{}
	}
	var res Result
	switch cmd.Type {
	case CmdDeposit, CmdWithdraw:
		res.Err = x.transfer(cmd, emit)
		return res
	}

	m, err := x.Market(cmd.Market)
	if err != nil {
		emit.Rejected(cmd.Market, cmd.Trader, cmd.OrderID, err.Error())
		res.Err = err
		return res
	}

	switch cmd.Type {
	case CmdSubmit, CmdCancel, CmdMatchBatch:
		defer observe(m)
	}

	switch cmd.Type {
	case CmdSubmit:
		// Submit/Cancel/MatchBatch 自己会发 Rejected
		res.OrderID, res.Err = m.Submit(clob.SubmitRequest{
			Trader:   cmd.Trader,
			Side:     cmd.Side,
			Kind:     cmd.Kind,
			Price:    cmd.Price,
			Amount:   cmd.Amount,
			MaxQuote: cmd.MaxQuote,
			Time:     cmd.ClientTs,
		}, emit)
		return res
	case CmdCancel:
		res.OrderID = cmd.OrderID
		res.Err = m.Cancel(cmd.Trader, cmd.OrderID, cmd.ClientTs, emit)
		return res
	case CmdMatchBatch:
		res.Matches, res.Err = m.MatchBatch(cmd.MaxMatches, cmd.ClientTs, emit)
		return res
	case CmdSetFees:
		err = m.SetFees(cmd.MakerBps, cmd.TakerBps, emit)
	case CmdSetFeeSchedule:
		err = x.setSchedule(m, cmd.Schedule, emit)
	case CmdSetFeeRecipient:
		err = m.SetFeeRecipient(cmd.Address, emit)
	case CmdSetMarketMaker:
		err = m.SetMarketMaker(cmd.Address, cmd.Flag, emit)
	default:
		err = fmt.Errorf("%w: type=%d", ErrBadCommand, cmd.Type)
	}
	if err != nil {
		emit.Rejected(cmd.Market, cmd.Trader, 0, err.Error())
	}
	res.Err = err
	return res
}

func observe(m *clob.Market) {
	st := m.Stats()
	metrics.OpenOrders.WithLabelValues(m.Name(), "buy").Set(float64(st.Bids))
	metrics.OpenOrders.WithLabelValues(m.Name(), "sell").Set(float64(st.Asks))
}

func (x *Exchange) setSchedule(m *clob.Market, s *fee.Schedule, emit clob.Emitter) error {
	if s == nil {
		return fmt.Errorf("%w: missing fee schedule", ErrBadCommand)
	}
	strategy, err := fee.FromSchedule(*s)
	if err != nil {
		return err
	}
	return m.SetFeeStrategy(strategy, emit)
}

func (x *Exchange) transfer(cmd Command, emit clob.Emitter) error {
	if cmd.Trader == "" || cmd.Asset == "" {
		err := fmt.Errorf("%w: trader=%q asset=%q", clob.ErrInvalidAddress, cmd.Trader, cmd.Asset)
		emit.Rejected("", cmd.Trader, 0, err.Error())
		return err
	}
	var (
		changes []ledger.Change
		err     error
	)
	if cmd.Type == CmdDeposit {
		changes, err = x.ledger.Deposit(cmd.Trader, cmd.Asset, cmd.Amount)
	} else {
		changes, err = x.ledger.Withdraw(cmd.Trader, cmd.Asset, cmd.Amount)
	}
	if err != nil {
		emit.Rejected("", cmd.Trader, 0, err.Error())
		return err
	}
	for _, c := range changes {
		emit.Balance(c)
	}
	return nil
}
