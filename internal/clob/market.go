package clob

import (
	"fmt"
	"sync"

	"clobex.com/internal/book"
	"clobex.com/internal/fee"
	"clobex.com/internal/ledger"
	"clobex.com/internal/order"
)

const (
	DefaultMaxMatchesPerCall = 256
	DefaultFeeRecipient      = "fee-sink"
)

type Config struct {
	Name          string
	Base          string
	Quote         string
	BaseDecimals  int32
	QuoteDecimals int32
	FeeRecipient  string
	Fees          fee.Strategy
	// DeferMatching 为 true 时限价单只挂单不撮合，由 MatchBatch 统一撮合
	DeferMatching     bool
	MaxMatchesPerCall int
}

// Market 一个交易对：价格簿 + 订单表 + 费率策略，余额账本由多个市场共享
// 写操作互斥，查询可以并发
type Market struct {
	mu sync.RWMutex

	name          string
	base          string
	quote         string
	baseDecimals  int32
	quoteDecimals int32
	deferMatching bool
	maxMatches    int

	feeRecipient string
	fees         fee.Strategy

	ledger *ledger.Ledger
	book   *book.Book
	orders *order.Registry
	seq    uint64 // 市场内订单创建序号
}

func NewMarket(cfg Config, l *ledger.Ledger) (*Market, error) {
	if cfg.Name == "" || cfg.Base == "" || cfg.Quote == "" || cfg.Base == cfg.Quote {
		return nil, fmt.Errorf("%w: market %q base=%q quote=%q", ErrInvalidAddress, cfg.Name, cfg.Base, cfg.Quote)
	}
	if l == nil {
		return nil, fmt.Errorf("market %s: nil ledger", cfg.Name)
	}
	if cfg.Fees == nil {
		flat, _ := fee.NewFlat(0, 0)
		cfg.Fees = flat
	}
	if cfg.FeeRecipient == "" {
		cfg.FeeRecipient = DefaultFeeRecipient
	}
	if cfg.MaxMatchesPerCall <= 0 {
		cfg.MaxMatchesPerCall = DefaultMaxMatchesPerCall
	}
	if cfg.BaseDecimals == 0 {
		cfg.BaseDecimals = 18
	}
	if cfg.QuoteDecimals == 0 {
		cfg.QuoteDecimals = 18
	}
	return &Market{
		name:          cfg.Name,
		base:          cfg.Base,
		quote:         cfg.Quote,
		baseDecimals:  cfg.BaseDecimals,
		quoteDecimals: cfg.QuoteDecimals,
		deferMatching: cfg.DeferMatching,
		maxMatches:    cfg.MaxMatchesPerCall,
		feeRecipient:  cfg.FeeRecipient,
		fees:          cfg.Fees,
		ledger:        l,
		book:          book.New(),
		orders:        order.NewRegistry(),
	}, nil
}

func (m *Market) Name() string { return m.name }

// Info 市场静态信息
type Info struct {
	Name              string `json:"name"`
	Base              string `json:"base"`
	Quote             string `json:"quote"`
	BaseDecimals      int32  `json:"base_decimals"`
	QuoteDecimals     int32  `json:"quote_decimals"`
	DeferMatching     bool   `json:"defer_matching"`
	MaxMatchesPerCall int    `json:"max_matches_per_call"`
}

func (m *Market) Info() Info {
	return Info{
		Name:              m.name,
		Base:              m.base,
		Quote:             m.quote,
		BaseDecimals:      m.baseDecimals,
		QuoteDecimals:     m.quoteDecimals,
		DeferMatching:     m.deferMatching,
		MaxMatchesPerCall: m.maxMatches,
	}
}

// lockedAsset 该方向订单冻结的资产：买单冻结报价资产，卖单冻结基础资产
func (m *Market) lockedAsset(s order.Side) string {
	if s == order.Buy {
		return m.quote
	}
	return m.base
}

// ---------- 管理接口 ----------

// SetFees 只适用于固定费率模式
func (m *Market) SetFees(makerBps, takerBps uint32, emit Emitter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	flat, ok := m.fees.(*fee.Flat)
	if !ok {
		return fmt.Errorf("%w: mode=%s", ErrUnsupportedFeeMode, m.fees.Describe().Mode)
	}
	if err := flat.SetRates(makerBps, takerBps); err != nil {
		return err
	}
	m.feesChanged(emit)
	return nil
}

// SetFeeStrategy 整体替换费率策略（固定 / 分档 / 自定义）
func (m *Market) SetFeeStrategy(s fee.Strategy, emit Emitter) error {
	if s == nil {
		return fmt.Errorf("%w: nil fee strategy", ErrUnsupportedFeeMode)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fees = s
	m.feesChanged(emit)
	return nil
}

func (m *Market) SetFeeRecipient(addr string, emit Emitter) error {
	if addr == "" {
		return fmt.Errorf("%w: empty fee recipient", ErrInvalidAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeRecipient = addr
	m.feesChanged(emit)
	return nil
}

// SetMarketMaker 只适用于分档模式
func (m *Market) SetMarketMaker(trader string, on bool, emit Emitter) error {
	if trader == "" {
		return fmt.Errorf("%w: empty trader", ErrInvalidAddress)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tiered, ok := m.fees.(*fee.Tiered)
	if !ok {
		return fmt.Errorf("%w: mode=%s", ErrUnsupportedFeeMode, m.fees.Describe().Mode)
	}
	tiered.SetMarketMaker(trader, on)
	m.feesChanged(emit)
	return nil
}

func (m *Market) feesChanged(emit Emitter) {
	if emit != nil {
		emit.FeesChanged(m.name, m.fees.Describe(), m.feeRecipient)
	}
}
