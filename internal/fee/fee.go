package fee

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"clobex.com/internal/fixed"
)

// MaxBps 单边费率上限 10%
const MaxBps uint32 = 1000

var (
	ErrFeeTooHigh      = errors.New("fee: rate exceeds cap")
	ErrTiersUnsorted   = errors.New("fee: tiers must be ascending by min volume")
	ErrNoTiers         = errors.New("fee: at least one tier required")
	ErrUnknownMode     = errors.New("fee: unknown mode")
	ErrNotMarketMakers = errors.New("fee: strategy has no market maker list")
)

type Role uint8

const (
	Maker Role = iota + 1
	Taker
)

func (r Role) String() string {
	if r == Maker {
		return "maker"
	}
	return "taker"
}

// Rates 某一笔成交适用的费率
type Rates struct {
	FeeBps    uint32
	RebateBps uint32 // 只对做市商的 maker 成交生效
}

// Strategy 费率策略；由 Market 串行调用，不需要自带锁
type Strategy interface {
	// Quote 返回 trader 以 role 身份成交时的费率，now 为命令时间（unix nano）
	Quote(trader string, role Role, now int64) Rates
	// Record 记录一笔成交额（报价资产计）
	Record(trader string, notional *uint256.Int, now int64)
	Describe() Schedule
}

const (
	ModeFlat   = "flat"
	ModeTiered = "tiered"
	ModeCustom = "custom"
)

// Schedule 对外展示/配置用的费率表
type Schedule struct {
	Mode         string   `json:"mode"`
	MakerBps     uint32   `json:"maker_bps"`
	TakerBps     uint32   `json:"taker_bps"`
	Tiers        []Tier   `json:"tiers,omitempty"`
	WindowSecs   int64    `json:"window_secs,omitempty"`
	RebateBps    uint32   `json:"rebate_bps,omitempty"`
	MarketMakers []string `json:"market_makers,omitempty"`
}

// FromSchedule 按配置构建策略
func FromSchedule(s Schedule) (Strategy, error) {
	switch s.Mode {
	case ModeFlat, "":
		return NewFlat(s.MakerBps, s.TakerBps)
	case ModeTiered:
		t, err := NewTiered(s.Tiers, s.WindowSecs, s.RebateBps)
		if err != nil {
			return nil, err
		}
		for _, mm := range s.MarketMakers {
			t.SetMarketMaker(mm, true)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, s.Mode)
	}
}

// Amount 按费率计算手续费，向下取整
func Amount(receipt *uint256.Int, bps uint32) *uint256.Int {
	return fixed.BpsOf(receipt, bps)
}

// Rebate 做市商返佣：不超过实际收取的手续费
func Rebate(receipt, charged *uint256.Int, rebateBps uint32) *uint256.Int {
	if rebateBps == 0 || charged.IsZero() {
		return new(uint256.Int)
	}
	return fixed.Min(fixed.BpsOf(receipt, rebateBps), charged)
}

func checkBps(maker, taker uint32) error {
	if maker > MaxBps || taker > MaxBps {
		return fmt.Errorf("%w: maker=%d taker=%d cap=%d", ErrFeeTooHigh, maker, taker, MaxBps)
	}
	return nil
}
