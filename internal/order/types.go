package order

import (
	"fmt"

	"github.com/holiman/uint256"
)

// 交易方向
type Side uint8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return fmt.Sprintf("side(%d)", uint8(s))
	}
}

// ParseSide 解析 "buy"/"sell"
func ParseSide(s string) (Side, bool) {
	switch s {
	case "buy", "BUY", "bid":
		return Buy, true
	case "sell", "SELL", "ask":
		return Sell, true
	}
	return 0, false
}

// 订单类型
type Kind uint8

const (
	Limit Kind = iota + 1
	Market
)

func (k Kind) Valid() bool { return k == Limit || k == Market }

func (k Kind) String() string {
	switch k {
	case Limit:
		return "limit"
	case Market:
		return "market"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func ParseKind(s string) (Kind, bool) {
	switch s {
	case "limit", "LIMIT", "":
		return Limit, true
	case "market", "MARKET":
		return Market, true
	}
	return 0, false
}

// 订单状态：ACTIVE -> {PARTIALLY_FILLED, FILLED, CANCELLED}
type Status uint8

const (
	Active Status = iota + 1
	PartiallyFilled
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Active:
		return "ACTIVE"
	case PartiallyFilled:
		return "PARTIALLY_FILLED"
	case Filled:
		return "FILLED"
	case Cancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// Open 还能继续撮合或撤单
func (s Status) Open() bool { return s == Active || s == PartiallyFilled }

// Terminal FILLED / CANCELLED
func (s Status) Terminal() bool { return s == Filled || s == Cancelled }

func canTransition(from, to Status) bool {
	switch from {
	case Active:
		return to == PartiallyFilled || to == Filled || to == Cancelled
	case PartiallyFilled:
		return to == PartiallyFilled || to == Filled || to == Cancelled
	default:
		return false
	}
}

// Order 订单记录，是订单状态的唯一来源；价格簿里只存 id
type Order struct {
	ID          uint64
	Market      string
	Trader      string
	Side        Side
	Kind        Kind
	Price       uint256.Int // 市价单为 0
	Original    uint256.Int
	Remaining   uint256.Int
	Reserved    uint256.Int // 仍为该订单冻结的余额（买单为报价资产，卖单为基础资产）
	FilledQuote uint256.Int // 累计成交额（报价资产）
	Seq         uint64      // 同一市场内的创建序号，时间优先的 tie-break
	Timestamp   int64       // unix nano
	Status      Status
}

// Filled 已成交的基础资产数量
func (o *Order) Filled() *uint256.Int {
	return new(uint256.Int).Sub(&o.Original, &o.Remaining)
}
