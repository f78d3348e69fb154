package engine

import (
	"errors"

	"github.com/holiman/uint256"

	"clobex.com/internal/fee"
	"clobex.com/internal/order"
)

// 命令类型：所有改变状态的操作都是一条命令，经 sequencer 串行执行
type CmdType uint8

const (
	CmdDeposit         CmdType = iota + 1 // 充值
	CmdWithdraw                           // 提现
	CmdSubmit                             // 下单
	CmdCancel                             // 撤单
	CmdMatchBatch                         // 集合竞价撮合
	CmdSetFees                            // 固定费率
	CmdSetFeeSchedule                     // 整体替换费率表
	CmdSetFeeRecipient                    // 手续费收款账户
	CmdSetMarketMaker                     // 做市商标记
)

var cmdNames = [...]string{
	CmdDeposit:         "deposit",
	CmdWithdraw:        "withdraw",
	CmdSubmit:          "submit",
	CmdCancel:          "cancel",
	CmdMatchBatch:      "match_batch",
	CmdSetFees:         "set_fees",
	CmdSetFeeSchedule:  "set_fee_schedule",
	CmdSetFeeRecipient: "set_fee_recipient",
	CmdSetMarketMaker:  "set_market_maker",
}

func (t CmdType) String() string {
	if int(t) < len(cmdNames) && cmdNames[t] != "" {
		return cmdNames[t]
	}
	return "unknown"
}

func (t CmdType) Valid() bool { return t >= CmdDeposit && t <= CmdSetMarketMaker }

// Command 入队的命令；ClientTs 在入队时补齐，回放时复用，保证重放结果一致
type Command struct {
	Type     CmdType `json:"type"`
	ReqID    string  `json:"req_id,omitempty"` // 网关请求 id，透传到事件和日志
	ClientTs int64   `json:"ts"`               // unix nano

	Market string     `json:"market,omitempty"`
	Trader string     `json:"trader,omitempty"`
	Asset  string     `json:"asset,omitempty"`
	Side   order.Side `json:"side,omitempty"`
	Kind   order.Kind `json:"kind,omitempty"`

	Price    *uint256.Int `json:"price,omitempty"`
	Amount   *uint256.Int `json:"amount,omitempty"`
	MaxQuote *uint256.Int `json:"max_quote,omitempty"`

	OrderID    uint64 `json:"order_id,omitempty"` // 撤单
	MaxMatches int    `json:"max_matches,omitempty"`

	MakerBps uint32        `json:"maker_bps,omitempty"`
	TakerBps uint32        `json:"taker_bps,omitempty"`
	Schedule *fee.Schedule `json:"schedule,omitempty"`
	Address  string        `json:"address,omitempty"` // 收款账户 / 做市商
	Flag     bool          `json:"flag,omitempty"`
}

// Result 命令执行结果，只返回给 Do 的调用方
type Result struct {
	Seq     uint64
	OrderID uint64
	Matches int
	Err     error
}

type EventType uint8

const (
	EvAccepted    EventType = iota + 1 // 下单成功
	EvRejected                         // 命令失败
	EvAdded                            // 挂入价格簿
	EvCancelled                        // 撤单 / 市价单剩余撤销
	EvTrade                            // 成交
	EvBalance                          // 余额变化
	EvRebate                           // 做市商返佣
	EvFeesChanged                      // 费率或收款账户变化
)

// EvCmdEnd 命令结束标记，不会和正常事件冲突
const EvCmdEnd EventType = 250

var evNames = [...]string{
	EvAccepted:    "accepted",
	EvRejected:    "rejected",
	EvAdded:       "added",
	EvCancelled:   "cancelled",
	EvTrade:       "trade",
	EvBalance:     "balance",
	EvRebate:      "rebate",
	EvFeesChanged: "fees",
}

func (t EventType) String() string {
	if t == EvCmdEnd {
		return "cmd_end"
	}
	if int(t) < len(evNames) && evNames[t] != "" {
		return evNames[t]
	}
	return "unknown"
}

// Event 对外事件；金额字段为 nil 表示不适用
type Event struct {
	Type EventType `json:"type"`

	// 全局单调递增的命令序号，用于对齐/回放/排查
	Seq   uint64 `json:"seq"`
	Idx   uint16 `json:"idx"` // 同一条命令内的事件序号
	ReqID string `json:"req_id,omitempty"`
	Time  int64  `json:"ts"`

	Market  string       `json:"market,omitempty"`
	OrderID uint64       `json:"order_id,omitempty"`
	Trader  string       `json:"trader,omitempty"`
	Side    order.Side   `json:"side,omitempty"`
	Kind    order.Kind   `json:"kind,omitempty"`
	Status  order.Status `json:"status,omitempty"`

	// Trade 字段
	MakerOrderID uint64 `json:"maker_order_id,omitempty"`
	TakerOrderID uint64 `json:"taker_order_id,omitempty"`
	Maker        string `json:"maker,omitempty"`
	Taker        string `json:"taker,omitempty"`

	Asset     string       `json:"asset,omitempty"`
	Price     *uint256.Int `json:"price,omitempty"`
	Amount    *uint256.Int `json:"amount,omitempty"`
	Remaining *uint256.Int `json:"remaining,omitempty"`
	Quote     *uint256.Int `json:"quote,omitempty"`
	MakerFee  *uint256.Int `json:"maker_fee,omitempty"`
	TakerFee  *uint256.Int `json:"taker_fee,omitempty"`
	Available *uint256.Int `json:"available,omitempty"`
	Locked    *uint256.Int `json:"locked,omitempty"`

	Fees      *fee.Schedule `json:"fees,omitempty"`
	Recipient string        `json:"recipient,omitempty"`

	// 非热路径：拒单原因
	Reason string `json:"reason,omitempty"`
}

var (
	ErrEngineBusy    = errors.New("engine busy: mailbox full")
	ErrUnknownMarket = errors.New("unknown market")
	ErrBadCommand    = errors.New("bad command")
	ErrStopped       = errors.New("engine stopped")
)
