package clob

import (
	"errors"

	"clobex.com/internal/fee"
	"clobex.com/internal/fixed"
	"clobex.com/internal/ledger"
	"clobex.com/internal/order"
)

// 错误分类；复用下层包的哨兵错误，调用方统一用 errors.Is 判断
var (
	ErrInsufficientBalance = ledger.ErrInsufficientBalance
	ErrInvalidAmount       = ledger.ErrInvalidAmount
	ErrOrderNotFound       = order.ErrNotFound
	ErrAlreadyTerminal     = order.ErrAlreadyTerminal
	ErrFeeTooHigh          = fee.ErrFeeTooHigh
	ErrOverflow            = fixed.ErrOverflow

	ErrInvalidPrice       = errors.New("clob: invalid price")
	ErrInvalidSide        = errors.New("clob: invalid side")
	ErrInvalidKind        = errors.New("clob: invalid order kind")
	ErrInvalidAddress     = errors.New("clob: invalid address")
	ErrNotOwner           = errors.New("clob: caller is not the order owner")
	ErrUnsupportedFeeMode = errors.New("clob: operation not supported by current fee mode")
	ErrInvariant          = errors.New("clob: invariant violated")
)
