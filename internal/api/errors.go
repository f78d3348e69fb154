package api

import (
	"context"
	"errors"

	"clobex.com/internal/clob"
	"clobex.com/internal/engine"
	"clobex.com/internal/fee"
	"clobex.com/internal/fixed"
	"clobex.com/pkg/xerr"
)

// bizErr 撮合层错误 -> 业务码；未识别的保持原样，按 500 处理
func bizErr(err error) error {
	if err == nil {
		return nil
	}
	var ce *xerr.CodeError
	if errors.As(err, &ce) {
		return err
	}
	code := 0
	switch {
	case errors.Is(err, engine.ErrEngineBusy):
		code = xerr.EngineBusy
	case errors.Is(err, engine.ErrStopped), errors.Is(err, context.DeadlineExceeded):
		code = xerr.ServiceBusy
	case errors.Is(err, engine.ErrUnknownMarket):
		code = xerr.MarketNotFound
	case errors.Is(err, clob.ErrOrderNotFound):
		code = xerr.OrderNotFound
	case errors.Is(err, clob.ErrNotOwner):
		code = xerr.NotOwner
	case errors.Is(err, clob.ErrAlreadyTerminal):
		code = xerr.AlreadyTerminal
	case errors.Is(err, clob.ErrUnsupportedFeeMode), errors.Is(err, fee.ErrNotMarketMakers):
		code = xerr.UnsupportedFeeMode
	case errors.Is(err, clob.ErrInsufficientBalance):
		code = xerr.InsufficientBalance
	case errors.Is(err, clob.ErrInvalidAmount),
		errors.Is(err, fixed.ErrNegative), errors.Is(err, fixed.ErrTooPrecise), errors.Is(err, fixed.ErrInvalidNumber):
		code = xerr.InvalidAmount
	case errors.Is(err, clob.ErrInvalidPrice):
		code = xerr.InvalidPrice
	case errors.Is(err, clob.ErrFeeTooHigh):
		code = xerr.FeeTooHigh
	case errors.Is(err, clob.ErrOverflow):
		code = xerr.Overflow
	case errors.Is(err, clob.ErrInvalidSide), errors.Is(err, clob.ErrInvalidKind),
		errors.Is(err, clob.ErrInvalidAddress), errors.Is(err, engine.ErrBadCommand):
		code = xerr.InvalidOrder
	case errors.Is(err, fee.ErrTiersUnsorted), errors.Is(err, fee.ErrNoTiers), errors.Is(err, fee.ErrUnknownMode):
		code = xerr.RequestParamsError
	default:
		return err
	}
	return xerr.Wrap(err, code, "")
}

// paramErr 请求参数错误，message 直接回给调用方
func paramErr(err error) error {
	return xerr.Wrap(err, xerr.RequestParamsError, "参数错误: "+err.Error())
}
