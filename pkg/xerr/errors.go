package xerr

import (
	"errors"
	"fmt"
	"net/http"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400
	Forbidden          = 403
	RecordNotFound     = 404
	Conflict           = 409
	TooManyRequests    = 429
	ServerCommonError  = 500
	ServiceBusy        = 503

	// 业务错误码：1 + 模块(2) + 序号(4)
	InsufficientBalance = 1010001
	InvalidAmount       = 1010002
	InvalidPrice        = 1010003
	InvalidOrder        = 1010004
	FeeTooHigh          = 1010005
	Overflow            = 1010006
	NotOwner            = 1020001
	AdminDenied         = 1020002
	OrderNotFound       = 1030001
	MarketNotFound      = 1030002
	AlreadyTerminal     = 1040001
	UnsupportedFeeMode  = 1040002
	EngineBusy          = 1050001
)

type CodeError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	// 对外不可见
	cause error
}

func (e *CodeError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s: %v", e.Code, e.Msg, e.cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.cause }

// HTTPStatus 业务码对应的 HTTP 状态
func (e *CodeError) HTTPStatus() int {
	switch e.Code {
	case InsufficientBalance, InvalidAmount, InvalidPrice, InvalidOrder, FeeTooHigh, Overflow:
		return http.StatusBadRequest
	case NotOwner, AdminDenied:
		return http.StatusForbidden
	case OrderNotFound, MarketNotFound:
		return http.StatusNotFound
	case AlreadyTerminal, UnsupportedFeeMode:
		return http.StatusConflict
	case EngineBusy:
		return http.StatusServiceUnavailable
	}
	if e.Code >= 400 && e.Code < 600 {
		return e.Code
	}
	return http.StatusInternalServerError
}

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 给底层错误挂上业务码，errors.Is 仍然能找到 cause
func Wrap(err error, code int, msg string) error {
	if err == nil {
		return nil
	}
	if msg == "" {
		msg = MapErrMsg(code)
	}
	return &CodeError{Code: code, Msg: msg, cause: err}
}

// FromError 取出链上的 CodeError；没有则按服务器错误处理
func FromError(err error) *CodeError {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce
	}
	return &CodeError{Code: ServerCommonError, Msg: MapErrMsg(ServerCommonError), cause: err}
}

func MapErrMsg(code int) string {
	switch code {
	case ServerCommonError:
		return "服务器开小差了"
	case RequestParamsError:
		return "参数错误"
	case Forbidden:
		return "无权限"
	case RecordNotFound:
		return "记录不存在"
	case Conflict:
		return "状态冲突"
	case TooManyRequests:
		return "请求过于频繁"
	case ServiceBusy:
		return "服务繁忙"
	case InsufficientBalance:
		return "余额不足"
	case InvalidAmount:
		return "数量不合法"
	case InvalidPrice:
		return "价格不合法"
	case InvalidOrder:
		return "订单参数错误"
	case FeeTooHigh:
		return "费率超过上限"
	case Overflow:
		return "数值溢出"
	case NotOwner:
		return "不是订单所有人"
	case AdminDenied:
		return "管理口令错误"
	case OrderNotFound:
		return "订单不存在"
	case MarketNotFound:
		return "交易对不存在"
	case AlreadyTerminal:
		return "订单已结束"
	case UnsupportedFeeMode:
		return "当前费率模式不支持该操作"
	case EngineBusy:
		return "撮合繁忙，请稍后重试"
	default:
		return "未知错误"
	}
}
