package fixed

import (
	"errors"

	"github.com/holiman/uint256"
)

// 价格统一使用 1e18 定点：报价资产数量 / 1 个基础资产，与代币自身精度无关
const Decimals = 18

var (
	ErrOverflow       = errors.New("fixed: overflow")
	ErrDivisionByZero = errors.New("fixed: division by zero")
)

// SCALE = 1e18
var SCALE = uint256.NewInt(1_000_000_000_000_000_000)

// BpsDenominator 费率基点分母
var BpsDenominator = uint256.NewInt(10_000)

// MulDivDown 计算 floor(a*b/d)，a*b 超出 256 位直接报错（不做 512 位中间值）
func MulDivDown(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return prod.Div(prod, d), nil
}

// MulDivUp 计算 ceil(a*b/d)
func MulDivUp(a, b, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivisionByZero
	}
	prod, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	q, r := new(uint256.Int), new(uint256.Int)
	q.DivMod(prod, d, r)
	// q <= prod，所以 +1 不会溢出（prod 为最大值时 d 必然为 1，余数为 0）
	if !r.IsZero() {
		q.AddUint64(q, 1)
	}
	return q, nil
}

// QuoteAmount 基础资产数量 * 价格 -> 报价资产数量（向下取整）
func QuoteAmount(baseAmount, price *uint256.Int) (*uint256.Int, error) {
	return MulDivDown(baseAmount, price, SCALE)
}

// BaseForQuote 在给定价格下，quote 最多能买到的基础资产数量（向下取整）
func BaseForQuote(quote, price *uint256.Int) (*uint256.Int, error) {
	return MulDivDown(quote, SCALE, price)
}

// BpsOf amount * bps / 10000（向下取整），bps 上限由调用方保证
func BpsOf(amount *uint256.Int, bps uint32) *uint256.Int {
	if bps == 0 || amount.IsZero() {
		return new(uint256.Int)
	}
	out, err := MulDivDown(amount, uint256.NewInt(uint64(bps)), BpsDenominator)
	if err != nil {
		// amount*bps 溢出时退化为先除后乘，结果仍不大于 amount
		out = new(uint256.Int).Div(amount, BpsDenominator)
		out.Mul(out, uint256.NewInt(uint64(bps)))
	}
	return out
}

// Min 返回较小值的拷贝
func Min(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}
