package fixed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

var (
	ErrNegative      = errors.New("fixed: negative value")
	ErrTooPrecise    = errors.New("fixed: too many fractional digits")
	ErrInvalidNumber = errors.New("fixed: invalid number")
)

// ParseUnits 把人类可读的十进制字符串转换为整数最小单位，例如 ParseUnits("1.5", 18) = 1.5e18
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalidNumber
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if d.IsNegative() {
		return nil, ErrNegative
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return nil, ErrTooPrecise
	}
	out, overflow := uint256.FromBig(shifted.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return out, nil
}

// MustParseUnits 仅用于测试和常量初始化
func MustParseUnits(s string, decimals int32) *uint256.Int {
	v, err := ParseUnits(s, decimals)
	if err != nil {
		panic(err)
	}
	return v
}

// FormatUnits 把最小单位格式化为十进制字符串，去掉多余的尾随 0
func FormatUnits(v *uint256.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v.ToBig(), -decimals).String()
}

// Units 等价于 n * 10^decimals，测试里构造金额用
func Units(n uint64, decimals int32) *uint256.Int {
	return MustParseUnits(fmt.Sprintf("%d", n), decimals)
}
