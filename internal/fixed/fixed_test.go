package fixed

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMulDivRounding(t *testing.T) {
	a := uint256.NewInt(10)
	b := uint256.NewInt(3)
	d := uint256.NewInt(4)

	down, err := MulDivDown(a, b, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), down.Uint64()) // 30/4 = 7.5

	up, err := MulDivUp(a, b, d)
	require.NoError(t, err)
	assert.Equal(t, uint64(8), up.Uint64())

	// 整除时上下取整一致
	exact, err := MulDivUp(uint256.NewInt(8), uint256.NewInt(3), uint256.NewInt(4))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), exact.Uint64())
}

func TestMulDivOverflow(t *testing.T) {
	max := new(uint256.Int).SetAllOne()
	_, err := MulDivDown(max, uint256.NewInt(2), uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrOverflow)

	_, err = MulDivUp(max, uint256.NewInt(2), uint256.NewInt(2))
	assert.ErrorIs(t, err, ErrOverflow)

	// 乘积刚好不溢出
	v, err := MulDivDown(max, uint256.NewInt(1), uint256.NewInt(1))
	require.NoError(t, err)
	assert.True(t, v.Eq(max))
}

func TestMulDivByZero(t *testing.T) {
	_, err := MulDivDown(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int))
	assert.ErrorIs(t, err, ErrDivisionByZero)
	_, err = MulDivUp(uint256.NewInt(1), uint256.NewInt(1), new(uint256.Int))
	assert.ErrorIs(t, err, ErrDivisionByZero)
}

func TestQuoteAmount(t *testing.T) {
	// 10 BASE @ 2000 = 20000 QUOTE
	q, err := QuoteAmount(Units(10, 18), Units(2000, 18))
	require.NoError(t, err)
	assert.True(t, q.Eq(Units(20000, 18)), q.Dec())

	// quote 精度为 6：1 BASE(1e18 最小单位) 值 2000e6 quote 最小单位，定点价格原始值为 2e9
	price := MustParseUnits("0.000000002", 18)
	q, err = QuoteAmount(Units(1, 18), price)
	require.NoError(t, err)
	assert.Equal(t, uint64(2000_000_000), q.Uint64())
}

func TestBaseForQuote(t *testing.T) {
	base, err := BaseForQuote(Units(61000, 18), Units(2000, 18))
	require.NoError(t, err)
	assert.Equal(t, "30.5", FormatUnits(base, 18))
}

func TestBpsOf(t *testing.T) {
	assert.Equal(t, "20", FormatUnits(BpsOf(Units(20000, 18), 10), 18))
	assert.True(t, BpsOf(Units(1, 18), 0).IsZero())

	max := new(uint256.Int).SetAllOne()
	fee := BpsOf(max, 1000)
	assert.True(t, fee.Lt(max))
}

func TestParseFormatUnits(t *testing.T) {
	v, err := ParseUnits("9.98", 18)
	require.NoError(t, err)
	assert.Equal(t, "9980000000000000000", v.Dec())
	assert.Equal(t, "9.98", FormatUnits(v, 18))

	_, err = ParseUnits("-1", 18)
	assert.ErrorIs(t, err, ErrNegative)

	_, err = ParseUnits("0.0000001", 6)
	assert.ErrorIs(t, err, ErrTooPrecise)

	_, err = ParseUnits("abc", 18)
	assert.ErrorIs(t, err, ErrInvalidNumber)

	_, err = ParseUnits("1e80", 18)
	assert.ErrorIs(t, err, ErrOverflow)

	assert.Equal(t, "0", FormatUnits(nil, 18))
}
