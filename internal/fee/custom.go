package fee

import "github.com/holiman/uint256"

// Custom 把任意函数适配成 Strategy；返回的费率会被截断到上限
type Custom struct {
	Name string
	Fn   func(trader string, role Role, now int64) Rates
}

func (c Custom) Quote(trader string, role Role, now int64) Rates {
	if c.Fn == nil {
		return Rates{}
	}
	r := c.Fn(trader, role, now)
	r.FeeBps = min(r.FeeBps, MaxBps)
	r.RebateBps = min(r.RebateBps, MaxBps)
	return r
}

func (c Custom) Record(string, *uint256.Int, int64) {}

func (c Custom) Describe() Schedule {
	return Schedule{Mode: ModeCustom}
}
