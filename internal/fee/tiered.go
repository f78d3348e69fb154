package fee

import (
	"fmt"
	"sort"
	"time"

	"github.com/holiman/uint256"
)

// Tier 滚动窗口成交额 >= MinVolume 时适用
type Tier struct {
	MinVolume *uint256.Int `json:"min_volume"`
	MakerBps  uint32       `json:"maker_bps"`
	TakerBps  uint32       `json:"taker_bps"`
}

// 按秒聚合的成交额
type bucket struct {
	sec    int64
	amount uint256.Int
}

type volume struct {
	buckets []bucket
	total   uint256.Int
}

// Tiered 按滚动窗口成交额分档，做市商 maker 成交额外返佣
type Tiered struct {
	tiers     []Tier
	window    int64 // 秒
	rebateBps uint32
	makers    map[string]struct{}
	volumes   map[string]*volume
}

func NewTiered(tiers []Tier, windowSecs int64, rebateBps uint32) (*Tiered, error) {
	if len(tiers) == 0 {
		return nil, ErrNoTiers
	}
	cp := make([]Tier, len(tiers))
	for i, t := range tiers {
		if err := checkBps(t.MakerBps, t.TakerBps); err != nil {
			return nil, fmt.Errorf("tier %d: %w", i, err)
		}
		minVol := new(uint256.Int)
		if t.MinVolume != nil {
			minVol.Set(t.MinVolume)
		}
		if i > 0 && !minVol.Gt(cp[i-1].MinVolume) {
			return nil, fmt.Errorf("%w: tier %d", ErrTiersUnsorted, i)
		}
		cp[i] = Tier{MinVolume: minVol, MakerBps: t.MakerBps, TakerBps: t.TakerBps}
	}
	if rebateBps > MaxBps {
		return nil, fmt.Errorf("%w: rebate=%d", ErrFeeTooHigh, rebateBps)
	}
	if windowSecs <= 0 {
		windowSecs = int64((30 * 24 * time.Hour).Seconds())
	}
	return &Tiered{
		tiers:     cp,
		window:    windowSecs,
		rebateBps: rebateBps,
		makers:    make(map[string]struct{}),
		volumes:   make(map[string]*volume),
	}, nil
}

func (t *Tiered) SetMarketMaker(trader string, on bool) {
	if on {
		t.makers[trader] = struct{}{}
		return
	}
	delete(t.makers, trader)
}

func (t *Tiered) IsMarketMaker(trader string) bool {
	_, ok := t.makers[trader]
	return ok
}

// Volume 窗口内成交额
func (t *Tiered) Volume(trader string, now int64) *uint256.Int {
	v := t.volumes[trader]
	out := new(uint256.Int)
	if v == nil {
		return out
	}
	cutoff := now/int64(time.Second) - t.window
	out.Set(&v.total)
	for i := range v.buckets {
		if v.buckets[i].sec > cutoff {
			break
		}
		out.Sub(out, &v.buckets[i].amount)
	}
	return out
}

func (t *Tiered) tierFor(vol *uint256.Int) Tier {
	// 最高的已达门槛档位；一档都不够时按第一档
	i := sort.Search(len(t.tiers), func(i int) bool { return t.tiers[i].MinVolume.Gt(vol) })
	if i == 0 {
		return t.tiers[0]
	}
	return t.tiers[i-1]
}

func (t *Tiered) Quote(trader string, role Role, now int64) Rates {
	tier := t.tierFor(t.Volume(trader, now))
	if role == Taker {
		return Rates{FeeBps: tier.TakerBps}
	}
	r := Rates{FeeBps: tier.MakerBps}
	if t.IsMarketMaker(trader) {
		r.RebateBps = t.rebateBps
	}
	return r
}

func (t *Tiered) Record(trader string, notional *uint256.Int, now int64) {
	if notional == nil || notional.IsZero() {
		return
	}
	v := t.volumes[trader]
	if v == nil {
		v = &volume{}
		t.volumes[trader] = v
	}
	sec := now / int64(time.Second)
	t.evict(v, sec)

	if _, overflow := v.total.AddOverflow(&v.total, notional); overflow {
		v.total.SetAllOne()
	}
	if n := len(v.buckets); n > 0 && v.buckets[n-1].sec >= sec {
		// 命令时间倒退时并入最后一个桶
		last := &v.buckets[n-1]
		if _, overflow := last.amount.AddOverflow(&last.amount, notional); overflow {
			last.amount.SetAllOne()
		}
		return
	}
	b := bucket{sec: sec}
	b.amount.Set(notional)
	v.buckets = append(v.buckets, b)
}

func (t *Tiered) evict(v *volume, sec int64) {
	cutoff := sec - t.window
	i := 0
	for ; i < len(v.buckets) && v.buckets[i].sec <= cutoff; i++ {
		if v.total.Lt(&v.buckets[i].amount) {
			v.total.Clear()
		} else {
			v.total.Sub(&v.total, &v.buckets[i].amount)
		}
	}
	if i > 0 {
		v.buckets = append(v.buckets[:0], v.buckets[i:]...)
	}
}

func (t *Tiered) Describe() Schedule {
	s := Schedule{
		Mode:       ModeTiered,
		Tiers:      make([]Tier, len(t.tiers)),
		WindowSecs: t.window,
		RebateBps:  t.rebateBps,
	}
	for i, tier := range t.tiers {
		s.Tiers[i] = Tier{MinVolume: new(uint256.Int).Set(tier.MinVolume), MakerBps: tier.MakerBps, TakerBps: tier.TakerBps}
	}
	s.MakerBps, s.TakerBps = t.tiers[0].MakerBps, t.tiers[0].TakerBps
	for mm := range t.makers {
		s.MarketMakers = append(s.MarketMakers, mm)
	}
	sort.Strings(s.MarketMakers)
	return s
}
