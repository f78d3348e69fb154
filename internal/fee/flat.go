package fee

import "github.com/holiman/uint256"

// Flat 固定 maker/taker 费率
type Flat struct {
	makerBps uint32
	takerBps uint32
}

func NewFlat(makerBps, takerBps uint32) (*Flat, error) {
	if err := checkBps(makerBps, takerBps); err != nil {
		return nil, err
	}
	return &Flat{makerBps: makerBps, takerBps: takerBps}, nil
}

// SetRates 失败时保持原费率
func (f *Flat) SetRates(makerBps, takerBps uint32) error {
	if err := checkBps(makerBps, takerBps); err != nil {
		return err
	}
	f.makerBps, f.takerBps = makerBps, takerBps
	return nil
}

func (f *Flat) Quote(_ string, role Role, _ int64) Rates {
	if role == Maker {
		return Rates{FeeBps: f.makerBps}
	}
	return Rates{FeeBps: f.takerBps}
}

func (f *Flat) Record(string, *uint256.Int, int64) {}

func (f *Flat) Describe() Schedule {
	return Schedule{Mode: ModeFlat, MakerBps: f.makerBps, TakerBps: f.takerBps}
}
