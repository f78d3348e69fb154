package engine

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"
	"github.com/segmentio/encoding/json"

	"clobex.com/internal/fee"
	"clobex.com/internal/order"
)

// 二进制格式：ver(1) type(1) 定长头 + 变长字段（u16 长度前缀字符串、u8 掩码 + 32 字节金额）
const (
	cmdWalVersion = 3
	evWalVersion  = 3

	maxFieldLen = 1<<16 - 1
)

var (
	ErrBadCmdRecordLen = errors.New("wal cmd: bad record length")
	ErrBadCmdVersion   = errors.New("wal cmd: bad version")
	ErrBadCmdType      = errors.New("wal cmd: bad cmd type")
	ErrBadEvRecordLen  = errors.New("outbox: bad record length")
	ErrBadEvVersion    = errors.New("outbox: bad version")
	errFieldTooLong    = errors.New("codec: field too long")
)

type encoder struct {
	b   []byte
	err error
}

func (e *encoder) u8(v uint8)   { e.b = append(e.b, v) }
func (e *encoder) u16(v uint16) { e.b = binary.LittleEndian.AppendUint16(e.b, v) }
func (e *encoder) u64(v uint64) { e.b = binary.LittleEndian.AppendUint64(e.b, v) }

func (e *encoder) bytes(v []byte) {
	if len(v) > maxFieldLen {
		e.err = errFieldTooLong
		return
	}
	e.u16(uint16(len(v)))
	e.b = append(e.b, v...)
}

func (e *encoder) str(v string) { e.bytes([]byte(v)) }

// 金额：先写掩码位，再按顺序写存在的 32 字节大端值
func (e *encoder) amounts(vs ...*uint256.Int) {
	var mask uint16
	for i, v := range vs {
		if v != nil {
			mask |= 1 << i
		}
	}
	e.u16(mask)
	for _, v := range vs {
		if v != nil {
			b := v.Bytes32()
			e.b = append(e.b, b[:]...)
		}
	}
}

type decoder struct {
	b   []byte
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if len(d.b) < n {
		d.err = ErrBadCmdRecordLen
		return nil
	}
	p := d.b[:n]
	d.b = d.b[n:]
	return p
}

func (d *decoder) u8() uint8 {
	if p := d.take(1); p != nil {
		return p[0]
	}
	return 0
}

func (d *decoder) u16() uint16 {
	if p := d.take(2); p != nil {
		return binary.LittleEndian.Uint16(p)
	}
	return 0
}

func (d *decoder) u64() uint64 {
	if p := d.take(8); p != nil {
		return binary.LittleEndian.Uint64(p)
	}
	return 0
}

func (d *decoder) bytes() []byte {
	n := int(d.u16())
	return d.take(n)
}

func (d *decoder) str() string { return string(d.bytes()) }

func (d *decoder) amounts(dst ...**uint256.Int) {
	mask := d.u16()
	for i, p := range dst {
		if mask&(1<<i) == 0 {
			continue
		}
		raw := d.take(32)
		if raw == nil {
			return
		}
		*p = new(uint256.Int).SetBytes32(raw)
	}
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func encodeSchedule(e *encoder, s *fee.Schedule) {
	if s == nil {
		e.bytes(nil)
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		e.err = err
		return
	}
	e.bytes(raw)
}

func decodeSchedule(d *decoder) *fee.Schedule {
	raw := d.bytes()
	if d.err != nil || len(raw) == 0 {
		return nil
	}
	var s fee.Schedule
	if err := json.Unmarshal(raw, &s); err != nil {
		d.err = err
		return nil
	}
	return &s
}

// BinaryCmdCodec 命令 WAL 的默认编码
type BinaryCmdCodec struct{}

func (BinaryCmdCodec) Encode(dst []byte, seq uint64, cmd Command) ([]byte, error) {
	e := encoder{b: dst[:0]}
	e.u8(cmdWalVersion)
	e.u8(uint8(cmd.Type))
	e.u64(seq)
	e.u64(uint64(cmd.ClientTs))
	e.u8(uint8(cmd.Side))
	e.u8(uint8(cmd.Kind))
	e.u64(cmd.OrderID)
	e.u64(uint64(int64(cmd.MaxMatches)))
	e.u64(uint64(cmd.MakerBps)<<32 | uint64(cmd.TakerBps))
	e.u8(boolByte(cmd.Flag))
	e.str(cmd.Market)
	e.str(cmd.Trader)
	e.str(cmd.Asset)
	e.str(cmd.Address)
	e.str(cmd.ReqID)
	e.amounts(cmd.Price, cmd.Amount, cmd.MaxQuote)
	encodeSchedule(&e, cmd.Schedule)
	if e.err != nil {
		return nil, e.err
	}
	return e.b, nil
}

func (BinaryCmdCodec) Decode(payload []byte) (uint64, Command, error) {
	d := decoder{b: payload}
	if d.u8() != cmdWalVersion {
		if d.err != nil {
			return 0, Command{}, ErrBadCmdRecordLen
		}
		return 0, Command{}, ErrBadCmdVersion
	}
	var cmd Command
	cmd.Type = CmdType(d.u8())
	if d.err == nil && !cmd.Type.Valid() {
		return 0, Command{}, ErrBadCmdType
	}
	seq := d.u64()
	cmd.ClientTs = int64(d.u64())
	cmd.Side = order.Side(d.u8())
	cmd.Kind = order.Kind(d.u8())
	cmd.OrderID = d.u64()
	cmd.MaxMatches = int(int64(d.u64()))
	bps := d.u64()
	cmd.MakerBps, cmd.TakerBps = uint32(bps>>32), uint32(bps)
	cmd.Flag = d.u8() == 1
	cmd.Market = d.str()
	cmd.Trader = d.str()
	cmd.Asset = d.str()
	cmd.Address = d.str()
	cmd.ReqID = d.str()
	d.amounts(&cmd.Price, &cmd.Amount, &cmd.MaxQuote)
	cmd.Schedule = decodeSchedule(&d)
	if d.err != nil {
		return 0, Command{}, d.err
	}
	if len(d.b) != 0 {
		return 0, Command{}, ErrBadCmdRecordLen
	}
	return seq, cmd, nil
}

// BinaryEvCodec outbox 的默认编码
type BinaryEvCodec struct{}

func (BinaryEvCodec) Encode(dst []byte, ev Event) ([]byte, error) {
	e := encoder{b: dst[:0]}
	e.u8(evWalVersion)
	e.u8(uint8(ev.Type))
	e.u64(ev.Seq)
	e.u16(ev.Idx)
	e.u64(uint64(ev.Time))
	e.str(ev.ReqID)
	if ev.Type == EvCmdEnd {
		// 边界标记只需要头
		return e.b, nil
	}
	e.u64(ev.OrderID)
	e.u64(ev.MakerOrderID)
	e.u64(ev.TakerOrderID)
	e.u8(uint8(ev.Side))
	e.u8(uint8(ev.Kind))
	e.u8(uint8(ev.Status))
	e.str(ev.Market)
	e.str(ev.Trader)
	e.str(ev.Maker)
	e.str(ev.Taker)
	e.str(ev.Asset)
	e.str(ev.Recipient)
	e.str(ev.Reason)
	e.amounts(ev.Price, ev.Amount, ev.Remaining, ev.Quote, ev.MakerFee, ev.TakerFee, ev.Available, ev.Locked)
	encodeSchedule(&e, ev.Fees)
	if e.err != nil {
		return nil, e.err
	}
	return e.b, nil
}

func (BinaryEvCodec) Decode(payload []byte) (Event, error) {
	d := decoder{b: payload}
	if d.u8() != evWalVersion {
		if d.err != nil {
			return Event{}, ErrBadEvRecordLen
		}
		return Event{}, ErrBadEvVersion
	}
	var ev Event
	ev.Type = EventType(d.u8())
	ev.Seq = d.u64()
	ev.Idx = d.u16()
	ev.Time = int64(d.u64())
	ev.ReqID = d.str()
	if ev.Type != EvCmdEnd {
		ev.OrderID = d.u64()
		ev.MakerOrderID = d.u64()
		ev.TakerOrderID = d.u64()
		ev.Side = order.Side(d.u8())
		ev.Kind = order.Kind(d.u8())
		ev.Status = order.Status(d.u8())
		ev.Market = d.str()
		ev.Trader = d.str()
		ev.Maker = d.str()
		ev.Taker = d.str()
		ev.Asset = d.str()
		ev.Recipient = d.str()
		ev.Reason = d.str()
		d.amounts(&ev.Price, &ev.Amount, &ev.Remaining, &ev.Quote, &ev.MakerFee, &ev.TakerFee, &ev.Available, &ev.Locked)
		ev.Fees = decodeSchedule(&d)
	}
	if d.err != nil {
		return Event{}, ErrBadEvRecordLen
	}
	if len(d.b) != 0 {
		return Event{}, ErrBadEvRecordLen
	}
	return ev, nil
}
