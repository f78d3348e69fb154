package engine

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"

	"clobex.com/pkg/wal"
)

const (
	cmdWalFile   = "commands.wal"
	outboxFile   = "events.wal"
	cursorFile   = "events.cursor"
	outboxBufCap = 512
)

type Outbox interface {
	Append(ev Event) error
	AppendCmdEnd(seq uint64) error
	Flush() error
	Close() error
}

// EventOutbox 事件落盘；每条命令的事件后面跟一条 EvCmdEnd(seq)
type EventOutbox struct {
	path  string
	w     *wal.Writer
	codec EvCodec
	buf   []byte
}

func OpenEventOutbox(path string, bufSize int, codec EvCodec) (*EventOutbox, error) {
	if codec == nil {
		codec = BinaryEvCodec{}
	}
	wr, err := wal.OpenWrite(path, bufSize)
	if err != nil {
		return nil, err
	}
	return &EventOutbox{path: path, w: wr, codec: codec, buf: make([]byte, 0, outboxBufCap)}, nil
}

func (o *EventOutbox) Append(ev Event) error {
	payload, err := o.codec.Encode(o.buf[:0], ev)
	if err != nil {
		return err
	}
	if cap(payload) <= 4*outboxBufCap {
		o.buf = payload[:0]
	}
	return o.w.Append(payload)
}

func (o *EventOutbox) AppendCmdEnd(seq uint64) error {
	return o.Append(Event{Type: EvCmdEnd, Seq: seq})
}

func (o *EventOutbox) Flush() error { return o.w.Flush() }
func (o *EventOutbox) Close() error { return o.w.Close() }

// ScanAndRepairOutbox 扫描 outbox，返回最后一个完整命令的 seq
// 半写的尾部和没有 EvCmdEnd 的残留事件都会被截断
func ScanAndRepairOutbox(path string, codec EvCodec) (lastCompleteSeq uint64, lastCompleteOffset int64, err error) {
	if codec == nil {
		codec = BinaryEvCodec{}
	}
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return 0, 0, nil
	}
	r, err := wal.OpenReader(path, 0, wal.ReaderOptions{AllowTruncatedTail: true})
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	for {
		p, nextOff, e := r.Next()
		if e != nil {
			if errors.Is(e, io.EOF) {
				break
			}
			return 0, 0, e
		}
		ev, err := codec.Decode(p)
		if err != nil {
			return 0, 0, err
		}
		if ev.Type == EvCmdEnd {
			lastCompleteSeq = ev.Seq
			lastCompleteOffset = nextOff
		}
	}

	// 截断到最后一个命令边界；一个边界都没有就整个清空
	st, err := os.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if st.Size() > lastCompleteOffset {
		if err := wal.TruncateTo(path, lastCompleteOffset); err != nil {
			return 0, 0, err
		}
	}
	return lastCompleteSeq, lastCompleteOffset, nil
}

// cursor 文件：8 字节 little endian offset
func loadCursor(path string) int64 {
	b, err := os.ReadFile(path)
	if err != nil || len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b[:8]))
}

func storeCursor(path string, off int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(off))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b[:], 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
