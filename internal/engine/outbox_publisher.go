package engine

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"clobex.com/pkg/logger"
	"clobex.com/pkg/wal"
)

// OutboxPublisher tail outbox 文件并发布到 bus；cursor 只在命令边界落盘，所以是 at-least-once
type OutboxPublisher struct {
	bus        *ChanBus
	evPath     string
	cursorPath string
	notify     <-chan struct{}
	evCodec    EvCodec
	poll       time.Duration
}

func NewOutboxPublisher(bus *ChanBus, evPath, cursorPath string, notify <-chan struct{}, poll time.Duration, codec EvCodec) *OutboxPublisher {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	if codec == nil {
		codec = BinaryEvCodec{}
	}
	return &OutboxPublisher{
		bus:        bus,
		evPath:     evPath,
		cursorPath: cursorPath,
		notify:     notify,
		poll:       poll,
		evCodec:    codec,
	}
}

// Run 阻塞直到 ctx 结束
func (p *OutboxPublisher) Run(ctx context.Context) {
	committedOff := loadCursor(p.cursorPath)
	// cursor 可能大于文件大小（修复截断过），需要矫正
	if st, err := os.Stat(p.evPath); err == nil && committedOff > st.Size() {
		committedOff = st.Size()
		if err = storeCursor(p.cursorPath, committedOff); err != nil {
			logger.Error(ctx, "outbox cursor store failed", zap.Error(err))
			return
		}
	}

	for ctx.Err() == nil {
		off, err := p.drain(ctx, committedOff)
		committedOff = off
		if err != nil && err != io.EOF && !os.IsNotExist(err) && ctx.Err() == nil {
			logger.Warn(ctx, "outbox publisher retry", zap.Error(err), zap.Int64("offset", off))
		}
		p.wait(ctx)
	}
}

// drain 从 off 开始读到文件尾，返回最后一个已落盘的命令边界
func (p *OutboxPublisher) drain(ctx context.Context, off int64) (int64, error) {
	r, err := wal.OpenReader(p.evPath, off, wal.ReaderOptions{AllowTruncatedTail: true})
	if err != nil {
		return off, err
	}
	defer r.Close()

	committed := off
	var pending []Event
	for {
		if ctx.Err() != nil {
			return committed, ctx.Err()
		}
		payload, nextOff, err := r.Next()
		if err != nil {
			return committed, err
		}
		ev, err := p.evCodec.Decode(payload)
		if err != nil {
			return committed, err
		}
		if ev.Type != EvCmdEnd {
			pending = append(pending, ev)
			continue
		}
		// 整条命令的事件到齐才发布；publisher 不在撮合线程里，允许阻塞
		for _, e := range pending {
			if err := p.bus.Publish(ctx, e); err != nil {
				return committed, err
			}
		}
		pending = pending[:0]
		if err := storeCursor(p.cursorPath, nextOff); err != nil {
			return committed, err
		}
		committed = nextOff
	}
}

func (p *OutboxPublisher) wait(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-p.notify:
	case <-time.After(p.poll):
	}
}
