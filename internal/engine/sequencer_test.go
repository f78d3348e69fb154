package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"clobex.com/internal/clob"
)

// countingApplier 记录执行次数，每条命令发一个 Rejected 事件
type countingApplier struct {
	applied int32
}

func (a *countingApplier) Apply(cmd Command, emit clob.Emitter) Result {
	atomic.AddInt32(&a.applied, 1)
	emit.Rejected(cmd.Market, cmd.Trader, cmd.OrderID, "noop")
	return Result{OrderID: cmd.OrderID}
}

type failingWal struct {
	appends         int
	failAfterAppend int // 第 N 次 Append 失败（1-based），0 表示不失败
	failFlush       bool
	closed          bool
}

func (w *failingWal) Append([]byte) error {
	w.appends++
	if w.failAfterAppend > 0 && w.appends >= w.failAfterAppend {
		return errors.New("append failed")
	}
	return nil
}

func (w *failingWal) Flush() error {
	if w.failFlush {
		return errors.New("flush failed")
	}
	return nil
}

func (w *failingWal) Close() error { w.closed = true; return nil }

type failingOutbox struct {
	events     []Event
	ends       []uint64
	failAppend bool
	failCmdEnd bool
	failFlush  bool
}

func (o *failingOutbox) Append(ev Event) error {
	if o.failAppend {
		return errors.New("outbox append failed")
	}
	o.events = append(o.events, ev)
	return nil
}

func (o *failingOutbox) AppendCmdEnd(seq uint64) error {
	if o.failCmdEnd {
		return errors.New("outbox cmd end failed")
	}
	o.ends = append(o.ends, seq)
	return nil
}

func (o *failingOutbox) Flush() error {
	if o.failFlush {
		return errors.New("outbox flush failed")
	}
	return nil
}

func (o *failingOutbox) Close() error { return nil }

func runSequencer(t *testing.T, s *Sequencer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-s.Done()
	})
}

func waitStopped(t *testing.T, s *Sequencer) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("sequencer did not stop")
	}
}

func doCmd(t *testing.T, s *Sequencer, cmd Command) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return s.Do(ctx, cmd)
}

func TestSequencer_WalAppendFailure_NoApply(t *testing.T) {
	app := &countingApplier{}
	w := &failingWal{failAfterAppend: 1}
	s := NewSequencer(app, SequencerConfig{}, w, nil, nil, nil, nil)
	runSequencer(t, s)

	res, err := doCmd(t, s, Command{Type: CmdCancel, OrderID: 1})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if res.Err == nil {
		t.Fatal("expected wal error in result")
	}
	waitStopped(t, s)
	if n := atomic.LoadInt32(&app.applied); n != 0 {
		t.Fatalf("applied=%d, want 0", n)
	}
	if !w.closed {
		t.Fatal("wal not closed")
	}
	if _, err := doCmd(t, s, Command{Type: CmdCancel}); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop err=%v", err)
	}
}

func TestSequencer_WalFlushFailure_NoApply(t *testing.T) {
	app := &countingApplier{}
	s := NewSequencer(app, SequencerConfig{}, &failingWal{failFlush: true}, nil, nil, nil, nil)
	runSequencer(t, s)

	res, err := doCmd(t, s, Command{Type: CmdCancel, OrderID: 1})
	if err != nil || res.Err == nil {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	waitStopped(t, s)
	if n := atomic.LoadInt32(&app.applied); n != 0 {
		t.Fatalf("applied=%d, want 0", n)
	}
}

func TestSequencer_OutboxFailure_Stops(t *testing.T) {
	app := &countingApplier{}
	ob := &failingOutbox{failCmdEnd: true}
	s := NewSequencer(app, SequencerConfig{}, &failingWal{}, ob, nil, nil, nil)
	runSequencer(t, s)

	// 命令已经执行，只是事件没能完整落盘
	res, err := doCmd(t, s, Command{Type: CmdCancel, OrderID: 7})
	if err != nil || res.Err != nil || res.OrderID != 7 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	waitStopped(t, s)
	if n := atomic.LoadInt32(&app.applied); n != 1 {
		t.Fatalf("applied=%d", n)
	}
	if len(ob.ends) != 0 {
		t.Fatalf("cmd end written: %v", ob.ends)
	}
}

func TestSequencer_OutboxBoundaries(t *testing.T) {
	app := &countingApplier{}
	ob := &failingOutbox{}
	notify := make(chan struct{}, 1)
	s := NewSequencer(app, SequencerConfig{}, &failingWal{}, ob, nil, notify, nil)
	runSequencer(t, s)

	for i := 0; i < 3; i++ {
		res, err := doCmd(t, s, Command{Type: CmdCancel, ReqID: fmt.Sprintf("r%d", 100+i), ClientTs: 42})
		if err != nil {
			t.Fatal(err)
		}
		if res.Seq != uint64(i+1) {
			t.Fatalf("seq=%d want %d", res.Seq, i+1)
		}
	}
	select {
	case <-notify:
	case <-time.After(time.Second):
		t.Fatal("publisher not notified")
	}
	// 事件在回复 Do 之前就已经写进 outbox
	if len(ob.events) != 3 || len(ob.ends) != 3 {
		t.Fatalf("events=%d ends=%d", len(ob.events), len(ob.ends))
	}
	for i, ev := range ob.events {
		if ev.Seq != uint64(i+1) || ev.Idx != 0 || ev.ReqID != fmt.Sprintf("r%d", 100+i) || ev.Time != 42 {
			t.Fatalf("event %d = %+v", i, ev)
		}
	}
}

func TestSequencer_TryEnqueue_MailboxFull(t *testing.T) {
	s := NewSequencer(&countingApplier{}, SequencerConfig{MailboxSize: 1}, nil, nil, nil, nil, nil)
	if err := s.TryEnqueue(Command{Type: CmdCancel}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := s.TryEnqueue(Command{Type: CmdCancel}); !errors.Is(err, ErrEngineBusy) {
		t.Fatalf("second enqueue err=%v", err)
	}
	if got := s.MailboxFull(); got != 1 {
		t.Fatalf("mailbox full=%d", got)
	}
}

func TestSequencer_DirectSinkCountsDrops(t *testing.T) {
	bus := NewChanBus(1)
	s := NewSequencer(&countingApplier{}, SequencerConfig{}, nil, nil, bus, nil, nil)
	runSequencer(t, s)

	for i := 0; i < 3; i++ {
		if _, err := doCmd(t, s, Command{Type: CmdCancel}); err != nil {
			t.Fatal(err)
		}
	}
	if s.EventsDropped() != 2 || bus.Dropped() != 2 {
		t.Fatalf("dropped: sequencer=%d bus=%d", s.EventsDropped(), bus.Dropped())
	}
}

func TestSequencer_DoHonoursContext(t *testing.T) {
	// 没有 Run：命令进了 mailbox 但永远不会执行
	s := NewSequencer(&countingApplier{}, SequencerConfig{}, nil, nil, nil, nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := s.Do(ctx, Command{Type: CmdCancel}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}
