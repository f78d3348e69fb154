package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"clobex.com/pkg/logger"
	"clobex.com/pkg/metrics"
)

type SequencerConfig struct {
	MailboxSize int // mailbox 容量，满了直接 ErrEngineBusy
	BatchMax    int // 一轮最多处理多少条
}

type envelope struct {
	cmd   Command
	reply chan Result // 可以为 nil（TryEnqueue 不关心结果）
}

// Sequencer 单写线程：所有市场、所有账户的写命令在这里排成一个全序
// 每一轮：先把整批命令写 WAL 并 flush，再逐条 apply，事件写 outbox，每条命令后跟 EvCmdEnd
type Sequencer struct {
	app Applier
	in  chan envelope
	cfg SequencerConfig

	seq uint64

	wal       walWriter
	outbox    Outbox
	sink      EventSink     // 没开 outbox 时直接投递
	pubNotify chan struct{} // buffered=1，outbox flush 后通知 publisher
	cmdCodec  CmdCodec

	col    collector
	walBuf []byte

	mailboxFull uint64
	eventsDrop  uint64

	done     chan struct{}
	stopOnce sync.Once
}

func NewSequencer(app Applier, cfg SequencerConfig, w walWriter, ob Outbox, sink EventSink, pubNotify chan struct{}, codec CmdCodec) *Sequencer {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 4096
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 256
	}
	if pubNotify == nil {
		pubNotify = make(chan struct{}, 1)
	}
	if codec == nil {
		codec = BinaryCmdCodec{}
	}
	return &Sequencer{
		app:       app,
		in:        make(chan envelope, cfg.MailboxSize),
		cfg:       cfg,
		wal:       w,
		outbox:    ob,
		sink:      sink,
		pubNotify: pubNotify,
		cmdCodec:  codec,
		walBuf:    make([]byte, 0, 256),
		done:      make(chan struct{}),
	}
}

// TryEnqueue 非阻塞入队
func (s *Sequencer) TryEnqueue(cmd Command) error {
	return s.enqueue(envelope{cmd: cmd})
}

func (s *Sequencer) enqueue(env envelope) error {
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	select {
	case s.in <- env:
		return nil
	default:
		atomic.AddUint64(&s.mailboxFull, 1)
		metrics.MailboxFull.Inc()
		return ErrEngineBusy
	}
}

// Do 入队并等待执行结果；入队本身不阻塞
func (s *Sequencer) Do(ctx context.Context, cmd Command) (Result, error) {
	reply := make(chan Result, 1)
	if err := s.enqueue(envelope{cmd: cmd, reply: reply}); err != nil {
		return Result{}, err
	}
	select {
	case res := <-reply:
		return res, nil
	case <-s.done:
		// 停止前可能刚好回了结果
		select {
		case res := <-reply:
			return res, nil
		default:
			return Result{}, ErrStopped
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func (s *Sequencer) Seq() uint64           { return atomic.LoadUint64(&s.seq) }
func (s *Sequencer) MailboxFull() uint64   { return atomic.LoadUint64(&s.mailboxFull) }
func (s *Sequencer) EventsDropped() uint64 { return atomic.LoadUint64(&s.eventsDrop) }
func (s *Sequencer) Done() <-chan struct{} { return s.done }

func (s *Sequencer) stop() { s.stopOnce.Do(func() { close(s.done) }) }

func (s *Sequencer) Run(ctx context.Context) {
	defer s.stop()
	if s.wal != nil {
		defer s.wal.Close()
	}
	if s.outbox != nil {
		defer s.outbox.Close()
	}

	// 复用 batch slice，避免每轮分配
	batch := make([]envelope, 0, s.cfg.BatchMax)
	seqs := make([]uint64, 0, s.cfg.BatchMax)
	for {
		// 先阻塞拿 1 条，再不阻塞地尽量多拿
		var first envelope
		select {
		case <-ctx.Done():
			return
		case first = <-s.in:
		}
		batch = append(batch[:0], first)
	drain:
		for len(batch) < s.cfg.BatchMax {
			select {
			case env := <-s.in:
				batch = append(batch, env)
			default:
				break drain
			}
		}
		metrics.BatchSize.Observe(float64(len(batch)))

		// ---------- 第一段：命令落 WAL ----------
		seqs = seqs[:0]
		base := s.seq
		for i := range batch {
			seqs = append(seqs, base+uint64(i)+1)
		}
		if err := s.logBatch(ctx, batch, seqs); err != nil {
			// WAL 写失败不 apply，直接停；重启靠 WAL 里已经 flush 的部分恢复
			failAll(batch, err)
			return
		}

		// ---------- 第二段：apply + outbox ----------
		for i := range batch {
			res, err := s.apply(seqs[i], batch[i].cmd)
			if err != nil {
				logger.Error(ctx, "outbox write failed, sequencer stopped",
					zap.Uint64("seq", seqs[i]), zap.String(logger.ReqIDField, batch[i].cmd.ReqID), zap.Error(err))
				reply(batch[i], res)
				failAll(batch[i+1:], ErrStopped)
				return
			}
			reply(batch[i], res)
		}

		// batch 末尾 outbox flush 一次（组提交）
		if s.outbox != nil {
			if err := s.outbox.Flush(); err != nil {
				metrics.WalErrors.WithLabelValues(outboxFile, "flush").Inc()
				logger.Error(ctx, "outbox flush failed, sequencer stopped", zap.Error(err))
				return
			}
			select {
			case s.pubNotify <- struct{}{}:
			default:
			}
		}
	}
}

// Bootstrap 在 Run 之前同步执行一批命令，和正常批次一样先落 WAL 再 apply
func (s *Sequencer) Bootstrap(ctx context.Context, cmds []Command) error {
	if len(cmds) == 0 {
		return nil
	}
	batch := make([]envelope, len(cmds))
	seqs := make([]uint64, len(cmds))
	for i, cmd := range cmds {
		batch[i] = envelope{cmd: cmd}
		seqs[i] = s.seq + uint64(i) + 1
	}
	if err := s.logBatch(ctx, batch, seqs); err != nil {
		return err
	}
	for i, cmd := range cmds {
		res, err := s.apply(seqs[i], cmd)
		if err != nil {
			return err
		}
		if res.Err != nil {
			logger.Warn(ctx, "bootstrap cmd rejected", zap.Uint64("seq", seqs[i]), zap.Stringer("cmd", cmd.Type),
				zap.String("market", cmd.Market), zap.Error(res.Err))
		}
	}
	if s.outbox != nil {
		if err := s.outbox.Flush(); err != nil {
			return err
		}
		select {
		case s.pubNotify <- struct{}{}:
		default:
		}
	}
	return nil
}

func (s *Sequencer) logBatch(ctx context.Context, batch []envelope, seqs []uint64) error {
	if s.wal == nil {
		return nil
	}
	for i := range batch {
		payload, err := s.cmdCodec.Encode(s.walBuf[:0], seqs[i], batch[i].cmd)
		if err != nil {
			metrics.WalErrors.WithLabelValues(cmdWalFile, "encode").Inc()
			logger.Error(ctx, "cmd encode failed", zap.Uint64("seq", seqs[i]), zap.String(logger.ReqIDField, batch[i].cmd.ReqID), zap.Error(err))
			return err
		}
		s.walBuf = payload[:0]
		if err := s.wal.Append(payload); err != nil {
			metrics.WalErrors.WithLabelValues(cmdWalFile, "append").Inc()
			logger.Error(ctx, "cmd wal append failed", zap.Uint64("seq", seqs[i]), zap.Error(err))
			return err
		}
	}
	if err := s.wal.Flush(); err != nil {
		metrics.WalErrors.WithLabelValues(cmdWalFile, "flush").Inc()
		logger.Error(ctx, "cmd wal flush failed", zap.Error(err))
		return err
	}
	return nil
}

// apply 执行一条命令并把事件写出去；只有 outbox 写失败才返回 error
func (s *Sequencer) apply(seq uint64, cmd Command) (Result, error) {
	start := time.Now()
	s.col.reset(seq, cmd)
	res := s.app.Apply(cmd, &s.col)
	res.Seq = seq
	atomic.StoreUint64(&s.seq, seq)

	result := "ok"
	if res.Err != nil {
		result = "rejected"
	}
	metrics.CommandsTotal.WithLabelValues(cmd.Type.String(), result).Inc()
	metrics.CommandDuration.WithLabelValues(cmd.Type.String()).Observe(time.Since(start).Seconds())

	for i := range s.col.evs {
		if s.col.evs[i].Type == EvTrade {
			metrics.TradesTotal.WithLabelValues(s.col.evs[i].Market).Inc()
		}
	}
	return res, s.publish(seq)
}

func (s *Sequencer) publish(seq uint64) error {
	if s.outbox != nil {
		for _, ev := range s.col.evs {
			if err := s.outbox.Append(ev); err != nil {
				metrics.WalErrors.WithLabelValues(outboxFile, "append").Inc()
				return err
			}
		}
		if err := s.outbox.AppendCmdEnd(seq); err != nil {
			metrics.WalErrors.WithLabelValues(outboxFile, "append").Inc()
			return err
		}
		return nil
	}
	if s.sink == nil {
		return nil
	}
	for _, ev := range s.col.evs {
		if !s.sink.TryPublish(ev) {
			atomic.AddUint64(&s.eventsDrop, 1)
		}
	}
	return nil
}

func reply(env envelope, res Result) {
	if env.reply != nil {
		env.reply <- res
	}
}

func failAll(batch []envelope, err error) {
	for _, env := range batch {
		reply(env, Result{Err: err})
	}
}
