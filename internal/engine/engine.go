package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"clobex.com/internal/clob"
	"clobex.com/internal/ledger"
	"clobex.com/pkg/logger"
	"clobex.com/pkg/safe"
	"clobex.com/pkg/wal"
)

type Config struct {
	Markets      []clob.Config
	Sequencer    SequencerConfig
	EventBusSize int

	WALDir          string        // 持久化目录
	EnableCmdWAL    bool          // 命令 WAL，重启时回放
	WALBufSize      int           // WAL 写缓冲
	EnableOutbox    bool          // 事件 outbox
	OutboxBufSize   int           // outbox 写缓冲
	EnablePublisher bool          // tail outbox 发布到 bus
	PublisherPoll   time.Duration // publisher 轮询间隔

	CmdCodec CmdCodec
	EvCodec  EvCodec

	// Clock 给没有时间戳的命令打时间，默认 time.Now
	Clock func() int64
}

// Engine 对外入口：持有 Exchange 状态、sequencer 和事件总线
type Engine struct {
	cfg Config
	x   *Exchange
	seq *Sequencer
	bus *ChanBus
	pub *OutboxPublisher

	startOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New 建市场、修复 outbox、回放命令 WAL；返回后还需要 Start
func New(cfg Config) (*Engine, error) {
	if cfg.EventBusSize <= 0 {
		cfg.EventBusSize = 1 << 16
	}
	if cfg.CmdCodec == nil {
		cfg.CmdCodec = BinaryCmdCodec{}
	}
	if cfg.EvCodec == nil {
		cfg.EvCodec = BinaryEvCodec{}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() int64 { return time.Now().UnixNano() }
	}
	// 只要开启持久化相关能力，WALDir 必须配置
	if (cfg.EnableCmdWAL || cfg.EnableOutbox || cfg.EnablePublisher) && cfg.WALDir == "" {
		return nil, errors.New("engine: WALDir is empty but persistence is enabled")
	}
	if cfg.EnablePublisher && !cfg.EnableOutbox {
		return nil, errors.New("engine: publisher requires outbox")
	}

	x, err := NewExchange(ledger.New(), cfg.Markets)
	if err != nil {
		return nil, err
	}
	e := &Engine{cfg: cfg, x: x, bus: NewChanBus(cfg.EventBusSize)}

	if cfg.WALDir != "" {
		if err := os.MkdirAll(cfg.WALDir, 0o755); err != nil {
			return nil, err
		}
	}
	cmdPath := filepath.Join(cfg.WALDir, cmdWalFile)
	evPath := filepath.Join(cfg.WALDir, outboxFile)
	curPath := filepath.Join(cfg.WALDir, cursorFile)

	// 配置里的费率；回放前先换成 genesis 里的，回放完再对齐回来
	want := snapshotFees(x)
	if cfg.EnableCmdWAL {
		if err := prepareGenesis(cfg.WALDir, cmdPath, x, want); err != nil {
			return nil, fmt.Errorf("engine: genesis: %w", err)
		}
	}

	// outbox 里最后一个完整命令边界
	var (
		lastCompleteSeq uint64
		ob              Outbox
	)
	if cfg.EnableOutbox {
		lastCompleteSeq, _, err = ScanAndRepairOutbox(evPath, cfg.EvCodec)
		if err != nil {
			return nil, fmt.Errorf("engine: repair outbox: %w", err)
		}
		ob, err = OpenEventOutbox(evPath, cfg.OutboxBufSize, cfg.EvCodec)
		if err != nil {
			return nil, err
		}
	}

	// 回放命令 WAL 重建状态；outbox 缺的事件（seq > lastCompleteSeq）顺便补齐
	var lastSeq uint64
	if cfg.EnableCmdWAL {
		lastSeq, err = replayCmdWAL(cmdPath, x, ob, lastCompleteSeq, cfg.CmdCodec)
		if err != nil {
			closeIfNotNil(ob)
			return nil, fmt.Errorf("engine: replay: %w", err)
		}
	}
	if ob != nil {
		if err := ob.Flush(); err != nil {
			closeIfNotNil(ob)
			return nil, err
		}
	}

	var cmdWriter walWriter
	if cfg.EnableCmdWAL {
		w, err := wal.OpenWrite(cmdPath, cfg.WALBufSize)
		if err != nil {
			closeIfNotNil(ob)
			return nil, err
		}
		cmdWriter = w
	}

	pubNotify := make(chan struct{}, 1)
	var sink EventSink
	if ob == nil {
		sink = e.bus
	}
	e.seq = NewSequencer(x, cfg.Sequencer, cmdWriter, ob, sink, pubNotify, cfg.CmdCodec)
	// 重启后 seq 连续
	e.seq.seq = lastSeq
	if cfg.EnableCmdWAL {
		cmds := reconcileCommands(x, want, cfg.Clock())
		if len(cmds) > 0 {
			logger.Info(context.Background(), "fees differ from config after replay, reconciling", zap.Int("cmds", len(cmds)))
		}
		if err := e.seq.Bootstrap(context.Background(), cmds); err != nil {
			_ = cmdWriter.Close()
			closeIfNotNil(ob)
			return nil, fmt.Errorf("engine: reconcile fees: %w", err)
		}
		lastSeq = e.seq.seq
	}

	if cfg.EnablePublisher {
		e.pub = NewOutboxPublisher(e.bus, evPath, curPath, pubNotify, cfg.PublisherPoll, cfg.EvCodec)
	}

	logger.Info(context.Background(), "engine ready",
		zap.Int("markets", len(cfg.Markets)),
		zap.Uint64("last_seq", lastSeq),
		zap.Uint64("outbox_seq", lastCompleteSeq),
	)
	return e, nil
}

// Start 启动 sequencer 和 publisher，ctx 结束或 Stop 时退出
func (e *Engine) Start(ctx context.Context) {
	e.startOnce.Do(func() {
		ctx, e.cancel = context.WithCancel(ctx)
		e.wg.Add(1)
		safe.Go(func() {
			defer e.wg.Done()
			e.seq.Run(ctx)
		})
		if e.pub != nil {
			e.wg.Add(1)
			safe.Go(func() {
				defer e.wg.Done()
				e.pub.Run(ctx)
			})
		}
	})
}

// Stop 停止并等待后台协程退出
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

func (e *Engine) stamp(cmd *Command) {
	if cmd.ClientTs == 0 {
		cmd.ClientTs = e.cfg.Clock()
	}
}

// TryEnqueue 非阻塞提交，不关心结果；mailbox 满返回 ErrEngineBusy
func (e *Engine) TryEnqueue(cmd Command) error {
	if !cmd.Type.Valid() {
		return ErrBadCommand
	}
	e.stamp(&cmd)
	return e.seq.TryEnqueue(cmd)
}

// Do 提交并等待结果；命令被执行后的业务错误放在 error 里返回
func (e *Engine) Do(ctx context.Context, cmd Command) (Result, error) {
	if !cmd.Type.Valid() {
		return Result{}, ErrBadCommand
	}
	e.stamp(&cmd)
	res, err := e.seq.Do(ctx, cmd)
	if err != nil {
		return res, err
	}
	return res, res.Err
}

func (e *Engine) Events() <-chan Event  { return e.bus.C() }
func (e *Engine) DroppedEvents() uint64 { return e.bus.Dropped() }
func (e *Engine) MailboxFull() uint64   { return e.seq.MailboxFull() }
func (e *Engine) LastSeq() uint64       { return e.seq.Seq() }

// 查询直接读状态，和 sequencer 并发安全（Market/Ledger 自带锁）

func (e *Engine) Market(name string) (*clob.Market, error) { return e.x.Market(name) }
func (e *Engine) Markets() []*clob.Market                  { return e.x.Markets() }
func (e *Engine) Ledger() *ledger.Ledger                   { return e.x.Ledger() }
func (e *Engine) CheckInvariants() error                   { return e.x.CheckInvariants() }

func replayCmdWAL(path string, app Applier, ob Outbox, lastCompleteSeq uint64, codec CmdCodec) (lastSeq uint64, err error) {
	var (
		col   collector
		nop   clob.NopEmitter
		count int
	)
	st, err := wal.Replay(path, wal.ReplayOptions{AllowTruncatedTail: true}, func(payload []byte) error {
		seq, cmd, err := codec.Decode(payload)
		if err != nil {
			return err
		}
		if seq <= lastSeq {
			return fmt.Errorf("cmd wal: seq %d after %d", seq, lastSeq)
		}
		lastSeq = seq
		count++

		// outbox 里已经有这条命令完整的事件：只重建状态
		if ob == nil || seq <= lastCompleteSeq {
			app.Apply(cmd, nop)
			return nil
		}
		// 补齐缺失的事件
		col.reset(seq, cmd)
		app.Apply(cmd, &col)
		for _, ev := range col.evs {
			if err := ob.Append(ev); err != nil {
				return err
			}
		}
		return ob.AppendCmdEnd(seq)
	})
	if err != nil {
		return 0, err
	}
	if st.TruncatedTail {
		// 半写的尾部截掉，后续追加才能接上
		if err := wal.TruncateTo(path, st.LastGoodOffset); err != nil {
			return 0, err
		}
	}
	logger.Info(context.Background(), "cmd wal replayed",
		zap.Int("commands", count),
		zap.Uint64("last_seq", lastSeq),
		zap.Bool("truncated_tail", st.TruncatedTail),
	)
	return lastSeq, nil
}

func closeIfNotNil(ob Outbox) {
	if ob != nil {
		_ = ob.Close()
	}
}
