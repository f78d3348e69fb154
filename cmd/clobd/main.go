package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"clobex.com/internal/api"
	"clobex.com/internal/config"
	"clobex.com/internal/engine"
	"clobex.com/internal/gateway"
	pkgconfig "clobex.com/pkg/config"
	"clobex.com/pkg/logger"
	"clobex.com/pkg/metrics"
	"clobex.com/pkg/ratelimit"
	"clobex.com/pkg/safe"
)

const service = "clobd"

func main() {
	// 收到 SIGINT/SIGTERM 时取消 ctx，所有任务跟着退出
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 配置：config/clobd.yaml，CLOBD_* 环境变量覆盖
	var (
		boot    config.Config
		current atomic.Pointer[config.Config]
		eng     atomic.Pointer[engine.Engine]
	)
	_, err := pkgconfig.LoadAndWatch(service, &boot, func(v *viper.Viper) {
		if e := eng.Load(); e != nil {
			reload(ctx, v, e, &current)
		}
	})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	cfg := boot.Clone()
	current.Store(&cfg)

	if cfg.Log.File != "" {
		logger.InitWithFile(cfg.Name, cfg.Log.Level, cfg.Log.File)
	} else {
		logger.Init(cfg.Name, cfg.Log.Level)
	}
	defer logger.Sync()
	metrics.MustRegister()

	ec, err := cfg.EngineConfig()
	if err != nil {
		logger.Fatal(ctx, "build engine config", zap.Error(err))
	}
	e, err := engine.New(ec)
	if err != nil {
		logger.Fatal(ctx, "init engine", zap.Error(err))
	}
	e.Start(ctx)
	defer e.Stop()
	eng.Store(e)
	logger.Info(ctx, "engine started", zap.Uint64("last_seq", e.LastSeq()), zap.Int("markets", len(ec.Markets)))

	broker, err := newBroker(cfg.Nats)
	if err != nil {
		logger.Fatal(ctx, "init broker", zap.Error(err))
	}
	defer func() { _ = broker.Close() }()
	fwd := gateway.NewForwarder(broker).WithBreakers(ratelimit.NewBreakers(ratelimit.Rule{}, nil))

	g, gctx := errgroup.WithContext(ctx)
	hist, wss, err := startMarketData(gctx, g, cfg, broker)
	if err != nil {
		logger.Fatal(ctx, "init market data", zap.Error(err))
	}

	srv := api.NewServer(gctx, e, api.Options{
		Addr:       cfg.HTTP.Addr,
		RateLimit:  cfg.HTTP.RateLimit,
		Burst:      cfg.HTTP.Burst,
		AdminToken: func() string { return current.Load().Admin.Token },
		Klines:     hist,
		WS:         wss,
	})

	g.Go(func() error {
		return safe.Run(gctx, "forwarder", func(ctx context.Context) error {
			return fwd.Run(ctx, e.Events())
		})
	})
	g.Go(func() error {
		return safe.Run(gctx, "http", func(ctx context.Context) error {
			logger.Info(ctx, "http listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error(ctx, "clobd exit with error", zap.Error(err))
	}
	logger.Info(context.Background(), "clobd exit", zap.Uint64("last_seq", e.LastSeq()))
}

// reload 费率和收款账户的变更作为命令进定序器，和撮合命令有确定的先后；
// 其它字段（市场列表、WAL 等）需要重启
func reload(ctx context.Context, v *viper.Viper, e *engine.Engine, current *atomic.Pointer[config.Config]) {
	var next config.Config
	if err := v.Unmarshal(&next); err != nil {
		logger.Error(ctx, "reload config failed", zap.Error(err))
		return
	}
	prev := current.Load()
	cmds, err := config.FeeCommands(prev.Markets, next.Markets)
	if err != nil {
		logger.Error(ctx, "reload fees rejected", zap.Error(err))
		return
	}
	if n, err := enqueueAll(ctx, e.TryEnqueue, cmds, reloadRetries, reloadBackoff); err != nil {
		// 不更新 current，下次配置变更时会重新对比，已经入队的命令重发也是幂等的
		logger.Error(ctx, "reload enqueue failed", zap.Int("enqueued", n), zap.Int("fee_cmds", len(cmds)),
			zap.String("market", cmds[n].Market), zap.Stringer("cmd", cmds[n].Type), zap.Error(err))
		return
	}
	current.Store(&next)
	logger.Info(ctx, "config reloaded", zap.Int("fee_cmds", len(cmds)))
}

const (
	reloadRetries = 5
	reloadBackoff = 100 * time.Millisecond
)

// enqueueAll 按顺序入队，mailbox 满时退避重试；返回成功入队的条数
func enqueueAll(ctx context.Context, enqueue func(engine.Command) error, cmds []engine.Command, retries int, backoff time.Duration) (int, error) {
	for i, cmd := range cmds {
		cmd.ReqID = engine.ConfigReqID
		err := enqueue(cmd)
		for attempt := 0; errors.Is(err, engine.ErrEngineBusy) && attempt < retries; attempt++ {
			select {
			case <-ctx.Done():
				return i, ctx.Err()
			case <-time.After(backoff):
			}
			err = enqueue(cmd)
		}
		if err != nil {
			return i, err
		}
	}
	return len(cmds), nil
}

// newBroker 配了 nats.url 就连 NATS，否则用进程内 broker
func newBroker(c config.NatsConfig) (gateway.Broker, error) {
	if c.URL == "" {
		return gateway.NewMemBroker(1024), nil
	}
	return gateway.NewNatsBroker(c.URL,
		nats.Name(c.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
}
