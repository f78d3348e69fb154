package safe

import (
	"context"
	"runtime/debug"

	"go.uber.org/zap"

	"clobex.com/pkg/logger"
)

// Go 安全启动协程：panic 只记日志，不拖垮进程
func Go(fn func()) {
	go func() {
		defer recoverPanic(context.Background())
		fn()
	}()
}

// GoCtx 安全启动携带 context 的协程，便于在日志中保留请求链路信息
func GoCtx(ctx context.Context, fn func(ctx context.Context)) {
	if ctx == nil {
		ctx = context.Background()
	}
	go func() {
		defer recoverPanic(ctx)
		fn(ctx)
	}()
}

// Run 同步执行 fn，把 panic 转成 error；给 errgroup 里的长期任务用
func Run(ctx context.Context, name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(ctx, "🚨 TASK PANIC RECOVERED",
				zap.String("task", name),
				zap.Any("panic", r),
				zap.String("stack", string(debug.Stack())),
			)
			err = &PanicError{Task: name, Value: r}
		}
	}()
	return fn(ctx)
}

func recoverPanic(ctx context.Context) {
	if r := recover(); r != nil {
		logger.Error(ctx, "🚨 GOROUTINE PANIC RECOVERED",
			zap.Any("panic", r),
			zap.String("stack", string(debug.Stack())),
		)
	}
}
