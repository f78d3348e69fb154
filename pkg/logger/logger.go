package logger

import (
	"context"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 请求 id 在日志里的字段名，和引擎事件的 req_id 对得上
const ReqIDField = "req_id"

type ctxKey struct{}

// 全局 Logger 实例；Init 之前是 Nop，测试里不用初始化
var Log = zap.NewNop()

// Init 只输出到标准输出（容器里由采集端收集）
func Init(serviceName string, level string) {
	Log = build(serviceName, level, zapcore.AddSync(os.Stdout))
}

// InitWithFile 标准输出 + 追加写 logFile；文件打不开时退回只写标准输出
func InitWithFile(serviceName string, level string, logFile string) {
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stdout)}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err == nil {
		if f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			sinks = append(sinks, zapcore.AddSync(f))
		}
	}
	Log = build(serviceName, level, zapcore.NewMultiWriteSyncer(sinks...))
}

func build(serviceName, level string, w zapcore.WriteSyncer) *zap.Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zap.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.MessageKey = "msg"

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), w, zapLevel)
	// Skip 1：行号指向调用方而不是这里的封装
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("service", serviceName))
}

// WithFields 把字段挂到 ctx 上，之后用这个 ctx 打的日志都会带上
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	if len(fields) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKey{}).([]zap.Field)
	merged := make([]zap.Field, 0, len(prev)+len(fields))
	merged = append(merged, prev...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, ctxKey{}, merged)
}

// WithReqID 网关请求 id
func WithReqID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return WithFields(ctx, zap.String(ReqIDField, id))
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Info(msg, withCtx(ctx, fields)...)
}

func Error(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Error(msg, withCtx(ctx, fields)...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Warn(msg, withCtx(ctx, fields)...)
}

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Debug(msg, withCtx(ctx, fields)...)
}

// Fatal 会调用 os.Exit
func Fatal(ctx context.Context, msg string, fields ...zap.Field) {
	Log.Fatal(msg, withCtx(ctx, fields)...)
}

func withCtx(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	extra, _ := ctx.Value(ctxKey{}).([]zap.Field)
	if len(extra) == 0 {
		return fields
	}
	return append(extra[:len(extra):len(extra)], fields...)
}

// Sync 刷新缓冲区，main 里 defer 调用
func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}
