package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// capture 把全局 Log 换成写内存的 JSON logger，测试结束还原
func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	enc := zap.NewProductionEncoderConfig()
	enc.MessageKey = "msg"
	prev := Log
	Log = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(buf), zap.DebugLevel))
	t.Cleanup(func() { Log = prev })
	return buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var m map[string]any
		require.NoError(t, json.Unmarshal(ln, &m), "日志必须是一行 JSON")
		out = append(out, m)
	}
	return out
}

func TestLogger_ReqIDFromContext(t *testing.T) {
	buf := capture(t)

	ctx := WithReqID(context.Background(), "req-7")
	Info(ctx, "order submitted", zap.String("market", "ETH-USDC"), zap.Uint64("order_id", 42))

	entry := lines(t, buf)[0]
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "order submitted", entry["msg"])
	assert.Equal(t, "req-7", entry[ReqIDField])
	assert.Equal(t, "ETH-USDC", entry["market"])
	assert.Equal(t, float64(42), entry["order_id"])
}

func TestLogger_FieldsStackWithoutAliasing(t *testing.T) {
	buf := capture(t)

	base := WithFields(WithReqID(context.Background(), "r1"), zap.String("market", "ETH-USDC"))
	a := WithFields(base, zap.Uint64("seq", 1))
	b := WithFields(base, zap.Uint64("seq", 2))
	Warn(a, "a")
	Warn(b, "b")
	Error(base, "base", zap.String("extra", "x"))

	got := lines(t, buf)
	require.Len(t, got, 3)
	assert.Equal(t, float64(1), got[0]["seq"])
	assert.Equal(t, float64(2), got[1]["seq"])
	_, hasSeq := got[2]["seq"]
	assert.False(t, hasSeq)
	for _, e := range got {
		assert.Equal(t, "r1", e[ReqIDField])
		assert.Equal(t, "ETH-USDC", e["market"])
	}
}

func TestLogger_NoReqID(t *testing.T) {
	buf := capture(t)

	Error(context.Background(), "cmd wal flush failed", zap.String("file", "commands.wal"))
	// nil ctx 也要能打
	Debug(nil, "nil ctx")
	assert.Equal(t, context.Background(), WithReqID(context.Background(), ""))

	got := lines(t, buf)
	require.Len(t, got, 2)
	_, exists := got[0][ReqIDField]
	assert.False(t, exists, "ctx 上没有请求 id 时不输出 req_id")
	assert.Equal(t, "error", got[0]["level"])
	assert.Equal(t, "debug", got[1]["level"])
}

func TestLogger_NopBeforeInit(t *testing.T) {
	assert.NotPanics(t, func() {
		Info(context.Background(), "dropped")
		Sync()
	})
}
