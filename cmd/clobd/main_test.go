package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clobex.com/internal/engine"
)

func feeCmds() []engine.Command {
	return []engine.Command{
		{Type: engine.CmdSetFees, Market: "ETH-USDC", MakerBps: 5, TakerBps: 10},
		{Type: engine.CmdSetFeeRecipient, Market: "ETH-USDC", Address: "treasury"},
	}
}

func TestEnqueueAll_RetriesBusyMailbox(t *testing.T) {
	var got []engine.Command
	busy := 2
	enqueue := func(cmd engine.Command) error {
		if cmd.Type == engine.CmdSetFeeRecipient && busy > 0 {
			busy--
			return engine.ErrEngineBusy
		}
		got = append(got, cmd)
		return nil
	}

	n, err := enqueueAll(context.Background(), enqueue, feeCmds(), 3, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	for _, cmd := range got {
		assert.Equal(t, engine.ConfigReqID, cmd.ReqID)
	}
}

func TestEnqueueAll_ReportsWhereItStopped(t *testing.T) {
	enqueue := func(cmd engine.Command) error {
		if cmd.Type == engine.CmdSetFeeRecipient {
			return engine.ErrEngineBusy
		}
		return nil
	}
	n, err := enqueueAll(context.Background(), enqueue, feeCmds(), 2, time.Millisecond)
	assert.ErrorIs(t, err, engine.ErrEngineBusy)
	assert.Equal(t, 1, n)

	// 引擎已停：不重试
	calls := 0
	n, err = enqueueAll(context.Background(), func(engine.Command) error {
		calls++
		return engine.ErrStopped
	}, feeCmds(), 5, time.Millisecond)
	assert.ErrorIs(t, err, engine.ErrStopped)
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, calls)
}

func TestEnqueueAll_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n, err := enqueueAll(ctx, func(engine.Command) error { return engine.ErrEngineBusy }, feeCmds(), 5, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
}
