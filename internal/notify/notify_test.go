package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pressline/internal/workflow"
)

var change = StateChange{EntityID: "c1", SiteID: "s1", Kind: "article", From: workflow.Draft, To: workflow.Published, ActorID: "alice"}

func TestDispatchDelivers(t *testing.T) {
	var got StateChange
	err := Dispatch(context.Background(), Func(func(_ context.Context, c StateChange) error {
		got = c
		return nil
	}), change, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, change, got)
}

func TestDispatchTimesOut(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	release := make(chan struct{})
	defer close(release)
	start := time.Now()
	err := Dispatch(context.Background(), Func(func(ctx context.Context, _ StateChange) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	}), change, 20*time.Millisecond, zap.New(core))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "state change notification failed", logs.All()[0].Message)
}

func TestDispatchSurvivesCancelledCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var called atomic.Bool
	err := Dispatch(ctx, Func(func(ctx context.Context, _ StateChange) error {
		called.Store(true)
		return ctx.Err()
	}), change, time.Second, nil)
	assert.NoError(t, err)
	assert.True(t, called.Load())
}

func TestDispatchRecoversPanics(t *testing.T) {
	err := Dispatch(context.Background(), Func(func(context.Context, StateChange) error {
		panic("boom")
	}), change, time.Second, nil)
	assert.ErrorContains(t, err, "panicked")
}

func TestFanoutJoinsErrors(t *testing.T) {
	var n atomic.Int32
	count := Func(func(context.Context, StateChange) error { n.Add(1); return nil })
	fail := Func(func(context.Context, StateChange) error { return errors.New("down") })
	err := Fanout{count, fail, nil, count}.Notify(context.Background(), change)
	assert.ErrorContains(t, err, "down")
	assert.Equal(t, int32(2), n.Load())
}

func TestLoggerSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	require.NoError(t, Logger{Log: zap.New(core)}.Notify(context.Background(), change))
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "c1", fields["entity_id"])
	assert.Equal(t, "published", fields["to"])
	assert.NoError(t, Nop{}.Notify(context.Background(), change))
}
