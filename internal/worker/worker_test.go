package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"pressline/internal/engine"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls []time.Time
	err   error
	res   engine.SweepResult
}

func (f *fakeSweeper) Sweep(_ context.Context, now time.Time) (engine.SweepResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, now)
	return f.res, f.err
}

func (f *fakeSweeper) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestSweepSchedulerRunsImmediatelyAndOnTick(t *testing.T) {
	sw := &fakeSweeper{}
	s := NewSweepScheduler(sw, 10*time.Millisecond, nil)
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return sw.count() >= 3 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	n := sw.count()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, sw.count(), "sweeps ran after Stop")
	assert.Equal(t, fixed, sw.calls[0])
	assert.Equal(t, n, s.Runs())
}

func TestSweepSchedulerLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	sw := &fakeSweeper{res: engine.SweepResult{Published: 1, Failures: []string{"c9"}}}
	s := NewSweepScheduler(sw, time.Hour, zap.New(core))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Runs() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	require.Equal(t, 1, logs.FilterMessage("scheduled sweep had failures").Len())

	core, logs = observer.New(zapcore.WarnLevel)
	sw = &fakeSweeper{err: errors.New("db down")}
	s = NewSweepScheduler(sw, time.Hour, zap.New(core))
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return s.Runs() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()
	assert.Equal(t, 1, logs.FilterMessage("scheduled sweep failed").Len())
}

type stubWorker struct {
	name     string
	startErr error
	log      *[]string
}

func (w stubWorker) Start(context.Context) error {
	*w.log = append(*w.log, "start "+w.name)
	return w.startErr
}
func (w stubWorker) Stop()        { *w.log = append(*w.log, "stop "+w.name) }
func (w stubWorker) Name() string { return w.name }

func TestManagerOrder(t *testing.T) {
	var log []string
	m := NewManager(nil)
	m.Register(stubWorker{name: "a", log: &log})
	m.Register(stubWorker{name: "b", log: &log})
	require.Equal(t, 2, m.Count())
	require.NoError(t, m.StartAll(context.Background()))
	m.StopAll()
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)

	log = nil
	m = NewManager(nil)
	m.Register(stubWorker{name: "a", log: &log})
	m.Register(stubWorker{name: "b", log: &log, startErr: errors.New("port in use")})
	assert.Error(t, m.StartAll(context.Background()))
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}
