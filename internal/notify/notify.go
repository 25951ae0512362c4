// Package notify delivers state-changed notifications to in-process sinks.
// Delivery is best effort: failures are logged and counted, never returned
// to the code that committed the transition.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pressline/internal/domain"
	"pressline/internal/metrics"
	"pressline/internal/workflow"
)

// StateChange describes one committed transition.
type StateChange struct {
	EntityID string         `json:"entity_id"`
	SiteID   string         `json:"site_id"`
	Kind     domain.Kind    `json:"kind"`
	From     workflow.State `json:"from"`
	To       workflow.State `json:"to"`
	ActorID  string         `json:"actor_id"`
	At       time.Time      `json:"at"`
}

type Sink interface {
	Notify(ctx context.Context, change StateChange) error
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(context.Context, StateChange) error { return nil }

// Func adapts a function to Sink.
type Func func(ctx context.Context, change StateChange) error

func (f Func) Notify(ctx context.Context, change StateChange) error { return f(ctx, change) }

// Fanout delivers to every sink and joins their errors.
type Fanout []Sink

func (f Fanout) Notify(ctx context.Context, change StateChange) error {
	var errs []error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Notify(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Logger writes each change at info level.
type Logger struct {
	Log *zap.Logger
}

func (l Logger) Notify(_ context.Context, change StateChange) error {
	if l.Log == nil {
		return nil
	}
	l.Log.Info("content state changed",
		zap.String("entity_id", change.EntityID),
		zap.String("site_id", change.SiteID),
		zap.String("kind", string(change.Kind)),
		zap.String("from", string(change.From)),
		zap.String("to", string(change.To)),
		zap.String("actor_id", change.ActorID),
		zap.Time("at", change.At))
	return nil
}

var ErrTimeout = errors.New("notification timed out")

// Dispatch runs sink with a deadline of timeout. It waits at most timeout;
// a sink that overruns keeps running in the background with a cancelled
// context. The returned error is informational.
func Dispatch(ctx context.Context, sink Sink, change StateChange, timeout time.Duration, logger *zap.Logger) error {
	if sink == nil {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("notification sink panicked: %v", r)
			}
		}()
		done <- sink.Notify(dctx, change)
	}()

	var err error
	select {
	case err = <-done:
		cancel()
		if err != nil {
			metrics.ObserveNotifyFailure("error")
		}
	case <-dctx.Done():
		cancel()
		err = ErrTimeout
		metrics.ObserveNotifyFailure("timeout")
	}
	if err != nil {
		logger.Warn("state change notification failed",
			zap.String("entity_id", change.EntityID),
			zap.String("to", string(change.To)),
			zap.Duration("timeout", timeout),
			zap.Error(err))
	}
	return err
}
