package engine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"pressline/internal/domain"
	"pressline/internal/metrics"
	"pressline/internal/repo"
	"pressline/internal/workflow"
)

// SchedulerActor is recorded as the actor of sweep publications.
const SchedulerActor = "system:scheduler"

var errNotDue = errors.New("not due")

type SweepResult struct {
	Published int      `json:"published"`
	Failures  []string `json:"failures"`
}

// Sweep publishes every live scheduled record due at or before now. Records
// another caller publishes first are skipped without being counted, so two
// overlapping sweeps publish each record once between them. A storage
// failure on one record is reported in Failures and the sweep moves on.
func (e Engine) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	start := time.Now()
	now = now.UTC().Truncate(time.Microsecond)
	res := SweepResult{Failures: []string{}}
	batch := 100
	if e.Config != nil && e.Config.Workflow.Sweep.BatchSize > 0 {
		batch = e.Config.Workflow.Sweep.BatchSize
	}
	due := func(c domain.Content) error {
		if c.ScheduledAt == nil || c.ScheduledAt.After(now) {
			return errNotDue
		}
		return nil
	}

	var afterAt, afterID string
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// Candidates are fully read before any transition opens a transaction.
		items, err := e.Repo.ListDueScheduled(ctx, now, afterAt, afterID, batch)
		if err != nil {
			return res, &workflow.PersistenceError{Op: "list due", Err: err}
		}
		for _, c := range items {
			_, err := e.transition(ctx, TransitionRequest{
				ID:      c.ID,
				To:      workflow.Published,
				Expect:  workflow.Scheduled,
				ActorID: SchedulerActor,
			}, now, due)
			switch {
			case err == nil:
				res.Published++
			case skippable(err):
				e.log().Debug("sweep skipped record", zap.String("entity_id", c.ID), zap.Error(err))
			default:
				e.log().Warn("sweep failed to publish", zap.String("entity_id", c.ID), zap.Error(err))
				res.Failures = append(res.Failures, c.ID)
			}
		}
		if len(items) < batch {
			break
		}
		last := items[len(items)-1]
		afterAt, afterID = repo.FormatTime(*last.ScheduledAt), last.ID
	}

	metrics.ObserveSweep(res.Published, len(res.Failures), time.Since(start))
	if res.Published > 0 || len(res.Failures) > 0 {
		e.log().Info("sweep finished",
			zap.Int("published", res.Published),
			zap.Int("failures", len(res.Failures)),
			zap.Time("now", now))
	}
	return res, nil
}

// skippable reports the outcomes of losing a race to another writer.
func skippable(err error) bool {
	return errors.Is(err, workflow.ErrConflict) ||
		errors.Is(err, workflow.ErrIllegalTransition) ||
		errors.Is(err, workflow.ErrNotFound) ||
		errors.Is(err, errNotDue)
}
