package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/events"
	"pressline/internal/logging"
	"pressline/internal/metrics"
	"pressline/internal/notify"
	"pressline/internal/repo"
	"pressline/internal/workflow"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
	Sink   notify.Sink
	Logger *zap.Logger
}

func New(conn *sql.DB, cfg *config.Config) Engine {
	dialect := db.SQLite
	if cfg != nil {
		dialect = db.DialectFor(cfg.Database.Driver)
	}
	return Engine{
		DB:     conn,
		Repo:   repo.Repo{DB: conn, Dialect: dialect},
		Events: events.Writer{DB: conn, Dialect: dialect},
		Config: cfg,
		Now:    time.Now,
		Sink:   notify.Nop{},
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC().Truncate(time.Microsecond)
	}
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (e Engine) log() *zap.Logger {
	return logging.OrNop(e.Logger)
}

// events returns a writer stamped with the engine clock.
func (e Engine) events() events.Writer {
	return e.eventsAt(e.now())
}

// eventsAt returns a writer that stamps every event with now.
func (e Engine) eventsAt(now time.Time) events.Writer {
	w := e.Events
	w.Now = func() time.Time { return now }
	return w
}

func (e Engine) notifyTimeout() time.Duration {
	if e.Config == nil || e.Config.Workflow.Notify.TimeoutMS <= 0 {
		return 2 * time.Second
	}
	return e.Config.NotifyTimeout()
}

// TransitionRequest moves one record to a new state.
type TransitionRequest struct {
	ID          string
	To          workflow.State
	ScheduledAt *time.Time
	ReviewNotes *string
	ActorID     string
	// Kind, when set, refuses records of another kind with NotFound.
	Kind domain.Kind
	// Expect, when set, requires the record to currently be in this state.
	Expect workflow.State
}

// Transition validates and applies a state change, persists it with a
// compare-and-set on the prior state and version and then notifies the sink.
func (e Engine) Transition(ctx context.Context, req TransitionRequest) (domain.Content, error) {
	return e.transition(ctx, req, e.now(), nil)
}

func (e Engine) transition(ctx context.Context, req TransitionRequest, now time.Time, guard func(domain.Content) error) (domain.Content, error) {
	c, err := e.applyTransition(ctx, req, now, guard)
	if err != nil {
		metrics.ObserveTransitionError(errorReason(err))
		return c, err
	}
	return c, nil
}

func (e Engine) applyTransition(ctx context.Context, req TransitionRequest, now time.Time, guard func(domain.Content) error) (domain.Content, error) {
	if req.To == workflow.Scheduled {
		if err := workflow.ValidateSchedule(req.ScheduledAt, now); err != nil {
			return domain.Content{}, err
		}
	}
	c, err := e.Repo.GetContent(ctx, req.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Content{}, err
		}
		return domain.Content{}, &workflow.PersistenceError{Op: "load content", Err: err}
	}
	if req.Kind != "" && c.Kind != req.Kind {
		return domain.Content{}, fmt.Errorf("%s %s: %w", req.Kind, req.ID, workflow.ErrNotFound)
	}
	if req.Expect != "" && c.State != req.Expect {
		return c, &workflow.IllegalTransitionError{EntityID: c.ID, From: c.State, To: req.To}
	}
	if guard != nil {
		if err := guard(c); err != nil {
			return c, err
		}
	}
	next, err := workflow.Apply(c.ID, c.Lifecycle, req.To, workflow.Options{
		ScheduledAt: req.ScheduledAt,
		ReviewNotes: req.ReviewNotes,
	}, e.Config.RetentionFor(c.Kind), now)
	if err != nil {
		return c, err
	}
	updated := c
	updated.Lifecycle = next
	updated.UpdatedAt = now

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, &workflow.PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateLifecycle(ctx, tx, updated, c.State); err != nil {
		return c, &workflow.PersistenceError{Op: "update lifecycle", Err: err}
	}
	if err := e.eventsAt(now).Append(ctx, tx, events.ContentTransitioned, c.SiteID, string(c.Kind), c.ID, req.ActorID, events.EventPayload{
		"from": string(c.State),
		"to":   string(next.State),
		"kind": string(c.Kind),
	}); err != nil {
		return c, &workflow.PersistenceError{Op: "append event", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return c, &workflow.PersistenceError{Op: "commit", Err: err}
	}
	updated.Version++
	metrics.ObserveTransition(string(c.Kind), string(c.State), string(next.State))

	_ = notify.Dispatch(ctx, e.Sink, notify.StateChange{
		EntityID: c.ID,
		SiteID:   c.SiteID,
		Kind:     c.Kind,
		From:     c.State,
		To:       next.State,
		ActorID:  req.ActorID,
		At:       now,
	}, e.notifyTimeout(), e.log())

	e.log().Info("content transitioned",
		zap.String("entity_id", c.ID),
		zap.String("kind", string(c.Kind)),
		zap.String("from", string(c.State)),
		zap.String("to", string(next.State)),
		zap.String("actor_id", req.ActorID))

	trs, err := e.Repo.ListTranslations(ctx, c.ID)
	if err == nil {
		updated.Translations = trs[c.ID]
	}
	return updated, nil
}

func errorReason(err error) string {
	switch {
	case errors.Is(err, workflow.ErrInvalidScheduleTime):
		return "invalid_schedule_time"
	case errors.Is(err, workflow.ErrIllegalTransition):
		return "illegal_transition"
	case errors.Is(err, workflow.ErrConflict):
		return "conflict"
	case errors.Is(err, workflow.ErrNotFound):
		return "not_found"
	case errors.Is(err, workflow.ErrPersistence):
		return "persistence"
	case errors.Is(err, errNotDue):
		return "not_due"
	default:
		return "other"
	}
}
