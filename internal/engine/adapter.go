package engine

import (
	"context"
	"time"

	"pressline/internal/domain"
	"pressline/internal/workflow"
)

// Adapter binds the engine to one content kind. Every method is a single
// call into Transition; adapters carry no table of their own.
type Adapter struct {
	engine Engine
	kind   domain.Kind
}

func (e Engine) Adapter(kind domain.Kind) Adapter {
	return Adapter{engine: e, kind: kind}
}

func (e Engine) Articles() Adapter { return e.Adapter(domain.KindArticle) }
func (e Engine) Pages() Adapter    { return e.Adapter(domain.KindPage) }
func (e Engine) Projects() Adapter { return e.Adapter(domain.KindProject) }
func (e Engine) Services() Adapter { return e.Adapter(domain.KindService) }

func (a Adapter) Kind() domain.Kind { return a.kind }

// Policy is the published_at retention applied when a record of this kind
// returns to draft.
func (a Adapter) Policy() workflow.RetentionPolicy {
	return a.engine.Config.RetentionFor(a.kind)
}

func (a Adapter) move(ctx context.Context, id string, to, expect workflow.State, actorID string) (domain.Content, error) {
	return a.engine.Transition(ctx, TransitionRequest{ID: id, To: to, Expect: expect, Kind: a.kind, ActorID: actorID})
}

func (a Adapter) Publish(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.Published, "", actorID)
}

// Unpublish returns a published record to draft.
func (a Adapter) Unpublish(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.Draft, workflow.Published, actorID)
}

func (a Adapter) Archive(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.Archived, "", actorID)
}

// Unarchive returns an archived record to draft.
func (a Adapter) Unarchive(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.Draft, workflow.Archived, actorID)
}

func (a Adapter) Schedule(ctx context.Context, id string, at time.Time, actorID string) (domain.Content, error) {
	return a.engine.Transition(ctx, TransitionRequest{ID: id, To: workflow.Scheduled, ScheduledAt: &at, Kind: a.kind, ActorID: actorID})
}

// CancelSchedule returns a scheduled record to draft.
func (a Adapter) CancelSchedule(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.Draft, workflow.Scheduled, actorID)
}

func (a Adapter) SubmitForReview(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.PendingReview, "", actorID)
}

func (a Adapter) StartReview(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.InReview, "", actorID)
}

func (a Adapter) Approve(ctx context.Context, id string, notes *string, actorID string) (domain.Content, error) {
	return a.engine.Transition(ctx, TransitionRequest{ID: id, To: workflow.Approved, ReviewNotes: notes, Kind: a.kind, ActorID: actorID})
}

func (a Adapter) Reject(ctx context.Context, id string, notes *string, actorID string) (domain.Content, error) {
	return a.engine.Transition(ctx, TransitionRequest{ID: id, To: workflow.Rejected, ReviewNotes: notes, Kind: a.kind, ActorID: actorID})
}

func (a Adapter) ReturnToDraft(ctx context.Context, id, actorID string) (domain.Content, error) {
	return a.move(ctx, id, workflow.Draft, "", actorID)
}
