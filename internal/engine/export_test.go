package engine

import (
	"context"

	"pressline/internal/domain"
)

// TransitionAfter runs hook between loading the record and writing it.
func (e Engine) TransitionAfter(ctx context.Context, req TransitionRequest, hook func(domain.Content) error) (domain.Content, error) {
	return e.transition(ctx, req, e.now(), hook)
}
