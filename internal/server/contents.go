package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/repo"
	"pressline/internal/workflow"
)

type contentPath struct {
	SiteID string `path:"site_id"`
	ID     string `path:"id"`
}

// loadInSite returns the record only when it belongs to siteID.
func loadInSite(ctx context.Context, e engine.Engine, siteID, id string) (domain.Content, error) {
	c, err := e.GetContent(ctx, id)
	if err != nil {
		return c, err
	}
	if c.SiteID != siteID {
		return domain.Content{}, fmt.Errorf("content %s in site %s: %w", id, siteID, repo.ErrNotFound)
	}
	return c, nil
}

func registerWorkflow(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "workflow-states",
		Method:      http.MethodGet,
		Path:        "/workflow/states",
		Summary:     "Transition table",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []StateRowResponse `json:"body"`
	}, error) {
		return &struct {
			Body []StateRowResponse `json:"body"`
		}{Body: stateRows()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "workflow-can-transition",
		Method:      http.MethodGet,
		Path:        "/workflow/can-transition",
		Summary:     "Check whether a transition is allowed",
	}, func(ctx context.Context, input *struct {
		From string `query:"from" required:"true"`
		To   string `query:"to" required:"true"`
	}) (*struct {
		Body CanTransitionResponse `json:"body"`
	}, error) {
		return &struct {
			Body CanTransitionResponse `json:"body"`
		}{Body: CanTransitionResponse{
			From:    input.From,
			To:      input.To,
			Allowed: workflow.CanTransition(workflow.State(input.From), workflow.State(input.To)),
		}}, nil
	})
}

func registerContents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-content",
		Method:        http.MethodPost,
		Path:          "/sites/{site_id}/contents",
		Summary:       "Create content in draft",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
		Body   CreateContentRequest
	}) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := e.EnsureSite(ctx, input.SiteID, actorID); err != nil {
			return nil, handleError(err)
		}
		opts := engine.ContentCreateOptions{
			SiteID:  input.SiteID,
			Kind:    domain.Kind(input.Body.Kind),
			ActorID: actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		if input.Body.AuthorID != nil {
			opts.AuthorID = *input.Body.AuthorID
		}
		for _, t := range input.Body.Translations {
			opts.Translations = append(opts.Translations, domain.Translation{Locale: t.Locale, Title: t.Title, Slug: t.Slug, Body: t.Body})
		}
		c, err := e.CreateContent(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-contents",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/contents",
		Summary:     "List content, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
		Kind   string `query:"kind" enum:"article,page,project,service"`
		State  string `query:"state" enum:"draft,pending_review,in_review,approved,rejected,published,scheduled,archived"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedContents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		cursorTS, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.ListContents(ctx, repo.ContentFilters{
			SiteID:          input.SiteID,
			Kind:            domain.Kind(input.Kind),
			State:           workflow.State(input.State),
			Limit:           limit + 1,
			CursorCreatedAt: cursorTS,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedContents{}
		if len(items) > limit {
			last := items[limit-1]
			resp.NextCursor = composeCursor(repo.FormatTime(last.CreatedAt), last.ID)
			items = items[:limit]
		}
		resp.Items = mapContents(items)
		return &struct {
			Body paginatedContents `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-content",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/contents/{id}",
		Summary:     "Get content",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contentPath) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		c, err := loadInSite(ctx, e, input.SiteID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-content",
		Method:        http.MethodDelete,
		Path:          "/sites/{site_id}/contents/{id}",
		Summary:       "Soft delete content",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contentPath) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := loadInSite(ctx, e, input.SiteID, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteContent(ctx, input.ID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "restore-content",
		Method:      http.MethodPost,
		Path:        "/sites/{site_id}/contents/{id}/restore",
		Summary:     "Undo a soft delete",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *contentPath) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		deleted, err := e.Repo.GetContentAny(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		if deleted.SiteID != input.SiteID {
			return nil, newAPIError(http.StatusNotFound, "not_found", "content not found", nil)
		}
		c, err := e.RestoreContent(ctx, input.ID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-translation",
		Method:      http.MethodPut,
		Path:        "/sites/{site_id}/contents/{id}/translations/{locale}",
		Summary:     "Create or replace a translation",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
		ID     string `path:"id"`
		Locale string `path:"locale"`
		Body   UpsertTranslationRequest
	}) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := loadInSite(ctx, e, input.SiteID, input.ID); err != nil {
			return nil, handleError(err)
		}
		c, err := e.UpsertTranslation(ctx, input.ID, input.Locale, engine.TranslationInput{
			Title: input.Body.Title,
			Slug:  input.Body.Slug,
			Body:  input.Body.Body,
		}, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-translation",
		Method:        http.MethodDelete,
		Path:          "/sites/{site_id}/contents/{id}/translations/{locale}",
		Summary:       "Delete a translation",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
		ID     string `path:"id"`
		Locale string `path:"locale"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := loadInSite(ctx, e, input.SiteID, input.ID); err != nil {
			return nil, handleError(err)
		}
		if err := e.DeleteTranslation(ctx, input.ID, input.Locale, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type workflowAction struct {
	name    string
	summary string
	run     func(ctx context.Context, a engine.Adapter, id, actorID string, body *ActionRequest) (domain.Content, error)
}

var workflowActions = []workflowAction{
	{"publish", "Publish now", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.Publish(ctx, id, actor)
	}},
	{"unpublish", "Return published content to draft", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.Unpublish(ctx, id, actor)
	}},
	{"archive", "Archive", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.Archive(ctx, id, actor)
	}},
	{"unarchive", "Return archived content to draft", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.Unarchive(ctx, id, actor)
	}},
	{"schedule", "Schedule publication", func(ctx context.Context, a engine.Adapter, id, actor string, body *ActionRequest) (domain.Content, error) {
		if body == nil || body.ScheduledAt == nil {
			return domain.Content{}, fmt.Errorf("scheduled_at is required: %w", workflow.ErrInvalidScheduleTime)
		}
		return a.Schedule(ctx, id, *body.ScheduledAt, actor)
	}},
	{"cancel-schedule", "Cancel a scheduled publication", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.CancelSchedule(ctx, id, actor)
	}},
	{"submit", "Submit for review", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.SubmitForReview(ctx, id, actor)
	}},
	{"start-review", "Start review", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.StartReview(ctx, id, actor)
	}},
	{"approve", "Approve", func(ctx context.Context, a engine.Adapter, id, actor string, body *ActionRequest) (domain.Content, error) {
		return a.Approve(ctx, id, reviewNotes(body), actor)
	}},
	{"reject", "Reject", func(ctx context.Context, a engine.Adapter, id, actor string, body *ActionRequest) (domain.Content, error) {
		return a.Reject(ctx, id, reviewNotes(body), actor)
	}},
	{"return-to-draft", "Return to draft", func(ctx context.Context, a engine.Adapter, id, actor string, _ *ActionRequest) (domain.Content, error) {
		return a.ReturnToDraft(ctx, id, actor)
	}},
}

func reviewNotes(body *ActionRequest) *string {
	if body == nil {
		return nil
	}
	return body.ReviewNotes
}

var transitionErrors = []int{http.StatusNotFound, http.StatusConflict, http.StatusUnprocessableEntity, http.StatusServiceUnavailable}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "transition-content",
		Method:      http.MethodPost,
		Path:        "/sites/{site_id}/contents/{id}/transitions",
		Summary:     "Move content to another state",
		Errors:      transitionErrors,
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
		ID     string `path:"id"`
		Body   TransitionRequest
	}) (*struct {
		Body ContentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := loadInSite(ctx, e, input.SiteID, input.ID); err != nil {
			return nil, handleError(err)
		}
		c, err := e.Transition(ctx, engine.TransitionRequest{
			ID:          input.ID,
			To:          workflow.State(input.Body.To),
			ScheduledAt: input.Body.ScheduledAt,
			ReviewNotes: input.Body.ReviewNotes,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ContentResponse `json:"body"`
		}{Body: contentResponse(c)}, nil
	})

	for _, action := range workflowActions {
		action := action
		huma.Register(api, huma.Operation{
			OperationID: "content-" + action.name,
			Method:      http.MethodPost,
			Path:        "/sites/{site_id}/contents/{id}/" + action.name,
			Summary:     action.summary,
			Errors:      transitionErrors,
		}, func(ctx context.Context, input *struct {
			SiteID string         `path:"site_id"`
			ID     string         `path:"id"`
			Body   *ActionRequest `required:"false"`
		}) (*struct {
			Body ContentResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			cur, err := loadInSite(ctx, e, input.SiteID, input.ID)
			if err != nil {
				return nil, handleError(err)
			}
			c, err := action.run(ctx, e.Adapter(cur.Kind), input.ID, actorID, input.Body)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ContentResponse `json:"body"`
			}{Body: contentResponse(c)}, nil
		})
	}
}

func registerStatus(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/status",
		Summary:     "Content counts per state",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
	}) (*struct {
		Body StatusResponse `json:"body"`
	}, error) {
		sum, err := e.Status(ctx, input.SiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body StatusResponse `json:"body"`
		}{Body: statusResponse(sum)}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		SiteID     string `path:"site_id"`
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"site,article,page,project,service"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.Repo.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilters{
			SiteID:     input.SiteID,
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = strconv.FormatInt(items[limit-1].ID, 10)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func registerSweep(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "sweep",
		Method:      http.MethodPost,
		Path:        "/sweep",
		Summary:     "Publish every scheduled record that is due",
		Errors:      []int{http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		At string `query:"at" doc:"RFC3339 time to sweep at, not after the server clock; defaults to now"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		if at := strings.TrimSpace(input.At); at != "" {
			parsed, err := time.Parse(time.RFC3339, at)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid at", map[string]any{"at": at})
			}
			if parsed.After(now) {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "at is after the server clock", map[string]any{
					"at":  at,
					"now": now.UTC().Format(time.RFC3339),
				})
			}
			now = parsed
		}
		res, err := e.Sweep(ctx, now)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse(res)}, nil
	})
}
