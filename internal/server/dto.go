package server

import (
	"encoding/json"
	"time"

	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/workflow"
)

// Request payloads

type TranslationRequest struct {
	Locale string `json:"locale" example:"en"`
	Title  string `json:"title"`
	Slug   string `json:"slug" example:"hello-world"`
	Body   string `json:"body,omitempty"`
}

type CreateContentRequest struct {
	ID           *string              `json:"id,omitempty" format:"uuid"`
	Kind         string               `json:"kind" enum:"article,page,project,service"`
	AuthorID     *string              `json:"author_id,omitempty"`
	Translations []TranslationRequest `json:"translations,omitempty"`
}

type UpsertTranslationRequest struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
	Body  string `json:"body,omitempty"`
}

type TransitionRequest struct {
	To          string     `json:"to" enum:"draft,pending_review,in_review,approved,rejected,published,scheduled,archived"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ReviewNotes *string    `json:"review_notes,omitempty"`
}

// ActionRequest carries the optional arguments of the named workflow actions.
type ActionRequest struct {
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	ReviewNotes *string    `json:"review_notes,omitempty"`
}

// Response payloads

type TranslationResponse struct {
	Locale    string `json:"locale"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Body      string `json:"body,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

type ContentResponse struct {
	ID           string                `json:"id"`
	SiteID       string                `json:"site_id"`
	Kind         string                `json:"kind" enum:"article,page,project,service"`
	State        string                `json:"state" enum:"draft,pending_review,in_review,approved,rejected,published,scheduled,archived"`
	PublishedAt  *time.Time            `json:"published_at,omitempty"`
	ScheduledAt  *time.Time            `json:"scheduled_at,omitempty"`
	ArchivedAt   *time.Time            `json:"archived_at,omitempty"`
	ReviewNotes  *string               `json:"review_notes,omitempty"`
	AuthorID     string                `json:"author_id,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	DeletedAt    *time.Time            `json:"deleted_at,omitempty"`
	Version      int64                 `json:"version"`
	Translations []TranslationResponse `json:"translations"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	SiteID     string         `json:"site_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type StateRowResponse struct {
	State              string   `json:"state"`
	AllowedTransitions []string `json:"allowed_transitions"`
}

type CanTransitionResponse struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Allowed bool   `json:"allowed"`
}

type SweepResponse struct {
	Published int      `json:"published"`
	Failures  []string `json:"failures"`
}

type StatusResponse struct {
	SiteID string         `json:"site_id"`
	Total  int            `json:"total"`
	States map[string]int `json:"states"`
	Due    int            `json:"due"`
}

type paginatedContents struct {
	Items      []ContentResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func contentResponse(c domain.Content) ContentResponse {
	res := ContentResponse{
		ID:           c.ID,
		SiteID:       c.SiteID,
		Kind:         string(c.Kind),
		State:        string(c.State),
		PublishedAt:  c.PublishedAt,
		ScheduledAt:  c.ScheduledAt,
		ArchivedAt:   c.ArchivedAt,
		ReviewNotes:  c.ReviewNotes,
		AuthorID:     c.AuthorID,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		DeletedAt:    c.DeletedAt,
		Version:      c.Version,
		Translations: []TranslationResponse{},
	}
	for _, t := range c.Translations {
		res.Translations = append(res.Translations, TranslationResponse(t))
	}
	return res
}

func mapContents(items []domain.Content) []ContentResponse {
	out := make([]ContentResponse, 0, len(items))
	for _, c := range items {
		out = append(out, contentResponse(c))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		SiteID:     e.SiteID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func stateRows() []StateRowResponse {
	rows := make([]StateRowResponse, 0, len(workflow.States()))
	for _, s := range workflow.States() {
		row := StateRowResponse{State: string(s), AllowedTransitions: []string{}}
		for _, to := range workflow.AllowedTransitions(s) {
			row.AllowedTransitions = append(row.AllowedTransitions, string(to))
		}
		rows = append(rows, row)
	}
	return rows
}

func statusResponse(s engine.StatusSummary) StatusResponse {
	return StatusResponse(s)
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return map[string]any{"raw": raw}
	}
	return out
}
