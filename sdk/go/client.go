package presslinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pressline HTTP API client scoped to one site.
type Client struct {
	BaseURL     string
	SiteID      string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, siteID string) *Client {
	return &Client{
		BaseURL: baseURL,
		SiteID:  siteID,
		Timeout: 10 * time.Second,
	}
}

type Translation struct {
	Locale    string `json:"locale"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Body      string `json:"body,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// Content represents the API content model.
type Content struct {
	ID           string        `json:"id"`
	SiteID       string        `json:"site_id"`
	Kind         string        `json:"kind"`
	State        string        `json:"state"`
	PublishedAt  *time.Time    `json:"published_at,omitempty"`
	ScheduledAt  *time.Time    `json:"scheduled_at,omitempty"`
	ArchivedAt   *time.Time    `json:"archived_at,omitempty"`
	ReviewNotes  *string       `json:"review_notes,omitempty"`
	AuthorID     string        `json:"author_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Version      int64         `json:"version"`
	Translations []Translation `json:"translations"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	SiteID     string         `json:"site_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type SweepResult struct {
	Published int      `json:"published"`
	Failures  []string `json:"failures"`
}

// APIError wraps non-2xx responses. Code and Details come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsIllegalTransition reports whether err is a 409 illegal_transition response.
func IsIllegalTransition(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == "illegal_transition"
}

// IsNotFound reports whether err is a 404 response.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

type PaginatedContents struct {
	Items      []Content `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// CreateContent creates a record in draft with optional translations.
func (c *Client) CreateContent(ctx context.Context, kind string, translations ...Translation) (Content, error) {
	body := map[string]any{"kind": kind}
	if len(translations) > 0 {
		body["translations"] = translations
	}
	var resp Content
	err := c.do(ctx, http.MethodPost, c.sitePath("contents"), body, &resp)
	return resp, err
}

func (c *Client) GetContent(ctx context.Context, id string) (Content, error) {
	var resp Content
	err := c.do(ctx, http.MethodGet, c.contentPath(id, ""), nil, &resp)
	return resp, err
}

// ListContents returns one page, newest first. Empty kind/state match all.
func (c *Client) ListContents(ctx context.Context, kind, state string, limit int, cursor string) (PaginatedContents, error) {
	q := url.Values{}
	setQuery(q, "kind", kind)
	setQuery(q, "state", state)
	setQuery(q, "cursor", cursor)
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var resp PaginatedContents
	err := c.do(ctx, http.MethodGet, withQuery(c.sitePath("contents"), q), nil, &resp)
	return resp, err
}

func (c *Client) DeleteContent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.contentPath(id, ""), nil, nil)
}

// UpsertTranslation creates or replaces the translation for locale.
func (c *Client) UpsertTranslation(ctx context.Context, id string, t Translation) (Content, error) {
	body := map[string]any{"title": t.Title, "slug": t.Slug}
	if t.Body != "" {
		body["body"] = t.Body
	}
	var resp Content
	err := c.do(ctx, http.MethodPut, c.contentPath(id, "translations/"+url.PathEscape(t.Locale)), body, &resp)
	return resp, err
}

// Transition moves a record to the target state. scheduledAt is required
// when to is "scheduled".
func (c *Client) Transition(ctx context.Context, id, to string, scheduledAt *time.Time, reviewNotes *string) (Content, error) {
	body := map[string]any{"to": to}
	if scheduledAt != nil {
		body["scheduled_at"] = scheduledAt.UTC().Format(time.RFC3339Nano)
	}
	if reviewNotes != nil {
		body["review_notes"] = *reviewNotes
	}
	var resp Content
	err := c.do(ctx, http.MethodPost, c.contentPath(id, "transitions"), body, &resp)
	return resp, err
}

func (c *Client) Publish(ctx context.Context, id string) (Content, error) {
	return c.action(ctx, id, "publish", nil)
}

func (c *Client) Unpublish(ctx context.Context, id string) (Content, error) {
	return c.action(ctx, id, "unpublish", nil)
}

func (c *Client) Archive(ctx context.Context, id string) (Content, error) {
	return c.action(ctx, id, "archive", nil)
}

func (c *Client) Schedule(ctx context.Context, id string, at time.Time) (Content, error) {
	return c.action(ctx, id, "schedule", map[string]any{"scheduled_at": at.UTC().Format(time.RFC3339Nano)})
}

func (c *Client) CancelSchedule(ctx context.Context, id string) (Content, error) {
	return c.action(ctx, id, "cancel-schedule", nil)
}

func (c *Client) action(ctx context.Context, id, name string, body any) (Content, error) {
	var resp Content
	err := c.do(ctx, http.MethodPost, c.contentPath(id, name), body, &resp)
	return resp, err
}

// Sweep asks the server to publish due scheduled records now.
func (c *Client) Sweep(ctx context.Context) (SweepResult, error) {
	var resp SweepResult
	err := c.do(ctx, http.MethodPost, "v1/sweep", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	setQuery(q, "cursor", cursor)
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery(c.sitePath("events"), q), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) sitePath(p string) string {
	return fmt.Sprintf("v1/sites/%s/%s", url.PathEscape(c.SiteID), strings.TrimLeft(p, "/"))
}

func (c *Client) contentPath(id, sub string) string {
	p := "contents/" + url.PathEscape(id)
	if sub != "" {
		p += "/" + sub
	}
	return c.sitePath(p)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func setQuery(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}
