package presslinesdk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/engine"
	"pressline/internal/migrate"
	"pressline/internal/server"
)

func newClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	e := engine.New(conn, config.Default())
	_, key, err := e.CreateAPIKey(context.Background(), "sdk-user", "sdk", "admin")
	require.NoError(t, err)
	handler, err := server.New(server.Config{Engine: e})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL, "acme")
	c.APIKey = key
	return c
}

func TestClientWorkflow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	created, err := c.CreateContent(ctx, "page", Translation{Locale: "en", Title: "About", Slug: "about"})
	require.NoError(t, err)
	assert.Equal(t, "draft", created.State)
	assert.Equal(t, "acme", created.SiteID)

	updated, err := c.UpsertTranslation(ctx, created.ID, Translation{Locale: "de", Title: "Über uns", Slug: "ueber-uns"})
	require.NoError(t, err)
	assert.Len(t, updated.Translations, 2)

	at := time.Now().Add(time.Hour)
	scheduled, err := c.Schedule(ctx, created.ID, at)
	require.NoError(t, err)
	assert.Equal(t, "scheduled", scheduled.State)
	require.NotNil(t, scheduled.ScheduledAt)

	_, err = c.Archive(ctx, created.ID)
	require.Error(t, err)
	assert.True(t, IsIllegalTransition(err))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "scheduled", apiErr.Details["from"])

	res, err := c.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Published)

	back, err := c.CancelSchedule(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", back.State)

	published, err := c.Publish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "published", published.State)
	require.NotNil(t, published.PublishedAt)
	assert.Greater(t, published.Version, back.Version)

	notes := "typo"
	_, err = c.Transition(ctx, created.ID, "rejected", nil, &notes)
	assert.True(t, IsIllegalTransition(err))

	drafted, err := c.Unpublish(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", drafted.State)
	require.NotNil(t, drafted.PublishedAt, "pages keep published_at")

	got, err := c.GetContent(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, drafted.UpdatedAt.UTC(), got.UpdatedAt.UTC())

	page, err := c.ListContents(ctx, "page", "draft", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	events, err := c.Events(ctx, 3)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "content.transitioned", events[0].Type)
	assert.Equal(t, "sdk-user", events[0].ActorID)

	require.NoError(t, c.DeleteContent(ctx, created.ID))
	_, err = c.GetContent(ctx, created.ID)
	assert.True(t, IsNotFound(err))
}

func TestClientRequiresCredentials(t *testing.T) {
	c := newClient(t)
	c.APIKey = ""
	_, err := c.Events(context.Background(), 1)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Code)
}
