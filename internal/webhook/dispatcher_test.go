package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/config"
	"pressline/internal/domain"
)

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEvents) add(typ, site string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, domain.Event{
		ID: int64(len(m.events) + 1), Type: typ, SiteID: site, EntityKind: "article",
		EntityID: "c1", ActorID: "alice", TS: "2024-05-01T09:00:00.000000Z", Payload: `{"to":"published"}`,
	})
}

func (m *memEvents) EventsAfter(_ context.Context, limit int, cursor int64, _ string) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, e := range m.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memEvents) LatestEventID(context.Context, string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.events)), nil
}

type received struct {
	mu      sync.Mutex
	headers []http.Header
	bodies  []webhookEvent
}

func (r *received) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bodies)
}

func newReceiver(t *testing.T, fail *atomic.Bool) (*httptest.Server, *received) {
	rec := &received{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var evt webhookEvent
		if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
			t.Errorf("decode: %v", err)
		}
		rec.mu.Lock()
		rec.headers = append(rec.headers, r.Header.Clone())
		rec.bodies = append(rec.bodies, evt)
		rec.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestDispatchStartsAtNewestEvent(t *testing.T) {
	src := &memEvents{}
	src.add("content.created", "acme")
	srv, rec := newReceiver(t, nil)
	d := NewDispatcher(src, []config.WebhookConfig{{URL: srv.URL, Secret: "s3cret"}}, nil)

	d.DispatchOnce(context.Background())
	assert.Zero(t, rec.len())

	src.add("content.transitioned", "acme")
	d.DispatchOnce(context.Background())
	require.Equal(t, 1, rec.len())
	h := rec.headers[0]
	assert.Equal(t, "content.transitioned", h.Get("X-Pressline-Event"))
	assert.Equal(t, "2", h.Get("X-Pressline-Delivery"))
	assert.Equal(t, "acme", h.Get("X-Pressline-Site"))
	assert.Equal(t, "s3cret", h.Get("X-Pressline-Secret"))
	assert.JSONEq(t, `{"to":"published"}`, string(rec.bodies[0].Payload))

	cur, ok := d.Cursor(0)
	require.True(t, ok)
	assert.Equal(t, int64(2), cur)
}

func TestDispatchFiltersAndSkipsDisabled(t *testing.T) {
	src := &memEvents{}
	srv, rec := newReceiver(t, nil)
	off := false
	d := NewDispatcher(src, []config.WebhookConfig{
		{URL: srv.URL, Events: []string{"content.transitioned"}},
		{URL: srv.URL, Enabled: &off},
	}, nil)
	d.DispatchOnce(context.Background())

	src.add("content.created", "acme")
	src.add("content.transitioned", "acme")
	src.add("content.deleted", "acme")
	d.DispatchOnce(context.Background())

	require.Equal(t, 1, rec.len())
	assert.Equal(t, "content.transitioned", rec.bodies[0].Type)
	cur, _ := d.Cursor(0)
	assert.Equal(t, int64(3), cur)
	_, seen := d.Cursor(1)
	assert.False(t, seen)
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	src := &memEvents{}
	var fail atomic.Bool
	srv, rec := newReceiver(t, &fail)
	d := NewDispatcher(src, []config.WebhookConfig{{URL: srv.URL}}, nil)
	d.DispatchOnce(context.Background())

	fail.Store(true)
	src.add("content.transitioned", "acme")
	src.add("content.transitioned", "acme")
	d.DispatchOnce(context.Background())
	cur, _ := d.Cursor(0)
	assert.Equal(t, int64(0), cur)

	fail.Store(false)
	d.DispatchOnce(context.Background())
	require.Equal(t, 2, rec.len())
	assert.Equal(t, int64(1), rec.bodies[0].ID)
	assert.Equal(t, int64(2), rec.bodies[1].ID)
}

func TestStartStop(t *testing.T) {
	src := &memEvents{}
	srv, rec := newReceiver(t, nil)
	d := NewDispatcher(src, []config.WebhookConfig{{URL: srv.URL}}, nil)
	d.Interval = 5 * time.Millisecond
	require.NoError(t, d.Start(context.Background()))
	assert.Error(t, d.Start(context.Background()))
	require.Eventually(t, func() bool { _, ok := d.Cursor(0); return ok }, time.Second, 5*time.Millisecond)

	src.add("content.created", "acme")
	require.Eventually(t, func() bool { return rec.len() == 1 }, time.Second, 5*time.Millisecond)
	d.Stop()
	d.Stop()
}
