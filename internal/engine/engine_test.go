package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/migrate"
	"pressline/internal/notify"
	"pressline/internal/repo"
	"pressline/internal/workflow"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    time.Time
	seq    int
}

func newTestEnv(t *testing.T, opts ...func(*config.Config)) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, db.SQLite))
	cfg := config.Default()
	for _, opt := range opts {
		opt(cfg)
	}
	env := &testEnv{Ctx: context.Background(), now: t0}
	env.Engine = engine.New(conn, cfg)
	env.Engine.Now = func() time.Time { return env.now }
	_, err = env.Engine.CreateSite(env.Ctx, "acme", "Acme", "tester")
	require.NoError(t, err)
	return env
}

func (env *testEnv) create(t *testing.T, kind domain.Kind) domain.Content {
	t.Helper()
	env.seq++
	c, err := env.Engine.CreateContent(env.Ctx, engine.ContentCreateOptions{
		SiteID:  "acme",
		Kind:    kind,
		ActorID: "tester",
		Translations: []domain.Translation{
			{Locale: "en", Title: "Item", Slug: fmt.Sprintf("item-%d", env.seq)},
		},
	})
	require.NoError(t, err)
	return c
}

func (env *testEnv) move(t *testing.T, id string, to workflow.State) domain.Content {
	t.Helper()
	req := engine.TransitionRequest{ID: id, To: to, ActorID: "tester"}
	if to == workflow.Scheduled {
		at := env.now.Add(time.Hour)
		req.ScheduledAt = &at
	}
	c, err := env.Engine.Transition(env.Ctx, req)
	require.NoError(t, err)
	require.Equal(t, to, c.State)
	return c
}

var paths = map[workflow.State][]workflow.State{
	workflow.Draft:         nil,
	workflow.PendingReview: {workflow.PendingReview},
	workflow.InReview:      {workflow.PendingReview, workflow.InReview},
	workflow.Approved:      {workflow.PendingReview, workflow.InReview, workflow.Approved},
	workflow.Rejected:      {workflow.PendingReview, workflow.InReview, workflow.Rejected},
	workflow.Published:     {workflow.Published},
	workflow.Scheduled:     {workflow.Scheduled},
	workflow.Archived:      {workflow.Archived},
}

// reach creates a page and walks it into state.
func (env *testEnv) reach(t *testing.T, state workflow.State) domain.Content {
	t.Helper()
	c := env.create(t, domain.KindPage)
	for _, s := range paths[state] {
		c = env.move(t, c.ID, s)
	}
	return c
}

func sameLifecycle(t *testing.T, want, got workflow.Lifecycle) {
	t.Helper()
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.ReviewNotes, got.ReviewNotes)
	for name, pair := range map[string][2]*time.Time{
		"published_at": {want.PublishedAt, got.PublishedAt},
		"scheduled_at": {want.ScheduledAt, got.ScheduledAt},
		"archived_at":  {want.ArchivedAt, got.ArchivedAt},
	} {
		if pair[0] == nil || pair[1] == nil {
			assert.Equal(t, pair[0] == nil, pair[1] == nil, name)
			continue
		}
		assert.True(t, pair[0].Equal(*pair[1]), "%s: %s != %s", name, pair[0], pair[1])
	}
}

func TestEveryTableRowPersists(t *testing.T) {
	env := newTestEnv(t)
	for _, from := range workflow.States() {
		for _, to := range workflow.AllowedTransitions(from) {
			c := env.reach(t, from)
			moved := env.move(t, c.ID, to)
			stored, err := env.Engine.Repo.GetContent(env.Ctx, c.ID)
			require.NoError(t, err)
			sameLifecycle(t, moved.Lifecycle, stored.Lifecycle)
		}
	}
}

func TestRejectedTransitionLeavesRecordUntouched(t *testing.T) {
	env := newTestEnv(t)
	targets := append(workflow.States(), workflow.State("bogus"))
	for _, from := range workflow.States() {
		for _, to := range targets {
			if workflow.CanTransition(from, to) {
				continue
			}
			c := env.reach(t, from)
			before, err := env.Engine.Repo.GetContentAny(env.Ctx, c.ID)
			require.NoError(t, err)
			lastEvent, err := env.Engine.Repo.LatestEventID(env.Ctx, "")
			require.NoError(t, err)

			at := env.now.Add(time.Hour)
			notes := "ignored"
			_, err = env.Engine.Transition(env.Ctx, engine.TransitionRequest{ID: c.ID, To: to, ScheduledAt: &at, ReviewNotes: &notes, ActorID: "tester"})
			require.ErrorIs(t, err, workflow.ErrIllegalTransition, "%s -> %s", from, to)
			var illegal *workflow.IllegalTransitionError
			require.ErrorAs(t, err, &illegal)
			assert.Equal(t, from, illegal.From)
			assert.Equal(t, to, illegal.To)
			assert.Equal(t, c.ID, illegal.EntityID)
			assert.False(t, workflow.Retryable(err))

			after, err := env.Engine.Repo.GetContentAny(env.Ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after, "%s -> %s", from, to)
			latest, err := env.Engine.Repo.LatestEventID(env.Ctx, "")
			require.NoError(t, err)
			assert.Equal(t, lastEvent, latest)
		}
	}
}

func TestPublishSetsPublishedAtOnce(t *testing.T) {
	env := newTestEnv(t)
	pages := env.Engine.Pages()
	c := env.create(t, domain.KindPage)
	require.Nil(t, c.PublishedAt)

	c, err := pages.Publish(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	require.NotNil(t, c.PublishedAt)
	assert.True(t, c.PublishedAt.Equal(t0))

	env.now = t0.Add(time.Hour)
	_, err = pages.Unpublish(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	env.now = t0.Add(2 * time.Hour)
	c, err = pages.Publish(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	assert.True(t, c.PublishedAt.Equal(t0), "published_at moved to %s", c.PublishedAt)
}

func TestScheduleRequiresFutureTime(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, domain.KindArticle)
	for _, at := range []time.Time{t0.Add(-time.Minute), t0} {
		_, err := env.Engine.Articles().Schedule(env.Ctx, c.ID, at, "tester")
		require.ErrorIs(t, err, workflow.ErrInvalidScheduleTime)
	}
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{ID: c.ID, To: workflow.Scheduled, ActorID: "tester"})
	require.ErrorIs(t, err, workflow.ErrInvalidScheduleTime)

	stored, err := env.Engine.Repo.GetContent(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Draft, stored.State)
	assert.Nil(t, stored.ScheduledAt)

	// The time check comes before the table.
	pending := env.reach(t, workflow.PendingReview)
	past := t0.Add(-time.Hour)
	_, err = env.Engine.Transition(env.Ctx, engine.TransitionRequest{ID: pending.ID, To: workflow.Scheduled, ScheduledAt: &past})
	assert.ErrorIs(t, err, workflow.ErrInvalidScheduleTime)
	assert.NotErrorIs(t, err, workflow.ErrIllegalTransition)
}

func TestConcurrentSweepsPublishEachRecordOnce(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Workflow.Sweep.BatchSize = 7 })
	var notified atomic.Int64
	var seen sync.Map
	env.Engine.Sink = notify.Func(func(_ context.Context, ch notify.StateChange) error {
		if ch.To == workflow.Published {
			notified.Add(1)
			if _, dup := seen.LoadOrStore(ch.EntityID, true); dup {
				t.Errorf("%s published twice", ch.EntityID)
			}
		}
		return nil
	})
	for i := 0; i < 100; i++ {
		c := env.create(t, domain.KindArticle)
		_, err := env.Engine.Articles().Schedule(env.Ctx, c.ID, t0.Add(time.Duration(i+1)*time.Second), "tester")
		require.NoError(t, err)
	}

	sweepAt := t0.Add(2 * time.Hour)
	results := make([]engine.SweepResult, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i], errs[i] = env.Engine.Sweep(env.Ctx, sweepAt)
		}(i)
	}
	close(start)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Empty(t, results[0].Failures)
	assert.Empty(t, results[1].Failures)
	assert.Equal(t, 100, results[0].Published+results[1].Published)
	assert.Equal(t, int64(100), notified.Load())

	counts, err := env.Engine.Repo.CountContentsByState(env.Ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 100, counts[string(workflow.Published)])
	assert.Zero(t, counts[string(workflow.Scheduled)])

	again, err := env.Engine.Sweep(env.Ctx, sweepAt)
	require.NoError(t, err)
	assert.Zero(t, again.Published)
}

func TestSweepLeavesFutureAndDeletedRecords(t *testing.T) {
	env := newTestEnv(t)
	articles := env.Engine.Articles()
	due := env.create(t, domain.KindArticle)
	later := env.create(t, domain.KindArticle)
	gone := env.create(t, domain.KindArticle)
	_, err := articles.Schedule(env.Ctx, due.ID, t0.Add(time.Hour), "tester")
	require.NoError(t, err)
	_, err = articles.Schedule(env.Ctx, later.ID, t0.Add(3*time.Hour), "tester")
	require.NoError(t, err)
	_, err = articles.Schedule(env.Ctx, gone.ID, t0.Add(time.Hour), "tester")
	require.NoError(t, err)
	require.NoError(t, env.Engine.DeleteContent(env.Ctx, gone.ID, "tester"))

	res, err := env.Engine.Sweep(env.Ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)

	stored, err := env.Engine.Repo.GetContent(env.Ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Scheduled, stored.State)
	stored, err = env.Engine.Repo.GetContentAny(env.Ctx, gone.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Scheduled, stored.State)
}

func TestSweepReportsPerRecordFailures(t *testing.T) {
	env := newTestEnv(t)
	articles := env.Engine.Articles()
	var ids []string
	for i := 0; i < 3; i++ {
		c := env.create(t, domain.KindArticle)
		_, err := articles.Schedule(env.Ctx, c.ID, t0.Add(time.Hour), "tester")
		require.NoError(t, err)
		ids = append(ids, c.ID)
	}
	_, err := env.Engine.DB.Exec(fmt.Sprintf(`CREATE TRIGGER fail_publish BEFORE UPDATE ON contents
		WHEN NEW.id = '%s' BEGIN SELECT RAISE(ABORT, 'disk full'); END`, ids[1]))
	require.NoError(t, err)

	res, err := env.Engine.Sweep(env.Ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Published)
	assert.Equal(t, []string{ids[1]}, res.Failures)

	stored, err := env.Engine.Repo.GetContent(env.Ctx, ids[1])
	require.NoError(t, err)
	assert.Equal(t, workflow.Scheduled, stored.State)
}

func TestStaleWriterLosesToInterleavedRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, domain.KindPage)
	pages := env.Engine.Pages()

	var published *time.Time
	_, err := env.Engine.TransitionAfter(env.Ctx, engine.TransitionRequest{
		ID: c.ID, To: workflow.PendingReview, ActorID: "writer-a",
	}, func(loaded domain.Content) error {
		require.Equal(t, workflow.Draft, loaded.State)
		p, err := pages.Publish(env.Ctx, c.ID, "writer-b")
		if err != nil {
			return err
		}
		published = p.PublishedAt
		_, err = pages.Unpublish(env.Ctx, c.ID, "writer-b")
		return err
	})
	require.ErrorIs(t, err, workflow.ErrConflict)
	assert.ErrorIs(t, err, workflow.ErrPersistence)

	got, err := env.Engine.GetContent(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Draft, got.State)
	require.NotNil(t, published)
	require.NotNil(t, got.PublishedAt, "pages keep the first published_at")
	assert.True(t, got.PublishedAt.Equal(*published))
	assert.Equal(t, c.Version+2, got.Version)

	// a fresh load succeeds
	moved, err := pages.SubmitForReview(env.Ctx, c.ID, "writer-a")
	require.NoError(t, err)
	assert.Equal(t, c.Version+3, moved.Version)
}

func TestRoundTripIsRepeatable(t *testing.T) {
	for _, kind := range []domain.Kind{domain.KindArticle, domain.KindPage} {
		t.Run(string(kind), func(t *testing.T) {
			env := newTestEnv(t)
			a := env.Engine.Adapter(kind)
			c := env.create(t, kind)
			notes := "looks good"
			loop := func() workflow.Lifecycle {
				var err error
				_, err = a.SubmitForReview(env.Ctx, c.ID, "writer")
				require.NoError(t, err)
				_, err = a.StartReview(env.Ctx, c.ID, "editor")
				require.NoError(t, err)
				_, err = a.Approve(env.Ctx, c.ID, &notes, "editor")
				require.NoError(t, err)
				_, err = a.Publish(env.Ctx, c.ID, "editor")
				require.NoError(t, err)
				_, err = a.Archive(env.Ctx, c.ID, "editor")
				require.NoError(t, err)
				out, err := a.Unarchive(env.Ctx, c.ID, "editor")
				require.NoError(t, err)
				return out.Lifecycle
			}
			first := loop()
			second := loop()
			sameLifecycle(t, first, second)
			assert.Equal(t, workflow.Draft, second.State)
			require.NotNil(t, second.ReviewNotes)
			assert.Equal(t, notes, *second.ReviewNotes)
			assert.True(t, second.ArchivedAt.Equal(t0))
			assert.Nil(t, second.ScheduledAt)
			if a.Policy() == workflow.ClearPublishedAt {
				assert.Nil(t, second.PublishedAt)
			} else {
				require.NotNil(t, second.PublishedAt)
				assert.True(t, second.PublishedAt.Equal(t0))
			}
		})
	}
}

func TestScheduleSweepUnpublishScenario(t *testing.T) {
	cases := []struct {
		kind   domain.Kind
		policy workflow.RetentionPolicy
	}{
		{domain.KindArticle, workflow.ClearPublishedAt},
		{domain.KindPage, workflow.RetainPublishedAt},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			env := newTestEnv(t)
			a := env.Engine.Adapter(tc.kind)
			require.Equal(t, tc.policy, a.Policy())
			x := env.create(t, tc.kind)

			x, err := a.Schedule(env.Ctx, x.ID, t0.Add(time.Hour), "tester")
			require.NoError(t, err)
			assert.Equal(t, workflow.Scheduled, x.State)
			require.NotNil(t, x.ScheduledAt)
			assert.True(t, x.ScheduledAt.Equal(t0.Add(time.Hour)))

			res, err := env.Engine.Sweep(env.Ctx, t0.Add(2*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 1, res.Published)
			x, err = env.Engine.GetContent(env.Ctx, x.ID)
			require.NoError(t, err)
			assert.Equal(t, workflow.Published, x.State)
			assert.Nil(t, x.ScheduledAt)
			require.NotNil(t, x.PublishedAt)
			firstPublished := *x.PublishedAt
			assert.True(t, firstPublished.Equal(t0.Add(2*time.Hour)))

			env.now = t0.Add(3 * time.Hour)
			x, err = a.Unpublish(env.Ctx, x.ID, "tester")
			require.NoError(t, err)
			assert.Equal(t, workflow.Draft, x.State)

			env.now = t0.Add(4 * time.Hour)
			x, err = a.Publish(env.Ctx, x.ID, "tester")
			require.NoError(t, err)
			require.NotNil(t, x.PublishedAt)
			if tc.policy == workflow.RetainPublishedAt {
				assert.True(t, x.PublishedAt.Equal(firstPublished))
			} else {
				assert.True(t, x.PublishedAt.Equal(t0.Add(4*time.Hour)))
			}
		})
	}
}

func TestAdapterGuards(t *testing.T) {
	env := newTestEnv(t)
	page := env.create(t, domain.KindPage)

	_, err := env.Engine.Articles().Publish(env.Ctx, page.ID, "tester")
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	pages := env.Engine.Pages()
	for name, call := range map[string]func() (domain.Content, error){
		"unpublish":       func() (domain.Content, error) { return pages.Unpublish(env.Ctx, page.ID, "tester") },
		"cancel schedule": func() (domain.Content, error) { return pages.CancelSchedule(env.Ctx, page.ID, "tester") },
		"unarchive":       func() (domain.Content, error) { return pages.Unarchive(env.Ctx, page.ID, "tester") },
	} {
		_, err := call()
		assert.ErrorIs(t, err, workflow.ErrIllegalTransition, name)
	}

	_, err = pages.Schedule(env.Ctx, page.ID, t0.Add(time.Hour), "tester")
	require.NoError(t, err)
	c, err := pages.CancelSchedule(env.Ctx, page.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, workflow.Draft, c.State)
	assert.Nil(t, c.ScheduledAt)

	_, err = env.Engine.Pages().Publish(env.Ctx, "missing", "tester")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestReviewNotes(t *testing.T) {
	env := newTestEnv(t)
	a := env.Engine.Services()
	c := env.reach(t, workflow.InReview)
	_, err := env.Engine.Transition(env.Ctx, engine.TransitionRequest{ID: c.ID, To: workflow.Draft})
	require.NoError(t, err)

	svc := env.create(t, domain.KindService)
	_, err = a.SubmitForReview(env.Ctx, svc.ID, "writer")
	require.NoError(t, err)
	_, err = a.StartReview(env.Ctx, svc.ID, "editor")
	require.NoError(t, err)
	notes := "needs sources"
	svc, err = a.Reject(env.Ctx, svc.ID, &notes, "editor")
	require.NoError(t, err)
	require.NotNil(t, svc.ReviewNotes)
	assert.Equal(t, notes, *svc.ReviewNotes)

	_, err = a.ReturnToDraft(env.Ctx, svc.ID, "writer")
	require.NoError(t, err)
	_, err = a.SubmitForReview(env.Ctx, svc.ID, "writer")
	require.NoError(t, err)
	_, err = a.StartReview(env.Ctx, svc.ID, "editor")
	require.NoError(t, err)
	svc, err = a.Approve(env.Ctx, svc.ID, nil, "editor")
	require.NoError(t, err)
	assert.Nil(t, svc.ReviewNotes)
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Workflow.Notify.TimeoutMS = 20 })
	c := env.create(t, domain.KindProject)

	env.Engine.Sink = notify.Func(func(context.Context, notify.StateChange) error {
		return errors.New("subscriber down")
	})
	c, err := env.Engine.Projects().Publish(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	assert.Equal(t, workflow.Published, c.State)

	block := make(chan struct{})
	defer close(block)
	env.Engine.Sink = notify.Func(func(ctx context.Context, _ notify.StateChange) error {
		select {
		case <-block:
		case <-ctx.Done():
		}
		return ctx.Err()
	})
	start := time.Now()
	c, err = env.Engine.Projects().Archive(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	stored, err := env.Engine.Repo.GetContent(env.Ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.Archived, stored.State)
}

func TestTransitionRecordsEvent(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, domain.KindArticle)
	env.now = t0.Add(3 * time.Minute)
	published, err := env.Engine.Articles().Publish(env.Ctx, c.ID, "alice")
	require.NoError(t, err)

	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 1, repo.EventFilters{EntityID: c.ID})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, "content.transitioned", evts[0].Type)
	assert.Equal(t, repo.FormatTime(published.UpdatedAt), evts[0].TS)
	assert.Equal(t, "alice", evts[0].ActorID)
	assert.JSONEq(t, `{"from":"draft","to":"published","kind":"article"}`, evts[0].Payload)
}

func TestDeletedRecordsCannotTransition(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, domain.KindArticle)
	require.NoError(t, env.Engine.DeleteContent(env.Ctx, c.ID, "tester"))
	_, err := env.Engine.Articles().Publish(env.Ctx, c.ID, "tester")
	assert.ErrorIs(t, err, workflow.ErrNotFound)

	_, err = env.Engine.RestoreContent(env.Ctx, c.ID, "tester")
	require.NoError(t, err)
	_, err = env.Engine.Articles().Publish(env.Ctx, c.ID, "tester")
	assert.NoError(t, err)
}

func TestStorageFailureIsPersistenceError(t *testing.T) {
	env := newTestEnv(t)
	c := env.create(t, domain.KindArticle)
	require.NoError(t, env.Engine.DB.Close())

	_, err := env.Engine.Articles().Publish(env.Ctx, c.ID, "tester")
	require.ErrorIs(t, err, workflow.ErrPersistence)
	assert.True(t, workflow.Retryable(err))

	_, err = env.Engine.Sweep(env.Ctx, t0)
	assert.ErrorIs(t, err, workflow.ErrPersistence)
}
