package lifecycle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/cms"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/repo/memory"
)

var errStorage = errors.New("storage unavailable")

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder captures delivered events.
type recorder struct {
	mu     sync.Mutex
	events []lifecycle.Event
}

func (r *recorder) HandleEvent(ctx context.Context, e lifecycle.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) Publish(ctx context.Context, e lifecycle.Event) {
	_ = r.HandleEvent(ctx, e)
}

func (r *recorder) Names() []lifecycle.EventName {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]lifecycle.EventName, len(r.events))
	for i, e := range r.events {
		names[i] = e.Name
	}
	return names
}

func (r *recorder) Last() lifecycle.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func (r *recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// faultyRepo fails version writes on demand, inside or outside a transaction.
type faultyRepo struct {
	lifecycle.Repository
	failVersions *bool
}

func (r *faultyRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Repository) error) error {
	return r.Repository.WithTx(ctx, func(ctx context.Context, tx lifecycle.Repository) error {
		return fn(ctx, &faultyRepo{Repository: tx, failVersions: r.failVersions})
	})
}

func (r *faultyRepo) CreateVersion(ctx context.Context, v *lifecycle.Version) error {
	if *r.failVersions {
		return errStorage
	}
	return r.Repository.CreateVersion(ctx, v)
}

// fakeArchiver records archived versions.
type fakeArchiver struct {
	archived []*lifecycle.Version
	err      error
}

func (a *fakeArchiver) ArchiveVersions(ctx context.Context, versions []*lifecycle.Version) error {
	if a.err != nil {
		return a.err
	}
	a.archived = append(a.archived, versions...)
	return nil
}

type fixture struct {
	svc      lifecycle.Service
	repo     *memory.Repository
	clock    *clock
	events   *recorder
	fail     bool
	archiver *fakeArchiver
}

func newFixture(t *testing.T, options ...lifecycle.Option) *fixture {
	t.Helper()
	kinds := cms.Registry()
	repo, err := memory.New(kinds)
	require.NoError(t, err)

	f := &fixture{repo: repo, clock: newClock(), events: &recorder{}, archiver: &fakeArchiver{}}
	opts := []lifecycle.Option{
		lifecycle.WithRepository(&faultyRepo{Repository: repo, failVersions: &f.fail}),
		lifecycle.WithKinds(kinds),
		lifecycle.WithSubscribers(f.events),
		lifecycle.WithClock(f.clock.Now),
		lifecycle.WithArchiver(f.archiver),
	}
	f.svc, err = lifecycle.New(append(opts, options...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) newPage(t *testing.T, title string) *cms.Page {
	t.Helper()
	page := &cms.Page{
		Base:  lifecycle.Base{SiteID: uuid.MustParse("6f1c2a44-5c4e-4e0a-9a55-0d7d0f4b8a11")},
		Title: title,
		Slug:  "about",
		Body:  "Hello",
	}
	_, err := f.svc.CreateItem(context.Background(), page, uuid.New())
	require.NoError(t, err)
	return page
}

func (f *fixture) reload(t *testing.T, item lifecycle.Item) *cms.Page {
	t.Helper()
	stored, err := f.svc.GetItem(context.Background(), item.Kind(), item.Meta().ID)
	require.NoError(t, err)
	return stored.(*cms.Page)
}

func (f *fixture) versionCount(t *testing.T, item lifecycle.Item) int {
	t.Helper()
	versions, err := f.svc.History(context.Background(), lifecycle.SubjectOf(item))
	require.NoError(t, err)
	return len(versions)
}
