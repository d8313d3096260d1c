package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/cms"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/repo/memory"
)

type widget struct {
	lifecycle.Base
}

func (*widget) Kind() lifecycle.Kind { return "widget" }

func TestNew_Validation(t *testing.T) {
	kinds := cms.Registry()
	repo, err := memory.New(kinds)
	require.NoError(t, err)

	_, err = lifecycle.New(lifecycle.WithKinds(kinds))
	assert.Error(t, err)

	_, err = lifecycle.New(lifecycle.WithRepository(repo))
	assert.Error(t, err)

	_, err = lifecycle.New(
		lifecycle.WithRepository(repo),
		lifecycle.WithKinds(kinds),
		lifecycle.WithPublisher(&recorder{}),
		lifecycle.WithSubscribers(&recorder{}),
	)
	assert.Error(t, err)

	svc, err := lifecycle.New(lifecycle.WithRepository(repo), lifecycle.WithKinds(kinds))
	require.NoError(t, err)
	assert.Equal(t, kinds.Kinds(), svc.Kinds())
}

func TestCreateItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	actor := uuid.New()

	page := &cms.Page{Title: "About"}
	page.Status = lifecycle.ContentStatusPublished
	version, err := f.svc.CreateItem(ctx, page, actor)
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, page.ID)
	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status, "items always start as drafts")
	assert.Nil(t, page.PublishedAt)
	assert.Equal(t, f.clock.Now(), page.CreatedAt)

	assert.Equal(t, 1, version.VersionNumber)
	assert.Equal(t, lifecycle.SummaryInitial, version.ChangeSummary)
	assert.Equal(t, actor, version.CreatedBy)
	assert.Equal(t, "About", version.Snapshot["title"])

	assert.Equal(t, []lifecycle.EventName{lifecycle.EventContentCreated}, f.events.Names())
	assert.Equal(t, actor, f.events.Last().ActorID)

	stored := f.reload(t, page)
	assert.Equal(t, "About", stored.Title)
}

func TestCreateItem_UnknownKind(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateItem(context.Background(), &widget{}, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrUnknownKind)
	assert.Empty(t, f.events.Names())
}

func TestCreateItem_StorageFailureRestoresItem(t *testing.T) {
	f := newFixture(t)
	f.fail = true

	page := &cms.Page{Title: "About"}
	_, err := f.svc.CreateItem(context.Background(), page, uuid.New())
	require.ErrorIs(t, err, errStorage)

	assert.Equal(t, uuid.Nil, page.ID)
	assert.Empty(t, page.Status)
	assert.Empty(t, f.events.Names())

	items, err := f.repo.ListItems(context.Background(), lifecycle.ItemFilter{Kind: cms.KindPage})
	require.NoError(t, err)
	assert.Empty(t, items, "item write is rolled back with the version")
}

func TestUpdateItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	f.events.Reset()

	page.Title = "About us"
	page.Status = lifecycle.ContentStatusPublished
	f.clock.Advance(time.Minute)
	version, err := f.svc.UpdateItem(ctx, page, uuid.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 2, version.VersionNumber)
	assert.Equal(t, lifecycle.SummaryUpdated, version.ChangeSummary)
	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status, "status only moves through lifecycle operations")
	assert.Equal(t, f.clock.Now(), page.UpdatedAt)

	event := f.events.Last()
	assert.Equal(t, lifecycle.EventContentUpdated, event.Name)
	assert.Equal(t, []string{"title"}, event.ChangedFields)

	page.Body = "New body"
	version, err = f.svc.UpdateItem(ctx, page, uuid.New(), "Rewrite body")
	require.NoError(t, err)
	assert.Equal(t, 3, version.VersionNumber)
	assert.Equal(t, "Rewrite body", version.ChangeSummary)
	assert.Equal(t, []string{"body"}, f.events.Last().ChangedFields)
}

func TestUpdateItem_NotFound(t *testing.T) {
	f := newFixture(t)
	page := &cms.Page{Base: lifecycle.Base{ID: uuid.New()}, Title: "Ghost"}
	_, err := f.svc.UpdateItem(context.Background(), page, uuid.New(), "")
	assert.ErrorIs(t, err, lifecycle.ErrItemNotFound)
}

func TestGetItem_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetItem(context.Background(), cms.KindPage, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrItemNotFound)
}

func TestPublishAndUnpublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	actor := uuid.New()

	f.clock.Advance(time.Hour)
	firstPublish := f.clock.Now()
	require.NoError(t, f.svc.Publish(ctx, page, actor))
	assert.Equal(t, lifecycle.ContentStatusPublished, page.Status)
	require.NotNil(t, page.PublishedAt)
	assert.Equal(t, firstPublish, *page.PublishedAt)

	latest, err := f.svc.LatestVersion(ctx, lifecycle.SubjectOf(page))
	require.NoError(t, err)
	assert.Equal(t, 2, latest.VersionNumber)
	assert.Equal(t, lifecycle.SummaryPublished, latest.ChangeSummary)
	assert.Equal(t, actor, latest.CreatedBy)

	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.Unpublish(ctx, page, actor))
	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status)
	require.NotNil(t, page.PublishedAt, "unpublish keeps the last publish time")
	assert.Equal(t, firstPublish, *page.PublishedAt)

	stored := f.reload(t, page)
	assert.Equal(t, lifecycle.ContentStatusDraft, stored.Status)
	require.NotNil(t, stored.PublishedAt)
	assert.Equal(t, 2, f.versionCount(t, page), "unpublish records no version")

	f.clock.Advance(time.Hour)
	require.NoError(t, f.svc.Publish(ctx, page, actor))
	assert.Equal(t, f.clock.Now(), *page.PublishedAt, "republishing stamps the current time")

	assert.Equal(t, []lifecycle.EventName{
		lifecycle.EventContentCreated,
		lifecycle.EventContentPublished,
		lifecycle.EventContentPublished,
	}, f.events.Names())
}

func TestPublish_AlreadyPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	require.NoError(t, f.svc.Publish(ctx, page, uuid.New()))

	err := f.svc.Publish(ctx, page, uuid.New())
	require.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	var terr *lifecycle.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, lifecycle.ContentStatusPublished, terr.From)
	assert.Equal(t, 2, f.versionCount(t, page))
}

func TestUnpublish_Draft(t *testing.T) {
	f := newFixture(t)
	page := f.newPage(t, "About")
	err := f.svc.Unpublish(context.Background(), page, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status)
}

func TestPublish_PolicyVeto(t *testing.T) {
	f := newFixture(t, lifecycle.WithPublishPolicy(lifecycle.RequireFields("title", "body")))
	ctx := context.Background()
	page := f.newPage(t, "")
	f.events.Reset()

	err := f.svc.Publish(ctx, page, uuid.New())
	require.ErrorIs(t, err, lifecycle.ErrPublishDenied)
	assert.Contains(t, err.Error(), "title")

	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status)
	assert.Nil(t, page.PublishedAt)
	assert.Equal(t, lifecycle.ContentStatusDraft, f.reload(t, page).Status)
	assert.Equal(t, 1, f.versionCount(t, page))
	assert.Empty(t, f.events.Names())
}

func TestPublish_StorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	f.events.Reset()

	f.fail = true
	err := f.svc.Publish(ctx, page, uuid.New())
	require.ErrorIs(t, err, errStorage)
	f.fail = false

	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status, "caller's item is restored")
	assert.Nil(t, page.PublishedAt)
	stored := f.reload(t, page)
	assert.Equal(t, lifecycle.ContentStatusDraft, stored.Status, "no published item without a version")
	assert.Nil(t, stored.PublishedAt)
	assert.Empty(t, f.events.Names())
}

func TestSchedulePublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")

	err := f.svc.SchedulePublish(ctx, page, f.clock.Now(), uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrInvalidSchedule)
	err = f.svc.SchedulePublish(ctx, page, f.clock.Now().Add(-time.Minute), uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrInvalidSchedule)
	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status)

	at := f.clock.Now().Add(2 * time.Hour)
	require.NoError(t, f.svc.SchedulePublish(ctx, page, at, uuid.New()))
	assert.Equal(t, lifecycle.ContentStatusPending, page.Status)
	require.NotNil(t, page.PublishedAt)
	assert.Equal(t, at, *page.PublishedAt)

	stored := f.reload(t, page)
	assert.Equal(t, lifecycle.ContentStatusPending, stored.Status)
	assert.Equal(t, 1, f.versionCount(t, page), "scheduling records no version")

	// a published item can be rescheduled
	other := f.newPage(t, "Other")
	require.NoError(t, f.svc.Publish(ctx, other, uuid.New()))
	require.NoError(t, f.svc.SchedulePublish(ctx, other, at, uuid.New()))
	assert.Equal(t, lifecycle.ContentStatusPending, other.Status)
}

func TestPublishDue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := f.newPage(t, "Due")
	later := f.newPage(t, "Later")
	review := f.newPage(t, "Review")
	draft := f.newPage(t, "Draft")

	require.NoError(t, f.svc.SchedulePublish(ctx, due, f.clock.Now().Add(time.Hour), uuid.New()))
	require.NoError(t, f.svc.SchedulePublish(ctx, later, f.clock.Now().Add(3*time.Hour), uuid.New()))
	_, err := f.svc.RequestApproval(ctx, review, uuid.New(), "")
	require.NoError(t, err)
	f.events.Reset()

	n, err := f.svc.PublishDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(2 * time.Hour)
	n, err = f.svc.PublishDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored := f.reload(t, due)
	assert.Equal(t, lifecycle.ContentStatusPublished, stored.Status)
	assert.Equal(t, f.clock.Now(), *stored.PublishedAt)
	latest, err := f.svc.LatestVersion(ctx, lifecycle.SubjectOf(due))
	require.NoError(t, err)
	assert.Equal(t, lifecycle.SummaryPublished, latest.ChangeSummary)
	assert.Equal(t, uuid.Nil, latest.CreatedBy, "scheduled publishes are made by the system actor")

	assert.Equal(t, lifecycle.ContentStatusPending, f.reload(t, later).Status)
	assert.Equal(t, lifecycle.ContentStatusPending, f.reload(t, review).Status, "items awaiting review are left alone")
	assert.Equal(t, lifecycle.ContentStatusDraft, f.reload(t, draft).Status)
	assert.Equal(t, []lifecycle.EventName{lifecycle.EventContentPublished}, f.events.Names())

	n, err = f.svc.PublishDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, n, "publishing due items is idempotent")
}

func TestPublishDue_SkipsVetoedItems(t *testing.T) {
	f := newFixture(t, lifecycle.WithPublishPolicy(lifecycle.RequireFields("title")))
	ctx := context.Background()

	blank := f.newPage(t, "")
	ready := f.newPage(t, "Ready")
	at := f.clock.Now().Add(time.Minute)
	require.NoError(t, f.svc.SchedulePublish(ctx, blank, at, uuid.New()))
	require.NoError(t, f.svc.SchedulePublish(ctx, ready, at, uuid.New()))

	f.clock.Advance(time.Hour)
	n, err := f.svc.PublishDue(ctx, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, lifecycle.ContentStatusPending, f.reload(t, blank).Status)
	assert.Equal(t, lifecycle.ContentStatusPublished, f.reload(t, ready).Status)
}

func TestGetPendingApprovals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	requested := f.newPage(t, "Requested")
	scheduled := f.newPage(t, "Scheduled")
	f.newPage(t, "Draft")
	request, err := f.svc.RequestApproval(ctx, requested, uuid.New(), "please")
	require.NoError(t, err)
	require.NoError(t, f.svc.SchedulePublish(ctx, scheduled, f.clock.Now().Add(time.Hour), uuid.New()))

	otherSite := &cms.Post{Base: lifecycle.Base{SiteID: uuid.New()}, Title: "Elsewhere"}
	_, err = f.svc.CreateItem(ctx, otherSite, uuid.New())
	require.NoError(t, err)
	_, err = f.svc.RequestApproval(ctx, otherSite, uuid.New(), "")
	require.NoError(t, err)

	pending, err := f.svc.GetPendingApprovals(ctx, requested.SiteID)
	require.NoError(t, err)

	for _, kind := range f.svc.Kinds() {
		assert.Contains(t, pending, kind, "every kind is listed")
	}
	assert.Empty(t, pending[cms.KindPost])

	pages := pending[cms.KindPage]
	require.Len(t, pages, 2)
	byID := map[uuid.UUID]lifecycle.PendingApproval{}
	for _, p := range pages {
		byID[p.Item.Meta().ID] = p
	}
	require.NotNil(t, byID[requested.ID].Request)
	assert.Equal(t, request.ID, byID[requested.ID].Request.ID)
	assert.Nil(t, byID[scheduled.ID].Request)
}

// Create a draft, request approval, approve: the item ends up published with
// one version beyond the initial one.
func TestScenario_RequestAndApprove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	requester, reviewer := uuid.New(), uuid.New()

	request, err := f.svc.RequestApproval(ctx, page, requester, "ready for review")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ContentStatusPending, page.Status)
	assert.Equal(t, lifecycle.ApprovalStatusPending, request.Status)
	assert.Equal(t, requester, request.RequestedBy)
	assert.Equal(t, "ready for review", request.Message)

	requests, err := f.svc.ListApprovalRequests(ctx, lifecycle.SubjectOf(page))
	require.NoError(t, err)
	assert.Len(t, requests, 1)

	approved, err := f.svc.Approve(ctx, request.ID, reviewer)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApprovalStatusApproved, approved.Status)
	require.NotNil(t, approved.ReviewedBy)
	assert.Equal(t, reviewer, *approved.ReviewedBy)
	require.NotNil(t, approved.ReviewedAt)

	stored := f.reload(t, page)
	assert.Equal(t, lifecycle.ContentStatusPublished, stored.Status)
	assert.NotNil(t, stored.PublishedAt)
	assert.Equal(t, 2, f.versionCount(t, page))

	fetched, err := f.svc.GetApprovalRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApprovalStatusApproved, fetched.Status)

	assert.Equal(t, []lifecycle.EventName{
		lifecycle.EventContentCreated,
		lifecycle.EventApprovalRequested,
		lifecycle.EventContentPublished,
		lifecycle.EventApprovalProcessed,
	}, f.events.Names())
	processed := f.events.Last()
	assert.Equal(t, lifecycle.ActionApproved, processed.Action)
	assert.Equal(t, reviewer, processed.ActorID)
}

// Publish a draft directly, then unpublish it: publishedAt survives.
func TestScenario_DirectPublishThenUnpublish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")

	require.NoError(t, f.svc.Publish(ctx, page, uuid.New()))
	assert.Equal(t, lifecycle.ContentStatusPublished, page.Status)
	require.NoError(t, f.svc.Unpublish(ctx, page, uuid.New()))
	assert.Equal(t, lifecycle.ContentStatusDraft, page.Status)
	assert.NotNil(t, page.PublishedAt)
}

func TestRequestApproval_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")

	first, err := f.svc.RequestApproval(ctx, page, uuid.New(), "one")
	require.NoError(t, err)
	second, err := f.svc.RequestApproval(ctx, page, uuid.New(), "two")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "one", second.Message)

	requests, err := f.svc.ListApprovalRequests(ctx, lifecycle.SubjectOf(page))
	require.NoError(t, err)
	assert.Len(t, requests, 1)
	assert.Equal(t, []lifecycle.EventName{
		lifecycle.EventContentCreated,
		lifecycle.EventApprovalRequested,
	}, f.events.Names(), "only the first request emits an event")
}

func TestRequestApproval_FromPublished(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	require.NoError(t, f.svc.Publish(ctx, page, uuid.New()))

	_, err := f.svc.RequestApproval(ctx, page, uuid.New(), "")
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition)
	assert.Equal(t, lifecycle.ContentStatusPublished, page.Status)

	requests, err := f.svc.ListApprovalRequests(ctx, lifecycle.SubjectOf(page))
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	reviewer := uuid.New()

	request, err := f.svc.RequestApproval(ctx, page, uuid.New(), "")
	require.NoError(t, err)

	rejected, err := f.svc.Reject(ctx, request.ID, reviewer, "needs a hero image")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApprovalStatusRejected, rejected.Status)
	assert.Equal(t, "needs a hero image", rejected.RejectionReason)
	assert.Equal(t, reviewer, *rejected.ReviewedBy)

	stored := f.reload(t, page)
	assert.Equal(t, lifecycle.ContentStatusDraft, stored.Status)
	assert.Equal(t, 1, f.versionCount(t, page), "rejection records no version")

	processed := f.events.Last()
	assert.Equal(t, lifecycle.EventApprovalProcessed, processed.Name)
	assert.Equal(t, lifecycle.ActionRejected, processed.Action)

	// the item can be resubmitted
	again, err := f.svc.RequestApproval(ctx, stored, uuid.New(), "fixed")
	require.NoError(t, err)
	assert.NotEqual(t, request.ID, again.ID)
}

func TestDecide_NotPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	request, err := f.svc.RequestApproval(ctx, page, uuid.New(), "")
	require.NoError(t, err)
	_, err = f.svc.Approve(ctx, request.ID, uuid.New())
	require.NoError(t, err)

	_, err = f.svc.Approve(ctx, request.ID, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrRequestNotPending)
	_, err = f.svc.Reject(ctx, request.ID, uuid.New(), "late")
	assert.ErrorIs(t, err, lifecycle.ErrRequestNotPending)

	assert.Equal(t, lifecycle.ContentStatusPublished, f.reload(t, page).Status)
}

func TestDecide_UnknownRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, uuid.New(), uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrRequestNotFound)
	_, err = f.svc.Reject(ctx, uuid.New(), uuid.New(), "")
	assert.ErrorIs(t, err, lifecycle.ErrRequestNotFound)
	_, err = f.svc.GetApprovalRequest(ctx, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrRequestNotFound)
}

func TestApprove_VetoLeavesRequestPending(t *testing.T) {
	f := newFixture(t, lifecycle.WithPublishPolicy(lifecycle.RequireFields("title")))
	ctx := context.Background()
	page := f.newPage(t, "")
	request, err := f.svc.RequestApproval(ctx, page, uuid.New(), "")
	require.NoError(t, err)
	f.events.Reset()

	_, err = f.svc.Approve(ctx, request.ID, uuid.New())
	require.ErrorIs(t, err, lifecycle.ErrPublishDenied)

	fetched, err := f.svc.GetApprovalRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.ApprovalStatusPending, fetched.Status, "no approved request with an unpublished item")
	assert.Nil(t, fetched.ReviewedBy)
	assert.Equal(t, lifecycle.ContentStatusPending, f.reload(t, page).Status)
	assert.Equal(t, 1, f.versionCount(t, page))
	assert.Empty(t, f.events.Names())
}

func TestEvents_DeliveredAfterCommit(t *testing.T) {
	kinds := cms.Registry()
	repo, err := memory.New(kinds)
	require.NoError(t, err)

	var svc lifecycle.Service
	var seen []lifecycle.ContentStatus
	observer := lifecycle.On(func(ctx context.Context, e lifecycle.Event) error {
		stored, err := svc.GetItem(ctx, e.Subject.Kind, e.Subject.ID)
		if err != nil {
			return err
		}
		seen = append(seen, stored.Meta().Status)
		return nil
	}, lifecycle.EventContentCreated, lifecycle.EventContentPublished)

	svc, err = lifecycle.New(
		lifecycle.WithRepository(repo),
		lifecycle.WithKinds(kinds),
		lifecycle.WithSubscribers(observer),
	)
	require.NoError(t, err)

	ctx := context.Background()
	page := &cms.Page{Title: "About"}
	_, err = svc.CreateItem(ctx, page, uuid.New())
	require.NoError(t, err)
	require.NoError(t, svc.Publish(ctx, page, uuid.New()))

	assert.Equal(t, []lifecycle.ContentStatus{
		lifecycle.ContentStatusDraft,
		lifecycle.ContentStatusPublished,
	}, seen, "subscribers observe committed state")
}

func TestEvents_SubscriberFailureDoesNotAffectOperation(t *testing.T) {
	kinds := cms.Registry()
	repo, err := memory.New(kinds)
	require.NoError(t, err)
	after := &recorder{}

	svc, err := lifecycle.New(
		lifecycle.WithRepository(repo),
		lifecycle.WithKinds(kinds),
		lifecycle.WithSubscribers(
			lifecycle.SubscriberFunc(func(context.Context, lifecycle.Event) error { return errStorage }),
			lifecycle.SubscriberFunc(func(context.Context, lifecycle.Event) error { panic("boom") }),
			after,
		),
	)
	require.NoError(t, err)

	ctx := context.Background()
	page := &cms.Page{Title: "About"}
	_, err = svc.CreateItem(ctx, page, uuid.New())
	require.NoError(t, err)
	require.NoError(t, svc.Publish(ctx, page, uuid.New()))

	assert.Equal(t, []lifecycle.EventName{
		lifecycle.EventContentCreated,
		lifecycle.EventContentPublished,
	}, after.Names())
}

func TestWithPublisher_Async(t *testing.T) {
	kinds := cms.Registry()
	repo, err := memory.New(kinds)
	require.NoError(t, err)
	sink := &recorder{}
	dispatcher := lifecycle.NewAsyncDispatcher(lifecycle.NewEventBus(nil, sink), 4, nil)

	svc, err := lifecycle.New(
		lifecycle.WithRepository(repo),
		lifecycle.WithKinds(kinds),
		lifecycle.WithPublisher(dispatcher),
	)
	require.NoError(t, err)

	ctx := context.Background()
	page := &cms.Page{Title: "About"}
	_, err = svc.CreateItem(ctx, page, uuid.New())
	require.NoError(t, err)
	request, err := svc.RequestApproval(ctx, page, uuid.New(), "")
	require.NoError(t, err)
	_, err = svc.Approve(ctx, request.ID, uuid.New())
	require.NoError(t, err)

	require.NoError(t, dispatcher.Close(ctx))
	assert.Equal(t, []lifecycle.EventName{
		lifecycle.EventContentCreated,
		lifecycle.EventApprovalRequested,
		lifecycle.EventContentPublished,
		lifecycle.EventApprovalProcessed,
	}, sink.Names())
}

func TestPublish_StaleCopyKeepsStoredContent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "Old")

	stale := *page
	page.Title = "New"
	_, err := f.svc.UpdateItem(ctx, page, uuid.New(), "")
	require.NoError(t, err)

	require.NoError(t, f.svc.Publish(ctx, &stale, uuid.New()))
	assert.Equal(t, "New", stale.Title, "the caller's copy is refreshed from storage")
	assert.Equal(t, lifecycle.ContentStatusPublished, stale.Status)

	stored := f.reload(t, page)
	assert.Equal(t, "New", stored.Title)
	assert.Equal(t, lifecycle.ContentStatusPublished, stored.Status)

	latest, err := f.svc.LatestVersion(ctx, lifecycle.SubjectOf(page))
	require.NoError(t, err)
	assert.Equal(t, 3, latest.VersionNumber)
	assert.Equal(t, "New", latest.Snapshot["title"])
}

func TestTransitions_UseStoredStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")

	stale := *page
	require.NoError(t, f.svc.Publish(ctx, page, uuid.New()))

	err := f.svc.Publish(ctx, &stale, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrInvalidTransition, "a draft copy cannot publish twice")
	assert.Equal(t, lifecycle.ContentStatusDraft, stale.Status, "the caller's copy is untouched on failure")

	require.NoError(t, f.svc.Unpublish(ctx, &stale, uuid.New()))
	assert.Equal(t, lifecycle.ContentStatusDraft, f.reload(t, page).Status)
	assert.Equal(t, 2, f.versionCount(t, page))
}

func TestLifecycleOperations_UnknownItem(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		run  func(f *fixture, page *cms.Page) error
	}{
		{"publish", func(f *fixture, page *cms.Page) error {
			return f.svc.Publish(ctx, page, uuid.New())
		}},
		{"unpublish", func(f *fixture, page *cms.Page) error {
			return f.svc.Unpublish(ctx, page, uuid.New())
		}},
		{"schedule", func(f *fixture, page *cms.Page) error {
			return f.svc.SchedulePublish(ctx, page, f.clock.Now().Add(time.Hour), uuid.New())
		}},
		{"request approval", func(f *fixture, page *cms.Page) error {
			_, err := f.svc.RequestApproval(ctx, page, uuid.New(), "")
			return err
		}},
		{"rollback", func(f *fixture, page *cms.Page) error {
			_, err := f.svc.Rollback(ctx, page, 1, uuid.New())
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			page := &cms.Page{Base: lifecycle.Base{ID: uuid.New(), Status: lifecycle.ContentStatusPublished}, Title: "Ghost"}

			err := tt.run(f, page)
			assert.ErrorIs(t, err, lifecycle.ErrItemNotFound)

			_, err = f.svc.GetItem(ctx, cms.KindPage, page.ID)
			assert.ErrorIs(t, err, lifecycle.ErrItemNotFound, "no item is created")
			assert.Equal(t, 0, f.versionCount(t, page))
			assert.Empty(t, f.events.Names())
		})
	}

	f := newFixture(t)
	err := f.svc.Publish(ctx, &cms.Page{Title: "No id"}, uuid.New())
	assert.ErrorIs(t, err, lifecycle.ErrItemNotFound)
}

// hidingRepo misses the pending request once, the way a transaction does when
// a concurrent request has not committed yet.
type hidingRepo struct {
	lifecycle.Repository
	hide *bool
}

func (r *hidingRepo) WithTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Repository) error) error {
	return r.Repository.WithTx(ctx, func(ctx context.Context, tx lifecycle.Repository) error {
		return fn(ctx, &hidingRepo{Repository: tx, hide: r.hide})
	})
}

func (r *hidingRepo) PendingApprovalRequest(ctx context.Context, subject lifecycle.Subject) (*lifecycle.ApprovalRequest, error) {
	if *r.hide {
		*r.hide = false
		return nil, lifecycle.ErrRequestNotFound
	}
	return r.Repository.PendingApprovalRequest(ctx, subject)
}

func TestRequestApproval_ConflictReturnsCommittedRequest(t *testing.T) {
	kinds := cms.Registry()
	repo, err := memory.New(kinds)
	require.NoError(t, err)
	hide := false
	events := &recorder{}
	svc, err := lifecycle.New(
		lifecycle.WithRepository(&hidingRepo{Repository: repo, hide: &hide}),
		lifecycle.WithKinds(kinds),
		lifecycle.WithSubscribers(events),
	)
	require.NoError(t, err)

	ctx := context.Background()
	page := &cms.Page{Title: "About"}
	_, err = svc.CreateItem(ctx, page, uuid.New())
	require.NoError(t, err)
	first, err := svc.RequestApproval(ctx, page, uuid.New(), "first")
	require.NoError(t, err)

	// The losing transaction still saw the item as a draft.
	racer := *page
	racer.Status = lifecycle.ContentStatusDraft
	require.NoError(t, repo.SaveItem(ctx, &racer))

	hide = true
	second, err := svc.RequestApproval(ctx, &racer, uuid.New(), "second")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "first", second.Message)

	requests, err := svc.ListApprovalRequests(ctx, lifecycle.SubjectOf(page))
	require.NoError(t, err)
	assert.Len(t, requests, 1)
	assert.Equal(t, []lifecycle.EventName{
		lifecycle.EventContentCreated,
		lifecycle.EventApprovalRequested,
	}, events.Names())
}

func TestEvents_CarryCommittedCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.newPage(t, "About")
	require.NoError(t, f.svc.Publish(ctx, page, uuid.New()))

	event := f.events.Last()
	page.Title = "Edited after commit"
	page.Status = lifecycle.ContentStatusDraft

	published, ok := event.Item.(*cms.Page)
	require.True(t, ok)
	assert.NotSame(t, page, published)
	assert.Equal(t, "About", published.Title)
	assert.Equal(t, lifecycle.ContentStatusPublished, published.Status)
}
