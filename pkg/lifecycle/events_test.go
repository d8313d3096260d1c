package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

func TestEventBus_RegistrationOrder(t *testing.T) {
	var order []int
	sub := func(n int) lifecycle.Subscriber {
		return lifecycle.SubscriberFunc(func(context.Context, lifecycle.Event) error {
			order = append(order, n)
			return nil
		})
	}
	bus := lifecycle.NewEventBus(nil, sub(1), sub(2))
	bus.Subscribe(sub(3))

	bus.Publish(context.Background(), lifecycle.Event{Name: lifecycle.EventContentCreated})
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEventBus_IsolatesFailures(t *testing.T) {
	last := &recorder{}
	bus := lifecycle.NewEventBus(nil,
		lifecycle.SubscriberFunc(func(context.Context, lifecycle.Event) error { return errStorage }),
		lifecycle.SubscriberFunc(func(context.Context, lifecycle.Event) error { panic("subscriber bug") }),
		last,
	)

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), lifecycle.Event{Name: lifecycle.EventContentUpdated})
	})
	assert.Equal(t, []lifecycle.EventName{lifecycle.EventContentUpdated}, last.Names())
}

func TestOn_FiltersByName(t *testing.T) {
	var got []lifecycle.EventName
	sub := lifecycle.On(func(ctx context.Context, e lifecycle.Event) error {
		got = append(got, e.Name)
		return nil
	}, lifecycle.EventContentPublished, lifecycle.EventApprovalProcessed)

	ctx := context.Background()
	for _, name := range []lifecycle.EventName{
		lifecycle.EventContentCreated,
		lifecycle.EventContentPublished,
		lifecycle.EventApprovalRequested,
		lifecycle.EventApprovalProcessed,
	} {
		require.NoError(t, sub.HandleEvent(ctx, lifecycle.Event{Name: name}))
	}
	assert.Equal(t, []lifecycle.EventName{lifecycle.EventContentPublished, lifecycle.EventApprovalProcessed}, got)
}

func TestAsyncDispatcher_PreservesOrder(t *testing.T) {
	sink := &recorder{}
	d := lifecycle.NewAsyncDispatcher(sink, 8, nil)

	subject := lifecycle.Subject{Kind: "page", ID: uuid.New()}
	for i := 0; i < 100; i++ {
		d.Publish(context.Background(), lifecycle.Event{
			Name:       lifecycle.EventContentUpdated,
			Subject:    subject,
			OccurredAt: time.Unix(int64(i), 0),
		})
	}
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, sink.events, 100)
	for i, e := range sink.events {
		assert.Equal(t, int64(i), e.OccurredAt.Unix())
	}
}

func TestAsyncDispatcher_DetachesCallerContext(t *testing.T) {
	var mu sync.Mutex
	var errs []error
	sink := lifecycle.NewEventBus(nil, lifecycle.SubscriberFunc(func(ctx context.Context, e lifecycle.Event) error {
		mu.Lock()
		defer mu.Unlock()
		errs = append(errs, ctx.Err())
		return nil
	}))
	d := lifecycle.NewAsyncDispatcher(sink, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	d.Publish(ctx, lifecycle.Event{Name: lifecycle.EventContentCreated})
	cancel()
	require.NoError(t, d.Close(context.Background()))

	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
}

func TestAsyncDispatcher_Close(t *testing.T) {
	sink := &recorder{}
	d := lifecycle.NewAsyncDispatcher(sink, 0, nil)
	d.Publish(context.Background(), lifecycle.Event{Name: lifecycle.EventContentCreated})

	require.NoError(t, d.Close(context.Background()))
	assert.ErrorIs(t, d.Close(context.Background()), lifecycle.ErrDispatcherClosed)

	d.Publish(context.Background(), lifecycle.Event{Name: lifecycle.EventContentUpdated})
	assert.Equal(t, []lifecycle.EventName{lifecycle.EventContentCreated}, sink.Names(), "events after close are dropped")
}

func TestLoggingSubscriber(t *testing.T) {
	sub := lifecycle.NewLoggingSubscriber(nil)
	err := sub.HandleEvent(context.Background(), lifecycle.Event{
		Name:          lifecycle.EventContentUpdated,
		ChangedFields: []string{"title"},
		Request:       &lifecycle.ApprovalRequest{ID: uuid.New()},
		Action:        lifecycle.ActionApproved,
	})
	assert.NoError(t, err)

	lifecycle.NewNoopPublisher().Publish(context.Background(), lifecycle.Event{})
}
