package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle/cms"
)

type received struct {
	header http.Header
	body   []byte
}

func newSink(t *testing.T, status int) (*httptest.Server, func() []received) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []received
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		reqs = append(reqs, received{header: r.Header.Clone(), body: body})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []received {
		mu.Lock()
		defer mu.Unlock()
		return append([]received(nil), reqs...)
	}
}

func publishedEvent() lifecycle.Event {
	page := &cms.Page{Title: "Home", Slug: "home"}
	page.ID = uuid.New()
	page.Status = lifecycle.ContentStatusPublished
	return lifecycle.Event{
		Name:       lifecycle.EventContentPublished,
		Subject:    lifecycle.SubjectOf(page),
		Item:       page,
		ActorID:    uuid.New(),
		OccurredAt: time.Now().UTC(),
	}
}

func TestForwarder_SendsCloudEvent(t *testing.T) {
	srv, requests := newSink(t, http.StatusAccepted)
	f, err := New(srv.URL, WithSource("test-suite"))
	require.NoError(t, err)

	event := publishedEvent()
	require.NoError(t, f.HandleEvent(context.Background(), event))

	reqs := requests()
	require.Len(t, reqs, 1)
	h := reqs[0].header
	assert.Equal(t, "io.simplelifecycle.content.published", h.Get("Ce-Type"))
	assert.Equal(t, "test-suite", h.Get("Ce-Source"))
	assert.Equal(t, "page/"+event.Subject.ID.String(), h.Get("Ce-Subject"))
	assert.Equal(t, event.ActorID.String(), h.Get("Ce-Actorid"))

	var payload Payload
	require.NoError(t, json.Unmarshal(reqs[0].body, &payload))
	assert.Equal(t, event.Subject.ID, payload.ID)
	assert.Equal(t, "Home", payload.Item["title"])
	assert.Equal(t, "published", payload.Item["status"])
}

func TestForwarder_ReportsRejectedDelivery(t *testing.T) {
	srv, _ := newSink(t, http.StatusInternalServerError)
	f, err := New(srv.URL)
	require.NoError(t, err)

	err = f.HandleEvent(context.Background(), publishedEvent())
	assert.Error(t, err)
}

func TestNew_RequiresTarget(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestToCloudEvent_ApprovalEvent(t *testing.T) {
	request := &lifecycle.ApprovalRequest{
		ID:          uuid.New(),
		SubjectKind: cms.KindPost,
		SubjectID:   uuid.New(),
		Status:      lifecycle.ApprovalStatusRejected,
	}
	ce, err := ToCloudEvent(DefaultSource, lifecycle.Event{
		Name:    lifecycle.EventApprovalProcessed,
		Subject: request.Subject(),
		Request: request,
		Action:  lifecycle.ActionRejected,
	})
	require.NoError(t, err)
	assert.Equal(t, "io.simplelifecycle.approval.processed", ce.Type())

	var payload Payload
	require.NoError(t, ce.DataAs(&payload))
	assert.Equal(t, "rejected", payload.Action)
	require.NotNil(t, payload.Request)
	assert.Equal(t, request.ID, payload.Request.ID)
	assert.Nil(t, payload.Item)
}
