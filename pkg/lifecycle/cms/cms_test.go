package cms

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

func TestRegistryHoldsEveryKind(t *testing.T) {
	reg := Registry()
	assert.Equal(t, []lifecycle.Kind{
		KindBanner, KindFAQ, KindPage, KindPortfolioItem, KindPost, KindTeamMember, KindTestimonial,
	}, reg.Kinds())

	for _, kind := range reg.Kinds() {
		item, err := reg.New(kind)
		require.NoError(t, err)
		assert.Equal(t, kind, item.Kind())
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	reg := Registry()
	post := &Post{Title: "Hello", Slug: "hello", Body: "world", Tags: []string{"a", "b"}}
	post.ID = uuid.New()
	post.Status = lifecycle.ContentStatusDraft

	fields, err := lifecycle.Snapshot(post)
	require.NoError(t, err)
	assert.Equal(t, "Hello", fields["title"])
	assert.Equal(t, "draft", fields["status"])
	assert.Contains(t, fields, "published_at")

	decoded, err := reg.Decode(KindPost, fields)
	require.NoError(t, err)
	got := decoded.(*Post)
	assert.Equal(t, post.ID, got.ID)
	assert.Equal(t, post.Tags, got.Tags)
	assert.Equal(t, post.Body, got.Body)
}
