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
)

// counter implements Snapshotter to control its own serialization.
type counter struct {
	lifecycle.Base
	value int
}

func (*counter) Kind() lifecycle.Kind { return "counter" }

func (c *counter) Snapshot() (map[string]interface{}, error) {
	return map[string]interface{}{"id": c.ID.String(), "value": c.value}, nil
}

func (c *counter) ApplyFields(fields map[string]interface{}) error {
	if v, ok := fields["value"].(float64); ok {
		c.value = int(v)
	}
	if v, ok := fields["value"].(int); ok {
		c.value = v
	}
	return nil
}

func TestSnapshot_JSON(t *testing.T) {
	published := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	post := &cms.Post{
		Base:  lifecycle.Base{ID: uuid.New(), Status: lifecycle.ContentStatusPublished, PublishedAt: &published},
		Title: "Hello",
		Tags:  []string{"go", "cms"},
	}

	snap, err := lifecycle.Snapshot(post)
	require.NoError(t, err)
	assert.Equal(t, "Hello", snap["title"])
	assert.Equal(t, "published", snap["status"])
	assert.Equal(t, post.ID.String(), snap["id"])
	assert.Equal(t, []interface{}{"go", "cms"}, snap["tags"])
	assert.Equal(t, "2026-01-02T03:04:05Z", snap["published_at"])
}

func TestApplyFields_SkipsProtected(t *testing.T) {
	id := uuid.New()
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	page := &cms.Page{Base: lifecycle.Base{ID: id, CreatedAt: created}, Title: "Old", Slug: "old"}

	err := lifecycle.ApplyFields(page, map[string]interface{}{
		"id":         uuid.New().String(),
		"created_at": "2030-01-01T00:00:00Z",
		"updated_at": "2030-01-01T00:00:00Z",
		"title":      "New",
		"status":     "pending",
	})
	require.NoError(t, err)

	assert.Equal(t, id, page.ID)
	assert.Equal(t, created, page.CreatedAt)
	assert.True(t, page.UpdatedAt.IsZero())
	assert.Equal(t, "New", page.Title)
	assert.Equal(t, "old", page.Slug, "absent fields are left untouched")
	assert.Equal(t, lifecycle.ContentStatusPending, page.Status)
}

func TestIsProtectedField(t *testing.T) {
	for _, f := range []string{"id", "created_at", "updated_at", "deleted_at"} {
		assert.True(t, lifecycle.IsProtectedField(f), f)
	}
	for _, f := range []string{"status", "published_at", "title"} {
		assert.False(t, lifecycle.IsProtectedField(f), f)
	}
}

func TestSnapshotter(t *testing.T) {
	c := &counter{Base: lifecycle.Base{ID: uuid.New()}, value: 7}
	snap, err := lifecycle.Snapshot(c)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"id": c.ID.String(), "value": float64(7)}, snap)

	require.NoError(t, lifecycle.ApplyFields(c, map[string]interface{}{"value": float64(3), "id": "ignored"}))
	assert.Equal(t, 3, c.value)
}

func TestCloneSnapshot(t *testing.T) {
	orig := map[string]interface{}{"tags": []interface{}{"a"}, "nested": map[string]interface{}{"k": "v"}}
	clone, err := lifecycle.CloneSnapshot(orig)
	require.NoError(t, err)

	clone["tags"].([]interface{})[0] = "changed"
	clone["nested"].(map[string]interface{})["k"] = "changed"
	assert.Equal(t, "a", orig["tags"].([]interface{})[0])
	assert.Equal(t, "v", orig["nested"].(map[string]interface{})["k"])

	empty, err := lifecycle.CloneSnapshot(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
}

func TestKindRegistry(t *testing.T) {
	reg := lifecycle.NewKindRegistry()
	reg.Register("counter", func() lifecycle.Item { return &counter{} })
	reg.Register("mislabeled", func() lifecycle.Item { return &counter{} })

	assert.True(t, reg.Has("counter"))
	assert.False(t, reg.Has("page"))
	assert.Equal(t, []lifecycle.Kind{"counter", "mislabeled"}, reg.Kinds())

	item, err := reg.New("counter")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.Kind("counter"), item.Kind())

	_, err = reg.New("page")
	assert.ErrorIs(t, err, lifecycle.ErrUnknownKind)

	_, err = reg.New("mislabeled")
	assert.Error(t, err)

	decoded, err := cms.Registry().Decode(cms.KindPage, map[string]interface{}{
		"id":     uuid.Nil.String(),
		"title":  "Decoded",
		"status": "published",
	})
	require.NoError(t, err)
	assert.Equal(t, "Decoded", decoded.(*cms.Page).Title)
	assert.True(t, decoded.Meta().IsPublished())
}

func TestPolicies(t *testing.T) {
	ctx := context.Background()
	page := &cms.Page{Title: "About", Body: "   "}

	assert.NoError(t, lifecycle.AllowAll.CanPublish(ctx, page))
	assert.NoError(t, lifecycle.RequireFields("title").CanPublish(ctx, page))

	err := lifecycle.RequireFields("title", "body", "slug").CanPublish(ctx, page)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "body, slug")

	first := lifecycle.PolicyFunc(func(context.Context, lifecycle.Item) error { return errStorage })
	second := lifecycle.PolicyFunc(func(context.Context, lifecycle.Item) error { panic("not reached") })
	assert.ErrorIs(t, lifecycle.Policies(first, second).CanPublish(ctx, page), errStorage)
	assert.NoError(t, lifecycle.Policies().CanPublish(ctx, page))
}
