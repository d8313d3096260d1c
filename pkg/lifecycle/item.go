package lifecycle

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Item is any content item participating in the lifecycle.
//
// Concrete kinds embed Base and add their own fields. Meta must return a
// pointer into the item so the engine's status changes are visible to the
// caller.
type Item interface {
	Kind() Kind
	Meta() *Base
}

// Base carries the lifecycle bookkeeping every content kind shares.
type Base struct {
	ID          uuid.UUID     `json:"id"`
	SiteID      uuid.UUID     `json:"site_id"`
	Status      ContentStatus `json:"status"`
	PublishedAt *time.Time    `json:"published_at"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	DeletedAt   *time.Time    `json:"deleted_at,omitempty"`
}

// Meta returns b itself; embedding Base satisfies half of Item.
func (b *Base) Meta() *Base {
	return b
}

// IsPublished reports whether the item is currently published.
func (b *Base) IsPublished() bool {
	return b.Status == ContentStatusPublished
}

// KindRegistry knows every content kind the engine manages and how to
// construct an empty item of each kind.
type KindRegistry struct {
	mu        sync.RWMutex
	factories map[Kind]func() Item
}

// NewKindRegistry creates an empty registry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{factories: make(map[Kind]func() Item)}
}

// Register adds a kind. Registering the same kind twice replaces the factory.
func (r *KindRegistry) Register(kind Kind, factory func() Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[kind] = factory
}

// New returns a zero item of the given kind.
func (r *KindRegistry) New(kind Kind) (Item, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	item := factory()
	if item.Kind() != kind {
		return nil, fmt.Errorf("factory for %s built a %s", kind, item.Kind())
	}
	return item, nil
}

// Has reports whether kind was registered.
func (r *KindRegistry) Has(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// Kinds returns all registered kinds in name order.
func (r *KindRegistry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Decode builds an item of the given kind from stored fields. Unlike
// ApplyFields it restores every field, bookkeeping included.
func (r *KindRegistry) Decode(kind Kind, fields map[string]interface{}) (Item, error) {
	item, err := r.New(kind)
	if err != nil {
		return nil, err
	}
	if err := decodeInto(item, fields); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return item, nil
}

// loadCurrent reads the stored copy of item through repo. Inside a
// transaction repositories lock the row, so lifecycle operations act on the
// committed state rather than on whatever copy the caller holds.
func loadCurrent(ctx context.Context, repo Repository, item Item) (Item, error) {
	id := item.Meta().ID
	if id == uuid.Nil {
		return nil, ErrItemNotFound
	}
	return repo.LoadItem(ctx, item.Kind(), id)
}

// cloneItem returns a shallow copy of item with the same concrete type.
func cloneItem(item Item) (Item, error) {
	v := reflect.ValueOf(item)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s item must be a non-nil struct pointer, got %T", item.Kind(), item)
	}
	c := reflect.New(v.Elem().Type())
	c.Elem().Set(v.Elem())
	clone, ok := c.Interface().(Item)
	if !ok {
		return nil, fmt.Errorf("%T does not implement Item", c.Interface())
	}
	return clone, nil
}

// copyItem overwrites dst with the state of src.
func copyItem(dst, src Item) error {
	dv, sv := reflect.ValueOf(dst), reflect.ValueOf(src)
	if dv.Kind() == reflect.Ptr && dv.Type() == sv.Type() && !dv.IsNil() && !sv.IsNil() && dv.Elem().Kind() == reflect.Struct {
		dv.Elem().Set(sv.Elem())
		return nil
	}
	fields, err := Snapshot(src)
	if err != nil {
		return err
	}
	return decodeInto(dst, fields)
}
