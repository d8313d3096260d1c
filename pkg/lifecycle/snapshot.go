package lifecycle

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Snapshotter lets a content kind control its own serialization. Kinds that
// do not implement it are snapshotted through their JSON encoding.
type Snapshotter interface {
	Snapshot() (map[string]interface{}, error)
	ApplyFields(fields map[string]interface{}) error
}

// protectedFields are identity and timestamp bookkeeping never restored from
// history.
var protectedFields = []string{"id", "created_at", "updated_at", "deleted_at"}

// IsProtectedField reports whether a snapshot field is excluded from rollback.
func IsProtectedField(name string) bool {
	for _, f := range protectedFields {
		if f == name {
			return true
		}
	}
	return false
}

// Snapshot serializes the full current state of an item.
func Snapshot(item Item) (map[string]interface{}, error) {
	if s, ok := item.(Snapshotter); ok {
		fields, err := s.Snapshot()
		if err != nil {
			return nil, err
		}
		return cloneFields(fields)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", item.Kind(), err)
	}
	fields := make(map[string]interface{})
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", item.Kind(), err)
	}
	return fields, nil
}

// ApplyFields copies snapshot fields onto an item, skipping protected
// bookkeeping fields. Fields absent from the mapping are left untouched.
func ApplyFields(item Item, fields map[string]interface{}) error {
	restorable := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		if IsProtectedField(k) {
			continue
		}
		restorable[k] = v
	}
	if s, ok := item.(Snapshotter); ok {
		return s.ApplyFields(restorable)
	}
	return decodeInto(item, restorable)
}

func decodeInto(item Item, fields map[string]interface{}) error {
	if s, ok := item.(Snapshotter); ok {
		return s.ApplyFields(fields)
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, item)
}

// cloneFields deep-copies a snapshot so stored versions cannot be mutated
// through a caller's map.
func cloneFields(fields map[string]interface{}) (map[string]interface{}, error) {
	if fields == nil {
		return map[string]interface{}{}, nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("clone snapshot: %w", err)
	}
	out := make(map[string]interface{}, len(fields))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone snapshot: %w", err)
	}
	return out, nil
}

// CloneSnapshot is the exported form of cloneFields for repository
// implementations.
func CloneSnapshot(fields map[string]interface{}) (map[string]interface{}, error) {
	return cloneFields(fields)
}

// diffFields reports every field whose value differs between a and b.
func diffFields(a, b map[string]interface{}) map[string]FieldChange {
	changes := make(map[string]FieldChange)
	for k, av := range a {
		bv, ok := b[k]
		if !ok {
			changes[k] = FieldChange{A: av, B: nil}
			continue
		}
		if !reflect.DeepEqual(av, bv) {
			changes[k] = FieldChange{A: av, B: bv}
		}
	}
	for k, bv := range b {
		if _, ok := a[k]; !ok {
			changes[k] = FieldChange{A: nil, B: bv}
		}
	}
	return changes
}
