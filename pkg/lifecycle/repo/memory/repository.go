// Package memory implements lifecycle.Repository on go-memdb. Every WithTx
// call runs in a single memdb write transaction, so operations are atomic and
// serialized.
package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/hashicorp/go-memdb"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

// itemRecord stores an item as its snapshot so callers never share memory
// with the repository.
type itemRecord struct {
	Kind   string
	ID     string
	SiteID string
	Status string
	Fields map[string]interface{}
}

type versionRecord struct {
	ID          string
	SubjectKind string
	SubjectID   string
	Number      string
	Version     *lifecycle.Version
}

type requestRecord struct {
	ID          string
	SubjectKind string
	SubjectID   string
	Status      string
	Request     *lifecycle.ApprovalRequest
}

// Repository implements lifecycle.Repository using in-memory storage
type Repository struct {
	db    *memdb.MemDB
	kinds *lifecycle.KindRegistry
	txn   *memdb.Txn
}

// New creates a new in-memory repository for the given content kinds
func New(kinds *lifecycle.KindRegistry) (*Repository, error) {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		return nil, fmt.Errorf("new memdb: %w", err)
	}
	return &Repository{db: db, kinds: kinds}, nil
}

// WithTx runs fn in one write transaction, committing when fn succeeds.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Repository) error) error {
	if r.txn != nil {
		return fn(ctx, r)
	}

	txn := r.db.Txn(true)
	defer txn.Abort()

	if err := fn(ctx, &Repository{db: r.db, kinds: r.kinds, txn: txn}); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

func (r *Repository) read() *memdb.Txn {
	if r.txn != nil {
		return r.txn
	}
	return r.db.Txn(false)
}

func (r *Repository) write(fn func(txn *memdb.Txn) error) error {
	if r.txn != nil {
		return fn(r.txn)
	}
	txn := r.db.Txn(true)
	defer txn.Abort()
	if err := fn(txn); err != nil {
		return err
	}
	txn.Commit()
	return nil
}

// Item operations

func (r *Repository) LoadItem(ctx context.Context, kind lifecycle.Kind, id uuid.UUID) (lifecycle.Item, error) {
	raw, err := r.read().First(tblItems, "id", string(kind), id.String())
	if err != nil {
		return nil, fmt.Errorf("find item %s %s: %w", kind, id, err)
	}
	if raw == nil {
		return nil, lifecycle.ErrItemNotFound
	}
	item, err := r.kinds.Decode(kind, raw.(*itemRecord).Fields)
	if err != nil {
		return nil, err
	}
	if item.Meta().DeletedAt != nil {
		return nil, lifecycle.ErrItemNotFound
	}
	return item, nil
}

func (r *Repository) SaveItem(ctx context.Context, item lifecycle.Item) error {
	fields, err := lifecycle.Snapshot(item)
	if err != nil {
		return err
	}
	meta := item.Meta()
	status := meta.Status
	if status == "" {
		status = lifecycle.ContentStatusDraft
	}
	record := &itemRecord{
		Kind:   string(item.Kind()),
		ID:     meta.ID.String(),
		SiteID: meta.SiteID.String(),
		Status: string(status),
		Fields: fields,
	}
	return r.write(func(txn *memdb.Txn) error {
		if err := txn.Insert(tblItems, record); err != nil {
			return fmt.Errorf("insert item %s %s: %w", item.Kind(), meta.ID, err)
		}
		return nil
	})
}

func (r *Repository) ListItems(ctx context.Context, filter lifecycle.ItemFilter) ([]lifecycle.Item, error) {
	kinds := []lifecycle.Kind{filter.Kind}
	if filter.Kind == "" {
		kinds = r.kinds.Kinds()
	}

	var items []lifecycle.Item
	for _, kind := range kinds {
		found, err := r.listKind(r.read(), kind, filter)
		if err != nil {
			return nil, err
		}
		items = append(items, found...)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Meta().CreatedAt.Before(items[j].Meta().CreatedAt)
	})
	return items, nil
}

func (r *Repository) listKind(txn *memdb.Txn, kind lifecycle.Kind, filter lifecycle.ItemFilter) ([]lifecycle.Item, error) {
	var (
		iter memdb.ResultIterator
		err  error
	)
	if filter.SiteID != nil && filter.Status != nil {
		iter, err = txn.Get(tblItems, "kind_site_status", string(kind), filter.SiteID.String(), string(*filter.Status))
	} else {
		iter, err = txn.Get(tblItems, "kind", string(kind))
	}
	if err != nil {
		return nil, fmt.Errorf("list %s items: %w", kind, err)
	}

	var items []lifecycle.Item
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		record := raw.(*itemRecord)
		if filter.SiteID != nil && record.SiteID != filter.SiteID.String() {
			continue
		}
		if filter.Status != nil && record.Status != string(*filter.Status) {
			continue
		}
		item, err := r.kinds.Decode(kind, record.Fields)
		if err != nil {
			return nil, err
		}
		if item.Meta().DeletedAt != nil {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Version operations

func (r *Repository) CreateVersion(ctx context.Context, version *lifecycle.Version) error {
	stored, err := copyVersion(version)
	if err != nil {
		return err
	}
	record := &versionRecord{
		ID:          version.ID.String(),
		SubjectKind: string(version.SubjectKind),
		SubjectID:   version.SubjectID.String(),
		Number:      numberKey(version.VersionNumber),
		Version:     stored,
	}
	return r.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tblVersions, "subject_number", record.SubjectKind, record.SubjectID, record.Number)
		if err != nil {
			return fmt.Errorf("find version: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("version %d of %s %s already exists", version.VersionNumber, version.SubjectKind, version.SubjectID)
		}
		if err := txn.Insert(tblVersions, record); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
		return nil
	})
}

func (r *Repository) subjectVersions(txn *memdb.Txn, subject lifecycle.Subject) ([]*versionRecord, error) {
	iter, err := txn.Get(tblVersions, "subject", string(subject.Kind), subject.ID.String())
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	var records []*versionRecord
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		records = append(records, raw.(*versionRecord))
	}
	// newest first
	sort.Slice(records, func(i, j int) bool {
		return records[i].Version.VersionNumber > records[j].Version.VersionNumber
	})
	return records, nil
}

func (r *Repository) ListVersions(ctx context.Context, subject lifecycle.Subject) ([]*lifecycle.Version, error) {
	records, err := r.subjectVersions(r.read(), subject)
	if err != nil {
		return nil, err
	}
	versions := make([]*lifecycle.Version, 0, len(records))
	for _, record := range records {
		v, err := copyVersion(record.Version)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

func (r *Repository) GetVersion(ctx context.Context, subject lifecycle.Subject, number int) (*lifecycle.Version, error) {
	raw, err := r.read().First(tblVersions, "subject_number", string(subject.Kind), subject.ID.String(), numberKey(number))
	if err != nil {
		return nil, fmt.Errorf("find version: %w", err)
	}
	if raw == nil {
		return nil, lifecycle.ErrVersionNotFound
	}
	return copyVersion(raw.(*versionRecord).Version)
}

func (r *Repository) LatestVersion(ctx context.Context, subject lifecycle.Subject) (*lifecycle.Version, error) {
	records, err := r.subjectVersions(r.read(), subject)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, lifecycle.ErrVersionNotFound
	}
	return copyVersion(records[0].Version)
}

func (r *Repository) DeleteVersionsBefore(ctx context.Context, subject lifecycle.Subject, number int) (int, error) {
	deleted := 0
	err := r.write(func(txn *memdb.Txn) error {
		records, err := r.subjectVersions(txn, subject)
		if err != nil {
			return err
		}
		for _, record := range records {
			if record.Version.VersionNumber >= number {
				continue
			}
			if err := txn.Delete(tblVersions, record); err != nil {
				return fmt.Errorf("delete version %d: %w", record.Version.VersionNumber, err)
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Approval request operations

func newRequestRecord(request *lifecycle.ApprovalRequest) *requestRecord {
	return &requestRecord{
		ID:          request.ID.String(),
		SubjectKind: string(request.SubjectKind),
		SubjectID:   request.SubjectID.String(),
		Status:      string(request.Status),
		Request:     copyRequest(request),
	}
}

func (r *Repository) CreateApprovalRequest(ctx context.Context, request *lifecycle.ApprovalRequest) error {
	record := newRequestRecord(request)
	return r.write(func(txn *memdb.Txn) error {
		if request.IsPending() {
			existing, err := txn.First(tblRequests, "subject_status", record.SubjectKind, record.SubjectID, string(lifecycle.ApprovalStatusPending))
			if err != nil {
				return fmt.Errorf("find pending request: %w", err)
			}
			if existing != nil {
				return fmt.Errorf("%w for %s %s", lifecycle.ErrRequestAlreadyPending, request.SubjectKind, request.SubjectID)
			}
		}
		if err := txn.Insert(tblRequests, record); err != nil {
			return fmt.Errorf("insert approval request: %w", err)
		}
		return nil
	})
}

func (r *Repository) UpdateApprovalRequest(ctx context.Context, request *lifecycle.ApprovalRequest) error {
	record := newRequestRecord(request)
	return r.write(func(txn *memdb.Txn) error {
		existing, err := txn.First(tblRequests, "id", record.ID)
		if err != nil {
			return fmt.Errorf("find approval request: %w", err)
		}
		if existing == nil {
			return lifecycle.ErrRequestNotFound
		}
		if err := txn.Insert(tblRequests, record); err != nil {
			return fmt.Errorf("update approval request: %w", err)
		}
		return nil
	})
}

func (r *Repository) GetApprovalRequest(ctx context.Context, id uuid.UUID) (*lifecycle.ApprovalRequest, error) {
	raw, err := r.read().First(tblRequests, "id", id.String())
	if err != nil {
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	if raw == nil {
		return nil, lifecycle.ErrRequestNotFound
	}
	return copyRequest(raw.(*requestRecord).Request), nil
}

func (r *Repository) PendingApprovalRequest(ctx context.Context, subject lifecycle.Subject) (*lifecycle.ApprovalRequest, error) {
	raw, err := r.read().First(tblRequests, "subject_status", string(subject.Kind), subject.ID.String(), string(lifecycle.ApprovalStatusPending))
	if err != nil {
		return nil, fmt.Errorf("find pending request: %w", err)
	}
	if raw == nil {
		return nil, lifecycle.ErrRequestNotFound
	}
	return copyRequest(raw.(*requestRecord).Request), nil
}

func (r *Repository) ListApprovalRequests(ctx context.Context, subject lifecycle.Subject) ([]*lifecycle.ApprovalRequest, error) {
	iter, err := r.read().Get(tblRequests, "subject", string(subject.Kind), subject.ID.String())
	if err != nil {
		return nil, fmt.Errorf("list approval requests: %w", err)
	}
	var requests []*lifecycle.ApprovalRequest
	for raw := iter.Next(); raw != nil; raw = iter.Next() {
		requests = append(requests, copyRequest(raw.(*requestRecord).Request))
	}
	sort.SliceStable(requests, func(i, j int) bool {
		return requests[i].RequestedAt.After(requests[j].RequestedAt)
	})
	return requests, nil
}

func copyVersion(v *lifecycle.Version) (*lifecycle.Version, error) {
	c := *v
	snapshot, err := lifecycle.CloneSnapshot(v.Snapshot)
	if err != nil {
		return nil, err
	}
	c.Snapshot = snapshot
	return &c, nil
}

func copyRequest(r *lifecycle.ApprovalRequest) *lifecycle.ApprovalRequest {
	c := *r
	if r.ReviewedBy != nil {
		reviewer := *r.ReviewedBy
		c.ReviewedBy = &reviewer
	}
	if r.ReviewedAt != nil {
		at := *r.ReviewedAt
		c.ReviewedAt = &at
	}
	return &c
}

var _ lifecycle.Repository = (*Repository)(nil)
