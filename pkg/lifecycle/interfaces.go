package lifecycle

import (
	"context"

	"github.com/google/uuid"
)

// VersionRepository persists immutable versions.
type VersionRepository interface {
	// CreateVersion stores a new version. Version numbers are unique per subject.
	CreateVersion(ctx context.Context, version *Version) error

	// ListVersions returns every version of the subject, newest first
	ListVersions(ctx context.Context, subject Subject) ([]*Version, error)

	// GetVersion returns ErrVersionNotFound when the number does not exist
	GetVersion(ctx context.Context, subject Subject, number int) (*Version, error)

	// LatestVersion returns ErrVersionNotFound when the subject has no versions
	LatestVersion(ctx context.Context, subject Subject) (*Version, error)

	// DeleteVersionsBefore hard-deletes versions numbered below the given
	// number and reports how many were removed.
	DeleteVersionsBefore(ctx context.Context, subject Subject, number int) (int, error)
}

// ApprovalRepository persists approval requests.
type ApprovalRepository interface {
	CreateApprovalRequest(ctx context.Context, request *ApprovalRequest) error
	UpdateApprovalRequest(ctx context.Context, request *ApprovalRequest) error

	// GetApprovalRequest returns ErrRequestNotFound for unknown ids
	GetApprovalRequest(ctx context.Context, id uuid.UUID) (*ApprovalRequest, error)

	// PendingApprovalRequest returns ErrRequestNotFound when nothing is pending
	PendingApprovalRequest(ctx context.Context, subject Subject) (*ApprovalRequest, error)

	// ListApprovalRequests returns the subject's requests, newest first
	ListApprovalRequests(ctx context.Context, subject Subject) ([]*ApprovalRequest, error)
}

// ItemRepository is the content item collaborator. Implementations load and
// save whole items; the engine only changes lifecycle fields and restores
// snapshots.
type ItemRepository interface {
	// LoadItem returns ErrItemNotFound for unknown items. Inside a
	// transaction implementations should lock the item for update.
	LoadItem(ctx context.Context, kind Kind, id uuid.UUID) (Item, error)
	SaveItem(ctx context.Context, item Item) error
	ListItems(ctx context.Context, filter ItemFilter) ([]Item, error)
}

// Repository defines the storage the engine runs against.
type Repository interface {
	VersionRepository
	ApprovalRepository
	ItemRepository

	// WithTx runs fn in a single transaction. The Repository passed to fn is
	// bound to that transaction; fn's error aborts it. Calling WithTx on a
	// transaction-bound repository joins the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}

// VersionArchiver keeps a copy of versions before they are pruned.
type VersionArchiver interface {
	ArchiveVersions(ctx context.Context, versions []*Version) error
}
