package lifecycle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Service is the publishing orchestrator: the only entry point callers use to
// move content items through their lifecycle.
type Service interface {
	// Content item operations
	CreateItem(ctx context.Context, item Item, actorID uuid.UUID) (*Version, error)
	UpdateItem(ctx context.Context, item Item, actorID uuid.UUID, changeSummary string) (*Version, error)
	GetItem(ctx context.Context, kind Kind, id uuid.UUID) (Item, error)

	// Publication operations
	Publish(ctx context.Context, item Item, actorID uuid.UUID) error
	Unpublish(ctx context.Context, item Item, actorID uuid.UUID) error
	SchedulePublish(ctx context.Context, item Item, publishAt time.Time, actorID uuid.UUID) error
	PublishDue(ctx context.Context, now time.Time) (int, error)

	// Approval operations
	RequestApproval(ctx context.Context, item Item, actorID uuid.UUID, message string) (*ApprovalRequest, error)
	Approve(ctx context.Context, requestID, reviewerID uuid.UUID) (*ApprovalRequest, error)
	Reject(ctx context.Context, requestID, reviewerID uuid.UUID, reason string) (*ApprovalRequest, error)
	GetApprovalRequest(ctx context.Context, requestID uuid.UUID) (*ApprovalRequest, error)
	ListApprovalRequests(ctx context.Context, subject Subject) ([]*ApprovalRequest, error)
	GetPendingApprovals(ctx context.Context, siteID uuid.UUID) (map[Kind][]PendingApproval, error)

	// Version operations
	History(ctx context.Context, subject Subject) ([]*Version, error)
	GetVersion(ctx context.Context, subject Subject, number int) (*Version, error)
	LatestVersion(ctx context.Context, subject Subject) (*Version, error)
	Rollback(ctx context.Context, item Item, number int, actorID uuid.UUID) (*Version, error)
	CompareVersions(ctx context.Context, subject Subject, a, b int) (map[string]FieldChange, error)
	PruneVersions(ctx context.Context, subject Subject, keepLast int) (int, error)

	// Kinds returns the content kinds the service manages
	Kinds() []Kind
}
