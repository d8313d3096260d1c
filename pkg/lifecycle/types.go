package lifecycle

import (
	"time"

	"github.com/google/uuid"
)

// ContentStatus is the domain type for content publication states.
type ContentStatus string

// Content status constants (typed).
const (
	ContentStatusDraft     ContentStatus = "draft"
	ContentStatusPending   ContentStatus = "pending"
	ContentStatusPublished ContentStatus = "published"
)

// IsValid reports whether s is a known content status.
func (s ContentStatus) IsValid() bool {
	switch s {
	case ContentStatusDraft, ContentStatusPending, ContentStatusPublished:
		return true
	}
	return false
}

// ApprovalStatus is the domain type for approval request states.
type ApprovalStatus string

// Approval status constants (typed).
const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
)

// Approval actions carried by ApprovalProcessed events.
const (
	ActionApproved = "approved"
	ActionRejected = "rejected"
)

// Default change summaries recorded on versions.
const (
	SummaryInitial   = "Initial version"
	SummaryUpdated   = "Content updated"
	SummaryPublished = "Published"
)

// DefaultKeepVersions is the number of versions PruneVersions keeps when
// called with a non-positive keepLast.
const DefaultKeepVersions = 10

// Kind is the type tag of a content item (e.g. "page", "post").
type Kind string

// Subject is the polymorphic reference from versions and approval requests to
// a content item. It is a lookup key, never an ownership edge.
type Subject struct {
	Kind Kind      `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

// SubjectOf returns the subject reference for an item.
func SubjectOf(item Item) Subject {
	return Subject{Kind: item.Kind(), ID: item.Meta().ID}
}

// Version is an immutable snapshot of a content item's state.
type Version struct {
	ID            uuid.UUID              `json:"id"`
	SubjectKind   Kind                   `json:"subject_kind"`
	SubjectID     uuid.UUID              `json:"subject_id"`
	CreatedBy     uuid.UUID              `json:"created_by"`
	VersionNumber int                    `json:"version_number"`
	Snapshot      map[string]interface{} `json:"snapshot"`
	ChangeSummary string                 `json:"change_summary"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Subject returns the content item reference of the version.
func (v *Version) Subject() Subject {
	return Subject{Kind: v.SubjectKind, ID: v.SubjectID}
}

// ApprovalRequest tracks a single requester -> reviewer approval cycle.
type ApprovalRequest struct {
	ID              uuid.UUID      `json:"id"`
	SubjectKind     Kind           `json:"subject_kind"`
	SubjectID       uuid.UUID      `json:"subject_id"`
	RequestedBy     uuid.UUID      `json:"requested_by"`
	ReviewedBy      *uuid.UUID     `json:"reviewed_by,omitempty"`
	Status          ApprovalStatus `json:"status"`
	Message         string         `json:"message,omitempty"`
	ReviewNotes     string         `json:"review_notes,omitempty"`
	RejectionReason string         `json:"rejection_reason,omitempty"`
	RequestedAt     time.Time      `json:"requested_at"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
}

// Subject returns the content item reference of the request.
func (r *ApprovalRequest) Subject() Subject {
	return Subject{Kind: r.SubjectKind, ID: r.SubjectID}
}

// IsPending reports whether the request still awaits a decision.
func (r *ApprovalRequest) IsPending() bool {
	return r.Status == ApprovalStatusPending
}

// FieldChange holds the two sides of a field that differs between versions.
// A side is nil when the field is absent from that snapshot.
type FieldChange struct {
	A interface{} `json:"a"`
	B interface{} `json:"b"`
}

// PendingApproval pairs a pending content item with its open approval
// request. Request is nil for items staged by SchedulePublish.
type PendingApproval struct {
	Item    Item             `json:"item"`
	Request *ApprovalRequest `json:"request,omitempty"`
}

// ItemFilter selects content items from an ItemRepository.
type ItemFilter struct {
	Kind   Kind
	SiteID *uuid.UUID
	Status *ContentStatus
}
