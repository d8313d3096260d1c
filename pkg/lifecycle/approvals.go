package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ApprovalWorkflow tracks single requester -> single reviewer approval
// requests. At most one request per content item is pending at a time.
type ApprovalWorkflow struct {
	repo Repository
	now  func() time.Time
}

// NewApprovalWorkflow creates a workflow over repo.
func NewApprovalWorkflow(repo Repository) *ApprovalWorkflow {
	return &ApprovalWorkflow{repo: repo, now: utcNow}
}

// Request opens an approval request for the item and moves it to pending. If
// a request is already pending it is returned unchanged and created is false.
// The item is refreshed from storage either way.
func (w *ApprovalWorkflow) Request(ctx context.Context, item Item, requesterID uuid.UUID, message string) (request *ApprovalRequest, created bool, err error) {
	var stored Item
	err = w.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		request, stored, created, err = w.request(ctx, tx, item, requesterID, message)
		return err
	})
	if errors.Is(err, ErrRequestAlreadyPending) {
		if request, err = w.settleConflict(ctx, item); err != nil {
			return nil, false, wrapItemErr(item, "request_approval", err)
		}
		return request, false, nil
	}
	if err != nil {
		return nil, false, wrapItemErr(item, "request_approval", err)
	}
	if err := copyItem(item, stored); err != nil {
		return nil, false, wrapItemErr(item, "request_approval", err)
	}
	return request, created, nil
}

// request works on the stored item, which it returns alongside the request.
func (w *ApprovalWorkflow) request(ctx context.Context, repo Repository, item Item, requesterID uuid.UUID, message string) (*ApprovalRequest, Item, bool, error) {
	stored, err := loadCurrent(ctx, repo, item)
	if err != nil {
		return nil, nil, false, err
	}
	subject := SubjectOf(stored)

	existing, err := repo.PendingApprovalRequest(ctx, subject)
	if err == nil {
		return existing, stored, false, nil
	}
	if !errors.Is(err, ErrRequestNotFound) {
		return nil, nil, false, fmt.Errorf("pending request: %w", err)
	}

	if _, err := applyTransition(stored, TransitionRequestApproval); err != nil {
		return nil, nil, false, err
	}
	now := w.now()
	stored.Meta().UpdatedAt = now
	if err := repo.SaveItem(ctx, stored); err != nil {
		return nil, nil, false, fmt.Errorf("save item: %w", err)
	}

	request := &ApprovalRequest{
		ID:          uuid.New(),
		SubjectKind: subject.Kind,
		SubjectID:   subject.ID,
		RequestedBy: requesterID,
		Status:      ApprovalStatusPending,
		Message:     message,
		RequestedAt: now,
	}
	if err := repo.CreateApprovalRequest(ctx, request); err != nil {
		return nil, nil, false, fmt.Errorf("store request: %w", err)
	}
	return request, stored, true, nil
}

// settleConflict resolves a lost race on the one-pending-request rule: the
// request that committed first is returned and the item is refreshed.
func (w *ApprovalWorkflow) settleConflict(ctx context.Context, item Item) (*ApprovalRequest, error) {
	existing, err := w.repo.PendingApprovalRequest(ctx, SubjectOf(item))
	if err != nil {
		return nil, fmt.Errorf("pending request after conflict: %w", err)
	}
	stored, err := loadCurrent(ctx, w.repo, item)
	if err != nil {
		return nil, err
	}
	if err := copyItem(item, stored); err != nil {
		return nil, err
	}
	return existing, nil
}

// Approve marks a pending request approved. It does not publish the item.
func (w *ApprovalWorkflow) Approve(ctx context.Context, requestID, reviewerID uuid.UUID, notes string) (*ApprovalRequest, error) {
	var request *ApprovalRequest
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		request, err = w.decide(ctx, tx, requestID, reviewerID, ApprovalStatusApproved, notes)
		return err
	})
	if err != nil {
		return nil, wrapRequestErr(requestID, "approve", err)
	}
	return request, nil
}

// Reject marks a pending request rejected with the reviewer's reason.
func (w *ApprovalWorkflow) Reject(ctx context.Context, requestID, reviewerID uuid.UUID, reason string) (*ApprovalRequest, error) {
	var request *ApprovalRequest
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		request, err = w.decide(ctx, tx, requestID, reviewerID, ApprovalStatusRejected, reason)
		return err
	})
	if err != nil {
		return nil, wrapRequestErr(requestID, "reject", err)
	}
	return request, nil
}

func (w *ApprovalWorkflow) decide(ctx context.Context, repo Repository, requestID, reviewerID uuid.UUID, status ApprovalStatus, note string) (*ApprovalRequest, error) {
	request, err := repo.GetApprovalRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !request.IsPending() {
		return nil, fmt.Errorf("%w (status: %s)", ErrRequestNotPending, request.Status)
	}

	now := w.now()
	reviewer := reviewerID
	request.Status = status
	request.ReviewedBy = &reviewer
	request.ReviewedAt = &now
	switch status {
	case ApprovalStatusApproved:
		request.ReviewNotes = note
	case ApprovalStatusRejected:
		request.RejectionReason = note
		request.ReviewNotes = note
	}

	if err := repo.UpdateApprovalRequest(ctx, request); err != nil {
		return nil, fmt.Errorf("store request: %w", err)
	}
	return request, nil
}

// Pending returns the subject's pending request or ErrRequestNotFound.
func (w *ApprovalWorkflow) Pending(ctx context.Context, subject Subject) (*ApprovalRequest, error) {
	return w.repo.PendingApprovalRequest(ctx, subject)
}

// Get returns a request by id or ErrRequestNotFound.
func (w *ApprovalWorkflow) Get(ctx context.Context, requestID uuid.UUID) (*ApprovalRequest, error) {
	return w.repo.GetApprovalRequest(ctx, requestID)
}

// List returns every request ever opened for the subject, newest first.
func (w *ApprovalWorkflow) List(ctx context.Context, subject Subject) ([]*ApprovalRequest, error) {
	return w.repo.ListApprovalRequests(ctx, subject)
}
