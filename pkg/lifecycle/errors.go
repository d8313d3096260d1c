package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrItemNotFound indicates a content item was not found
	ErrItemNotFound = errors.New("content item not found")

	// ErrVersionNotFound indicates a version was not found for a content item
	ErrVersionNotFound = errors.New("version not found")

	// ErrRequestNotFound indicates an approval request was not found
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrUnknownKind indicates a content kind that was never registered
	ErrUnknownKind = errors.New("unknown content kind")

	// ErrInvalidTransition indicates a status change the state machine does not allow
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrRequestNotPending indicates an approval request was already decided
	ErrRequestNotPending = errors.New("approval request is not pending")

	// ErrRequestAlreadyPending indicates a storage conflict with another pending request for the same item
	ErrRequestAlreadyPending = errors.New("a pending approval request already exists")

	// ErrPublishDenied indicates the publish policy vetoed a publish
	ErrPublishDenied = errors.New("publish denied by policy")

	// ErrInvalidSchedule indicates a scheduled publish time that is not in the future
	ErrInvalidSchedule = errors.New("scheduled publish time must be in the future")
)

// ContentError represents an error related to a lifecycle operation on a content item
type ContentError struct {
	Kind Kind
	ID   uuid.UUID
	Op   string
	Err  error
}

func (e *ContentError) Error() string {
	return fmt.Sprintf("lifecycle operation %s failed for %s %s: %v", e.Op, e.Kind, e.ID, e.Err)
}

func (e *ContentError) Unwrap() error {
	return e.Err
}

// RequestError represents an error related to an approval request
type RequestError struct {
	RequestID uuid.UUID
	Op        string
	Err       error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("approval operation %s failed for request %s: %v", e.Op, e.RequestID, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// TransitionError describes a rejected status transition.
type TransitionError struct {
	From  ContentStatus
	Event Transition
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: cannot %s from %s", ErrInvalidTransition, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func wrapItemErr(item Item, op string, err error) error {
	if err == nil {
		return nil
	}
	meta := item.Meta()
	return &ContentError{Kind: item.Kind(), ID: meta.ID, Op: op, Err: err}
}

func wrapSubjectErr(subject Subject, op string, err error) error {
	if err == nil {
		return nil
	}
	return &ContentError{Kind: subject.Kind, ID: subject.ID, Op: op, Err: err}
}

func wrapRequestErr(id uuid.UUID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &RequestError{RequestID: id, Op: op, Err: err}
}
