package lifecycle

import "fmt"

// Transition names an event of the content status state machine.
type Transition string

// Transition constants.
const (
	TransitionRequestApproval Transition = "request_approval"
	TransitionPublish         Transition = "publish"
	TransitionUnpublish       Transition = "unpublish"
	TransitionSchedule        Transition = "schedule"
	TransitionReject          Transition = "reject"
)

type transitionRule struct {
	from []ContentStatus // nil allows every status
	to   ContentStatus
}

// transitionTable is the complete content status state machine. Anything not
// listed here is rejected with a *TransitionError.
var transitionTable = map[Transition]transitionRule{
	TransitionRequestApproval: {from: []ContentStatus{ContentStatusDraft}, to: ContentStatusPending},
	TransitionPublish:         {from: []ContentStatus{ContentStatusDraft, ContentStatusPending}, to: ContentStatusPublished},
	TransitionUnpublish:       {from: []ContentStatus{ContentStatusPublished, ContentStatusPending}, to: ContentStatusDraft},
	TransitionSchedule:        {to: ContentStatusPending},
	// Rejection forces the item back to draft regardless of where it is.
	TransitionReject: {to: ContentStatusDraft},
}

// NextStatus returns the status reached by applying t to from.
func NextStatus(from ContentStatus, t Transition) (ContentStatus, error) {
	if !from.IsValid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, from)
	}
	rule, ok := transitionTable[t]
	if !ok {
		return "", fmt.Errorf("%w: unknown transition %q", ErrInvalidTransition, t)
	}
	if rule.from == nil {
		return rule.to, nil
	}
	for _, s := range rule.from {
		if s == from {
			return rule.to, nil
		}
	}
	return "", &TransitionError{From: from, Event: t}
}

// CanTransition reports whether t is legal from the given status.
func CanTransition(from ContentStatus, t Transition) bool {
	_, err := NextStatus(from, t)
	return err == nil
}

// applyTransition moves the item to the next status and returns the status it
// left.
func applyTransition(item Item, t Transition) (ContentStatus, error) {
	meta := item.Meta()
	from := meta.Status
	if from == "" {
		from = ContentStatusDraft
	}
	to, err := NextStatus(from, t)
	if err != nil {
		return from, err
	}
	meta.Status = to
	return from, nil
}
