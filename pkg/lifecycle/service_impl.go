package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// service implements the Service interface
type service struct {
	repository  Repository
	kinds       *KindRegistry
	publisher   Publisher
	subscribers []Subscriber
	policy      PublishPolicy
	archiver    VersionArchiver
	logger      *slog.Logger
	now         func() time.Time

	versions  *VersionStore
	approvals *ApprovalWorkflow
}

// Option represents a functional option for configuring the service
type Option func(*service)

// WithRepository sets the repository for the service
func WithRepository(repo Repository) Option {
	return func(s *service) {
		s.repository = repo
	}
}

// WithKinds sets the registry of content kinds the service manages
func WithKinds(kinds *KindRegistry) Option {
	return func(s *service) {
		s.kinds = kinds
	}
}

// WithPublisher sets where lifecycle events are delivered
func WithPublisher(p Publisher) Option {
	return func(s *service) {
		s.publisher = p
	}
}

// WithSubscribers delivers events synchronously to the given subscribers
func WithSubscribers(subscribers ...Subscriber) Option {
	return func(s *service) {
		s.subscribers = append(s.subscribers, subscribers...)
	}
}

// WithPublishPolicy sets the policy consulted before every publish
func WithPublishPolicy(policy PublishPolicy) Option {
	return func(s *service) {
		s.policy = policy
	}
}

// WithArchiver archives versions before they are pruned
func WithArchiver(archiver VersionArchiver) Option {
	return func(s *service) {
		s.archiver = archiver
	}
}

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *service) {
		s.logger = logger
	}
}

// WithClock overrides the time source. Times are normalized to UTC.
func WithClock(now func() time.Time) Option {
	return func(s *service) {
		s.now = func() time.Time { return now().UTC() }
	}
}

// New creates a new service instance with the given options
func New(options ...Option) (Service, error) {
	s := &service{
		policy: AllowAll,
		logger: slog.Default(),
		now:    utcNow,
	}

	for _, option := range options {
		option(s)
	}

	if s.repository == nil {
		return nil, fmt.Errorf("repository is required")
	}
	if s.kinds == nil {
		return nil, fmt.Errorf("kind registry is required")
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	switch {
	case s.publisher == nil && len(s.subscribers) > 0:
		s.publisher = NewEventBus(s.logger, s.subscribers...)
	case s.publisher == nil:
		s.publisher = NewNoopPublisher()
	case len(s.subscribers) > 0:
		return nil, fmt.Errorf("WithPublisher and WithSubscribers are mutually exclusive")
	}
	if s.policy == nil {
		s.policy = AllowAll
	}

	s.versions = &VersionStore{repo: s.repository, archiver: s.archiver, now: s.now}
	s.approvals = &ApprovalWorkflow{repo: s.repository, now: s.now}
	return s, nil
}

// outbox collects events raised inside a transaction. They are published
// only once the transaction commits.
type outbox struct {
	events []Event
}

func (o *outbox) add(e Event) {
	o.events = append(o.events, e)
}

// atomically runs fn in one repository transaction. On failure the caller's
// item is restored to the state it had before the call.
func (s *service) atomically(ctx context.Context, item Item, fn func(ctx context.Context, tx Repository, out *outbox) error) error {
	var before Item
	if item != nil {
		var err error
		if before, err = cloneItem(item); err != nil {
			return err
		}
	}

	out := &outbox{}
	err := s.repository.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		return fn(ctx, tx, out)
	})
	if err != nil {
		if before != nil {
			if restoreErr := copyItem(item, before); restoreErr != nil {
				s.logger.ErrorContext(ctx, "Failed to restore item after aborted operation",
					"kind", item.Kind(), "id", item.Meta().ID, "err", restoreErr)
			}
		}
		return err
	}

	for _, e := range out.events {
		s.publisher.Publish(ctx, e)
	}
	return nil
}

// contentEvent carries a detached copy of item, so asynchronous subscribers
// see the state at commit time.
func (s *service) contentEvent(name EventName, item Item, actorID uuid.UUID) (Event, error) {
	detached, err := s.detach(item)
	if err != nil {
		return Event{}, fmt.Errorf("copy item for %s: %w", name, err)
	}
	return Event{
		Name:       name,
		Subject:    SubjectOf(item),
		Item:       detached,
		ActorID:    actorID,
		OccurredAt: s.now(),
	}, nil
}

func (s *service) detach(item Item) (Item, error) {
	fields, err := Snapshot(item)
	if err != nil {
		return nil, err
	}
	return s.kinds.Decode(item.Kind(), fields)
}

func (s *service) approvalEvent(name EventName, request *ApprovalRequest, actorID uuid.UUID, action string) Event {
	return Event{
		Name:       name,
		Subject:    request.Subject(),
		Request:    request,
		ActorID:    actorID,
		Action:     action,
		OccurredAt: s.now(),
	}
}

// Content item operations

func (s *service) CreateItem(ctx context.Context, item Item, actorID uuid.UUID) (*Version, error) {
	if !s.kinds.Has(item.Kind()) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, item.Kind())
	}

	var version *Version
	err := s.atomically(ctx, item, func(ctx context.Context, tx Repository, out *outbox) error {
		meta := item.Meta()
		if meta.ID == uuid.Nil {
			meta.ID = uuid.New()
		}
		now := s.now()
		meta.Status = ContentStatusDraft
		meta.PublishedAt = nil
		meta.CreatedAt = now
		meta.UpdatedAt = now

		if err := tx.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("save item: %w", err)
		}
		var err error
		if version, err = s.versions.create(ctx, tx, item, actorID, ""); err != nil {
			return err
		}
		event, err := s.contentEvent(EventContentCreated, item, actorID)
		if err != nil {
			return err
		}
		out.add(event)
		return nil
	})
	if err != nil {
		return nil, wrapItemErr(item, "create", err)
	}
	return version, nil
}

func (s *service) UpdateItem(ctx context.Context, item Item, actorID uuid.UUID, changeSummary string) (*Version, error) {
	var version *Version
	err := s.atomically(ctx, item, func(ctx context.Context, tx Repository, out *outbox) error {
		meta := item.Meta()
		stored, err := tx.LoadItem(ctx, item.Kind(), meta.ID)
		if err != nil {
			return err
		}
		// Lifecycle fields only move through lifecycle operations.
		storedMeta := stored.Meta()
		meta.Status = storedMeta.Status
		meta.PublishedAt = storedMeta.PublishedAt
		meta.CreatedAt = storedMeta.CreatedAt
		meta.UpdatedAt = s.now()

		changed, err := s.changedFields(ctx, tx, item)
		if err != nil {
			return err
		}
		if err := tx.SaveItem(ctx, item); err != nil {
			return fmt.Errorf("save item: %w", err)
		}
		if version, err = s.versions.create(ctx, tx, item, actorID, changeSummary); err != nil {
			return err
		}

		event, err := s.contentEvent(EventContentUpdated, item, actorID)
		if err != nil {
			return err
		}
		event.ChangedFields = changed
		out.add(event)
		return nil
	})
	if err != nil {
		return nil, wrapItemErr(item, "update", err)
	}
	return version, nil
}

// changedFields lists the fields that differ from the latest version,
// ignoring bookkeeping timestamps.
func (s *service) changedFields(ctx context.Context, tx Repository, item Item) ([]string, error) {
	current, err := Snapshot(item)
	if err != nil {
		return nil, err
	}
	previous := map[string]interface{}{}
	latest, err := tx.LatestVersion(ctx, SubjectOf(item))
	switch {
	case err == nil:
		previous = latest.Snapshot
	case errors.Is(err, ErrVersionNotFound):
	default:
		return nil, fmt.Errorf("latest version: %w", err)
	}

	var fields []string
	for name := range diffFields(previous, current) {
		if IsProtectedField(name) {
			continue
		}
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields, nil
}

func (s *service) GetItem(ctx context.Context, kind Kind, id uuid.UUID) (Item, error) {
	item, err := s.repository.LoadItem(ctx, kind, id)
	if err != nil {
		return nil, wrapSubjectErr(Subject{Kind: kind, ID: id}, "get", err)
	}
	return item, nil
}

// Publication operations

func (s *service) Publish(ctx context.Context, item Item, actorID uuid.UUID) error {
	err := s.atomically(ctx, item, func(ctx context.Context, tx Repository, out *outbox) error {
		stored, err := loadCurrent(ctx, tx, item)
		if err != nil {
			return err
		}
		if _, err := s.publish(ctx, tx, stored, actorID); err != nil {
			return err
		}
		event, err := s.contentEvent(EventContentPublished, stored, actorID)
		if err != nil {
			return err
		}
		out.add(event)
		return copyItem(item, stored)
	})
	return wrapItemErr(item, "publish", err)
}

// publish checks the policy, moves the item to published and snapshots it.
func (s *service) publish(ctx context.Context, tx Repository, item Item, actorID uuid.UUID) (*Version, error) {
	if err := s.policy.CanPublish(ctx, item); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishDenied, err)
	}
	if _, err := applyTransition(item, TransitionPublish); err != nil {
		return nil, err
	}

	now := s.now()
	meta := item.Meta()
	meta.PublishedAt = &now
	meta.UpdatedAt = now
	if err := tx.SaveItem(ctx, item); err != nil {
		return nil, fmt.Errorf("save item: %w", err)
	}
	return s.versions.create(ctx, tx, item, actorID, SummaryPublished)
}

func (s *service) Unpublish(ctx context.Context, item Item, actorID uuid.UUID) error {
	err := s.atomically(ctx, item, func(ctx context.Context, tx Repository, out *outbox) error {
		stored, err := loadCurrent(ctx, tx, item)
		if err != nil {
			return err
		}
		if _, err := applyTransition(stored, TransitionUnpublish); err != nil {
			return err
		}
		stored.Meta().UpdatedAt = s.now()
		if err := tx.SaveItem(ctx, stored); err != nil {
			return fmt.Errorf("save item: %w", err)
		}
		return copyItem(item, stored)
	})
	return wrapItemErr(item, "unpublish", err)
}

func (s *service) SchedulePublish(ctx context.Context, item Item, publishAt time.Time, actorID uuid.UUID) error {
	now := s.now()
	if !publishAt.After(now) {
		return wrapItemErr(item, "schedule", fmt.Errorf("%w: %s", ErrInvalidSchedule, publishAt.UTC().Format(time.RFC3339)))
	}

	err := s.atomically(ctx, item, func(ctx context.Context, tx Repository, out *outbox) error {
		stored, err := loadCurrent(ctx, tx, item)
		if err != nil {
			return err
		}
		if _, err := applyTransition(stored, TransitionSchedule); err != nil {
			return err
		}
		at := publishAt.UTC()
		meta := stored.Meta()
		meta.PublishedAt = &at
		meta.UpdatedAt = now
		if err := tx.SaveItem(ctx, stored); err != nil {
			return fmt.Errorf("save item: %w", err)
		}
		return copyItem(item, stored)
	})
	return wrapItemErr(item, "schedule", err)
}

func (s *service) PublishDue(ctx context.Context, now time.Time) (int, error) {
	pending := ContentStatusPending
	published := 0
	for _, kind := range s.kinds.Kinds() {
		items, err := s.repository.ListItems(ctx, ItemFilter{Kind: kind, Status: &pending})
		if err != nil {
			return published, fmt.Errorf("list pending %s: %w", kind, err)
		}
		for _, item := range items {
			at := item.Meta().PublishedAt
			if at == nil || at.After(now) {
				continue
			}
			ok, err := s.publishDue(ctx, SubjectOf(item), now)
			if err != nil {
				if errors.Is(err, ErrPublishDenied) || errors.Is(err, ErrInvalidTransition) {
					s.logger.WarnContext(ctx, "Skipping scheduled publish",
						"kind", kind, "id", item.Meta().ID, "err", err)
					continue
				}
				return published, err
			}
			if ok {
				published++
			}
		}
	}
	return published, nil
}

// publishDue publishes one scheduled item as the system actor unless it is
// awaiting review. The item is reloaded under the transaction so a
// concurrent change wins over the listing.
func (s *service) publishDue(ctx context.Context, subject Subject, now time.Time) (bool, error) {
	published := false
	err := s.atomically(ctx, nil, func(ctx context.Context, tx Repository, out *outbox) error {
		item, err := tx.LoadItem(ctx, subject.Kind, subject.ID)
		if err != nil {
			return err
		}
		meta := item.Meta()
		if meta.Status != ContentStatusPending || meta.PublishedAt == nil || meta.PublishedAt.After(now) {
			return nil
		}

		_, err = tx.PendingApprovalRequest(ctx, subject)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRequestNotFound) {
			return fmt.Errorf("pending request: %w", err)
		}
		if _, err := s.publish(ctx, tx, item, uuid.Nil); err != nil {
			return err
		}
		published = true
		event, err := s.contentEvent(EventContentPublished, item, uuid.Nil)
		if err != nil {
			return err
		}
		out.add(event)
		return nil
	})
	if err != nil {
		return false, wrapSubjectErr(subject, "publish_due", err)
	}
	return published, nil
}

// Approval operations

func (s *service) RequestApproval(ctx context.Context, item Item, actorID uuid.UUID, message string) (*ApprovalRequest, error) {
	var request *ApprovalRequest
	err := s.atomically(ctx, item, func(ctx context.Context, tx Repository, out *outbox) error {
		var stored Item
		var created bool
		var err error
		request, stored, created, err = s.approvals.request(ctx, tx, item, actorID, message)
		if err != nil {
			return err
		}
		if created {
			out.add(s.approvalEvent(EventApprovalRequested, request, actorID, ""))
		}
		return copyItem(item, stored)
	})
	if errors.Is(err, ErrRequestAlreadyPending) {
		// A concurrent request won; hand back the one that committed.
		request, err = s.approvals.settleConflict(ctx, item)
	}
	if err != nil {
		return nil, wrapItemErr(item, "request_approval", err)
	}
	return request, nil
}

func (s *service) Approve(ctx context.Context, requestID, reviewerID uuid.UUID) (*ApprovalRequest, error) {
	var request *ApprovalRequest
	err := s.atomically(ctx, nil, func(ctx context.Context, tx Repository, out *outbox) error {
		var err error
		request, err = s.approvals.decide(ctx, tx, requestID, reviewerID, ApprovalStatusApproved, "")
		if err != nil {
			return err
		}
		item, err := tx.LoadItem(ctx, request.SubjectKind, request.SubjectID)
		if err != nil {
			return err
		}
		if _, err := s.publish(ctx, tx, item, reviewerID); err != nil {
			return err
		}
		event, err := s.contentEvent(EventContentPublished, item, reviewerID)
		if err != nil {
			return err
		}
		out.add(event)
		out.add(s.approvalEvent(EventApprovalProcessed, request, reviewerID, ActionApproved))
		return nil
	})
	if err != nil {
		return nil, wrapRequestErr(requestID, "approve", err)
	}
	return request, nil
}

func (s *service) Reject(ctx context.Context, requestID, reviewerID uuid.UUID, reason string) (*ApprovalRequest, error) {
	var request *ApprovalRequest
	err := s.atomically(ctx, nil, func(ctx context.Context, tx Repository, out *outbox) error {
		var err error
		request, err = s.approvals.decide(ctx, tx, requestID, reviewerID, ApprovalStatusRejected, reason)
		if err != nil {
			return err
		}
		item, err := tx.LoadItem(ctx, request.SubjectKind, request.SubjectID)
		switch {
		case err == nil:
			if _, err := applyTransition(item, TransitionReject); err != nil {
				return err
			}
			item.Meta().UpdatedAt = s.now()
			if err := tx.SaveItem(ctx, item); err != nil {
				return fmt.Errorf("save item: %w", err)
			}
		case errors.Is(err, ErrItemNotFound):
			// The item is gone; the decision is still recorded.
		default:
			return err
		}
		out.add(s.approvalEvent(EventApprovalProcessed, request, reviewerID, ActionRejected))
		return nil
	})
	if err != nil {
		return nil, wrapRequestErr(requestID, "reject", err)
	}
	return request, nil
}

func (s *service) GetApprovalRequest(ctx context.Context, requestID uuid.UUID) (*ApprovalRequest, error) {
	request, err := s.approvals.Get(ctx, requestID)
	if err != nil {
		return nil, wrapRequestErr(requestID, "get", err)
	}
	return request, nil
}

func (s *service) ListApprovalRequests(ctx context.Context, subject Subject) ([]*ApprovalRequest, error) {
	requests, err := s.approvals.List(ctx, subject)
	if err != nil {
		return nil, wrapSubjectErr(subject, "list_approval_requests", err)
	}
	return requests, nil
}

func (s *service) GetPendingApprovals(ctx context.Context, siteID uuid.UUID) (map[Kind][]PendingApproval, error) {
	pending := ContentStatusPending
	result := make(map[Kind][]PendingApproval)
	for _, kind := range s.kinds.Kinds() {
		items, err := s.repository.ListItems(ctx, ItemFilter{Kind: kind, SiteID: &siteID, Status: &pending})
		if err != nil {
			return nil, fmt.Errorf("list pending %s: %w", kind, err)
		}
		entries := make([]PendingApproval, 0, len(items))
		for _, item := range items {
			entry := PendingApproval{Item: item}
			request, err := s.approvals.Pending(ctx, SubjectOf(item))
			switch {
			case err == nil:
				entry.Request = request
			case errors.Is(err, ErrRequestNotFound):
			default:
				return nil, fmt.Errorf("pending request for %s %s: %w", kind, item.Meta().ID, err)
			}
			entries = append(entries, entry)
		}
		result[kind] = entries
	}
	return result, nil
}

// Version operations

func (s *service) History(ctx context.Context, subject Subject) ([]*Version, error) {
	return s.versions.History(ctx, subject)
}

func (s *service) GetVersion(ctx context.Context, subject Subject, number int) (*Version, error) {
	version, err := s.versions.Get(ctx, subject, number)
	if err != nil {
		return nil, wrapSubjectErr(subject, "get_version", err)
	}
	return version, nil
}

func (s *service) LatestVersion(ctx context.Context, subject Subject) (*Version, error) {
	version, err := s.versions.Latest(ctx, subject)
	if err != nil {
		return nil, wrapSubjectErr(subject, "latest_version", err)
	}
	return version, nil
}

func (s *service) Rollback(ctx context.Context, item Item, number int, actorID uuid.UUID) (*Version, error) {
	var version *Version
	err := s.atomically(ctx, item, func(ctx context.Context, tx Repository, out *outbox) error {
		var stored Item
		var err error
		version, stored, err = s.versions.rollback(ctx, tx, item, number, actorID)
		if err != nil {
			return err
		}
		return copyItem(item, stored)
	})
	if err != nil {
		return nil, wrapItemErr(item, "rollback", err)
	}
	return version, nil
}

func (s *service) CompareVersions(ctx context.Context, subject Subject, a, b int) (map[string]FieldChange, error) {
	return s.versions.Compare(ctx, subject, a, b)
}

func (s *service) PruneVersions(ctx context.Context, subject Subject, keepLast int) (int, error) {
	return s.versions.Prune(ctx, subject, keepLast)
}

func (s *service) Kinds() []Kind {
	return s.kinds.Kinds()
}
