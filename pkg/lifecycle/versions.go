package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// VersionStore records and restores whole-record snapshots of content items.
type VersionStore struct {
	repo     Repository
	archiver VersionArchiver
	now      func() time.Time
}

// NewVersionStore creates a version store over repo. archiver may be nil.
func NewVersionStore(repo Repository, archiver VersionArchiver) *VersionStore {
	return &VersionStore{repo: repo, archiver: archiver, now: utcNow}
}

func utcNow() time.Time {
	return time.Now().UTC()
}

// CreateVersion snapshots the item's current state as the next version.
func (s *VersionStore) CreateVersion(ctx context.Context, item Item, actorID uuid.UUID, changeSummary string) (*Version, error) {
	var version *Version
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		version, err = s.create(ctx, tx, item, actorID, changeSummary)
		return err
	})
	if err != nil {
		return nil, wrapItemErr(item, "create_version", err)
	}
	return version, nil
}

func (s *VersionStore) create(ctx context.Context, repo Repository, item Item, actorID uuid.UUID, changeSummary string) (*Version, error) {
	subject := SubjectOf(item)

	number := 1
	latest, err := repo.LatestVersion(ctx, subject)
	switch {
	case err == nil:
		number = latest.VersionNumber + 1
	case errors.Is(err, ErrVersionNotFound):
	default:
		return nil, fmt.Errorf("latest version: %w", err)
	}

	if changeSummary == "" {
		if number == 1 {
			changeSummary = SummaryInitial
		} else {
			changeSummary = SummaryUpdated
		}
	}

	snapshot, err := Snapshot(item)
	if err != nil {
		return nil, err
	}

	version := &Version{
		ID:            uuid.New(),
		SubjectKind:   subject.Kind,
		SubjectID:     subject.ID,
		CreatedBy:     actorID,
		VersionNumber: number,
		Snapshot:      snapshot,
		ChangeSummary: changeSummary,
		CreatedAt:     s.now(),
	}
	if err := repo.CreateVersion(ctx, version); err != nil {
		return nil, fmt.Errorf("store version %d: %w", number, err)
	}
	return version, nil
}

// History returns every version of the subject, newest first.
func (s *VersionStore) History(ctx context.Context, subject Subject) ([]*Version, error) {
	versions, err := s.repo.ListVersions(ctx, subject)
	if err != nil {
		return nil, wrapSubjectErr(subject, "history", err)
	}
	return versions, nil
}

// Latest returns the newest version or ErrVersionNotFound.
func (s *VersionStore) Latest(ctx context.Context, subject Subject) (*Version, error) {
	return s.repo.LatestVersion(ctx, subject)
}

// Get returns a version by number or ErrVersionNotFound.
func (s *VersionStore) Get(ctx context.Context, subject Subject, number int) (*Version, error) {
	return s.repo.GetVersion(ctx, subject, number)
}

// Rollback restores the item's content from version number and records the
// restore as a new version. The item's status and publish time are kept, so
// lifecycle state only moves through transitions. It returns
// ErrVersionNotFound, creating nothing, when the version does not exist.
func (s *VersionStore) Rollback(ctx context.Context, item Item, number int, actorID uuid.UUID) (*Version, error) {
	var version *Version
	var stored Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		version, stored, err = s.rollback(ctx, tx, item, number, actorID)
		return err
	})
	if err == nil {
		err = copyItem(item, stored)
	}
	if err != nil {
		return nil, wrapItemErr(item, "rollback", err)
	}
	return version, nil
}

func (s *VersionStore) rollback(ctx context.Context, repo Repository, item Item, number int, actorID uuid.UUID) (*Version, Item, error) {
	stored, err := loadCurrent(ctx, repo, item)
	if err != nil {
		return nil, nil, err
	}
	target, err := repo.GetVersion(ctx, SubjectOf(stored), number)
	if err != nil {
		return nil, nil, err
	}

	meta := stored.Meta()
	status := meta.Status
	var publishedAt *time.Time
	if meta.PublishedAt != nil {
		at := *meta.PublishedAt
		publishedAt = &at
	}
	if err := ApplyFields(stored, target.Snapshot); err != nil {
		return nil, nil, fmt.Errorf("apply version %d: %w", number, err)
	}
	meta = stored.Meta()
	meta.Status = status
	meta.PublishedAt = publishedAt
	meta.UpdatedAt = s.now()

	if err := repo.SaveItem(ctx, stored); err != nil {
		return nil, nil, fmt.Errorf("save item: %w", err)
	}
	version, err := s.create(ctx, repo, stored, actorID, fmt.Sprintf("Rolled back to version %d", number))
	if err != nil {
		return nil, nil, err
	}
	return version, stored, nil
}

// Compare reports the fields that differ between versions a and b. The result
// is empty when either version is missing.
func (s *VersionStore) Compare(ctx context.Context, subject Subject, a, b int) (map[string]FieldChange, error) {
	va, err := s.repo.GetVersion(ctx, subject, a)
	if errors.Is(err, ErrVersionNotFound) {
		return map[string]FieldChange{}, nil
	}
	if err != nil {
		return nil, wrapSubjectErr(subject, "compare", err)
	}
	vb, err := s.repo.GetVersion(ctx, subject, b)
	if errors.Is(err, ErrVersionNotFound) {
		return map[string]FieldChange{}, nil
	}
	if err != nil {
		return nil, wrapSubjectErr(subject, "compare", err)
	}
	return diffFields(va.Snapshot, vb.Snapshot), nil
}

// Prune keeps the keepLast most recent versions and hard-deletes the rest.
// A non-positive keepLast means DefaultKeepVersions.
func (s *VersionStore) Prune(ctx context.Context, subject Subject, keepLast int) (int, error) {
	var deleted int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		deleted, err = s.prune(ctx, tx, subject, keepLast)
		return err
	})
	if err != nil {
		return 0, wrapSubjectErr(subject, "prune", err)
	}
	return deleted, nil
}

func (s *VersionStore) prune(ctx context.Context, repo Repository, subject Subject, keepLast int) (int, error) {
	if keepLast <= 0 {
		keepLast = DefaultKeepVersions
	}
	versions, err := repo.ListVersions(ctx, subject)
	if err != nil {
		return 0, err
	}
	if len(versions) <= keepLast {
		return 0, nil
	}

	// versions are newest first; everything after index keepLast-1 goes.
	cutoff := versions[keepLast-1].VersionNumber
	if s.archiver != nil {
		if err := s.archiver.ArchiveVersions(ctx, versions[keepLast:]); err != nil {
			return 0, fmt.Errorf("archive versions: %w", err)
		}
	}
	return repo.DeleteVersionsBefore(ctx, subject, cutoff)
}
