// Package postgres implements lifecycle.Repository on PostgreSQL using pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-lifecycle/pkg/lifecycle"
)

// Schema is the DDL for the lifecycle tables. Every statement is idempotent.
//
//go:embed schema.sql
var Schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// TxBeginner starts transactions. *pgxpool.Pool, *pgx.Conn and pgx.Tx
// implement it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository implements lifecycle.Repository using PostgreSQL
type Repository struct {
	db    DBTX
	kinds *lifecycle.KindRegistry
	inTx  bool
}

// New creates a new PostgreSQL repository. db must implement TxBeginner for
// WithTx to work.
func New(db DBTX, kinds *lifecycle.KindRegistry) *Repository {
	return &Repository{db: db, kinds: kinds}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool, kinds *lifecycle.KindRegistry) *Repository {
	return &Repository{db: pool, kinds: kinds}
}

// Migrate creates the lifecycle schema and tables if they do not exist.
func Migrate(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply lifecycle schema: %w", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if strings.Contains(pgErr.ConstraintName, "one_pending") {
				return fmt.Errorf("%w", lifecycle.ErrRequestAlreadyPending)
			}
			if strings.Contains(pgErr.ConstraintName, "content_version") {
				return fmt.Errorf("version already exists")
			}
			return fmt.Errorf("duplicate entry")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// WithTx runs fn inside a database transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx lifecycle.Repository) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	beginner, ok := r.db.(TxBeginner)
	if !ok {
		return fmt.Errorf("database handle %T cannot begin transactions", r.db)
	}
	tx, err := beginner.Begin(ctx)
	if err != nil {
		return r.handlePostgresError("begin", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Repository{db: tx, kinds: r.kinds, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return r.handlePostgresError("commit", err)
	}
	return nil
}

// Item operations

func (r *Repository) LoadItem(ctx context.Context, kind lifecycle.Kind, id uuid.UUID) (lifecycle.Item, error) {
	query := `
		SELECT fields FROM lifecycle.content_item
		WHERE kind = $1 AND id = $2 AND deleted_at IS NULL`
	if r.inTx {
		query += ` FOR UPDATE`
	}

	var fields map[string]interface{}
	err := r.db.QueryRow(ctx, query, string(kind), id).Scan(&fields)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrItemNotFound
		}
		return nil, r.handlePostgresError("load item", err)
	}
	return r.kinds.Decode(kind, fields)
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

	query := `
		INSERT INTO lifecycle.content_item (
			kind, id, site_id, status, published_at, fields, created_at, updated_at, deleted_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (kind, id) DO UPDATE SET
			site_id = EXCLUDED.site_id,
			status = EXCLUDED.status,
			published_at = EXCLUDED.published_at,
			fields = EXCLUDED.fields,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at`

	_, err = r.db.Exec(ctx, query,
		string(item.Kind()), meta.ID, meta.SiteID, string(status), meta.PublishedAt,
		fields, meta.CreatedAt, meta.UpdatedAt, meta.DeletedAt)
	if err != nil {
		return r.handlePostgresError("save item", err)
	}
	return nil
}

func (r *Repository) ListItems(ctx context.Context, filter lifecycle.ItemFilter) ([]lifecycle.Item, error) {
	conditions := []string{"deleted_at IS NULL"}
	var args []interface{}
	if filter.Kind != "" {
		args = append(args, string(filter.Kind))
		conditions = append(conditions, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.SiteID != nil {
		args = append(args, *filter.SiteID)
		conditions = append(conditions, fmt.Sprintf("site_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT kind, fields FROM lifecycle.content_item WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY created_at, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list items", err)
	}
	defer rows.Close()

	var items []lifecycle.Item
	for rows.Next() {
		var (
			kind   string
			fields map[string]interface{}
		)
		if err := rows.Scan(&kind, &fields); err != nil {
			return nil, r.handlePostgresError("scan item", err)
		}
		item, err := r.kinds.Decode(lifecycle.Kind(kind), fields)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list items", err)
	}
	return items, nil
}

// Version operations

func (r *Repository) CreateVersion(ctx context.Context, version *lifecycle.Version) error {
	query := `
		INSERT INTO lifecycle.content_version (
			id, subject_kind, subject_id, version_number, snapshot, change_summary, created_by, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	snapshot := version.Snapshot
	if snapshot == nil {
		snapshot = map[string]interface{}{}
	}
	_, err := r.db.Exec(ctx, query,
		version.ID, string(version.SubjectKind), version.SubjectID, version.VersionNumber,
		snapshot, version.ChangeSummary, version.CreatedBy, version.CreatedAt)
	if err != nil {
		return r.handlePostgresError("create version", err)
	}
	return nil
}

const versionColumns = `id, subject_kind, subject_id, version_number, snapshot, change_summary, created_by, created_at`

func scanVersion(row pgx.Row) (*lifecycle.Version, error) {
	var (
		v    lifecycle.Version
		kind string
	)
	err := row.Scan(&v.ID, &kind, &v.SubjectID, &v.VersionNumber, &v.Snapshot,
		&v.ChangeSummary, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.SubjectKind = lifecycle.Kind(kind)
	v.CreatedAt = v.CreatedAt.UTC()
	return &v, nil
}

func (r *Repository) ListVersions(ctx context.Context, subject lifecycle.Subject) ([]*lifecycle.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM lifecycle.content_version
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY version_number DESC`

	rows, err := r.db.Query(ctx, query, string(subject.Kind), subject.ID)
	if err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	defer rows.Close()

	var versions []*lifecycle.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan version", err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list versions", err)
	}
	return versions, nil
}

func (r *Repository) GetVersion(ctx context.Context, subject lifecycle.Subject, number int) (*lifecycle.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM lifecycle.content_version
		WHERE subject_kind = $1 AND subject_id = $2 AND version_number = $3`

	v, err := scanVersion(r.db.QueryRow(ctx, query, string(subject.Kind), subject.ID, number))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrVersionNotFound
		}
		return nil, r.handlePostgresError("get version", err)
	}
	return v, nil
}

func (r *Repository) LatestVersion(ctx context.Context, subject lifecycle.Subject) (*lifecycle.Version, error) {
	query := `SELECT ` + versionColumns + ` FROM lifecycle.content_version
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY version_number DESC LIMIT 1`

	v, err := scanVersion(r.db.QueryRow(ctx, query, string(subject.Kind), subject.ID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrVersionNotFound
		}
		return nil, r.handlePostgresError("latest version", err)
	}
	return v, nil
}

func (r *Repository) DeleteVersionsBefore(ctx context.Context, subject lifecycle.Subject, number int) (int, error) {
	query := `DELETE FROM lifecycle.content_version
		WHERE subject_kind = $1 AND subject_id = $2 AND version_number < $3`

	tag, err := r.db.Exec(ctx, query, string(subject.Kind), subject.ID, number)
	if err != nil {
		return 0, r.handlePostgresError("delete versions", err)
	}
	return int(tag.RowsAffected()), nil
}

// Approval request operations

func (r *Repository) CreateApprovalRequest(ctx context.Context, request *lifecycle.ApprovalRequest) error {
	query := `
		INSERT INTO lifecycle.approval_request (
			id, subject_kind, subject_id, requested_by, reviewed_by, status,
			message, review_notes, rejection_reason, requested_at, reviewed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.db.Exec(ctx, query,
		request.ID, string(request.SubjectKind), request.SubjectID, request.RequestedBy,
		request.ReviewedBy, string(request.Status), request.Message, request.ReviewNotes,
		request.RejectionReason, request.RequestedAt, request.ReviewedAt)
	if err != nil {
		return r.handlePostgresError("create approval request", err)
	}
	return nil
}

func (r *Repository) UpdateApprovalRequest(ctx context.Context, request *lifecycle.ApprovalRequest) error {
	query := `
		UPDATE lifecycle.approval_request SET
			reviewed_by = $2, status = $3, review_notes = $4,
			rejection_reason = $5, reviewed_at = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		request.ID, request.ReviewedBy, string(request.Status), request.ReviewNotes,
		request.RejectionReason, request.ReviewedAt)
	if err != nil {
		return r.handlePostgresError("update approval request", err)
	}
	if tag.RowsAffected() == 0 {
		return lifecycle.ErrRequestNotFound
	}
	return nil
}

const requestColumns = `id, subject_kind, subject_id, requested_by, reviewed_by, status,
	message, review_notes, rejection_reason, requested_at, reviewed_at`

func scanRequest(row pgx.Row) (*lifecycle.ApprovalRequest, error) {
	var (
		req    lifecycle.ApprovalRequest
		kind   string
		status string
	)
	err := row.Scan(&req.ID, &kind, &req.SubjectID, &req.RequestedBy, &req.ReviewedBy, &status,
		&req.Message, &req.ReviewNotes, &req.RejectionReason, &req.RequestedAt, &req.ReviewedAt)
	if err != nil {
		return nil, err
	}
	req.SubjectKind = lifecycle.Kind(kind)
	req.Status = lifecycle.ApprovalStatus(status)
	req.RequestedAt = req.RequestedAt.UTC()
	if req.ReviewedAt != nil {
		at := req.ReviewedAt.UTC()
		req.ReviewedAt = &at
	}
	return &req, nil
}

func (r *Repository) GetApprovalRequest(ctx context.Context, id uuid.UUID) (*lifecycle.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM lifecycle.approval_request WHERE id = $1`
	if r.inTx {
		query += ` FOR UPDATE`
	}

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrRequestNotFound
		}
		return nil, r.handlePostgresError("get approval request", err)
	}
	return req, nil
}

func (r *Repository) PendingApprovalRequest(ctx context.Context, subject lifecycle.Subject) (*lifecycle.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM lifecycle.approval_request
		WHERE subject_kind = $1 AND subject_id = $2 AND status = $3`

	req, err := scanRequest(r.db.QueryRow(ctx, query, string(subject.Kind), subject.ID, string(lifecycle.ApprovalStatusPending)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, lifecycle.ErrRequestNotFound
		}
		return nil, r.handlePostgresError("pending approval request", err)
	}
	return req, nil
}

func (r *Repository) ListApprovalRequests(ctx context.Context, subject lifecycle.Subject) ([]*lifecycle.ApprovalRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM lifecycle.approval_request
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY requested_at DESC`

	rows, err := r.db.Query(ctx, query, string(subject.Kind), subject.ID)
	if err != nil {
		return nil, r.handlePostgresError("list approval requests", err)
	}
	defer rows.Close()

	var requests []*lifecycle.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan approval request", err)
		}
		requests = append(requests, req)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list approval requests", err)
	}
	return requests, nil
}

var _ lifecycle.Repository = (*Repository)(nil)
