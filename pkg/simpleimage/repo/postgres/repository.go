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

	"github.com/tendant/simple-image/pkg/simpleimage"
)

// Schema is the DDL for the images table. Deployments normally apply it
// with their migration tool; EnsureSchema exists for tests and local runs.
//
//go:embed schema.sql
var Schema string

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simpleimage.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

var _ simpleimage.Repository = (*Repository)(nil)

// EnsureSchema creates the images table and indexes if missing
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("ensure schema", err)
	}
	return nil
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("image already exists")
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "23514": // check_violation
			return fmt.Errorf("constraint %s violated", pgErr.ConstraintName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

const imageColumns = `id, title, description, tags, content_type, file_size_bytes,
	width, height, physical_key, uploaded_by, status, failure_reason, created_at, updated_at`

func scanImage(row pgx.Row) (*simpleimage.Image, error) {
	var image simpleimage.Image
	var status string
	err := row.Scan(
		&image.ID, &image.Title, &image.Description, &image.Tags, &image.ContentType,
		&image.FileSizeBytes, &image.Width, &image.Height, &image.PhysicalKey,
		&image.UploadedBy, &status, &image.FailureReason, &image.CreatedAt, &image.UpdatedAt)
	if err != nil {
		return nil, err
	}
	image.Status = simpleimage.ImageStatus(status)
	if len(image.Tags) == 0 {
		image.Tags = nil
	}
	return &image, nil
}

// SaveImage upserts the record. On conflict a terminal status in the row
// wins over the incoming one, so a stale full update cannot regress it.
func (r *Repository) SaveImage(ctx context.Context, image *simpleimage.Image) error {
	query := `
		INSERT INTO images (
			id, title, description, tags, content_type, file_size_bytes,
			width, height, physical_key, uploaded_by, status, failure_reason,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			tags = EXCLUDED.tags,
			content_type = EXCLUDED.content_type,
			file_size_bytes = EXCLUDED.file_size_bytes,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			physical_key = EXCLUDED.physical_key,
			uploaded_by = EXCLUDED.uploaded_by,
			status = CASE WHEN images.status = 'PROCESSING' THEN EXCLUDED.status ELSE images.status END,
			failure_reason = CASE WHEN images.status = 'PROCESSING' THEN EXCLUDED.failure_reason ELSE images.failure_reason END,
			updated_at = NOW()
		RETURNING status, failure_reason, created_at, updated_at`

	tags := image.Tags
	if tags == nil {
		tags = []string{}
	}

	var status string
	err := r.db.QueryRow(ctx, query,
		image.ID, image.Title, image.Description, tags, image.ContentType,
		image.FileSizeBytes, image.Width, image.Height, image.PhysicalKey,
		image.UploadedBy, string(image.Status), image.FailureReason,
	).Scan(&status, &image.FailureReason, &image.CreatedAt, &image.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("save image", err)
	}
	image.Status = simpleimage.ImageStatus(status)
	return nil
}

// UpdateImage touches an existing row only; zero rows means the image is
// gone and ErrImageNotFound is returned.
func (r *Repository) UpdateImage(ctx context.Context, image *simpleimage.Image) error {
	query := `
		UPDATE images SET
			title = $2,
			description = $3,
			tags = $4,
			file_size_bytes = $5,
			width = $6,
			height = $7,
			updated_at = NOW()
		WHERE id = $1
		RETURNING status, failure_reason, created_at, updated_at`

	tags := image.Tags
	if tags == nil {
		tags = []string{}
	}

	var status string
	err := r.db.QueryRow(ctx, query,
		image.ID, image.Title, image.Description, tags,
		image.FileSizeBytes, image.Width, image.Height,
	).Scan(&status, &image.FailureReason, &image.CreatedAt, &image.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return simpleimage.ErrImageNotFound
		}
		return r.handlePostgresError("update image", err)
	}
	image.Status = simpleimage.ImageStatus(status)
	return nil
}

func (r *Repository) GetImage(ctx context.Context, id uuid.UUID) (*simpleimage.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images WHERE id = $1`

	image, err := scanImage(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, simpleimage.ErrImageNotFound
		}
		return nil, r.handlePostgresError("get image", err)
	}
	return image, nil
}

// TransitionStatus relies on the row lock taken by UPDATE: concurrent
// finalizers for one id serialize, and only the first leaves PROCESSING.
func (r *Repository) TransitionStatus(ctx context.Context, id uuid.UUID, to simpleimage.ImageStatus, reason string) (*simpleimage.Image, error) {
	query := `
		UPDATE images SET
			failure_reason = CASE WHEN status = $2 THEN failure_reason ELSE $3 END,
			updated_at = CASE WHEN status = $2 THEN updated_at ELSE NOW() END,
			status = $2
		WHERE id = $1 AND (status = 'PROCESSING' OR status = $2)
		RETURNING ` + imageColumns

	image, err := scanImage(r.db.QueryRow(ctx, query, id, string(to), reason))
	if err == nil {
		return image, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, r.handlePostgresError("transition status", err)
	}

	// no row updated: unknown id or a terminal status that differs
	if _, getErr := r.GetImage(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, simpleimage.ErrInvalidStatusTransition
}

func (r *Repository) DeleteImage(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM images WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete image", err)
	}
	if tag.RowsAffected() == 0 {
		return simpleimage.ErrImageNotFound
	}
	return nil
}

func (r *Repository) SearchImages(ctx context.Context, criteria simpleimage.SearchCriteria) (*simpleimage.Page, error) {
	where, args := buildSearchWhere(criteria)

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM images"+where, args...).Scan(&total); err != nil {
		return nil, r.handlePostgresError("count images", err)
	}

	query, args := buildSearchQuery(criteria)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("search images", err)
	}
	defer rows.Close()

	page := &simpleimage.Page{
		Items:  []*simpleimage.Image{},
		Total:  total,
		Limit:  criteria.Limit,
		Offset: criteria.Offset,
	}
	for rows.Next() {
		image, err := scanImage(rows)
		if err != nil {
			return nil, r.handlePostgresError("scan image", err)
		}
		page.Items = append(page.Items, image)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("iterate image rows", err)
	}
	return page, nil
}

func (r *Repository) ImageStatistics(ctx context.Context) (*simpleimage.Stats, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(file_size_bytes), 0), COALESCE(AVG(file_size_bytes), 0)::float8
		FROM images WHERE status = 'COMPLETED'`

	var stats simpleimage.Stats
	if err := r.db.QueryRow(ctx, query).Scan(&stats.Count, &stats.TotalSizeBytes, &stats.AverageBytes); err != nil {
		return nil, r.handlePostgresError("image statistics", err)
	}
	return &stats, nil
}

func buildSearchWhere(c simpleimage.SearchCriteria) (string, []interface{}) {
	var clauses []string
	args := []interface{}{}
	argIndex := 1

	if c.Title != "" {
		clauses = append(clauses, fmt.Sprintf("title ILIKE $%d", argIndex))
		args = append(args, "%"+escapeLike(c.Title)+"%")
		argIndex++
	}
	if c.ContentType != "" {
		clauses = append(clauses, fmt.Sprintf("LOWER(content_type) = LOWER($%d)", argIndex))
		args = append(args, c.ContentType)
		argIndex++
	}
	if c.Tag != "" {
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(tags)", argIndex))
		args = append(args, c.Tag)
		argIndex++
	}
	if c.UploadedBy != "" {
		clauses = append(clauses, fmt.Sprintf("uploaded_by = $%d", argIndex))
		args = append(args, c.UploadedBy)
		argIndex++
	}
	if len(c.Statuses) > 0 {
		statuses := make([]string, len(c.Statuses))
		for i, s := range c.Statuses {
			statuses[i] = string(s)
		}
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d)", argIndex))
		args = append(args, statuses)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildSearchQuery(c simpleimage.SearchCriteria) (string, []interface{}) {
	where, args := buildSearchWhere(c)
	query := "SELECT " + imageColumns + " FROM images" + where

	// column names come from a whitelist, never from input
	sortBy := string(simpleimage.SortByCreatedAt)
	if c.SortBy.Valid() {
		sortBy = string(c.SortBy)
	}
	sortOrder := "ASC"
	if c.SortDesc {
		sortOrder = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s, id ASC", sortBy, sortOrder)

	argIndex := len(args) + 1
	if c.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIndex)
		args = append(args, c.Limit)
		argIndex++
	}
	if c.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIndex)
		args = append(args, c.Offset)
	}
	return query, args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
