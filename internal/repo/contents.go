package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"pressline/internal/domain"
	"pressline/internal/workflow"
)

const contentColumns = `id,site_id,kind,state,published_at,scheduled_at,archived_at,review_notes,author_id,created_at,updated_at,deleted_at,version`

func scanContent(row rowScanner) (domain.Content, error) {
	var c domain.Content
	var kind, state, created, updated string
	var published, scheduled, archived, deleted, notes, author sql.NullString
	if err := row.Scan(&c.ID, &c.SiteID, &kind, &state, &published, &scheduled, &archived, &notes, &author, &created, &updated, &deleted, &c.Version); err != nil {
		return c, err
	}
	c.Kind = domain.Kind(kind)
	c.State = workflow.State(state)
	c.AuthorID = author.String
	if notes.Valid {
		n := notes.String
		c.ReviewNotes = &n
	}
	var err error
	if c.PublishedAt, err = parseNullTime(published); err != nil {
		return c, err
	}
	if c.ScheduledAt, err = parseNullTime(scheduled); err != nil {
		return c, err
	}
	if c.ArchivedAt, err = parseNullTime(archived); err != nil {
		return c, err
	}
	if c.DeletedAt, err = parseNullTime(deleted); err != nil {
		return c, err
	}
	if c.CreatedAt, err = ParseTime(created); err != nil {
		return c, err
	}
	if c.UpdatedAt, err = ParseTime(updated); err != nil {
		return c, err
	}
	return c, nil
}

func (r Repo) InsertContent(ctx context.Context, tx *sql.Tx, c domain.Content) error {
	_, err := r.execer(tx).ExecContext(ctx, r.q(`INSERT INTO contents(`+contentColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`),
		c.ID, c.SiteID, string(c.Kind), string(c.State),
		nullableTime(c.PublishedAt), nullableTime(c.ScheduledAt), nullableTime(c.ArchivedAt),
		nullableStringPtr(c.ReviewNotes), nullable(c.AuthorID),
		FormatTime(c.CreatedAt), FormatTime(c.UpdatedAt), nullableTime(c.DeletedAt), c.Version)
	if isUniqueViolation(err) {
		return fmt.Errorf("content %s: %w", c.ID, ErrDuplicate)
	}
	return err
}

// UpdateLifecycle writes the lifecycle fields if the stored state still
// equals expected and the stored version equals c.Version. The version is
// bumped on success. A lost race returns workflow.ErrConflict.
func (r Repo) UpdateLifecycle(ctx context.Context, tx *sql.Tx, c domain.Content, expected workflow.State) error {
	res, err := r.execer(tx).ExecContext(ctx, r.q(`UPDATE contents SET state=?,published_at=?,scheduled_at=?,archived_at=?,review_notes=?,updated_at=?,version=version+1
		WHERE id=? AND state=? AND version=? AND deleted_at IS NULL`),
		string(c.State), nullableTime(c.PublishedAt), nullableTime(c.ScheduledAt), nullableTime(c.ArchivedAt),
		nullableStringPtr(c.ReviewNotes), FormatTime(c.UpdatedAt),
		c.ID, string(expected), c.Version)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return workflow.ErrConflict
	}
	return nil
}

// GetContent returns a live (not deleted) record without translations.
func (r Repo) GetContent(ctx context.Context, id string) (domain.Content, error) {
	c, err := scanContent(r.DB.QueryRowContext(ctx, r.q(`SELECT `+contentColumns+` FROM contents WHERE id=? AND deleted_at IS NULL`), id))
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	return c, err
}

// GetContentAny returns the record whether or not it is soft deleted.
func (r Repo) GetContentAny(ctx context.Context, id string) (domain.Content, error) {
	c, err := scanContent(r.DB.QueryRowContext(ctx, r.q(`SELECT `+contentColumns+` FROM contents WHERE id=?`), id))
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	return c, err
}

// SetDeletedAt soft deletes (at != nil) or restores (at == nil) a record.
func (r Repo) SetDeletedAt(ctx context.Context, tx *sql.Tx, id string, at *time.Time) error {
	query := `UPDATE contents SET deleted_at=? WHERE id=? AND deleted_at IS NULL`
	if at == nil {
		query = `UPDATE contents SET deleted_at=? WHERE id=? AND deleted_at IS NOT NULL`
	}
	res, err := r.execer(tx).ExecContext(ctx, r.q(query), nullableTime(at), id)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("content %s: %w", id, ErrNotFound)
	}
	return nil
}

type ContentFilters struct {
	SiteID          string
	Kind            domain.Kind
	State           workflow.State
	IncludeDeleted  bool
	Limit           int
	CursorCreatedAt string
	CursorID        string
}

// ListContents pages newest first, keyed on (created_at, id).
func (r Repo) ListContents(ctx context.Context, f ContentFilters) ([]domain.Content, error) {
	clauses := []string{"site_id=?"}
	args := []any{f.SiteID}
	if f.Kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, string(f.Kind))
	}
	if f.State != "" {
		clauses = append(clauses, "state=?")
		args = append(args, string(f.State))
	}
	if !f.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if f.CursorCreatedAt != "" && f.CursorID != "" {
		clauses = append(clauses, "(created_at < ? OR (created_at = ? AND id < ?))")
		args = append(args, f.CursorCreatedAt, f.CursorCreatedAt, f.CursorID)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM contents WHERE %s ORDER BY created_at DESC, id DESC LIMIT ?`, contentColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryContents(ctx, query, args...)
}

// ListDueScheduled returns scheduled records due at or before now, ordered by
// (scheduled_at, id) and starting after the given key.
func (r Repo) ListDueScheduled(ctx context.Context, now time.Time, afterAt, afterID string, limit int) ([]domain.Content, error) {
	clauses := []string{"state=?", "scheduled_at <= ?", "deleted_at IS NULL"}
	args := []any{string(workflow.Scheduled), FormatTime(now)}
	if afterAt != "" {
		clauses = append(clauses, "(scheduled_at > ? OR (scheduled_at = ? AND id > ?))")
		args = append(args, afterAt, afterAt, afterID)
	}
	if limit <= 0 {
		limit = 100
	}
	query := fmt.Sprintf(`SELECT %s FROM contents WHERE %s ORDER BY scheduled_at ASC, id ASC LIMIT ?`, contentColumns, strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryContents(ctx, query, args...)
}

func (r Repo) queryContents(ctx context.Context, query string, args ...any) ([]domain.Content, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Content
	for rows.Next() {
		c, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// CountContentsByState returns live record counts per state for a site.
func (r Repo) CountContentsByState(ctx context.Context, siteID string) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT state, COUNT(*) FROM contents WHERE site_id=? AND deleted_at IS NULL GROUP BY state`), siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]int{}
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		res[state] = count
	}
	return res, rows.Err()
}

// CountDueScheduled counts live scheduled records of one site due at now.
func (r Repo) CountDueScheduled(ctx context.Context, siteID string, now time.Time) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT COUNT(*) FROM contents WHERE site_id=? AND state=? AND scheduled_at <= ? AND deleted_at IS NULL`),
		siteID, string(workflow.Scheduled), FormatTime(now)).Scan(&n)
	return n, err
}
