package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"pressline/internal/domain"
)

// UpsertTranslation writes one locale of a record. Slugs are unique per
// (site, kind, locale); a clash returns ErrDuplicate.
func (r Repo) UpsertTranslation(ctx context.Context, tx *sql.Tx, c domain.Content, t domain.Translation) error {
	_, err := r.execer(tx).ExecContext(ctx, r.q(`INSERT INTO content_translations(content_id,site_id,kind,locale,title,slug,body,updated_at)
		VALUES (?,?,?,?,?,?,?,?)
		ON CONFLICT(content_id,locale) DO UPDATE SET title=excluded.title, slug=excluded.slug, body=excluded.body, updated_at=excluded.updated_at`),
		c.ID, c.SiteID, string(c.Kind), t.Locale, t.Title, t.Slug, nullable(t.Body), t.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("slug %q for %s/%s: %w", t.Slug, c.Kind, t.Locale, ErrDuplicate)
	}
	return err
}

func (r Repo) DeleteTranslation(ctx context.Context, tx *sql.Tx, contentID, locale string) error {
	res, err := r.execer(tx).ExecContext(ctx, r.q(`DELETE FROM content_translations WHERE content_id=? AND locale=?`), contentID, locale)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("translation %s/%s: %w", contentID, locale, ErrNotFound)
	}
	return nil
}

// ListTranslations loads translations for the given records, keyed by content id.
func (r Repo) ListTranslations(ctx context.Context, contentIDs ...string) (map[string][]domain.Translation, error) {
	res := make(map[string][]domain.Translation, len(contentIDs))
	if len(contentIDs) == 0 {
		return res, nil
	}
	placeholders := make([]string, len(contentIDs))
	args := make([]any, len(contentIDs))
	for i, id := range contentIDs {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT content_id,locale,title,slug,body,updated_at FROM content_translations WHERE content_id IN (%s) ORDER BY content_id, locale`,
		strings.Join(placeholders, ","))
	rows, err := r.DB.QueryContext(ctx, r.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var contentID string
		var t domain.Translation
		var body sql.NullString
		if err := rows.Scan(&contentID, &t.Locale, &t.Title, &t.Slug, &body, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Body = body.String
		res[contentID] = append(res[contentID], t)
	}
	return res, rows.Err()
}

// FindBySlug resolves a published-facing slug to its record.
func (r Repo) FindBySlug(ctx context.Context, siteID string, kind domain.Kind, locale, slug string) (domain.Content, error) {
	row := r.DB.QueryRowContext(ctx, r.q(`SELECT c.id,c.site_id,c.kind,c.state,c.published_at,c.scheduled_at,c.archived_at,c.review_notes,c.author_id,c.created_at,c.updated_at,c.deleted_at,c.version
		FROM contents c JOIN content_translations t ON t.content_id=c.id
		WHERE t.site_id=? AND t.kind=? AND t.locale=? AND t.slug=? AND c.deleted_at IS NULL`),
		siteID, string(kind), locale, slug)
	c, err := scanContent(row)
	if err == sql.ErrNoRows {
		return c, fmt.Errorf("slug %s/%s/%s: %w", kind, locale, slug, ErrNotFound)
	}
	return c, err
}
