package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"pressline/internal/domain"
	"pressline/internal/events"
	"pressline/internal/repo"
	"pressline/internal/validate"
	"pressline/internal/workflow"
)

// CreateSite registers a tenant.
func (e Engine) CreateSite(ctx context.Context, id, name, actorID string) (domain.Site, error) {
	if err := validate.SiteID(id); err != nil {
		return domain.Site{}, err
	}
	if name == "" {
		name = id
	}
	s := domain.Site{ID: id, Name: name, CreatedAt: repo.FormatTime(e.now())}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return s, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertSite(ctx, tx, s); err != nil {
		return s, err
	}
	if err := e.events().Append(ctx, tx, events.SiteCreated, s.ID, "site", s.ID, actorID, events.EventPayload{"name": s.Name}); err != nil {
		return s, err
	}
	if err := tx.Commit(); err != nil {
		return s, err
	}
	return s, nil
}

// EnsureSite returns the site, creating it on first use.
func (e Engine) EnsureSite(ctx context.Context, id, actorID string) (domain.Site, error) {
	s, err := e.Repo.GetSite(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return s, err
	}
	s, err = e.CreateSite(ctx, id, "", actorID)
	if errors.Is(err, repo.ErrDuplicate) {
		return e.Repo.GetSite(ctx, id)
	}
	return s, err
}

// ContentCreateOptions are parameters for creating a record.
type ContentCreateOptions struct {
	ID           string
	SiteID       string
	Kind         domain.Kind
	AuthorID     string
	Translations []domain.Translation
	ActorID      string
}

// CreateContent inserts a draft record with its translations.
func (e Engine) CreateContent(ctx context.Context, opts ContentCreateOptions) (domain.Content, error) {
	now := e.now()
	author := opts.AuthorID
	if author == "" {
		author = opts.ActorID
	}
	c := domain.Content{
		ID:           opts.ID,
		SiteID:       opts.SiteID,
		Kind:         opts.Kind,
		Lifecycle:    workflow.Lifecycle{State: workflow.Draft},
		AuthorID:     author,
		CreatedAt:    now,
		UpdatedAt:    now,
		Translations: append([]domain.Translation(nil), opts.Translations...),
	}
	if err := validate.NewContent(&c); err != nil {
		return domain.Content{}, err
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if _, err := e.Repo.GetSite(ctx, c.SiteID); err != nil {
		return domain.Content{}, err
	}
	stamp := repo.FormatTime(now)
	for i := range c.Translations {
		c.Translations[i].UpdatedAt = stamp
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Content{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertContent(ctx, tx, c); err != nil {
		return domain.Content{}, err
	}
	locales := make([]string, 0, len(c.Translations))
	for _, t := range c.Translations {
		if err := e.Repo.UpsertTranslation(ctx, tx, c, t); err != nil {
			return domain.Content{}, err
		}
		locales = append(locales, t.Locale)
	}
	if err := e.events().Append(ctx, tx, events.ContentCreated, c.SiteID, string(c.Kind), c.ID, opts.ActorID, events.EventPayload{
		"state":   string(c.State),
		"locales": locales,
	}); err != nil {
		return domain.Content{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Content{}, err
	}
	return c, nil
}

// GetContent returns a live record with its translations.
func (e Engine) GetContent(ctx context.Context, id string) (domain.Content, error) {
	c, err := e.Repo.GetContent(ctx, id)
	if err != nil {
		return c, err
	}
	trs, err := e.Repo.ListTranslations(ctx, c.ID)
	if err != nil {
		return c, err
	}
	c.Translations = trs[c.ID]
	return c, nil
}

// ListContents returns one page of records with translations attached.
func (e Engine) ListContents(ctx context.Context, f repo.ContentFilters) ([]domain.Content, error) {
	items, err := e.Repo.ListContents(ctx, f)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(items))
	for i, c := range items {
		ids[i] = c.ID
	}
	trs, err := e.Repo.ListTranslations(ctx, ids...)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Translations = trs[items[i].ID]
	}
	return items, nil
}

// TranslationInput is the localized body of a record.
type TranslationInput struct {
	Title string
	Slug  string
	Body  string
}

// UpsertTranslation creates or replaces the locale variant of a record.
func (e Engine) UpsertTranslation(ctx context.Context, id, locale string, in TranslationInput, actorID string) (domain.Content, error) {
	t := domain.Translation{
		Locale:    strings.TrimSpace(locale),
		Title:     strings.TrimSpace(in.Title),
		Slug:      strings.TrimSpace(in.Slug),
		Body:      in.Body,
		UpdatedAt: repo.FormatTime(e.now()),
	}
	if err := validate.Translation(&t); err != nil {
		return domain.Content{}, err
	}
	c, err := e.Repo.GetContent(ctx, id)
	if err != nil {
		return c, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpsertTranslation(ctx, tx, c, t); err != nil {
		return c, err
	}
	if err := e.events().Append(ctx, tx, events.ContentTranslationUpdated, c.SiteID, string(c.Kind), c.ID, actorID, events.EventPayload{
		"locale": t.Locale,
		"slug":   t.Slug,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return e.GetContent(ctx, id)
}

func (e Engine) DeleteTranslation(ctx context.Context, id, locale, actorID string) error {
	c, err := e.Repo.GetContent(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteTranslation(ctx, tx, c.ID, locale); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ContentTranslationDeleted, c.SiteID, string(c.Kind), c.ID, actorID, events.EventPayload{"locale": locale}); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteContent soft deletes a record. It keeps its state but is hidden
// from reads, transitions and the sweep.
func (e Engine) DeleteContent(ctx context.Context, id, actorID string) error {
	c, err := e.Repo.GetContent(ctx, id)
	if err != nil {
		return err
	}
	now := e.now()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SetDeletedAt(ctx, tx, c.ID, &now); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.ContentDeleted, c.SiteID, string(c.Kind), c.ID, actorID, events.EventPayload{"state": string(c.State)}); err != nil {
		return err
	}
	return tx.Commit()
}

// RestoreContent undoes a soft delete.
func (e Engine) RestoreContent(ctx context.Context, id, actorID string) (domain.Content, error) {
	c, err := e.Repo.GetContentAny(ctx, id)
	if err != nil {
		return c, err
	}
	if c.DeletedAt == nil {
		return c, fmt.Errorf("deleted content %s: %w", id, repo.ErrNotFound)
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return c, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetDeletedAt(ctx, tx, c.ID, nil); err != nil {
		return c, err
	}
	if err := e.events().Append(ctx, tx, events.ContentRestored, c.SiteID, string(c.Kind), c.ID, actorID, nil); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return e.GetContent(ctx, id)
}

// StatusSummary is the per-site scoreboard.
type StatusSummary struct {
	SiteID string         `json:"site_id"`
	Total  int            `json:"total"`
	States map[string]int `json:"states"`
	Due    int            `json:"due"`
}

// Status counts live records per state; every state is present. Due is the
// number of scheduled records the next sweep would publish.
func (e Engine) Status(ctx context.Context, siteID string) (StatusSummary, error) {
	if _, err := e.Repo.GetSite(ctx, siteID); err != nil {
		return StatusSummary{}, err
	}
	counts, err := e.Repo.CountContentsByState(ctx, siteID)
	if err != nil {
		return StatusSummary{}, err
	}
	sum := StatusSummary{SiteID: siteID, States: map[string]int{}}
	for _, s := range workflow.States() {
		sum.States[string(s)] = counts[string(s)]
		sum.Total += counts[string(s)]
	}
	due, err := e.Repo.CountDueScheduled(ctx, siteID, e.now())
	if err != nil {
		return sum, err
	}
	sum.Due = due
	return sum, nil
}

// CreateAPIKey issues a key for actorID. The plaintext is only returned here.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name, issuedBy string) (domain.APIKey, string, error) {
	if strings.TrimSpace(actorID) == "" {
		return domain.APIKey{}, "", errors.New("actor required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	plain := "pl_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.New().String(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(plain),
		CreatedAt: repo.FormatTime(e.now()),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return key, "", err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertAPIKey(ctx, tx, key); err != nil {
		return key, "", err
	}
	if err := e.events().Append(ctx, tx, events.APIKeyCreated, "", "apikey", key.ID, issuedBy, events.EventPayload{"actor_id": actorID, "name": name}); err != nil {
		return key, "", err
	}
	if err := tx.Commit(); err != nil {
		return key, "", err
	}
	return key, plain, nil
}

func (e Engine) RevokeAPIKey(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteAPIKeyTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.events().Append(ctx, tx, events.APIKeyRevoked, "", "apikey", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}
