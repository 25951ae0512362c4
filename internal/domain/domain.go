package domain

import (
	"fmt"
	"strings"
	"time"

	"pressline/internal/workflow"
)

type Kind string

const (
	KindArticle Kind = "article"
	KindPage    Kind = "page"
	KindProject Kind = "project"
	KindService Kind = "service"
)

// Kinds lists the publishable content kinds.
func Kinds() []Kind {
	return []Kind{KindArticle, KindPage, KindProject, KindService}
}

func ParseKind(in string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(in)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("invalid kind %q", in)
}

type Site struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Translation struct {
	Locale    string `json:"locale"`
	Title     string `json:"title"`
	Slug      string `json:"slug"`
	Body      string `json:"body,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty" format:"date-time"`
}

// Content is a publishable record. Its lifecycle fields are only changed
// through the workflow engine.
type Content struct {
	ID     string `json:"id"`
	SiteID string `json:"site_id"`
	Kind   Kind   `json:"kind" enum:"article,page,project,service"`
	workflow.Lifecycle
	AuthorID     string        `json:"author_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	DeletedAt    *time.Time    `json:"deleted_at,omitempty"`
	// Version counts lifecycle writes; it guards the compare-and-set.
	Version      int64         `json:"version"`
	Translations []Translation `json:"translations,omitempty"`
}

// Translation returns the translation for locale, if present.
func (c Content) Translation(locale string) (Translation, bool) {
	for _, t := range c.Translations {
		if strings.EqualFold(t.Locale, locale) {
			return t, true
		}
	}
	return Translation{}, false
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	SiteID     string `json:"site_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
