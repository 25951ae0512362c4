// Package validate checks caller input for content records before it
// reaches the engine.
package validate

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"pressline/internal/domain"
)

var (
	slugRegex   = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	localeRegex = regexp.MustCompile(`^[a-z]{2}(-[A-Z]{2})?$`)
	siteIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)
	validKinds  = []interface{}{domain.KindArticle, domain.KindPage, domain.KindProject, domain.KindService}
)

// Translation validates one localized variant.
func Translation(t *domain.Translation) error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Locale,
			validation.Required.Error("locale_required"),
			validation.Match(localeRegex).Error("invalid_locale_format"),
		),
		validation.Field(&t.Title,
			validation.Required.Error("title_required"),
			validation.Length(1, 300).Error("title_too_long"),
		),
		validation.Field(&t.Slug,
			validation.Required.Error("slug_required"),
			validation.Length(1, 200).Error("slug_too_long"),
			validation.Match(slugRegex).Error("invalid_slug_format"),
		),
	)
}

// NewContent validates a record about to be created.
func NewContent(c *domain.Content) error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.SiteID,
			validation.Required.Error("site_id_required"),
			validation.Match(siteIDRegex).Error("invalid_site_id"),
		),
		validation.Field(&c.Kind,
			validation.Required.Error("kind_required"),
			validation.In(validKinds...).Error("invalid_kind"),
		),
		validation.Field(&c.ID, is.UUID.Error("invalid_id")),
	)
	if err != nil {
		return err
	}
	seen := map[string]bool{}
	for i := range c.Translations {
		if err := Translation(&c.Translations[i]); err != nil {
			return validation.Errors{"translations": err}
		}
		if seen[c.Translations[i].Locale] {
			return validation.Errors{
				"translations": validation.NewError("duplicate_locale", "locale "+c.Translations[i].Locale+" given twice"),
			}
		}
		seen[c.Translations[i].Locale] = true
	}
	return nil
}

// SiteID validates a tenant identifier.
func SiteID(id string) error {
	return validation.Validate(id,
		validation.Required.Error("site_id_required"),
		validation.Match(siteIDRegex).Error("invalid_site_id"),
	)
}

// IsValidationError reports whether err came from this package's rules.
func IsValidationError(err error) bool {
	var errs validation.Errors
	if errors.As(err, &errs) {
		return true
	}
	var single validation.Error
	return errors.As(err, &single)
}
