package validate

import (
	"errors"
	"fmt"
	"testing"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/domain"
)

func TestTranslation(t *testing.T) {
	ok := domain.Translation{Locale: "en-GB", Title: "Hello", Slug: "hello-world"}
	require.NoError(t, Translation(&ok))

	cases := map[string]domain.Translation{
		"locale":     {Locale: "english", Title: "x", Slug: "x"},
		"title":      {Locale: "en", Slug: "x"},
		"slug upper": {Locale: "en", Title: "x", Slug: "Hello"},
		"slug dash":  {Locale: "en", Title: "x", Slug: "hello--world"},
	}
	for name, tr := range cases {
		t.Run(name, func(t *testing.T) {
			err := Translation(&tr)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
		})
	}
}

func TestNewContent(t *testing.T) {
	c := domain.Content{SiteID: "acme", Kind: domain.KindArticle, Translations: []domain.Translation{
		{Locale: "en", Title: "Hello", Slug: "hello"},
		{Locale: "fr", Title: "Bonjour", Slug: "bonjour"},
	}}
	require.NoError(t, NewContent(&c))

	bad := c
	bad.Kind = "video"
	err := NewContent(&bad)
	require.Error(t, err)
	var errs validation.Errors
	require.True(t, errors.As(err, &errs))
	assert.Contains(t, errs, "kind")

	dup := c
	dup.Translations = []domain.Translation{c.Translations[0], c.Translations[0]}
	assert.Error(t, NewContent(&dup))

	badID := c
	badID.ID = "not-a-uuid"
	assert.Error(t, NewContent(&badID))

	badSite := c
	badSite.SiteID = "Acme Corp"
	assert.Error(t, NewContent(&badSite))
}

func TestIsValidationErrorThroughWrapping(t *testing.T) {
	err := fmt.Errorf("create: %w", SiteID(""))
	assert.True(t, IsValidationError(err))
	assert.False(t, IsValidationError(errors.New("boom")))
}
