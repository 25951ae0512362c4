package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"pressline/internal/app"
	"pressline/internal/domain"
	"pressline/internal/engine"
	"pressline/internal/repo"
	"pressline/internal/workflow"
)

func contentCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "content",
		Short: "Manage content and move it through the workflow",
	}
	c.AddCommand(contentCreateCmd())
	c.AddCommand(contentGetCmd())
	c.AddCommand(contentListCmd())
	c.AddCommand(contentDeleteCmd())
	c.AddCommand(contentRestoreCmd())
	c.AddCommand(contentTranslateCmd())
	c.AddCommand(contentTransitionCmd())
	for _, a := range contentActions {
		c.AddCommand(contentActionCmd(a))
	}
	return c
}

func contentCreateCmd() *cobra.Command {
	var id, kind, author, locale, title, slug, body string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create content in draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			k, err := domain.ParseKind(kind)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				siteID, err := app.ResolveSite(ctx, e, viper.GetString("site"), actorID, true)
				if err != nil {
					return err
				}
				opts := engine.ContentCreateOptions{
					ID:       id,
					SiteID:   siteID,
					Kind:     k,
					AuthorID: author,
					ActorID:  actorID,
				}
				if title != "" || slug != "" {
					opts.Translations = []domain.Translation{{Locale: locale, Title: title, Slug: slug, Body: body}}
				}
				c, err := e.CreateContent(ctx, opts)
				if err != nil {
					return err
				}
				return printContent(c)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "content id (generated when empty)")
	cmd.Flags().StringVar(&kind, "kind", "", "article, page, project or service")
	cmd.Flags().StringVar(&author, "author", "", "author id (defaults to --actor-id)")
	cmd.Flags().StringVar(&locale, "locale", "en", "locale of the initial translation")
	cmd.Flags().StringVar(&title, "title", "", "title of the initial translation")
	cmd.Flags().StringVar(&slug, "slug", "", "slug of the initial translation")
	cmd.Flags().StringVar(&body, "body", "", "body of the initial translation")
	_ = cmd.MarkFlagRequired("kind")
	return cmd
}

func contentGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show content with its translations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.GetContent(ctx, args[0])
				if err != nil {
					return err
				}
				return printContent(c)
			})
		},
	}
}

func contentListCmd() *cobra.Command {
	var kind, state string
	var limit int
	var deleted bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List content, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.ContentFilters{Limit: limit, IncludeDeleted: deleted}
			if kind != "" {
				k, err := domain.ParseKind(kind)
				if err != nil {
					return err
				}
				f.Kind = k
			}
			if state != "" {
				s, err := workflow.ParseState(state)
				if err != nil {
					return err
				}
				f.State = s
			}
			return withSite(cmd.Context(), func(ctx context.Context, e engine.Engine, siteID string) error {
				f.SiteID = siteID
				items, err := e.ListContents(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Kind", "State", "Title", "Published", "Scheduled"})
				for _, c := range items {
					tw.AppendRow(table.Row{c.ID, c.Kind, c.State, primaryTitle(c), formatOptionalTime(c.PublishedAt), formatOptionalTime(c.ScheduledAt)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	cmd.Flags().BoolVar(&deleted, "deleted", false, "include soft-deleted records")
	return cmd
}

func contentDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Soft delete content",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteContent(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
}

func contentRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <id>",
		Short: "Undo a soft delete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.RestoreContent(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printContent(c)
			})
		},
	}
}

func contentTranslateCmd() *cobra.Command {
	var locale, title, slug, body string
	var remove bool
	cmd := &cobra.Command{
		Use:   "translate <id>",
		Short: "Create, replace or delete one translation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actorID := viper.GetString("actor-id")
				if remove {
					return e.DeleteTranslation(ctx, args[0], locale, actorID)
				}
				c, err := e.UpsertTranslation(ctx, args[0], locale, engine.TranslationInput{Title: title, Slug: slug, Body: body}, actorID)
				if err != nil {
					return err
				}
				return printContent(c)
			})
		},
	}
	cmd.Flags().StringVar(&locale, "locale", "", "locale")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&slug, "slug", "", "slug")
	cmd.Flags().StringVar(&body, "body", "", "body")
	cmd.Flags().BoolVar(&remove, "delete", false, "delete the translation instead")
	_ = cmd.MarkFlagRequired("locale")
	return cmd
}

func contentTransitionCmd() *cobra.Command {
	var to, at, notes string
	cmd := &cobra.Command{
		Use:   "transition <id>",
		Short: "Move content to another state",
		Long:  "Moves a record along the workflow table. Use 'pl workflow table' to see the allowed targets.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduledAt, err := parseAt(at)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Transition(ctx, engine.TransitionRequest{
					ID:          args[0],
					To:          workflow.State(strings.TrimSpace(to)),
					ScheduledAt: scheduledAt,
					ReviewNotes: optionalString(notes),
					ActorID:     viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printContent(c)
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target state")
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 publication time when scheduling")
	cmd.Flags().StringVar(&notes, "notes", "", "review notes")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

type contentAction struct {
	use   string
	short string
	// flags: "at" and/or "notes"
	flags []string
	run   func(ctx context.Context, a engine.Adapter, id string, at *time.Time, notes *string, actorID string) (domain.Content, error)
}

var contentActions = []contentAction{
	{"publish", "Publish now", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.Publish(ctx, id, actor)
	}},
	{"unpublish", "Return published content to draft", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.Unpublish(ctx, id, actor)
	}},
	{"archive", "Archive", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.Archive(ctx, id, actor)
	}},
	{"unarchive", "Return archived content to draft", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.Unarchive(ctx, id, actor)
	}},
	{"schedule", "Schedule publication", []string{"at"}, func(ctx context.Context, a engine.Adapter, id string, at *time.Time, _ *string, actor string) (domain.Content, error) {
		if at == nil {
			return domain.Content{}, fmt.Errorf("--at is required: %w", workflow.ErrInvalidScheduleTime)
		}
		return a.Schedule(ctx, id, *at, actor)
	}},
	{"cancel-schedule", "Cancel a scheduled publication", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.CancelSchedule(ctx, id, actor)
	}},
	{"submit", "Submit for review", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.SubmitForReview(ctx, id, actor)
	}},
	{"start-review", "Start review", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.StartReview(ctx, id, actor)
	}},
	{"approve", "Approve", []string{"notes"}, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, notes *string, actor string) (domain.Content, error) {
		return a.Approve(ctx, id, notes, actor)
	}},
	{"reject", "Reject", []string{"notes"}, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, notes *string, actor string) (domain.Content, error) {
		return a.Reject(ctx, id, notes, actor)
	}},
	{"return-to-draft", "Return to draft", nil, func(ctx context.Context, a engine.Adapter, id string, _ *time.Time, _ *string, actor string) (domain.Content, error) {
		return a.ReturnToDraft(ctx, id, actor)
	}},
}

func contentActionCmd(action contentAction) *cobra.Command {
	var at, notes string
	cmd := &cobra.Command{
		Use:   action.use + " <id>",
		Short: action.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scheduledAt, err := parseAt(at)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				cur, err := e.GetContent(ctx, args[0])
				if err != nil {
					return err
				}
				c, err := action.run(ctx, e.Adapter(cur.Kind), args[0], scheduledAt, optionalString(notes), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printContent(c)
			})
		},
	}
	for _, f := range action.flags {
		switch f {
		case "at":
			cmd.Flags().StringVar(&at, "at", "", "RFC3339 publication time")
			_ = cmd.MarkFlagRequired("at")
		case "notes":
			cmd.Flags().StringVar(&notes, "notes", "", "review notes")
		}
	}
	return cmd
}

func parseAt(at string) (*time.Time, error) {
	at = strings.TrimSpace(at)
	if at == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return nil, fmt.Errorf("--at: %w", err)
	}
	return &t, nil
}

func printContent(c domain.Content) error {
	if viper.GetBool("json") {
		return printJSON(c)
	}
	fmt.Printf("%s %s [%s] site=%s\n", c.Kind, c.ID, c.State, c.SiteID)
	if c.PublishedAt != nil {
		fmt.Printf("  published_at: %s\n", formatOptionalTime(c.PublishedAt))
	}
	if c.ScheduledAt != nil {
		fmt.Printf("  scheduled_at: %s\n", formatOptionalTime(c.ScheduledAt))
	}
	if c.ArchivedAt != nil {
		fmt.Printf("  archived_at:  %s\n", formatOptionalTime(c.ArchivedAt))
	}
	if c.ReviewNotes != nil {
		fmt.Printf("  review_notes: %s\n", *c.ReviewNotes)
	}
	if len(c.Translations) > 0 {
		tw := newTable()
		tw.AppendHeader(table.Row{"Locale", "Title", "Slug"})
		for _, t := range c.Translations {
			tw.AppendRow(table.Row{t.Locale, t.Title, t.Slug})
		}
		tw.Render()
	}
	return nil
}

func primaryTitle(c domain.Content) string {
	if len(c.Translations) == 0 {
		return ""
	}
	return c.Translations[0].Title
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
