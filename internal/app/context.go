package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"pressline/internal/config"
	"pressline/internal/db"
	"pressline/internal/engine"
	"pressline/internal/logging"
	"pressline/internal/migrate"
	"pressline/internal/notify"
	"pressline/internal/repo"
)

// Open loads the workspace config, opens and migrates the database and
// returns an engine wired with a logging sink. Callers close the returned DB.
func Open(workspace string, logger *zap.Logger) (engine.Engine, *sql.DB, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	dbCfg := db.Config{Workspace: workspace, Driver: cfg.Database.Driver, DSN: cfg.Database.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn, dbCfg.Dialect()); err != nil {
		conn.Close()
		return engine.Engine{}, nil, fmt.Errorf("migrate: %w", err)
	}
	logger = logging.OrNop(logger)
	e := engine.New(conn, cfg)
	e.Logger = logger
	e.Sink = notify.Logger{Log: logger.Named("notify")}
	return e, conn, nil
}

// ResolveSite picks the active site: the override first, then the single
// site in the database. When create is set, a missing override site is
// created on the fly.
func ResolveSite(ctx context.Context, e engine.Engine, override, actorID string, create bool) (string, error) {
	siteID := strings.TrimSpace(override)
	if siteID == "" {
		s, err := e.Repo.SingleSite(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("no site exists; create one with pl site create or pass --site")
			}
			return "", err
		}
		return s.ID, nil
	}
	if create {
		if _, err := e.EnsureSite(ctx, siteID, actorID); err != nil {
			return "", err
		}
		return siteID, nil
	}
	if _, err := e.Repo.GetSite(ctx, siteID); err != nil {
		return "", err
	}
	return siteID, nil
}
