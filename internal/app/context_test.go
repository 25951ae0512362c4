package app

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressline/internal/config"
	"pressline/internal/repo"
)

func TestOpenUsesWorkspaceDefaults(t *testing.T) {
	ws := t.TempDir()
	e, conn, err := Open(ws, nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "sqlite", e.Config.Database.Driver)
	assert.NotNil(t, e.Sink)
	_, err = os.Stat(ws + "/.pressline/pressline.db")
	assert.NoError(t, err)
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(ws), []byte("database:\n  driver: mysql\n"), 0o644))
	_, _, err := Open(ws, nil)
	assert.Error(t, err)
}

func TestResolveSite(t *testing.T) {
	ctx := context.Background()
	e, conn, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = ResolveSite(ctx, e, "", "alice", false)
	assert.ErrorContains(t, err, "no site exists")

	_, err = ResolveSite(ctx, e, "acme", "alice", false)
	assert.True(t, errors.Is(err, repo.ErrNotFound))

	id, err := ResolveSite(ctx, e, "acme", "alice", true)
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	id, err = ResolveSite(ctx, e, "", "alice", false)
	require.NoError(t, err)
	assert.Equal(t, "acme", id)

	_, err = e.CreateSite(ctx, "globex", "Globex", "alice")
	require.NoError(t, err)
	_, err = ResolveSite(ctx, e, "", "alice", false)
	assert.ErrorContains(t, err, "multiple sites")
}
