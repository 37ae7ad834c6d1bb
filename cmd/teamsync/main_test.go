package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"teamsync/internal/auth"
	"teamsync/internal/config"
	"teamsync/internal/models"
	"teamsync/internal/storage/sqlite"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l, err := newLogger(&buf, config.LogConfig{Level: "warn", Format: "json"})
	require.NoError(t, err)
	l.Info("hidden")
	l.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	_, err = newLogger(io.Discard, config.LogConfig{Level: "loud", Format: "text"})
	assert.Error(t, err)
	_, err = newLogger(io.Discard, config.LogConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}

func TestEnsureAdmin(t *testing.T) {
	logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "cli.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	hasher := auth.NewPasswordHasher(bcrypt.MinCost)

	require.NoError(t, ensureAdmin(ctx, store, hasher, config.BootstrapAdmin{}))
	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Empty(t, users)

	boot := config.BootstrapAdmin{Email: "ops@example.com", Password: "s3cret-pass"}
	require.NoError(t, ensureAdmin(ctx, store, hasher, boot))
	admin, err := store.GetUserByEmail(ctx, "ops@example.com")
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())
	assert.Equal(t, "Administrator", admin.Name)
	assert.True(t, hasher.Verify("s3cret-pass", admin.PasswordHash))

	// Idempotent on restart.
	require.NoError(t, ensureAdmin(ctx, store, hasher, boot))
	users, err = store.ListUsers(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	regular, err := store.CreateUser(ctx, models.User{Name: "Dana", Email: "dana@example.com"})
	require.NoError(t, err)
	require.NoError(t, ensureAdmin(ctx, store, hasher, config.BootstrapAdmin{Email: "dana@example.com", Password: "unused-pass"}))
	promoted, err := store.GetUser(ctx, regular.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, promoted.Role)
	assert.Empty(t, promoted.PasswordHash)
}
