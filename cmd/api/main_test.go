package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/MediSynth-io/messagely/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeAPI(t *testing.T) {
	// Create a temporary directory for the config file and database
	dir := t.TempDir()
	configPath := filepath.Join(dir, "app.yml")

	configContent := []byte(`
apiPort: 8080
database:
  type: sqlite
  path: ` + filepath.Join(dir, "messagely.db") + `
  maxRetries: 1
auth:
  secretKey: main-test-secret
  bcryptCost: 4
`)
	require.NoError(t, os.WriteFile(configPath, configContent, 0644))

	cfg, err := config.LoadConfig(configPath)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, db, err := initializeAPI(context.Background(), cfg, logger)
	require.NoError(t, err)
	require.NotNil(t, a)
	defer db.Close()

	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/heartbeat", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	a.Router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestInitializeAPIBadDatabase(t *testing.T) {
	cfg := &config.Config{
		APIPort: 8080,
		Database: config.DatabaseConfig{
			Type:       "mysql",
			MaxRetries: 1,
		},
		Auth: config.AuthConfig{SecretKey: "x", BcryptCost: 4},
	}

	a, db, err := initializeAPI(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
	assert.Nil(t, a)
	assert.Nil(t, db)
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	assert.True(t, newLogger("debug").Enabled(ctx, slog.LevelDebug))
	assert.False(t, newLogger("warn").Enabled(ctx, slog.LevelInfo))
	assert.True(t, newLogger("warn").Enabled(ctx, slog.LevelWarn))

	// Unknown levels fall back to info
	assert.False(t, newLogger("chatty").Enabled(ctx, slog.LevelDebug))
	assert.True(t, newLogger("chatty").Enabled(ctx, slog.LevelInfo))
}

func TestLoadConfigFromConfigDir(t *testing.T) {
	dir := t.TempDir()
	content := []byte("auth:\n  secretKey: dir-secret\ndatabase:\n  path: " + filepath.Join(dir, "m.db") + "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.yml"), content, 0644))
	t.Setenv("CONFIG_DIR", dir)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "dir-secret", cfg.Auth.SecretKey)
	assert.Equal(t, 8081, cfg.APIPort)
}
