package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/entrypoint"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		Database: config.Database{Path: filepath.Join(dir, "state.db")},
		Library: config.Library{
			Root:            filepath.Join(dir, "library"),
			HashAlgorithm:   entities.HashAlgorithmSHA256,
			DownloadWorkers: 1,
			SkipCovers:      true,
		},
		Storage:  config.Storage{Provider: config.StorageLocal, LocalDir: filepath.Join(dir, "blobs")},
		Metadata: config.Metadata{Provider: config.MetadataMemory},
		Auth:     config.Auth{StaticUser: "u1"},
		Tasks:    config.Tasks{Enabled: true, Workers: 1},
		Log:      config.Log{Level: "warn", Format: "text"},
	}
}

func TestTokenCommand_RequiresUser(t *testing.T) {
	assert.Error(t, NewTokenCommand().ParseFlags(nil))

	cmd := NewTokenCommand()
	require.NoError(t, cmd.ParseFlags([]string{"-user", "u1", "-expiry", "1h"}))
	assert.Equal(t, "u1", cmd.UserID)
	assert.Equal(t, "1h0m0s", cmd.Expiry.String())
}

func TestWithApp_DisablesTasks(t *testing.T) {
	cfg := testConfig(t)
	called := false

	err := withApp(context.Background(), cfg, func(app *entrypoint.App) error {
		called = true
		assert.Nil(t, app.Tasks)
		return nil
	})

	require.NoError(t, err)
	assert.True(t, called)
	assert.False(t, cfg.Tasks.Enabled)
}

func TestWithApp_RequiresIdentity(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.Auth{JWTSecret: "secret"}

	err := withApp(context.Background(), cfg, func(*entrypoint.App) error {
		t.Fatal("must not run without a signed-in user")
		return nil
	})

	assert.ErrorContains(t, err, "not signed in")
}
