package entrypoint

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Global:   config.Global{ShutdownTimeoutInSeconds: 1},
		Database: config.Database{Path: filepath.Join(dir, "state.db")},
		Library: config.Library{
			Root:            filepath.Join(dir, "library"),
			HashAlgorithm:   entities.HashAlgorithmSHA256,
			DownloadWorkers: 2,
			SkipCovers:      true,
		},
		Storage: config.Storage{
			Provider: config.StorageLocal,
			LocalDir: filepath.Join(dir, "blobs"),
		},
		Metadata: config.Metadata{Provider: config.MetadataMemory},
		Auth:     config.Auth{StaticUser: "u1"},
		Log:      config.Log{Level: "info", Format: "text"},
	}
}

func TestBuild_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth.StaticUser = ""

	_, err := Build(context.Background(), cfg)

	assert.ErrorContains(t, err, "invalid configuration")
}

func TestBuild_UploadsThroughLocalProvider(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	app, err := Build(ctx, cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.Nil(t, app.Tasks)
	assert.Nil(t, app.Sessions)

	_, err = app.Library.WriteAtomic(ctx, "u1", "novel.epub", bytes.NewBufferString("novel content"))
	require.NoError(t, err)

	res, err := app.Transfers.Upload(ctx, transfer.UploadRequest{Filepath: "novel.epub"})
	require.NoError(t, err)
	assert.Equal(t, "books/u1/novel.epub", res.BlobPath)

	data, err := os.ReadFile(filepath.Join(cfg.Storage.LocalDir, "books", "u1", "novel.epub"))
	require.NoError(t, err)
	assert.Equal(t, "novel content", string(data))

	rec, err := app.Files.Get(ctx, "novel.epub")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.True(t, rec.IsFileUploaded)
}

func TestBuild_WithTasks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Tasks = config.Tasks{Enabled: true, Workers: 1, ReleaseAfter: time.Minute, CleanupInterval: time.Hour}
	cfg.Scheduler = config.Scheduler{ReplaySchedule: "*/15 * * * *"}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	assert.NotNil(t, app.Tasks)
	assert.NotNil(t, app.Scheduler)
	_, err = os.Stat(filepath.Join(filepath.Dir(cfg.Database.Path), "state-tasks.db"))
	assert.NoError(t, err)
}

func TestBuild_JWTIdentity(t *testing.T) {
	cfg := testConfig(t)
	cfg.Auth = config.Auth{JWTSecret: "secret"}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.Sessions)
	_, ok := app.Identity.CurrentUserID()
	assert.False(t, ok)
}

func TestBuild_RestoresSessionToken(t *testing.T) {
	token, err := identity.GenerateToken("u7", []byte("secret"), time.Hour, time.Now())
	require.NoError(t, err)

	cfg := testConfig(t)
	cfg.Auth = config.Auth{JWTSecret: "secret", SessionToken: token}

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Close()

	userID, ok := app.Identity.CurrentUserID()
	assert.True(t, ok)
	assert.Equal(t, "u7", userID)
}

func TestNewRouter_ServesHealth(t *testing.T) {
	app, err := Build(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer app.Close()

	router := NewRouter(app, "test")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database": "ok"`)
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	defer log.SetFormatter(log.StandardLogger().Formatter)

	require.NoError(t, ConfigureLogging(config.Log{Level: "debug", Format: "json"}))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	assert.Error(t, ConfigureLogging(config.Log{Level: "loud", Format: "text"}))
	assert.Error(t, ConfigureLogging(config.Log{Level: "info", Format: "xml"}))
}

type fakeWatcher struct {
	starts, stops int
}

func (f *fakeWatcher) Start() error { f.starts++; return nil }
func (f *fakeWatcher) Stop()        { f.stops++ }

func TestSession_BindsWatcher(t *testing.T) {
	clock := clockwork.NewFakeClock()
	secret := []byte("secret")
	watcher := &fakeWatcher{}
	signIns := 0
	session := NewSession(identity.NewJWTProvider(secret, clock), watcher, func(context.Context) { signIns++ })

	_, err := session.SignIn("not-a-token")
	require.Error(t, err)
	assert.Equal(t, 0, watcher.starts)

	token, err := identity.GenerateToken("u1", secret, time.Hour, clock.Now())
	require.NoError(t, err)
	userID, err := session.SignIn(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", userID)
	assert.Equal(t, 1, watcher.starts)
	assert.Equal(t, 1, signIns)

	session.SignOut()
	assert.Equal(t, 2, watcher.stops)
	_, ok := session.CurrentUserID()
	assert.False(t, ok)
}
