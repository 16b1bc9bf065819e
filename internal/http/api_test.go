package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"

	"github.com/miroshar-success/book-adapter-epub/internal/database"
	"github.com/miroshar-success/book-adapter-epub/internal/database/localfiles"
	syncrepo "github.com/miroshar-success/book-adapter-epub/internal/database/sync"
	"github.com/miroshar-success/book-adapter-epub/internal/database/uploadqueue"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/epub"
	"github.com/miroshar-success/book-adapter-epub/internal/hasher"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/libraryfs"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/reconcile"
	"github.com/miroshar-success/book-adapter-epub/internal/storage/providers/localfs"
	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

const apiUser = "u1"

type apiFixture struct {
	t        *testing.T
	router   *gin.Engine
	db       *database.Database
	files    *localfiles.Repository
	queue    *uploadqueue.Repository
	progress *syncrepo.Repository
	library  *libraryfs.Library
	sessions *identity.JWTProvider
	secret   []byte
	clock    *clockwork.FakeClock
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewDatabaseWithOptions(filepath.Join(t.TempDir(), "api.db"), database.Options{LogLevel: logger.Silent})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	f := &apiFixture{
		t:        t,
		db:       db,
		files:    localfiles.NewRepository(db.DB),
		queue:    uploadqueue.NewRepository(db.DB),
		progress: syncrepo.NewRepository(db.DB, entities.SyncTypeUploadReplay),
		library:  libraryfs.New(afero.NewMemMapFs(), "/library"),
		secret:   []byte("api-secret"),
		clock:    clockwork.NewFakeClock(),
	}
	f.sessions = identity.NewJWTProvider(f.secret, f.clock)

	hs, err := hasher.New(entities.HashAlgorithmSHA256)
	require.NoError(t, err)

	orch := transfer.New(transfer.Deps{
		Files:    f.files,
		Queue:    f.queue,
		Metadata: metastore.NewMemoryStore(f.clock),
		Blobs:    localfs.New(afero.NewMemMapFs(), ""),
		Identity: f.sessions,
		FS:       f.library,
		Hasher:   hs,
		Covers: func(afero.Fs, string) (*epub.Cover, error) {
			return nil, epub.ErrNoImages
		},
	}, transfer.Options{DownloadWorkers: 2, Clock: f.clock})

	rec := reconcile.New(reconcile.Deps{
		Files:    f.files,
		Queue:    f.queue,
		FS:       f.library,
		Identity: f.sessions,
		Hasher:   hs,
	})

	f.router = NewRouter(RouterConfig{
		Transfers:  orch,
		Reconciler: rec,
		Files:      f.files,
		Queue:      f.queue,
		Database:   db,
		Sessions:   f.sessions,
		Progress: map[entities.SyncType]ProgressReader{
			entities.SyncTypeUploadReplay: f.progress,
		},
		Version: "test",
	})
	return f
}

func (f *apiFixture) signIn() {
	f.t.Helper()
	token, err := identity.GenerateToken(apiUser, f.secret, time.Hour, f.clock.Now())
	require.NoError(f.t, err)
	w := f.do("POST", "/api/session", gin.H{"token": token})
	require.Equal(f.t, http.StatusOK, w.Code, w.Body.String())
}

func (f *apiFixture) writeBook(name, content string) {
	f.t.Helper()
	_, err := f.library.WriteAtomic(context.Background(), apiUser, name, bytes.NewBufferString(content))
	require.NoError(f.t, err)
}

func jsonBody(t *testing.T, body any) *bytes.Reader {
	t.Helper()
	if body == nil {
		return bytes.NewReader(nil)
	}
	data, err := json.Marshal(body)
	require.NoError(t, err)
	return bytes.NewReader(data)
}

func (f *apiFixture) do(method, path string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	req := httptest.NewRequest(method, path, jsonBody(f.t, body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (f *apiFixture) upload(name string) UploadResponse {
	f.t.Helper()
	w := f.do("POST", "/api/uploads", gin.H{"filepath": name})
	require.Equal(f.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[UploadResponse](f.t, w)
}

func TestSession(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("GET", "/api/session", nil)
	assert.False(t, decode[SessionResponse](t, w).SignedIn)

	w = f.do("POST", "/api/session", gin.H{"token": "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = f.do("POST", "/api/session", gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.signIn()
	w = f.do("GET", "/api/session", nil)
	assert.Equal(t, SessionResponse{SignedIn: true, UserID: apiUser}, decode[SessionResponse](t, w))

	w = f.do("DELETE", "/api/session", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, decode[SessionResponse](t, f.do("GET", "/api/session", nil)).SignedIn)
}

func TestUpload_RequiresSession(t *testing.T) {
	f := newAPIFixture(t)
	f.writeBook("novel.epub", "content")

	w := f.do("POST", "/api/uploads", gin.H{"filepath": "novel.epub"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not_authenticated", decode[ErrorResponse](t, w).Code)
}

func TestUpload_MissingFilepath(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()

	w := f.do("POST", "/api/uploads", gin.H{"title": "No path"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpload_Created(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	f.writeBook("novel.epub", "novel content")

	res := f.upload("novel.epub")

	assert.Equal(t, "novel.epub", res.Filepath)
	assert.NotEmpty(t, res.DocumentID)
	assert.Equal(t, "books/u1/novel.epub", res.BlobPath)
	assert.NotEmpty(t, res.CoverError)

	files := decode[struct {
		Files []FileResponse `json:"files"`
		Total int            `json:"total"`
	}](t, f.do("GET", "/api/files", nil))
	require.Equal(t, 1, files.Total)
	assert.True(t, files.Files[0].IsDocumentUploaded)
	assert.True(t, files.Files[0].IsFileUploaded)
	assert.Contains(t, files.Files[0].ContentHash, "sha256:")

	one := decode[FileResponse](t, f.do("GET", "/api/files/novel.epub", nil))
	assert.Equal(t, "novel.epub", one.Filepath)

	status := decode[StatusResponse](t, f.do("GET", "/api/status", nil))
	assert.Equal(t, 1, status.TrackedFiles)
	assert.Equal(t, 1, status.Uploaded)
	assert.Equal(t, int64(0), status.PendingUploads)
}

func TestUpload_DuplicateIsConflict(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	f.writeBook("novel.epub", "novel content")
	first := f.upload("novel.epub")

	w := f.do("POST", "/api/uploads", gin.H{"filepath": "novel.epub"})

	assert.Equal(t, http.StatusConflict, w.Code)
	resp := decode[ErrorResponse](t, w)
	assert.Equal(t, "duplicate_content", resp.Code)
	assert.Equal(t, map[string]any{"document_id": first.DocumentID}, resp.Details)
}

func TestUpload_MissingFileIsServerError(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()

	w := f.do("POST", "/api/uploads", gin.H{"filepath": "ghost.epub"})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "filesystem_error", decode[ErrorResponse](t, w).Code)
}

func TestResume_NotQueued(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()

	w := f.do("POST", "/api/uploads/resume", gin.H{"filepath": "novel.epub"})

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_queued", decode[ErrorResponse](t, w).Code)
}

func TestReplayAndCancel(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	require.NoError(t, f.queue.Enqueue(context.Background(), entities.UploadQueueEntry{
		Filepath: "gone.epub",
		OwnerID:  apiUser,
		Title:    "Gone",
		ContentHash: entities.FileHash{
			Algorithm: entities.HashAlgorithmSHA256,
			Digest:    []byte{1, 2, 3},
		},
	}))

	pending := decode[struct {
		Uploads []PendingUpload `json:"uploads"`
	}](t, f.do("GET", "/api/uploads", nil))
	require.Len(t, pending.Uploads, 1)
	assert.Equal(t, "gone.epub", pending.Uploads[0].Filepath)

	w := f.do("POST", "/api/uploads/replay", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	replay := decode[struct {
		Outcomes []ResumeOutcomeResponse `json:"outcomes"`
		Failed   int                     `json:"failed"`
	}](t, w)
	assert.Equal(t, 1, replay.Failed)
	require.Len(t, replay.Outcomes, 1)
	assert.NotEmpty(t, replay.Outcomes[0].Error)

	w = f.do("POST", "/api/uploads/cancel", gin.H{"filepath": "gone.epub"})
	assert.Equal(t, http.StatusOK, w.Code)

	status := decode[StatusResponse](t, f.do("GET", "/api/status", nil))
	assert.Equal(t, int64(0), status.PendingUploads)
}

func TestDownloadBook_Wait(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	f.writeBook("novel.epub", "novel content")
	res := f.upload("novel.epub")
	require.NoError(t, f.library.Remove(apiUser, "novel.epub"))

	w := f.do("POST", "/api/books/"+res.DocumentID+"/download?wait=true", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	dl := decode[DownloadResponse](t, w)
	assert.Equal(t, int64(len("novel content")), dl.Bytes)
	assert.Equal(t, "novel.epub", dl.LocalPath)

	local, err := f.library.Open(apiUser, "novel.epub")
	require.NoError(t, err)
	defer local.Close()
	data, err := io.ReadAll(local)
	require.NoError(t, err)
	assert.Equal(t, "novel content", string(data))

	one := decode[FileResponse](t, f.do("GET", "/api/files/novel.epub", nil))
	assert.True(t, one.IsDownloaded)
}

func TestDownloadBook_Accepted(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	f.writeBook("novel.epub", "novel content")
	res := f.upload("novel.epub")

	w := f.do("POST", "/api/books/"+res.DocumentID+"/download", nil)

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Eventually(t, func() bool {
		rec, err := f.files.Get(context.Background(), "novel.epub")
		return err == nil && rec != nil && rec.IsDownloaded
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDownloadBook_Unknown(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()

	w := f.do("POST", "/api/books/missing/download", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDownloadMany(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	f.writeBook("novel.epub", "novel content")
	f.upload("novel.epub")

	w := f.do("POST", "/api/downloads", gin.H{"items": []gin.H{
		{"remote_path": "books/u1/novel.epub", "local_path": "copies/novel.epub"},
		{"remote_path": "books/u1/missing.epub", "local_path": "copies/missing.epub"},
	}})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	batch := decode[struct {
		Downloaded []DownloadResponse        `json:"downloaded"`
		Failures   []downloadFailureResponse `json:"failures"`
	}](t, w)
	require.Len(t, batch.Downloaded, 1)
	assert.Equal(t, "copies/novel.epub", batch.Downloaded[0].LocalPath)
	require.Len(t, batch.Failures, 1)
	assert.Equal(t, "books/u1/missing.epub", batch.Failures[0].RemotePath)

	w = f.do("POST", "/api/downloads", gin.H{"items": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDownloadURL(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()

	w := f.do("GET", "/api/download-url?filename=novel.epub", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "file:///books/u1/novel.epub", decode[map[string]string](t, w)["url"])

	w = f.do("GET", "/api/download-url", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeleteBook(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	f.writeBook("novel.epub", "novel content")
	res := f.upload("novel.epub")

	w := f.do("DELETE", "/api/books/"+res.DocumentID, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do("POST", "/api/books/"+res.DocumentID+"/download", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do("DELETE", "/api/books/"+res.DocumentID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReconcileLibrary(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()
	f.writeBook("shelf/found.epub", "found")

	w := f.do("POST", "/api/library/reconcile", nil)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode[ReconcileResponse](t, w)
	assert.Equal(t, []string{"shelf/found.epub"}, report.Discovered)
	assert.Empty(t, report.Cleared)

	w = f.do("POST", "/api/library/collect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[map[string][]string](t, w)["collected"])
}

func TestStatus_IncludesSyncProgress(t *testing.T) {
	f := newAPIFixture(t)
	f.signIn()

	status := decode[StatusResponse](t, f.do("GET", "/api/status", nil))
	assert.Empty(t, status.Syncs)

	ctx := context.Background()
	require.NoError(t, f.progress.StartSync(ctx, 3))
	require.NoError(t, f.progress.CompleteSync(ctx, true, ""))

	status = decode[StatusResponse](t, f.do("GET", "/api/status", nil))
	require.Contains(t, status.Syncs, entities.SyncTypeUploadReplay)
	assert.Equal(t, entities.SyncStatusCompleted, status.Syncs[entities.SyncTypeUploadReplay].Status)
}

func TestHealthRoute(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do("GET", "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "signed out", decode[HealthResponse](t, w).Checks["session"])
}
