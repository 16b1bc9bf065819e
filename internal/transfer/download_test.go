package transfer

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
)

func (h *harness) putBlob(path, content string) {
	h.t.Helper()
	_, err := h.blobs.BlobStore.Put(context.Background(), path, strings.NewReader(content), int64(len(content)), "")
	require.NoError(h.t, err)
}

func TestDownload_UpdatesStateWithoutWaiting(t *testing.T) {
	h := newHarness(t)
	h.putBlob("books/u1/novel.epub", "remote content")

	var calls atomic.Int32
	h.orch.OnDownloadComplete(func(res DownloadResult) {
		calls.Add(1)
	})

	handle := h.orch.Download(context.Background(), "books/u1/novel.epub", "novel.epub")

	// Nobody waits on the handle; the state still gets updated.
	require.Eventually(t, func() bool {
		rec, err := h.files.Get(context.Background(), "novel.epub")
		return err == nil && rec != nil && rec.IsDownloaded
	}, 2*time.Second, 10*time.Millisecond)

	<-handle.Done()
	require.NoError(t, handle.Err())
	assert.Equal(t, int32(1), calls.Load())

	res := handle.Result()
	assert.Equal(t, int64(len("remote content")), res.Bytes)
	assert.Equal(t, "novel.epub", res.LocalPath)

	data := h.localFile("novel.epub")
	assert.Equal(t, "remote content", string(data))

	rec := h.record("novel.epub")
	assert.True(t, rec.ContentHash.Equal(res.Hash))
	assert.False(t, rec.IsFileUploaded)
}

func TestDownload_KeepsUploadFlags(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.writeBook("novel.epub", []byte("content"))
	_, err := h.orch.Upload(ctx, UploadRequest{Filepath: "novel.epub"})
	require.NoError(t, err)
	before := h.record("novel.epub")

	require.NoError(t, h.library.Remove(testUser, "novel.epub"))
	handle := h.orch.Download(ctx, "books/u1/novel.epub", "novel.epub")
	require.NoError(t, handle.Wait(ctx))

	rec := h.record("novel.epub")
	assert.True(t, rec.IsDownloaded)
	assert.True(t, rec.IsDocumentUploaded)
	assert.True(t, rec.IsFileUploaded)
	assert.True(t, rec.ContentHash.Equal(before.ContentHash))
}

func TestDownload_MissingBlob(t *testing.T) {
	h := newHarness(t)
	var calls atomic.Int32
	h.orch.OnDownloadComplete(func(DownloadResult) { calls.Add(1) })

	handle := h.orch.Download(context.Background(), "books/u1/ghost.epub", "ghost.epub")
	err := handle.Wait(context.Background())

	var te *syncerr.TransferError
	require.ErrorAs(t, err, &te)
	assert.Zero(t, calls.Load())
	assert.Nil(t, h.record("ghost.epub"))

	exists, err := h.library.Exists(testUser, "ghost.epub")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestDownload_NotAuthenticated(t *testing.T) {
	h := newHarness(t)
	h.identity = identity.Static("")
	h.restart()

	handle := h.orch.Download(context.Background(), "books/u1/novel.epub", "novel.epub")
	select {
	case <-handle.Done():
	default:
		t.Fatal("unauthenticated download must finish immediately")
	}
	var na *syncerr.NotAuthenticatedError
	assert.ErrorAs(t, handle.Err(), &na)
}

// stallingReader yields one chunk and then blocks until ctx ends.
type stallingReader struct {
	ctx     context.Context
	started chan struct{}
	sent    bool
}

func (r *stallingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		close(r.started)
		return copy(p, "partial"), nil
	}
	<-r.ctx.Done()
	return 0, r.ctx.Err()
}

func (r *stallingReader) Close() error { return nil }

func TestDownload_CancelLeavesDestinationUntouched(t *testing.T) {
	h := newHarness(t)
	h.writeBook("novel.epub", []byte("old local copy"))

	started := make(chan struct{})
	h.blobs.openFn = func(ctx context.Context, path string) (io.ReadCloser, error) {
		return &stallingReader{ctx: ctx, started: started}, nil
	}

	handle := h.orch.Download(context.Background(), "books/u1/novel.epub", "novel.epub")
	<-started
	handle.Cancel()

	err := handle.Wait(context.Background())
	require.ErrorIs(t, err, context.Canceled)

	data := h.localFile("novel.epub")
	assert.Equal(t, "old local copy", string(data))

	userFS, err := h.library.ForUser(testUser)
	require.NoError(t, err)
	entries, err := afero.ReadDir(userFS, "/")
	require.NoError(t, err)
	require.Len(t, entries, 1, "no partial file left behind")
	assert.Equal(t, "novel.epub", entries[0].Name())

	assert.Nil(t, h.record("novel.epub"))
}

func TestDownload_OutlivesCallerContext(t *testing.T) {
	h := newHarness(t)

	release := make(chan struct{})
	h.blobs.openFn = func(ctx context.Context, path string) (io.ReadCloser, error) {
		<-release
		return io.NopCloser(strings.NewReader("late bytes")), nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	handle := h.orch.Download(ctx, "books/u1/novel.epub", "novel.epub")
	cancel()

	waitCtx, stop := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer stop()
	assert.ErrorIs(t, handle.Wait(waitCtx), context.DeadlineExceeded)

	close(release)
	require.NoError(t, handle.Wait(context.Background()))
	assert.True(t, h.record("novel.epub").IsDownloaded)
}

func TestDownloadBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.putBlob("books/u1/dune.epub", "spice")
	fields, err := entities.BookDocument{
		ID:       "doc-1",
		OwnerID:  testUser,
		Title:    "Dune",
		Path:     "sci-fi/dune.epub",
		BlobPath: "books/u1/dune.epub",
	}.Fields()
	require.NoError(t, err)
	require.NoError(t, h.meta.Write(ctx, entities.CollectionBooks, "doc-1", metastore.Document{OwnerID: testUser, Data: fields}))

	handle, err := h.orch.DownloadBook(ctx, "doc-1")
	require.NoError(t, err)
	require.NoError(t, handle.Wait(ctx))

	data := h.localFile("sci-fi/dune.epub")
	assert.Equal(t, "spice", string(data))

	_, err = h.orch.DownloadBook(ctx, "doc-missing")
	assert.ErrorIs(t, err, metastore.ErrNotFound)
}

func TestDownloadMany_IsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.putBlob("books/u1/a.epub", "aaa")
	h.putBlob("books/u1/c.epub", "ccc")

	var calls atomic.Int32
	h.orch.OnDownloadComplete(func(DownloadResult) { calls.Add(1) })

	out := h.orch.DownloadMany(context.Background(), []DownloadRequest{
		{RemotePath: "books/u1/a.epub", LocalPath: "a.epub"},
		{RemotePath: "books/u1/b.epub", LocalPath: "b.epub"},
		{RemotePath: "books/u1/c.epub", LocalPath: "c.epub"},
	})

	require.Len(t, out.Downloaded, 2)
	assert.Equal(t, "a.epub", out.Downloaded[0].LocalPath)
	assert.Equal(t, "c.epub", out.Downloaded[1].LocalPath)
	require.Len(t, out.Failures, 1)
	assert.Equal(t, "b.epub", out.Failures[0].Request.LocalPath)
	assert.True(t, syncerr.IsRetryable(out.Failures[0].Err))
	assert.Equal(t, int32(2), calls.Load())

	assert.True(t, h.record("a.epub").IsDownloaded)
	assert.True(t, h.record("c.epub").IsDownloaded)
	assert.Nil(t, h.record("b.epub"))
}

func TestDeleteBook(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.writeBook("novel.epub", []byte("content"))
	res, err := h.orch.Upload(ctx, UploadRequest{Filepath: "novel.epub"})
	require.NoError(t, err)

	require.NoError(t, h.orch.DeleteBook(ctx, res.DocumentID))

	docs := h.books()
	require.Len(t, docs, 1)
	assert.True(t, docs[0].Deleted)

	exists, err := h.blobs.Exists(ctx, res.BlobPath)
	require.NoError(t, err)
	assert.False(t, exists)

	assert.ErrorIs(t, h.orch.DeleteBook(ctx, "missing"), metastore.ErrNotFound)
}
