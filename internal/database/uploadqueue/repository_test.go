package uploadqueue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
)

func setupTestDB(t *testing.T) *Repository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "queue.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.UploadQueueEntry{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return NewRepository(db)
}

func newEntry(fp string) entities.UploadQueueEntry {
	return entities.UploadQueueEntry{
		Filepath:    fp,
		ContentHash: entities.FileHash{Algorithm: entities.HashAlgorithmSHA256, Digest: []byte{1, 2, 3}},
		OwnerID:     "user-1",
		Title:       "Novel",
		Size:        2048,
	}
}

func TestRepository_EnqueueAndGet(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, newEntry("novel.epub")))

	entry, err := repo.Get(ctx, "novel.epub")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "Novel", entry.Title)
	assert.Equal(t, int64(2048), entry.Size)
	assert.False(t, entry.IsDocumentUploaded)
	assert.False(t, entry.IsFileUploaded)

	missing, err := repo.Get(ctx, "other.epub")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_EnqueueEmptyPath(t *testing.T) {
	repo := setupTestDB(t)
	assert.Error(t, repo.Enqueue(context.Background(), entities.UploadQueueEntry{}))
}

func TestRepository_PhaseFlagsAreIndependent(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, newEntry("novel.epub")))

	require.NoError(t, repo.MarkDocumentUploaded(ctx, "novel.epub", "doc-1"))
	entry, err := repo.Get(ctx, "novel.epub")
	require.NoError(t, err)
	assert.True(t, entry.IsDocumentUploaded)
	assert.False(t, entry.IsFileUploaded)
	assert.Equal(t, "doc-1", entry.DocumentID)
	assert.False(t, entry.Complete())

	require.NoError(t, repo.MarkFileUploaded(ctx, "novel.epub"))
	entry, err = repo.Get(ctx, "novel.epub")
	require.NoError(t, err)
	assert.True(t, entry.IsDocumentUploaded)
	assert.True(t, entry.IsFileUploaded)
	assert.True(t, entry.Complete())
}

func TestRepository_MarkMissingIsNoop(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, repo.MarkFileUploaded(ctx, "ghost.epub"))
	entry, err := repo.Get(ctx, "ghost.epub")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRepository_RecordFailure(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, newEntry("novel.epub")))

	require.NoError(t, repo.RecordFailure(ctx, "novel.epub", errors.New("network down")))
	require.NoError(t, repo.RecordFailure(ctx, "novel.epub", errors.New("timeout")))

	entry, err := repo.Get(ctx, "novel.epub")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Attempts)
	assert.Equal(t, "timeout", entry.LastError)

	// Re-enqueueing starts the bookkeeping over.
	require.NoError(t, repo.Enqueue(ctx, newEntry("novel.epub")))
	entry, err = repo.Get(ctx, "novel.epub")
	require.NoError(t, err)
	assert.Equal(t, 0, entry.Attempts)
	assert.Empty(t, entry.LastError)
}

func TestRepository_DequeueIfComplete(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, newEntry("novel.epub")))
	require.NoError(t, repo.MarkDocumentUploaded(ctx, "novel.epub", "doc-1"))

	removed, err := repo.DequeueIfComplete(ctx, "novel.epub")
	require.NoError(t, err)
	assert.False(t, removed, "blob phase still outstanding")

	require.NoError(t, repo.MarkFileUploaded(ctx, "novel.epub"))
	removed, err = repo.DequeueIfComplete(ctx, "novel.epub")
	require.NoError(t, err)
	assert.True(t, removed)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRepository_DequeueIsIdempotent(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, repo.Enqueue(ctx, newEntry("novel.epub")))

	require.NoError(t, repo.Dequeue(ctx, "novel.epub"))
	require.NoError(t, repo.Dequeue(ctx, "novel.epub"))

	entry, err := repo.Get(ctx, "novel.epub")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRepository_ListPendingOldestFirst(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, fp := range []string{"c.epub", "a.epub", "b.epub"} {
		e := newEntry(fp)
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, repo.Enqueue(ctx, e))
	}

	pending, err := repo.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, "c.epub", pending[0].Filepath)
	assert.Equal(t, "a.epub", pending[1].Filepath)
	assert.Equal(t, "b.epub", pending[2].Filepath)
}
