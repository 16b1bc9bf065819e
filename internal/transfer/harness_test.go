package transfer

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/miroshar-success/book-adapter-epub/internal/database/localfiles"
	"github.com/miroshar-success/book-adapter-epub/internal/database/uploadqueue"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/epub"
	"github.com/miroshar-success/book-adapter-epub/internal/hasher"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/libraryfs"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/storage"
	"github.com/miroshar-success/book-adapter-epub/internal/storage/providers/localfs"
)

const testUser = "u1"

// countingMeta counts metadata writes and can fail them.
type countingMeta struct {
	metastore.Store
	writes   atomic.Int32
	failNext atomic.Pointer[error]
}

func (c *countingMeta) Write(ctx context.Context, collection, id string, doc metastore.Document) error {
	if errp := c.failNext.Swap(nil); errp != nil {
		return *errp
	}
	c.writes.Add(1)
	return c.Store.Write(ctx, collection, id, doc)
}

func (c *countingMeta) failOnce(err error) {
	c.failNext.Store(&err)
}

// flakyBlobs wraps a blob store with injectable failures.
type flakyBlobs struct {
	storage.BlobStore
	mu     sync.Mutex
	putErr error
	puts   int
	openFn func(ctx context.Context, path string) (io.ReadCloser, error)
}

func (f *flakyBlobs) Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	f.mu.Lock()
	err := f.putErr
	f.puts++
	f.mu.Unlock()
	if err != nil {
		return "", err
	}
	return f.BlobStore.Put(ctx, path, r, size, contentType)
}

func (f *flakyBlobs) setPutErr(err error) {
	f.mu.Lock()
	f.putErr = err
	f.mu.Unlock()
}

func (f *flakyBlobs) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	f.mu.Lock()
	fn := f.openFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, path)
	}
	return f.BlobStore.Open(ctx, path)
}

type harness struct {
	t        *testing.T
	dbPath   string
	db       *gorm.DB
	files    *localfiles.Repository
	queue    *uploadqueue.Repository
	meta     *countingMeta
	blobs    *flakyBlobs
	library  *libraryfs.Library
	rootFS   afero.Fs
	identity identity.Static
	covers   CoverExtractor
	orch     *Orchestrator
}

func openDB(t *testing.T, path string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&entities.LocalFileRecord{}, &entities.UploadQueueEntry{}))
	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		sqlDB.Close()
	})
	return db
}

func noCover(afero.Fs, string) (*epub.Cover, error) {
	return nil, epub.ErrNoImages
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		dbPath:   filepath.Join(t.TempDir(), "state.db"),
		meta:     &countingMeta{Store: metastore.NewMemoryStore(clockwork.NewFakeClock())},
		blobs:    &flakyBlobs{BlobStore: localfs.New(afero.NewMemMapFs(), "")},
		rootFS:   afero.NewMemMapFs(),
		identity: identity.Static(testUser),
		covers:   noCover,
	}
	h.library = libraryfs.New(h.rootFS, "/library")
	h.restart()
	return h
}

// restart simulates a process restart: fresh repositories and a fresh
// orchestrator over the same durable state.
func (h *harness) restart() {
	h.db = openDB(h.t, h.dbPath)
	h.files = localfiles.NewRepository(h.db)
	h.queue = uploadqueue.NewRepository(h.db)

	hs, err := hasher.New(entities.HashAlgorithmSHA256)
	require.NoError(h.t, err)

	h.orch = New(Deps{
		Files:    h.files,
		Queue:    h.queue,
		Metadata: h.meta,
		Blobs:    h.blobs,
		Identity: h.identity,
		FS:       h.library,
		Hasher:   hs,
		Covers:   func(fs afero.Fs, p string) (*epub.Cover, error) { return h.covers(fs, p) },
	}, Options{DownloadWorkers: 2, Clock: clockwork.NewFakeClock()})
}

func (h *harness) writeBook(name string, data []byte) {
	h.t.Helper()
	_, err := h.library.WriteAtomic(context.Background(), testUser, name, bytes.NewReader(data))
	require.NoError(h.t, err)
}

func (h *harness) localFile(name string) []byte {
	h.t.Helper()
	f, err := h.library.Open(testUser, name)
	require.NoError(h.t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(h.t, err)
	return data
}

func (h *harness) books() []metastore.Document {
	h.t.Helper()
	docs, err := h.meta.Query(context.Background(), metastore.Filter{Collection: entities.CollectionBooks, IncludeDeleted: true})
	require.NoError(h.t, err)
	return docs
}

func (h *harness) record(fp string) *entities.LocalFileRecord {
	h.t.Helper()
	rec, err := h.files.Get(context.Background(), fp)
	require.NoError(h.t, err)
	return rec
}

func (h *harness) queued(fp string) *entities.UploadQueueEntry {
	h.t.Helper()
	entry, err := h.queue.Get(context.Background(), fp)
	require.NoError(h.t, err)
	return entry
}

func (h *harness) blob(path string) []byte {
	h.t.Helper()
	rc, err := h.blobs.BlobStore.Open(context.Background(), path)
	require.NoError(h.t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(h.t, err)
	return data
}
