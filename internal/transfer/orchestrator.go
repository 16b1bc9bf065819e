// Package transfer drives uploads and downloads between the local library
// and the remote metadata and blob stores.
//
// An upload walks Picked → Hashed → DuplicateChecked → MetadataWritten →
// BlobWritten → Complete. The upload queue entry written before the first
// remote call is the only checkpoint: every step re-reads the phase flags
// before acting, so replaying an entry after a crash or a network failure
// only performs the phases that are still missing.
//
// Uploads, resumes and cancellations of one file run one at a time. The
// orchestrator keeps no other state beyond registered download hooks; all
// progress lives in the local stores.
package transfer

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"

	"github.com/miroshar-success/book-adapter-epub/internal/database/keylock"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/epub"
	"github.com/miroshar-success/book-adapter-epub/internal/hasher"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/libraryfs"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/storage"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
)

var (
	// ErrNotQueued is returned by Resume for a file without a queue entry.
	ErrNotQueued = errors.New("no pending upload for file")
	// ErrContentChanged means a queued file no longer matches the hash it
	// was queued with.
	ErrContentChanged = errors.New("file changed since it was queued")
)

// FileStore is the Local State Store as seen by the orchestrator.
type FileStore interface {
	Get(ctx context.Context, filepath string) (*entities.LocalFileRecord, error)
	Put(ctx context.Context, filepath string, rec entities.LocalFileRecord) error
	MarkUploaded(ctx context.Context, filepath string, hash entities.FileHash) error
	MarkDownloaded(ctx context.Context, filepath string, hash entities.FileHash) error
	FindByHash(ctx context.Context, hash entities.FileHash) ([]entities.LocalFileRecord, error)
}

// Queue is the Upload Queue as seen by the orchestrator.
type Queue interface {
	Enqueue(ctx context.Context, entry entities.UploadQueueEntry) error
	Get(ctx context.Context, filepath string) (*entities.UploadQueueEntry, error)
	MarkDocumentUploaded(ctx context.Context, filepath, documentID string) error
	MarkFileUploaded(ctx context.Context, filepath string) error
	RecordFailure(ctx context.Context, filepath string, cause error) error
	DequeueIfComplete(ctx context.Context, filepath string) (bool, error)
	Dequeue(ctx context.Context, filepath string) error
	ListPending(ctx context.Context) ([]entities.UploadQueueEntry, error)
}

// CoverExtractor reads the cover image of the book at path.
type CoverExtractor func(fs afero.Fs, path string) (*epub.Cover, error)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Files    FileStore
	Queue    Queue
	Metadata metastore.Store
	Blobs    storage.BlobStore
	Identity identity.Provider
	FS       *libraryfs.Library
	Hasher   *hasher.Hasher
	Covers   CoverExtractor
}

// Options tune an Orchestrator.
type Options struct {
	// DownloadWorkers bounds DownloadMany concurrency.
	DownloadWorkers int
	// SkipCovers disables cover extraction.
	SkipCovers bool
	Clock      clockwork.Clock
}

// Orchestrator drives transfers.
type Orchestrator struct {
	files    FileStore
	queue    Queue
	metadata metastore.Store
	blobs    storage.BlobStore
	identity identity.Provider
	fs       *libraryfs.Library
	hasher   *hasher.Hasher
	covers   CoverExtractor
	opts     Options

	// locks serializes upload work per library-relative path.
	locks *keylock.Locker

	hooksMu sync.RWMutex
	hooks   []func(DownloadResult)
}

// New creates an orchestrator.
func New(deps Deps, opts Options) *Orchestrator {
	if deps.Covers == nil {
		deps.Covers = epub.ExtractCoverFile
	}
	if opts.DownloadWorkers <= 0 {
		opts.DownloadWorkers = 4
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &Orchestrator{
		files:    deps.Files,
		queue:    deps.Queue,
		metadata: deps.Metadata,
		blobs:    deps.Blobs,
		identity: deps.Identity,
		fs:       deps.FS,
		hasher:   deps.Hasher,
		covers:   deps.Covers,
		opts:     opts,
		locks:    keylock.New(),
	}
}

// currentUser returns the signed-in user and their library filesystem.
func (o *Orchestrator) currentUser(op string) (string, afero.Fs, error) {
	userID, ok := o.identity.CurrentUserID()
	if !ok {
		return "", nil, &syncerr.NotAuthenticatedError{Op: op}
	}
	fs, err := o.fs.ForUser(userID)
	if err != nil {
		return "", nil, syncerr.Filesystem("open library", userID, err)
	}
	return userID, fs, nil
}

// GetDownloadURL returns a URL for the current user's blob of filename.
func (o *Orchestrator) GetDownloadURL(ctx context.Context, filename string) (string, error) {
	userID, ok := o.identity.CurrentUserID()
	if !ok {
		return "", &syncerr.NotAuthenticatedError{Op: "download url"}
	}
	blobPath := storage.BlobPath(userID, filename)
	url, err := o.blobs.DownloadURL(ctx, blobPath)
	if err != nil {
		return "", syncerr.Transfer("download url", blobPath, err)
	}
	return url, nil
}

func normalizePath(p string) string {
	return filepath.ToSlash(filepath.Clean(p))
}
