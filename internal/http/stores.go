package http

import (
	"context"

	"github.com/mikestefanello/backlite"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/reconcile"
	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

// This file consolidates the interfaces HTTP controllers depend on.
// Concrete implementations are checked in internal/interfaces.

// Transfers drives uploads, downloads and remote deletion.
type Transfers interface {
	Upload(ctx context.Context, req transfer.UploadRequest) (*transfer.UploadResult, error)
	Resume(ctx context.Context, filepath string) (*transfer.UploadResult, error)
	ResumePending(ctx context.Context) ([]transfer.ResumeOutcome, error)
	CancelUpload(ctx context.Context, filepath string) error
	DownloadBook(ctx context.Context, documentID string) (*transfer.DownloadHandle, error)
	DownloadMany(ctx context.Context, reqs []transfer.DownloadRequest) transfer.BatchDownloadResult
	GetDownloadURL(ctx context.Context, filename string) (string, error)
	DeleteBook(ctx context.Context, documentID string) error
}

// LibraryReconciler repairs local state against the filesystem.
type LibraryReconciler interface {
	ReconcileLibrary(ctx context.Context) (reconcile.LibraryReport, error)
	CollectOrphans(ctx context.Context) ([]string, error)
}

// FileLister provides read access to tracked local files.
type FileLister interface {
	Get(ctx context.Context, filepath string) (*entities.LocalFileRecord, error)
	ListAll(ctx context.Context) ([]entities.LocalFileRecord, error)
}

// QueueLister provides read access to pending uploads.
type QueueLister interface {
	ListPending(ctx context.Context) ([]entities.UploadQueueEntry, error)
	Count(ctx context.Context) (int64, error)
}

// ProgressReader reports the latest run of one background sync.
type ProgressReader interface {
	GetSyncProgress(ctx context.Context) (*entities.SyncProgress, error)
}

// SessionManager signs the single local user in and out.
type SessionManager interface {
	SignIn(token string) (string, error)
	SignOut()
	CurrentUserID() (string, bool)
}

// TaskClient enqueues background tasks and reports their status.
type TaskClient interface {
	Enqueue(ctx context.Context, tasks ...backlite.Task) ([]string, error)
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}

// Pinger checks a dependency is reachable.
type Pinger interface {
	Ping() error
}
