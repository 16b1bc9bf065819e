package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/miroshar-success/book-adapter-epub/internal/database"
	"github.com/miroshar-success/book-adapter-epub/internal/database/localfiles"
	syncrepo "github.com/miroshar-success/book-adapter-epub/internal/database/sync"
	"github.com/miroshar-success/book-adapter-epub/internal/database/uploadqueue"
	"github.com/miroshar-success/book-adapter-epub/internal/entrypoint"
	"github.com/miroshar-success/book-adapter-epub/internal/http"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore/postgres"
	"github.com/miroshar-success/book-adapter-epub/internal/reconcile"
	"github.com/miroshar-success/book-adapter-epub/internal/scheduler"
	"github.com/miroshar-success/book-adapter-epub/internal/storage"
	"github.com/miroshar-success/book-adapter-epub/internal/storage/providers/dropbox"
	"github.com/miroshar-success/book-adapter-epub/internal/storage/providers/localfs"
	"github.com/miroshar-success/book-adapter-epub/internal/storage/providers/s3"
	"github.com/miroshar-success/book-adapter-epub/internal/tasks"
	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

// =============================================================================
// Local State
// =============================================================================

// Local State Store
var _ transfer.FileStore = (*localfiles.Repository)(nil)
var _ reconcile.FileStore = (*localfiles.Repository)(nil)
var _ http.FileLister = (*localfiles.Repository)(nil)

// Upload Queue
var _ transfer.Queue = (*uploadqueue.Repository)(nil)
var _ reconcile.QueueLookup = (*uploadqueue.Repository)(nil)
var _ http.QueueLister = (*uploadqueue.Repository)(nil)

// Sync progress
var _ tasks.ProgressTracker = (*syncrepo.Repository)(nil)
var _ http.ProgressReader = (*syncrepo.Repository)(nil)

var _ http.Pinger = (*database.Database)(nil)

// =============================================================================
// Remote Services
// =============================================================================

// BlobStore implementations
var _ storage.BlobStore = (*localfs.Store)(nil)
var _ storage.BlobStore = (*s3.Store)(nil)
var _ storage.BlobStore = (*dropbox.Client)(nil)

// Metadata Store implementations
var _ metastore.Store = (*metastore.MemoryStore)(nil)
var _ metastore.Store = (*postgres.Store)(nil)
var _ metastore.Querier = (*postgres.Store)(nil)

// Identity
var _ identity.Provider = identity.Static("")
var _ identity.Provider = (*identity.JWTProvider)(nil)
var _ http.SessionManager = (*entrypoint.Session)(nil)

// =============================================================================
// Sync Services
// =============================================================================

var _ http.Transfers = (*transfer.Orchestrator)(nil)
var _ tasks.Uploader = (*transfer.Orchestrator)(nil)

var _ http.LibraryReconciler = (*reconcile.Reconciler)(nil)
var _ tasks.LibraryReconciler = (*reconcile.Reconciler)(nil)
var _ entrypoint.DeletionWatcher = (*reconcile.Watcher)(nil)

// Background tasks
var _ scheduler.Enqueuer = (*tasks.Client)(nil)
var _ http.TaskClient = (*tasks.Client)(nil)
