// Package interfaces documents the core abstractions used throughout the application.
//
// The package holds no runtime code. checks.go pins every concrete type to
// the interfaces it is consumed through, so a missing method fails the build
// here instead of at a distant call site.
//
// # Interface Categories
//
// ## Local State
//
//   - transfer.FileStore, reconcile.FileStore: the Local State Store (internal/database/localfiles)
//   - transfer.Queue, reconcile.QueueLookup: the Upload Queue (internal/database/uploadqueue)
//   - tasks.ProgressTracker: sync run bookkeeping (internal/database/sync)
//
// ## Remote Services
//
//   - storage.BlobStore: object storage for book files and covers
//     (internal/storage/providers/localfs, s3, dropbox)
//   - metastore.Store: the shared book metadata store with subscriptions
//     (internal/metastore, internal/metastore/postgres)
//   - identity.Provider: the signed-in user (internal/identity)
//
// ## HTTP Layer
//
// The controllers in internal/http depend only on the narrow interfaces in
// internal/http/stores.go: Transfers, LibraryReconciler, FileLister,
// QueueLister, ProgressReader, SessionManager, TaskClient and Pinger.
//
// # Adding a New Storage Provider
//
//  1. Create a package under internal/storage/providers/.
//  2. Implement storage.BlobStore. Object keys are built by storage.BlobPath
//     and storage.CoverPath and must be stored verbatim.
//  3. Return storage.ErrNotFound for missing objects so downloads map to
//     the file_not_found kind.
//  4. Add a StorageProvider constant in internal/config and a case in
//     entrypoint.newBlobStore.
//  5. Add a compile-time check to checks.go.
//
// # Adding a New Metadata Store
//
// Implement metastore.Store. Stores without push notifications can embed a
// metastore.Poller over their Query method, as the postgres store does.
// Subscription callbacks must not block.
package interfaces
