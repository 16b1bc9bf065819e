package http

import (
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Core dependencies
	Transfers  Transfers
	Reconciler LibraryReconciler
	Files      FileLister
	Queue      QueueLister
	Database   Pinger

	// Sessions is nil when the identity is fixed by configuration.
	Sessions SessionManager

	// Sync progress tracking, keyed by the kind of background run
	Progress map[entities.SyncType]ProgressReader

	// Task queue client (optional). Without it long operations run inline.
	TaskClient TaskClient

	// Application info
	Version string
}
