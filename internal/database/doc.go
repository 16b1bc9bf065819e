// Package database provides the local persistence layer of the sync core.
//
// # Architecture
//
// The database layer is organized into domain-specific sub-packages that
// share one SQLite connection:
//
//	database/
//	├── database.go      # Connection setup, pragmas, migrations
//	├── localfiles/      # Local State Store: per-file upload/download flags
//	├── uploadqueue/     # Upload Queue: durable in-flight upload markers
//	└── sync/            # Progress of replay and reconcile runs
//
// # Using Sub-packages
//
//	db, err := database.NewDatabase("./library.db")
//
//	files := localfiles.NewRepository(db.DB)
//	queue := uploadqueue.NewRepository(db.DB)
//
//	rec, err := files.Get(ctx, "novel.epub")
//	pending, err := queue.ListPending(ctx)
//
// # Durability
//
// The connection is opened in WAL mode with synchronous=FULL, so a write
// that returned without error survives a crash of the process.
package database
