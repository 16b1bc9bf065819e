package entrypoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/database"
	"github.com/miroshar-success/book-adapter-epub/internal/database/localfiles"
	syncrepo "github.com/miroshar-success/book-adapter-epub/internal/database/sync"
	"github.com/miroshar-success/book-adapter-epub/internal/database/uploadqueue"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/hasher"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/libraryfs"
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

// App holds every long-lived component of the service.
type App struct {
	Config *config.Config

	DB       *database.Database
	Files    *localfiles.Repository
	Queue    *uploadqueue.Repository
	Progress map[entities.SyncType]*syncrepo.Repository

	Library  *libraryfs.Library
	Metadata metastore.Store
	Blobs    storage.BlobStore
	Identity identity.Provider
	// Sessions is set when the identity comes from a signed-in token.
	Sessions *Session

	Transfers  *transfer.Orchestrator
	Reconciler *reconcile.Reconciler
	Watcher    *reconcile.Watcher

	// Tasks and Scheduler are nil when background tasks are disabled.
	Tasks     *tasks.Client
	Scheduler *scheduler.Scheduler

	closers []func() error
}

// Build wires the application from cfg. Nothing is started.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &App{Config: cfg}
	if err := app.build(ctx); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	db, err := database.NewDatabase(cfg.Database.Path)
	if err != nil {
		return err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)

	a.Files = localfiles.NewRepository(db.DB)
	a.Queue = uploadqueue.NewRepository(db.DB)
	a.Progress = map[entities.SyncType]*syncrepo.Repository{
		entities.SyncTypeUploadReplay:      syncrepo.NewRepository(db.DB, entities.SyncTypeUploadReplay),
		entities.SyncTypeLibraryReconcile:  syncrepo.NewRepository(db.DB, entities.SyncTypeLibraryReconcile),
		entities.SyncTypeDeletionReconcile: syncrepo.NewRepository(db.DB, entities.SyncTypeDeletionReconcile),
	}

	if a.Library, err = libraryfs.NewOS(cfg.Library.Root); err != nil {
		return err
	}
	hs, err := hasher.New(cfg.Library.HashAlgorithm)
	if err != nil {
		return err
	}

	if a.Blobs, err = newBlobStore(ctx, cfg.Storage); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	if a.Metadata, err = a.newMetadataStore(ctx); err != nil {
		return fmt.Errorf("metadata store: %w", err)
	}

	var jwt *identity.JWTProvider
	a.Identity, jwt = a.newIdentity()

	a.Transfers = transfer.New(transfer.Deps{
		Files:    a.Files,
		Queue:    a.Queue,
		Metadata: a.Metadata,
		Blobs:    a.Blobs,
		Identity: a.Identity,
		FS:       a.Library,
		Hasher:   hs,
	}, transfer.Options{
		DownloadWorkers: cfg.Library.DownloadWorkers,
		SkipCovers:      cfg.Library.SkipCovers,
	})
	a.Reconciler = reconcile.New(reconcile.Deps{
		Files:    a.Files,
		Queue:    a.Queue,
		FS:       a.Library,
		Identity: a.Identity,
		Hasher:   hs,
	})
	a.Watcher = reconcile.NewWatcher(a.Reconciler, a.Metadata, a.recordDeletions)
	if jwt != nil {
		a.Sessions = NewSession(jwt, a.Watcher, a.onSignIn)
	}

	if cfg.Tasks.Enabled {
		if err := a.setupTasks(); err != nil {
			return err
		}
	}
	return nil
}

// newIdentity picks the identity provider. The JWT provider is returned
// separately so sign-in can be exposed.
func (a *App) newIdentity() (identity.Provider, *identity.JWTProvider) {
	cfg := a.Config.Auth

	if cfg.StaticUser != "" {
		log.Printf("[AUTH] Using fixed identity %s", cfg.StaticUser)
		return identity.Static(cfg.StaticUser), nil
	}

	provider := identity.NewJWTProvider([]byte(cfg.JWTSecret), clockwork.NewRealClock())
	if cfg.SessionToken != "" {
		if _, err := provider.SignIn(cfg.SessionToken); err != nil {
			log.Printf("[AUTH] Configured session token rejected: %v", err)
		}
	}
	return provider, provider
}

func (a *App) setupTasks() error {
	cfg := a.Config
	client, err := tasks.NewClient(cfg.Database.Path, tasks.Config{
		Workers:         cfg.Tasks.Workers,
		ReleaseAfter:    cfg.Tasks.ReleaseAfter,
		CleanupInterval: cfg.Tasks.CleanupInterval,
	})
	if err != nil {
		return fmt.Errorf("task queue: %w", err)
	}
	a.Tasks = client
	a.closers = append(a.closers, client.Close)

	client.Register(
		tasks.NewUploadBookQueue(a.Transfers),
		tasks.NewReplayUploadsQueue(a.Transfers, a.Progress[entities.SyncTypeUploadReplay]),
		tasks.NewReconcileLibraryQueue(a.Reconciler, a.Progress[entities.SyncTypeLibraryReconcile]),
		tasks.NewCollectOrphansQueue(a.Reconciler),
	)

	a.Scheduler = scheduler.New(client,
		scheduler.Job{Name: "replay_uploads", Schedule: cfg.Scheduler.ReplaySchedule, Task: tasks.ReplayUploadsTask{}},
		scheduler.Job{Name: "collect_orphans", Schedule: cfg.Scheduler.GCSchedule, Task: tasks.CollectOrphansTask{}},
	)
	return nil
}

func (a *App) newMetadataStore(ctx context.Context) (metastore.Store, error) {
	cfg := a.Config.Metadata
	switch cfg.Provider {
	case config.MetadataPostgres:
		store, err := postgres.Open(ctx, cfg.DSN, cfg.PollInterval)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		log.Printf("[METASTORE] Using postgres, polling every %s", cfg.PollInterval)
		return store, nil
	case config.MetadataMemory, "":
		log.Printf("[METASTORE] Using in-memory store; metadata is lost on restart")
		return metastore.NewMemoryStore(clockwork.NewRealClock()), nil
	default:
		return nil, fmt.Errorf("unknown metadata provider %q", cfg.Provider)
	}
}

func newBlobStore(ctx context.Context, cfg config.Storage) (storage.BlobStore, error) {
	switch cfg.Provider {
	case config.StorageS3:
		return s3.NewFromConfig(ctx, s3.Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			UsePathStyle:    cfg.S3UsePathStyle,
			PresignExpiry:   cfg.PresignExpiry,
		})
	case config.StorageDropbox:
		var tokens dropbox.TokenSource = dropbox.StaticToken(cfg.DropboxToken)
		if cfg.DropboxRefreshToken != "" {
			tokens = dropbox.NewRefreshingToken(cfg.DropboxAppKey, cfg.DropboxRefreshToken, nil)
		} else if cfg.DropboxToken == "" {
			return nil, errors.New("dropbox token is required")
		}
		return dropbox.NewClient(tokens, dropbox.WithRoot(cfg.DropboxRoot)), nil
	case config.StorageLocal, "":
		return localfs.NewOS(cfg.LocalDir, cfg.BaseURL)
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
}

// Start launches background work: task workers, the scheduler and, for a
// signed-in user, the deletion watcher plus a first replay and reconcile.
func (a *App) Start(ctx context.Context) error {
	if a.Tasks != nil {
		go a.Tasks.Start(ctx)
		if err := a.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	if _, ok := a.Identity.CurrentUserID(); ok {
		if err := a.Watcher.Start(); err != nil {
			return err
		}
		a.onSignIn(ctx)
	} else {
		log.Printf("[AUTH] Not signed in; sync starts after sign-in")
	}
	return nil
}

// onSignIn catches up with work left from an earlier session.
func (a *App) onSignIn(ctx context.Context) {
	if a.Tasks != nil {
		if _, err := a.Tasks.Enqueue(ctx, tasks.ReconcileLibraryTask{}, tasks.ReplayUploadsTask{}); err != nil {
			log.Printf("[STARTUP] Failed to enqueue catch-up tasks: %v", err)
		}
		return
	}

	go func() {
		bg := context.WithoutCancel(ctx)
		if _, err := tasks.ReconcileLibrary(bg, a.Reconciler, a.Progress[entities.SyncTypeLibraryReconcile]); err != nil {
			log.Printf("[STARTUP] Library reconcile failed: %v", err)
		}
		if _, err := tasks.ReplayUploads(bg, a.Transfers, a.Progress[entities.SyncTypeUploadReplay]); err != nil {
			log.Printf("[STARTUP] Upload replay failed: %v", err)
		}
	}()
}

// recordDeletions stores the outcome of each watcher run as sync progress.
func (a *App) recordDeletions(result reconcile.Result) {
	tracker := a.Progress[entities.SyncTypeDeletionReconcile]
	ctx := context.Background()

	total := len(result.Removed) + len(result.Failures)
	if err := tracker.StartSync(ctx, total); err != nil {
		log.Printf("[RECONCILE] Failed to record progress: %v", err)
		return
	}
	_ = tracker.UpdateProgress(ctx, total, len(result.Removed), len(result.Failures), 0, "")

	errMsg := ""
	if err := result.Err(); err != nil {
		errMsg = err.Error()
	}
	_ = tracker.CompleteSync(ctx, errMsg == "", errMsg)
}

// Stop halts background work started by Start.
func (a *App) Stop(ctx context.Context) {
	a.Watcher.Stop()
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Tasks != nil {
		a.Tasks.Stop(ctx)
	}
}

// Close releases every resource opened by Build, newest first.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
