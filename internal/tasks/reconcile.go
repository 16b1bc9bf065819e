package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/reconcile"
)

// LibraryReconciler repairs local state.
type LibraryReconciler interface {
	ReconcileLibrary(ctx context.Context) (reconcile.LibraryReport, error)
	CollectOrphans(ctx context.Context) ([]string, error)
}

// ReconcileLibraryTask compares local state with the library directory.
type ReconcileLibraryTask struct{}

// Config returns the queue configuration for library reconcile tasks.
func (t ReconcileLibraryTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "reconcile_library",
		MaxAttempts: 2,
		Backoff:     time.Minute,
		Timeout:     30 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ReconcileLibraryProcessor creates a processor function for ReconcileLibraryTask.
func ReconcileLibraryProcessor(r LibraryReconciler, tracker ProgressTracker) backlite.QueueProcessor[ReconcileLibraryTask] {
	return func(ctx context.Context, task ReconcileLibraryTask) error {
		if r == nil {
			return fmt.Errorf("reconciler not configured")
		}
		_, err := ReconcileLibrary(ctx, r, tracker)
		if errors.Is(err, ErrAlreadyRunning) {
			log.Printf("[TASK] Library reconcile skipped (already running)")
			return nil
		}
		return err
	}
}

// ReconcileLibrary runs one library reconciliation and records it on tracker.
func ReconcileLibrary(ctx context.Context, r LibraryReconciler, tracker ProgressTracker) (reconcile.LibraryReport, error) {
	if err := begin(ctx, tracker, 0); err != nil {
		return reconcile.LibraryReport{}, err
	}

	report, err := r.ReconcileLibrary(ctx)
	if err != nil {
		finish(ctx, tracker, err)
		return report, fmt.Errorf("reconcile library: %w", err)
	}

	changed := len(report.Cleared) + len(report.Discovered) + len(report.Collected)
	progress(ctx, tracker, changed+len(report.Failures), changed, len(report.Failures), 0)
	finish(ctx, tracker, report.Err())
	return report, nil
}

// CollectOrphansTask removes local records that no longer describe anything.
type CollectOrphansTask struct{}

// Config returns the queue configuration for orphan collection tasks.
func (t CollectOrphansTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "collect_orphans",
		MaxAttempts: 1,
		Backoff:     time.Minute,
		Timeout:     5 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// CollectOrphansProcessor creates a processor function for CollectOrphansTask.
func CollectOrphansProcessor(r LibraryReconciler) backlite.QueueProcessor[CollectOrphansTask] {
	return func(ctx context.Context, task CollectOrphansTask) error {
		if r == nil {
			return fmt.Errorf("reconciler not configured")
		}

		collected, err := r.CollectOrphans(ctx)
		if err != nil {
			return fmt.Errorf("collect orphans: %w", err)
		}

		log.Printf("[TASK] Collected %d orphan records", len(collected))
		return nil
	}
}

// NewReplayUploadsQueue creates a backlite queue for replay tasks.
func NewReplayUploadsQueue(uploader Uploader, tracker ProgressTracker) backlite.Queue {
	return backlite.NewQueue(ReplayUploadsProcessor(uploader, tracker))
}

// NewReconcileLibraryQueue creates a backlite queue for library reconcile tasks.
func NewReconcileLibraryQueue(r LibraryReconciler, tracker ProgressTracker) backlite.Queue {
	return backlite.NewQueue(ReconcileLibraryProcessor(r, tracker))
}

// NewCollectOrphansQueue creates a backlite queue for orphan collection tasks.
func NewCollectOrphansQueue(r LibraryReconciler) backlite.Queue {
	return backlite.NewQueue(CollectOrphansProcessor(r))
}
