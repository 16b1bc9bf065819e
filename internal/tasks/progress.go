package tasks

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"
)

// ProgressTracker records the progress of one kind of background run.
type ProgressTracker interface {
	IsSyncRunning(ctx context.Context) (bool, error)
	StartSync(ctx context.Context, totalItems int) error
	UpdateProgress(ctx context.Context, processed, succeeded, failed, skipped int, currentItem string) error
	CompleteSync(ctx context.Context, succeeded bool, errorMsg string) error
}

// ErrAlreadyRunning is returned when a run of the same kind is in progress.
var ErrAlreadyRunning = errors.New("a run of this kind is already in progress")

// begin marks a run as started unless one is already running.
func begin(ctx context.Context, tracker ProgressTracker, total int) error {
	if tracker == nil {
		return nil
	}
	running, err := tracker.IsSyncRunning(ctx)
	if err != nil {
		return err
	}
	if running {
		return ErrAlreadyRunning
	}
	return tracker.StartSync(ctx, total)
}

func progress(ctx context.Context, tracker ProgressTracker, processed, succeeded, failed, skipped int) {
	if tracker == nil {
		return
	}
	if err := tracker.UpdateProgress(ctx, processed, succeeded, failed, skipped, ""); err != nil {
		log.WithError(err).Warn("[TASK] Could not record progress")
	}
}

// finish marks the run as done. A nil err means success.
func finish(ctx context.Context, tracker ProgressTracker, err error) {
	if tracker == nil {
		return
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if cerr := tracker.CompleteSync(ctx, err == nil, msg); cerr != nil {
		log.WithError(cerr).Warn("[TASK] Could not record completion")
	}
}
