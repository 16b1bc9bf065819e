package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

// ReplayUploadsTask resumes every pending upload of the signed-in user.
type ReplayUploadsTask struct{}

// Config returns the queue configuration for replay tasks.
func (t ReplayUploadsTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "replay_uploads",
		MaxAttempts: 1,
		Backoff:     time.Minute,
		Timeout:     60 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// ReplayUploadsProcessor creates a processor function for ReplayUploadsTask.
// Per-file failures stay on their queue entries and do not fail the task.
func ReplayUploadsProcessor(uploader Uploader, tracker ProgressTracker) backlite.QueueProcessor[ReplayUploadsTask] {
	return func(ctx context.Context, task ReplayUploadsTask) error {
		if uploader == nil {
			return fmt.Errorf("uploader not configured")
		}
		_, err := ReplayUploads(ctx, uploader, tracker)
		if errors.Is(err, ErrAlreadyRunning) {
			log.Printf("[TASK] Upload replay skipped (already running)")
			return nil
		}
		return err
	}
}

// ReplayUploads resumes pending uploads and records the run on tracker.
// The returned error only reports failures of the run itself; per-file
// errors are collected in ReplaySummary.Errors.
func ReplayUploads(ctx context.Context, uploader Uploader, tracker ProgressTracker) (ReplaySummary, error) {
	var summary ReplaySummary

	if err := begin(ctx, tracker, 0); err != nil {
		return summary, err
	}

	outcomes, err := uploader.ResumePending(ctx)
	for _, o := range outcomes {
		if o.Err != nil {
			summary.Failed++
			summary.Errors = multierr.Append(summary.Errors, fmt.Errorf("%s: %w", o.Filepath, o.Err))
			continue
		}
		summary.Completed++
	}
	progress(ctx, tracker, len(outcomes), summary.Completed, summary.Failed, 0)
	finish(ctx, tracker, err)
	if err != nil {
		return summary, fmt.Errorf("replay uploads: %w", err)
	}

	log.Printf("[TASK] Upload replay: %d completed, %d still pending", summary.Completed, summary.Failed)
	return summary, nil
}

// ReplaySummary counts the outcome of one replay.
type ReplaySummary struct {
	Completed int
	Failed    int
	Errors    error
}
