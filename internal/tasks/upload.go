package tasks

import (
	"context"
	"fmt"
	"time"

	"github.com/mikestefanello/backlite"
	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

// Uploader runs and replays uploads.
type Uploader interface {
	Upload(ctx context.Context, req transfer.UploadRequest) (*transfer.UploadResult, error)
	ResumePending(ctx context.Context) ([]transfer.ResumeOutcome, error)
}

// UploadBookTask uploads one file from the user's library.
type UploadBookTask struct {
	Filepath     string `json:"filepath"`
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
}

// Config returns the queue configuration for upload tasks.
func (t UploadBookTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "upload_book",
		MaxAttempts: 5,
		Backoff:     30 * time.Second,
		Timeout:     30 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// UploadBookProcessor creates a processor function for UploadBookTask.
// Only transport failures are returned to backlite for a retry; anything
// else needs the user and is logged instead.
func UploadBookProcessor(uploader Uploader) backlite.QueueProcessor[UploadBookTask] {
	return func(ctx context.Context, task UploadBookTask) error {
		if uploader == nil {
			return fmt.Errorf("uploader not configured")
		}

		res, err := uploader.Upload(ctx, transfer.UploadRequest{
			Filepath:     task.Filepath,
			Title:        task.Title,
			Author:       task.Author,
			CollectionID: task.CollectionID,
		})
		if err != nil {
			if syncerr.IsRetryable(err) {
				return fmt.Errorf("upload %s: %w", task.Filepath, err)
			}
			log.WithFields(log.Fields{"file": task.Filepath, "code": syncerr.Code(err)}).
				WithError(err).Warn("[TASK] Upload not retried")
			return nil
		}

		log.Printf("[TASK] Uploaded %s as %s", res.Filepath, res.DocumentID)
		return nil
	}
}

// NewUploadBookQueue creates a backlite queue for upload tasks.
func NewUploadBookQueue(uploader Uploader) backlite.Queue {
	return backlite.NewQueue(UploadBookProcessor(uploader))
}
