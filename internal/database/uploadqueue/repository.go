// Package uploadqueue implements the durable Upload Queue: one entry per
// upload whose two remote phases (metadata document, then blob) have not
// both completed.
//
// An entry is written before any network call and removed only once both
// phases are recorded, so a crash at any point leaves enough state to
// resume without repeating finished work.
package uploadqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/miroshar-success/book-adapter-epub/internal/database/keylock"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
)

// Repository handles all upload queue operations.
type Repository struct {
	db    *gorm.DB
	locks *keylock.Locker
}

// NewRepository creates a new upload queue repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, locks: keylock.New()}
}

// Enqueue stores entry under its filepath, replacing any previous entry.
// Attempt bookkeeping starts over.
func (r *Repository) Enqueue(ctx context.Context, entry entities.UploadQueueEntry) error {
	if entry.Filepath == "" {
		return errors.New("enqueue: empty filepath")
	}
	unlock := r.locks.Lock(entry.Filepath)
	defer unlock()

	now := time.Now()
	entry.Attempts = 0
	entry.LastError = ""
	entry.UpdatedAt = now
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "filepath"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"hash_algorithm", "hash_digest",
			"is_document_uploaded", "is_file_uploaded",
			"owner_id", "title", "author", "collection_id", "size", "document_id",
			"attempts", "last_error", "updated_at",
		}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", entry.Filepath, err)
	}
	return nil
}

// Get returns the pending entry for filepath, or nil when there is none.
func (r *Repository) Get(ctx context.Context, filepath string) (*entities.UploadQueueEntry, error) {
	var entry entities.UploadQueueEntry
	err := r.db.WithContext(ctx).Where("filepath = ?", filepath).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get queue entry %s: %w", filepath, err)
	}
	return &entry, nil
}

// MarkDocumentUploaded records that the metadata document exists remotely
// under documentID. The blob flag is left as is.
func (r *Repository) MarkDocumentUploaded(ctx context.Context, filepath, documentID string) error {
	return r.update(ctx, filepath, map[string]any{
		"is_document_uploaded": true,
		"document_id":          documentID,
	})
}

// MarkFileUploaded records that the blob exists remotely. The document
// flag is left as is.
func (r *Repository) MarkFileUploaded(ctx context.Context, filepath string) error {
	return r.update(ctx, filepath, map[string]any{"is_file_uploaded": true})
}

// RecordFailure bumps the attempt counter and keeps the last error message.
func (r *Repository) RecordFailure(ctx context.Context, filepath string, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return r.update(ctx, filepath, map[string]any{
		"attempts":   gorm.Expr("attempts + ?", 1),
		"last_error": msg,
	})
}

func (r *Repository) update(ctx context.Context, filepath string, fields map[string]any) error {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	fields["updated_at"] = time.Now()
	err := r.db.WithContext(ctx).Model(&entities.UploadQueueEntry{}).
		Where("filepath = ?", filepath).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("update queue entry %s: %w", filepath, err)
	}
	return nil
}

// Dequeue removes the entry for filepath. Removing a missing entry is not
// an error.
func (r *Repository) Dequeue(ctx context.Context, filepath string) error {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	err := r.db.WithContext(ctx).Where("filepath = ?", filepath).Delete(&entities.UploadQueueEntry{}).Error
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", filepath, err)
	}
	return nil
}

// DequeueIfComplete removes the entry only when both phases are recorded
// and reports whether it did.
func (r *Repository) DequeueIfComplete(ctx context.Context, filepath string) (bool, error) {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	result := r.db.WithContext(ctx).
		Where("filepath = ? AND is_document_uploaded = ? AND is_file_uploaded = ?", filepath, true, true).
		Delete(&entities.UploadQueueEntry{})
	if result.Error != nil {
		return false, fmt.Errorf("dequeue %s: %w", filepath, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListPending returns every entry, oldest first.
func (r *Repository) ListPending(ctx context.Context) ([]entities.UploadQueueEntry, error) {
	var entries []entities.UploadQueueEntry
	err := r.db.WithContext(ctx).Order("created_at ASC, filepath ASC").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("list upload queue: %w", err)
	}
	return entries, nil
}

// Count returns the number of pending entries.
func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.UploadQueueEntry{}).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count upload queue: %w", err)
	}
	return n, nil
}
