// Package sync records the progress of background synchronization runs:
// upload replay, library reconcile and deletion reconcile.
//
// Each sync type owns a single row that is reset at the start of every run.
//
// # Usage
//
//	repo := sync.NewRepository(db, entities.SyncTypeUploadReplay)
//	err := repo.StartSync(ctx, len(pending))
//	err = repo.UpdateProgress(ctx, processed, ok, failed, skipped, fp)
//	err = repo.CompleteSync(ctx, failed == 0, "")
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
)

// StaleAfter is how long a running sync may go without an update before it
// is treated as interrupted.
const StaleAfter = 10 * time.Minute

// Repository handles all sync progress database operations.
type Repository struct {
	db       *gorm.DB
	syncType entities.SyncType
	clock    clockwork.Clock
}

// NewRepository creates a sync repository for a specific sync type.
func NewRepository(db *gorm.DB, syncType entities.SyncType) *Repository {
	return NewRepositoryWithClock(db, syncType, clockwork.NewRealClock())
}

// NewRepositoryWithClock is NewRepository with an injectable clock.
func NewRepositoryWithClock(db *gorm.DB, syncType entities.SyncType, clock clockwork.Clock) *Repository {
	return &Repository{db: db, syncType: syncType, clock: clock}
}

// GetSyncProgress retrieves the sync progress for the configured sync type.
func (r *Repository) GetSyncProgress(ctx context.Context) (*entities.SyncProgress, error) {
	var progress entities.SyncProgress
	err := r.db.WithContext(ctx).Where("sync_type = ?", r.syncType).First(&progress).Error
	if err != nil {
		return nil, err
	}
	return &progress, nil
}

// StartSync creates or resets the progress record.
func (r *Repository) StartSync(ctx context.Context, totalItems int) error {
	db := r.db.WithContext(ctx)

	var progress entities.SyncProgress
	result := db.Where("sync_type = ?", r.syncType).First(&progress)

	now := r.clock.Now()
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		progress = entities.SyncProgress{
			SyncType:   r.syncType,
			Status:     entities.SyncStatusRunning,
			TotalItems: totalItems,
			StartedAt:  now,
			UpdatedAt:  now,
		}
		return db.Create(&progress).Error
	} else if result.Error != nil {
		return result.Error
	}

	progress.Status = entities.SyncStatusRunning
	progress.TotalItems = totalItems
	progress.Processed = 0
	progress.Succeeded = 0
	progress.Failed = 0
	progress.Skipped = 0
	progress.CurrentItem = ""
	progress.Error = ""
	progress.StartedAt = now
	progress.UpdatedAt = now
	progress.CompletedAt = nil

	return db.Save(&progress).Error
}

// UpdateProgress updates the counters of an ongoing sync.
func (r *Repository) UpdateProgress(ctx context.Context, processed, succeeded, failed, skipped int, currentItem string) error {
	return r.db.WithContext(ctx).Model(&entities.SyncProgress{}).
		Where("sync_type = ?", r.syncType).
		Updates(map[string]any{
			"processed":    processed,
			"succeeded":    succeeded,
			"failed":       failed,
			"skipped":      skipped,
			"current_item": currentItem,
			"updated_at":   r.clock.Now(),
		}).Error
}

// CompleteSync marks a sync as completed or failed.
func (r *Repository) CompleteSync(ctx context.Context, succeeded bool, errorMsg string) error {
	now := r.clock.Now()
	status := entities.SyncStatusCompleted
	if !succeeded {
		status = entities.SyncStatusFailed
	}

	updates := map[string]any{
		"status":       status,
		"current_item": "",
		"updated_at":   now,
		"completed_at": now,
	}
	if errorMsg != "" {
		updates["error"] = errorMsg
	}
	return r.db.WithContext(ctx).Model(&entities.SyncProgress{}).
		Where("sync_type = ?", r.syncType).
		Updates(updates).Error
}

// IsSyncRunning checks if a sync is currently in progress. A running sync
// that has not been updated within StaleAfter is marked failed instead.
func (r *Repository) IsSyncRunning(ctx context.Context) (bool, error) {
	var progress entities.SyncProgress
	err := r.db.WithContext(ctx).
		Where("sync_type = ? AND status = ?", r.syncType, entities.SyncStatusRunning).
		First(&progress).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if progress.UpdatedAt.Before(r.clock.Now().Add(-StaleAfter)) {
		_ = r.CompleteSync(ctx, false, "sync was interrupted")
		return false, nil
	}

	return true, nil
}
