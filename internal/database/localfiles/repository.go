// Package localfiles implements the Local State Store: one durable record
// per tracked file under the user's library root.
//
// # Usage
//
//	repo := localfiles.NewRepository(db)
//	rec, err := repo.Get(ctx, "novel.epub")
//	err = repo.SetDownloaded(ctx, "novel.epub", true)
//
// Reads are served from an in-memory projection that is filled lazily;
// writes reach SQLite before the projection is touched. ClearCache drops
// the projection and forces the next read back to disk.
package localfiles

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/miroshar-success/book-adapter-epub/internal/database/keylock"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
)

// Repository handles all local file record operations.
type Repository struct {
	db    *gorm.DB
	locks *keylock.Locker

	mu    sync.RWMutex
	cache map[string]entities.LocalFileRecord
}

// NewRepository creates a new local file state repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db:    db,
		locks: keylock.New(),
		cache: make(map[string]entities.LocalFileRecord),
	}
}

// Get returns the record for filepath, or nil if the file is not tracked.
func (r *Repository) Get(ctx context.Context, filepath string) (*entities.LocalFileRecord, error) {
	r.mu.RLock()
	cached, ok := r.cache[filepath]
	r.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	unlock := r.locks.Lock(filepath)
	defer unlock()

	var rec entities.LocalFileRecord
	err := r.db.WithContext(ctx).Where("filepath = ?", filepath).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get local file %s: %w", filepath, err)
	}

	r.remember(rec)
	return &rec, nil
}

// Put stores rec under filepath, fully replacing any previous record.
func (r *Repository) Put(ctx context.Context, filepath string, rec entities.LocalFileRecord) error {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	rec.Filepath = filepath
	rec.UpdatedAt = time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = rec.UpdatedAt
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "filepath"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"hash_algorithm", "hash_digest",
			"is_document_uploaded", "is_file_uploaded", "is_downloaded",
			"updated_at",
		}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("put local file %s: %w", filepath, err)
	}

	r.forget(filepath)
	return nil
}

// Delete stops tracking filepath. Deleting an untracked path is not an error.
func (r *Repository) Delete(ctx context.Context, filepath string) error {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	err := r.db.WithContext(ctx).Where("filepath = ?", filepath).Delete(&entities.LocalFileRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete local file %s: %w", filepath, err)
	}

	r.forget(filepath)
	return nil
}

// DeleteIf reads the record of filepath from the database under its lock
// and deletes it when cond returns true. It reports whether the record was
// deleted. An untracked path is left alone and cond is not called.
func (r *Repository) DeleteIf(ctx context.Context, filepath string, cond func(entities.LocalFileRecord) (bool, error)) (bool, error) {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	var rec entities.LocalFileRecord
	err := r.db.WithContext(ctx).Where("filepath = ?", filepath).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		r.forget(filepath)
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get local file %s: %w", filepath, err)
	}

	ok, err := cond(rec)
	if err != nil || !ok {
		return false, err
	}

	err = r.db.WithContext(ctx).Where("filepath = ?", filepath).Delete(&entities.LocalFileRecord{}).Error
	if err != nil {
		return false, fmt.Errorf("delete local file %s: %w", filepath, err)
	}

	r.forget(filepath)
	return true, nil
}

// SetDownloaded updates only the is_downloaded flag. It is a no-op for
// untracked paths.
func (r *Repository) SetDownloaded(ctx context.Context, filepath string, downloaded bool) error {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	err := r.db.WithContext(ctx).Model(&entities.LocalFileRecord{}).
		Where("filepath = ?", filepath).
		Updates(map[string]any{
			"is_downloaded": downloaded,
			"updated_at":    time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("set downloaded %s: %w", filepath, err)
	}

	r.forget(filepath)
	return nil
}

// MarkDownloaded sets is_downloaded on an existing record, or starts
// tracking filepath with the given hash when it was unknown.
func (r *Repository) MarkDownloaded(ctx context.Context, filepath string, hash entities.FileHash) error {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	now := time.Now()
	rec := entities.LocalFileRecord{
		Filepath:     filepath,
		ContentHash:  hash,
		IsDownloaded: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "filepath"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_downloaded", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark downloaded %s: %w", filepath, err)
	}

	r.forget(filepath)
	return nil
}

// MarkUploaded records that both the metadata document and the blob exist
// remotely. An unknown filepath starts being tracked with hash.
func (r *Repository) MarkUploaded(ctx context.Context, filepath string, hash entities.FileHash) error {
	unlock := r.locks.Lock(filepath)
	defer unlock()

	now := time.Now()
	rec := entities.LocalFileRecord{
		Filepath:           filepath,
		ContentHash:        hash,
		IsDocumentUploaded: true,
		IsFileUploaded:     true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "filepath"}},
		DoUpdates: clause.AssignmentColumns([]string{"is_document_uploaded", "is_file_uploaded", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("mark uploaded %s: %w", filepath, err)
	}

	r.forget(filepath)
	return nil
}

// ListAll returns every tracked record ordered by filepath.
func (r *Repository) ListAll(ctx context.Context) ([]entities.LocalFileRecord, error) {
	var records []entities.LocalFileRecord
	err := r.db.WithContext(ctx).Order("filepath ASC").Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list local files: %w", err)
	}
	return records, nil
}

// FindByHash returns records whose content hash equals hash.
func (r *Repository) FindByHash(ctx context.Context, hash entities.FileHash) ([]entities.LocalFileRecord, error) {
	var records []entities.LocalFileRecord
	err := r.db.WithContext(ctx).
		Where("hash_algorithm = ? AND hash_digest = ?", hash.Algorithm, hash.Digest).
		Order("filepath ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("find local files by hash: %w", err)
	}
	return records, nil
}

// ClearCache drops the in-memory projection without touching the database.
func (r *Repository) ClearCache() {
	r.mu.Lock()
	r.cache = make(map[string]entities.LocalFileRecord)
	r.mu.Unlock()
}

func (r *Repository) remember(rec entities.LocalFileRecord) {
	r.mu.Lock()
	r.cache[rec.Filepath] = rec
	r.mu.Unlock()
}

func (r *Repository) forget(filepath string) {
	r.mu.Lock()
	delete(r.cache, filepath)
	r.mu.Unlock()
}

// cached reports whether filepath is currently in the projection.
func (r *Repository) cached(filepath string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.cache[filepath]
	return ok
}
