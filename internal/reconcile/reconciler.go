// Package reconcile brings local state back in line with the remote
// library and with what is actually on disk.
//
// ReconcileDeletions applies remote deletions to the device. ReconcileLibrary
// runs at startup and repairs drift between the Local State Store and the
// user's library directory. A Watcher feeds remote deletions into
// ReconcileDeletions as they happen.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/hasher"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/libraryfs"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
)

// FileStore is the Local State Store as seen by the reconciler.
type FileStore interface {
	Get(ctx context.Context, filepath string) (*entities.LocalFileRecord, error)
	Delete(ctx context.Context, filepath string) error
	DeleteIf(ctx context.Context, filepath string, cond func(entities.LocalFileRecord) (bool, error)) (bool, error)
	SetDownloaded(ctx context.Context, filepath string, downloaded bool) error
	MarkDownloaded(ctx context.Context, filepath string, hash entities.FileHash) error
	ListAll(ctx context.Context) ([]entities.LocalFileRecord, error)
}

// QueueLookup reports pending uploads.
type QueueLookup interface {
	Get(ctx context.Context, filepath string) (*entities.UploadQueueEntry, error)
}

// DeletedItem is a book removed from the remote library.
type DeletedItem struct {
	DocumentID string
	Filename   string
}

// FileFailure is a file the reconciler could not process.
type FileFailure struct {
	Filepath string
	Err      error
}

// Result lists the files removed by ReconcileDeletions.
type Result struct {
	Removed  []string
	Failures []FileFailure
}

// Err combines all per-file failures, or returns nil.
func (r Result) Err() error {
	return combine(r.Failures)
}

// LibraryReport describes what ReconcileLibrary changed.
type LibraryReport struct {
	// Cleared records claimed a download that is no longer on disk.
	Cleared []string
	// Discovered book files were on disk without a record.
	Discovered []string
	// Collected orphan records were removed.
	Collected []string
	Failures  []FileFailure
}

// Err combines all per-file failures, or returns nil.
func (r LibraryReport) Err() error {
	return combine(r.Failures)
}

func combine(failures []FileFailure) error {
	var err error
	for _, f := range failures {
		err = multierr.Append(err, fmt.Errorf("%s: %w", f.Filepath, f.Err))
	}
	return err
}

// Deps are the collaborators of a Reconciler.
type Deps struct {
	Files    FileStore
	Queue    QueueLookup
	FS       *libraryfs.Library
	Identity identity.Provider
	Hasher   *hasher.Hasher
}

type Reconciler struct {
	files    FileStore
	queue    QueueLookup
	fs       *libraryfs.Library
	identity identity.Provider
	hasher   *hasher.Hasher
}

func New(deps Deps) *Reconciler {
	return &Reconciler{
		files:    deps.Files,
		queue:    deps.Queue,
		fs:       deps.FS,
		identity: deps.Identity,
		hasher:   deps.Hasher,
	}
}

// ReconcileDeletions removes the local copies of deleted books. A filename
// still used by one of the remaining books is left alone. One failing file
// never stops the rest of the batch.
func (r *Reconciler) ReconcileDeletions(ctx context.Context, deleted []DeletedItem, remaining []entities.BookDocument) (Result, error) {
	var result Result

	userID, ok := r.identity.CurrentUserID()
	if !ok {
		return result, &syncerr.NotAuthenticatedError{Op: "reconcile deletions"}
	}

	inUse := make(map[string]bool, len(remaining))
	for _, book := range remaining {
		inUse[normalize(book.Path)] = true
	}

	seen := make(map[string]bool, len(deleted))
	for _, item := range deleted {
		fp := normalize(item.Filename)
		if fp == "" || seen[fp] || inUse[fp] {
			continue
		}
		seen[fp] = true

		if err := ctx.Err(); err != nil {
			return result, err
		}

		removed, err := r.removeLocal(ctx, userID, fp)
		if err != nil {
			log.WithFields(log.Fields{"op": "reconcile", "file": fp, "document": item.DocumentID}).
				WithError(err).Warn("[RECONCILE] Could not remove deleted book")
			result.Failures = append(result.Failures, FileFailure{Filepath: fp, Err: err})
			continue
		}
		if removed {
			result.Removed = append(result.Removed, fp)
		}
	}

	if len(result.Removed) > 0 || len(result.Failures) > 0 {
		log.Printf("[RECONCILE] Deletions applied: %d removed, %d failed", len(result.Removed), len(result.Failures))
	}
	return result, nil
}

// removeLocal deletes the file and its record. It reports false when there
// was nothing to remove.
func (r *Reconciler) removeLocal(ctx context.Context, userID, fp string) (bool, error) {
	rec, err := r.files.Get(ctx, fp)
	if err != nil {
		return false, err
	}
	onDisk, err := r.fs.Exists(userID, fp)
	if err != nil {
		return false, syncerr.Filesystem("stat", fp, err)
	}
	if rec == nil && !onDisk {
		return false, nil
	}

	if onDisk {
		if err := r.fs.Remove(userID, fp); err != nil && !errors.Is(err, os.ErrNotExist) {
			return false, syncerr.Filesystem("delete", fp, err)
		}
	}
	if rec != nil {
		if err := r.files.SetDownloaded(ctx, fp, false); err != nil {
			return false, err
		}
		if err := r.files.Delete(ctx, fp); err != nil {
			return false, err
		}
	}
	return true, nil
}

// ReconcileLibrary compares the Local State Store with the user's library
// directory. Download flags of missing or empty files are cleared, orphan
// records are removed and book files without a record start being tracked
// as downloaded.
func (r *Reconciler) ReconcileLibrary(ctx context.Context) (LibraryReport, error) {
	var report LibraryReport

	userID, userFS, err := r.currentUser("reconcile library")
	if err != nil {
		return report, err
	}

	records, err := r.files.ListAll(ctx)
	if err != nil {
		return report, err
	}
	books, err := r.fs.ListBooks(userID)
	if err != nil {
		return report, syncerr.Filesystem("list", r.fs.Root(), err)
	}
	sizes := make(map[string]int64, len(books))
	for _, b := range books {
		sizes[b.Path] = b.Size
	}

	tracked := make(map[string]bool, len(records))
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		fp := rec.Filepath

		if rec.IsDownloaded && sizes[fp] == 0 {
			if err := r.files.SetDownloaded(ctx, fp, false); err != nil {
				report.Failures = append(report.Failures, FileFailure{Filepath: fp, Err: err})
				tracked[fp] = true
				continue
			}
			rec.IsDownloaded = false
			report.Cleared = append(report.Cleared, fp)
		}

		collected, err := r.collect(ctx, rec)
		if err != nil {
			report.Failures = append(report.Failures, FileFailure{Filepath: fp, Err: err})
		}
		if collected {
			report.Collected = append(report.Collected, fp)
			continue
		}
		tracked[fp] = true
	}

	for _, b := range books {
		if tracked[b.Path] || b.Size == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		hash, err := r.hasher.HashFile(userFS, b.Path)
		if err != nil {
			report.Failures = append(report.Failures, FileFailure{Filepath: b.Path, Err: syncerr.Filesystem("read", b.Path, err)})
			continue
		}
		if err := r.files.MarkDownloaded(ctx, b.Path, hash); err != nil {
			report.Failures = append(report.Failures, FileFailure{Filepath: b.Path, Err: err})
			continue
		}
		report.Discovered = append(report.Discovered, b.Path)
	}

	log.WithFields(log.Fields{
		"user":       userID,
		"cleared":    len(report.Cleared),
		"discovered": len(report.Discovered),
		"collected":  len(report.Collected),
		"failed":     len(report.Failures),
	}).Info("[RECONCILE] Library reconciled")
	return report, nil
}

// CollectOrphans removes every record that no longer describes anything.
func (r *Reconciler) CollectOrphans(ctx context.Context) ([]string, error) {
	records, err := r.files.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	var collected []string
	var errs error
	for _, rec := range records {
		ok, err := r.collect(ctx, rec)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", rec.Filepath, err))
			continue
		}
		if ok {
			collected = append(collected, rec.Filepath)
		}
	}
	if len(collected) > 0 {
		log.Printf("[RECONCILE] Collected %d orphan records", len(collected))
	}
	return collected, errs
}

// collect deletes rec when it is an orphan. The decision is made again on
// the stored record, since rec may be stale by now.
func (r *Reconciler) collect(ctx context.Context, rec entities.LocalFileRecord) (bool, error) {
	if !rec.IsOrphan(false) {
		return false, nil
	}
	return r.files.DeleteIf(ctx, rec.Filepath, func(cur entities.LocalFileRecord) (bool, error) {
		entry, err := r.queue.Get(ctx, cur.Filepath)
		if err != nil {
			return false, err
		}
		return cur.IsOrphan(entry != nil), nil
	})
}

func (r *Reconciler) currentUser(op string) (string, afero.Fs, error) {
	userID, ok := r.identity.CurrentUserID()
	if !ok {
		return "", nil, &syncerr.NotAuthenticatedError{Op: op}
	}
	fs, err := r.fs.ForUser(userID)
	if err != nil {
		return "", nil, syncerr.Filesystem("open library", userID, err)
	}
	return userID, fs, nil
}

func normalize(p string) string {
	if p == "" {
		return ""
	}
	return filepath.ToSlash(filepath.Clean(p))
}
