package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/epub"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/storage"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
	"github.com/miroshar-success/book-adapter-epub/internal/utils"
)

// UploadRequest names a file in the user's library to upload.
type UploadRequest struct {
	Filepath     string
	Title        string // defaults to the title parsed from the file name
	Author       string
	CollectionID string
}

// UploadResult describes a completed upload.
type UploadResult struct {
	Filepath   string
	DocumentID string
	BlobPath   string
	CoverPath  string
	// CoverErr is set when no cover could be stored. It never fails the upload.
	CoverErr error
	Resumed  bool
}

// ResumeOutcome is the result of replaying one queue entry.
type ResumeOutcome struct {
	Filepath string
	Result   *UploadResult
	Err      error
}

// Upload runs the full upload protocol for one file.
func (o *Orchestrator) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	userID, fs, err := o.currentUser("upload")
	if err != nil {
		return nil, err
	}
	fp := normalizePath(req.Filepath)
	logger := log.WithFields(log.Fields{"op": "upload", "file": fp, "user": userID})

	unlock := o.locks.Lock(fp)
	defer unlock()

	// Picked → Hashed
	info, err := fs.Stat(fp)
	if err != nil {
		return nil, syncerr.Filesystem("stat", fp, err)
	}
	if info.IsDir() {
		return nil, syncerr.Filesystem("stat", fp, fmt.Errorf("is a directory"))
	}
	hash, err := o.hasher.HashFile(fs, fp)
	if err != nil {
		return nil, syncerr.Filesystem("read", fp, err)
	}

	// A queue entry for the same content means an earlier attempt is still
	// in flight; continue it instead of starting over.
	queued, err := o.queue.Get(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if queued != nil && queued.OwnerID != userID {
		queued = nil
	}
	if queued != nil && queued.ContentHash.Equal(hash) {
		logger.Info("[UPLOAD] Continuing queued upload")
		return o.drive(ctx, fs, *queued, true)
	}

	// The file changed since the queued attempt. Its document, if written,
	// is rewritten in place rather than left behind.
	documentID := uuid.NewString()
	if queued != nil && queued.DocumentID != "" {
		documentID = queued.DocumentID
		logger.WithField("document", documentID).Info("[UPLOAD] File changed since queued, restarting attempt")
	}

	title, author := req.Title, req.Author
	if title == "" {
		parsedTitle, parsedAuthor := utils.TitleAuthorFromFilename(fp)
		title = parsedTitle
		if author == "" {
			author = parsedAuthor
		}
	}

	// Hashed → DuplicateChecked
	dups, err := o.metadata.Query(ctx, metastore.Filter{
		Collection: entities.CollectionBooks,
		OwnerID:    userID,
		Fields: map[string]any{
			"title": title,
			"path":  fp,
			"size":  info.Size(),
		},
	})
	if err != nil {
		return nil, syncerr.Transfer("duplicate check", fp, err)
	}
	for _, dup := range dups {
		if dup.ID == documentID {
			continue
		}
		logger.WithField("document", dup.ID).Info("[UPLOAD] Already in remote library")
		return nil, &syncerr.DuplicateContentError{Filepath: fp, DocumentID: dup.ID}
	}

	blobPath := storage.BlobPath(userID, fp)
	if exists, err := o.blobs.Exists(ctx, blobPath); err != nil {
		return nil, syncerr.Transfer("check blob", blobPath, err)
	} else if exists {
		logger.WithField("blob", blobPath).Info("[UPLOAD] Blob path already taken")
		return nil, &syncerr.FileAlreadyExistsError{Path: blobPath}
	}

	if same, err := o.files.FindByHash(ctx, hash); err == nil {
		for _, rec := range same {
			if rec.Filepath != fp {
				logger.WithField("original", rec.Filepath).Info("[UPLOAD] Same content is already tracked under another name")
				break
			}
		}
	}

	// Durability checkpoint before any remote write.
	entry := entities.UploadQueueEntry{
		Filepath:     fp,
		ContentHash:  hash,
		OwnerID:      userID,
		Title:        title,
		Author:       author,
		CollectionID: req.CollectionID,
		Size:         info.Size(),
		DocumentID:   documentID,
	}
	if err := o.queue.Enqueue(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", fp, err)
	}

	rec, err := o.files.Get(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("read local state: %w", err)
	}
	if rec == nil || !rec.ContentHash.Equal(hash) {
		next := entities.LocalFileRecord{ContentHash: hash}
		if rec != nil {
			next.IsDownloaded = rec.IsDownloaded
		}
		if err := o.files.Put(ctx, fp, next); err != nil {
			return nil, fmt.Errorf("write local state: %w", err)
		}
	}

	logger.WithField("size", entry.Size).Info("[UPLOAD] Queued")
	return o.drive(ctx, fs, entry, false)
}

// Resume re-drives the queue entry of filepath from its first incomplete
// phase. No duplicate check runs and written metadata is never rewritten.
func (o *Orchestrator) Resume(ctx context.Context, filepath string) (*UploadResult, error) {
	userID, fs, err := o.currentUser("resume")
	if err != nil {
		return nil, err
	}
	fp := normalizePath(filepath)

	unlock := o.locks.Lock(fp)
	defer unlock()

	entry, err := o.queue.Get(ctx, fp)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotQueued, fp)
	}
	if entry.OwnerID != userID {
		return nil, fmt.Errorf("%w: %s belongs to another user", ErrNotQueued, fp)
	}

	if !entry.IsFileUploaded {
		hash, err := o.hasher.HashFile(fs, fp)
		if err != nil {
			return nil, o.fail(ctx, *entry, syncerr.Filesystem("read", fp, err))
		}
		if !hash.Equal(entry.ContentHash) {
			return nil, o.fail(ctx, *entry, syncerr.Filesystem("verify", fp, ErrContentChanged))
		}
	}

	return o.drive(ctx, fs, *entry, true)
}

// ResumePending replays every queue entry of the signed-in user, oldest
// first. A failing entry does not stop the others.
func (o *Orchestrator) ResumePending(ctx context.Context) ([]ResumeOutcome, error) {
	userID, ok := o.identity.CurrentUserID()
	if !ok {
		return nil, &syncerr.NotAuthenticatedError{Op: "resume"}
	}

	pending, err := o.queue.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending uploads: %w", err)
	}

	var outcomes []ResumeOutcome
	for _, entry := range pending {
		if entry.OwnerID != userID {
			continue
		}
		if err := ctx.Err(); err != nil {
			return outcomes, err
		}
		res, err := o.Resume(ctx, entry.Filepath)
		outcomes = append(outcomes, ResumeOutcome{Filepath: entry.Filepath, Result: res, Err: err})
	}
	return outcomes, nil
}

// CancelUpload drops the queue entry of filepath. Phases that already
// reached the remote stores are left in place.
func (o *Orchestrator) CancelUpload(ctx context.Context, filepath string) error {
	fp := normalizePath(filepath)

	unlock := o.locks.Lock(fp)
	defer unlock()

	if err := o.queue.Dequeue(ctx, fp); err != nil {
		return err
	}
	log.WithField("file", fp).Info("[UPLOAD] Cancelled")
	return nil
}

// drive runs the remote phases that entry still needs.
func (o *Orchestrator) drive(ctx context.Context, fs afero.Fs, entry entities.UploadQueueEntry, resumed bool) (*UploadResult, error) {
	fp := entry.Filepath
	logger := log.WithFields(log.Fields{"op": "upload", "file": fp, "document": entry.DocumentID})

	result := &UploadResult{
		Filepath:   fp,
		DocumentID: entry.DocumentID,
		BlobPath:   storage.BlobPath(entry.OwnerID, fp),
		Resumed:    resumed,
	}

	// DuplicateChecked → MetadataWritten
	if !entry.IsDocumentUploaded {
		doc := entities.BookDocument{
			ID:           entry.DocumentID,
			OwnerID:      entry.OwnerID,
			Title:        entry.Title,
			Author:       entry.Author,
			Path:         fp,
			Size:         entry.Size,
			ContentHash:  entry.ContentHash.String(),
			BlobPath:     result.BlobPath,
			CollectionID: entry.CollectionID,
			UploadedAt:   o.opts.Clock.Now().UTC(),
		}
		fields, err := doc.Fields()
		if err != nil {
			return nil, err
		}
		err = o.metadata.Write(ctx, entities.CollectionBooks, doc.ID, metastore.Document{OwnerID: doc.OwnerID, Data: fields})
		if err != nil {
			return nil, o.fail(ctx, entry, syncerr.Transfer("write metadata", fp, err))
		}
		if err := o.queue.MarkDocumentUploaded(ctx, fp, doc.ID); err != nil {
			return nil, fmt.Errorf("mark document uploaded: %w", err)
		}
		entry.IsDocumentUploaded = true
		logger.Info("[UPLOAD] Metadata written")
	}

	// MetadataWritten → BlobWritten
	if !entry.IsFileUploaded {
		if !o.opts.SkipCovers {
			result.CoverPath, result.CoverErr = o.uploadCover(ctx, fs, entry)
			if result.CoverErr != nil {
				logger.WithError(result.CoverErr).Warn("[UPLOAD] Continuing without cover")
			}
		}

		if err := o.putBlob(ctx, entry, result.BlobPath, resumed); err != nil {
			return nil, o.fail(ctx, entry, err)
		}
		if err := o.queue.MarkFileUploaded(ctx, fp); err != nil {
			return nil, fmt.Errorf("mark file uploaded: %w", err)
		}
		entry.IsFileUploaded = true
		logger.WithField("blob", result.BlobPath).Info("[UPLOAD] Blob written")
	}

	// BlobWritten → Complete. Local state first: a crash in between leaves
	// a complete queue entry that the next replay finishes.
	if err := o.files.MarkUploaded(ctx, fp, entry.ContentHash); err != nil {
		return nil, fmt.Errorf("mark uploaded: %w", err)
	}
	if _, err := o.queue.DequeueIfComplete(ctx, fp); err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}

	logger.Info("[UPLOAD] Complete")
	return result, nil
}

// putBlob writes the file to blobPath. An occupied path is only accepted
// on a resumed upload whose own metadata document points at it and whose
// content hashes to the queued hash: that is a blob written right before a
// crash.
func (o *Orchestrator) putBlob(ctx context.Context, entry entities.UploadQueueEntry, blobPath string, resumed bool) error {
	fp := entry.Filepath

	exists, err := o.blobs.Exists(ctx, blobPath)
	if err != nil {
		return syncerr.Transfer("check blob", blobPath, err)
	}
	if exists {
		if resumed && o.ownsBlob(ctx, entry, blobPath) {
			log.WithField("blob", blobPath).Info("[UPLOAD] Adopting blob written by an interrupted attempt")
			return nil
		}
		return &syncerr.FileAlreadyExistsError{Path: blobPath}
	}

	f, err := o.fs.Open(entry.OwnerID, fp)
	if err != nil {
		return syncerr.Filesystem("open", fp, err)
	}
	defer f.Close()

	_, err = o.blobs.Put(ctx, blobPath, f, entry.Size, storage.ContentType(fp))
	if errors.Is(err, storage.ErrAlreadyExists) {
		return &syncerr.FileAlreadyExistsError{Path: blobPath}
	}
	if err != nil {
		return syncerr.Transfer("upload blob", blobPath, err)
	}
	return nil
}

func (o *Orchestrator) ownsBlob(ctx context.Context, entry entities.UploadQueueEntry, blobPath string) bool {
	if !entry.IsDocumentUploaded {
		return false
	}
	docs, err := o.metadata.Query(ctx, metastore.Filter{
		Collection: entities.CollectionBooks,
		OwnerID:    entry.OwnerID,
		Fields:     map[string]any{"id": entry.DocumentID, "blob_path": blobPath},
	})
	if err != nil || len(docs) == 0 {
		return false
	}
	info, err := o.blobs.Stat(ctx, blobPath)
	if err != nil || info.Size != entry.Size {
		return false
	}

	rc, err := o.blobs.Open(ctx, blobPath)
	if err != nil {
		return false
	}
	defer rc.Close()
	sum, err := o.hasher.HashReader(rc)
	return err == nil && sum.Equal(entry.ContentHash)
}

// uploadCover stores the book's cover next to it and records the cover
// path on the metadata document.
func (o *Orchestrator) uploadCover(ctx context.Context, fs afero.Fs, entry entities.UploadQueueEntry) (string, error) {
	fp := entry.Filepath
	if !strings.HasSuffix(strings.ToLower(fp), ".epub") {
		return "", &syncerr.NoCoverImageError{Filepath: fp, Err: epub.ErrNotEPUB}
	}

	cover, err := o.covers(fs, fp)
	if err != nil {
		return "", &syncerr.NoCoverImageError{Filepath: fp, Err: err}
	}

	coverPath := storage.CoverPath(entry.OwnerID, fp, cover.Ext)
	exists, err := o.blobs.Exists(ctx, coverPath)
	if err != nil {
		return "", syncerr.Transfer("check cover", coverPath, err)
	}
	if !exists {
		_, err = o.blobs.Put(ctx, coverPath, bytes.NewReader(cover.Data), int64(len(cover.Data)), cover.MediaType)
		if err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return "", syncerr.Transfer("upload cover", coverPath, err)
		}
	}

	err = o.metadata.Update(ctx, entities.CollectionBooks, entry.DocumentID, map[string]any{"cover_path": coverPath})
	if err != nil {
		return "", syncerr.Transfer("write cover path", coverPath, err)
	}
	return coverPath, nil
}

// fail records err on the queue entry and returns it.
func (o *Orchestrator) fail(ctx context.Context, entry entities.UploadQueueEntry, err error) error {
	log.WithFields(log.Fields{"op": "upload", "file": entry.Filepath, "code": syncerr.Code(err)}).
		WithError(err).Warn("[UPLOAD] Failed, entry kept for retry")
	if recErr := o.queue.RecordFailure(ctx, entry.Filepath, err); recErr != nil {
		log.WithError(recErr).Warn("[UPLOAD] Could not record failure")
	}
	return err
}
