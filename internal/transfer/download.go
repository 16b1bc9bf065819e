package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sync"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
)

// DownloadResult describes a finished download.
type DownloadResult struct {
	RemotePath string
	LocalPath  string
	Bytes      int64
	Hash       entities.FileHash
}

// DownloadHandle tracks one background download. The local state update
// happens inside the transfer whether or not anyone waits on the handle.
type DownloadHandle struct {
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once

	result DownloadResult
	err    error
}

func newHandle(cancel context.CancelFunc) *DownloadHandle {
	return &DownloadHandle{done: make(chan struct{}), cancel: cancel}
}

func (h *DownloadHandle) finish(result DownloadResult, err error) {
	h.once.Do(func() {
		h.result = result
		h.err = err
		close(h.done)
	})
}

// Done is closed when the download finished, failed or was cancelled.
func (h *DownloadHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the download finishes or ctx ends. A ctx ending only
// stops the wait, not the download.
func (h *DownloadHandle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the outcome, or nil while the download is running.
func (h *DownloadHandle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Result returns what was downloaded. It is only meaningful after Done.
func (h *DownloadHandle) Result() DownloadResult {
	<-h.done
	return h.result
}

// Cancel abandons the download. The partial file is removed and the
// destination is left as it was.
func (h *DownloadHandle) Cancel() {
	h.cancel()
}

// OnDownloadComplete registers hook to run once after every successful
// download, after the local state has been updated.
func (o *Orchestrator) OnDownloadComplete(hook func(DownloadResult)) {
	o.hooksMu.Lock()
	defer o.hooksMu.Unlock()
	o.hooks = append(o.hooks, hook)
}

// Download streams the blob at remotePath into localPath inside the
// current user's library. It returns immediately. The transfer outlives
// ctx cancellation; use the handle's Cancel to stop it.
func (o *Orchestrator) Download(ctx context.Context, remotePath, localPath string) *DownloadHandle {
	dctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := newHandle(cancel)

	userID, _, err := o.currentUser("download")
	if err != nil {
		cancel()
		h.finish(DownloadResult{}, err)
		return h
	}

	fp := normalizePath(localPath)
	logger := log.WithFields(log.Fields{"op": "download", "file": fp, "blob": remotePath})

	go func() {
		defer cancel()

		digest := o.hasher.NewDigest()
		n, err := o.fetch(dctx, userID, remotePath, fp, digest)
		if err != nil {
			err = classifyDownloadError(remotePath, fp, err)
			logger.WithError(err).Warn("[DOWNLOAD] Failed")
			h.finish(DownloadResult{}, err)
			return
		}

		result := DownloadResult{RemotePath: remotePath, LocalPath: fp, Bytes: n, Hash: digest.Sum()}
		if err := o.files.MarkDownloaded(dctx, fp, result.Hash); err != nil {
			logger.WithError(err).Warn("[DOWNLOAD] File written but local state not updated")
			h.finish(result, fmt.Errorf("mark downloaded %s: %w", fp, err))
			return
		}

		logger.WithField("bytes", n).Info("[DOWNLOAD] Complete")
		o.runHooks(result)
		h.finish(result, nil)
	}()

	return h
}

// fetch streams the blob at remotePath into the user's library at fp. The
// file appears only once complete. Every byte read also goes to digest.
func (o *Orchestrator) fetch(ctx context.Context, userID, remotePath, fp string, digest io.Writer) (int64, error) {
	reader, err := o.blobs.Open(ctx, remotePath)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	n, err := o.fs.WriteAtomic(ctx, userID, fp, io.TeeReader(reader, digest))
	if err != nil {
		return n, fmt.Errorf("write %s: %w", fp, err)
	}
	return n, nil
}

func (o *Orchestrator) runHooks(result DownloadResult) {
	o.hooksMu.RLock()
	hooks := append([]func(DownloadResult){}, o.hooks...)
	o.hooksMu.RUnlock()

	for _, hook := range hooks {
		hook(result)
	}
}

func classifyDownloadError(remotePath, localPath string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return syncerr.Filesystem("write", localPath, err)
	}
	return syncerr.Transfer("download", remotePath, err)
}

// DownloadBook downloads the current user's book documentID to the path
// recorded on its metadata document.
func (o *Orchestrator) DownloadBook(ctx context.Context, documentID string) (*DownloadHandle, error) {
	userID, ok := o.identity.CurrentUserID()
	if !ok {
		return nil, &syncerr.NotAuthenticatedError{Op: "download"}
	}
	docs, err := o.metadata.Query(ctx, metastore.Filter{
		Collection: entities.CollectionBooks,
		OwnerID:    userID,
		Fields:     map[string]any{"id": documentID},
	})
	if err != nil {
		return nil, syncerr.Transfer("lookup book", documentID, err)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("book %s: %w", documentID, metastore.ErrNotFound)
	}
	book, err := entities.BookDocumentFromFields(docs[0].Data)
	if err != nil {
		return nil, err
	}
	return o.Download(ctx, book.BlobPath, book.Path), nil
}

// DownloadRequest is one item of a batch download.
type DownloadRequest struct {
	RemotePath string
	LocalPath  string
}

// DownloadFailure reports a failed batch item.
type DownloadFailure struct {
	Request DownloadRequest
	Err     error
}

// BatchDownloadResult collects the outcome of DownloadMany in input order.
type BatchDownloadResult struct {
	Downloaded []DownloadResult
	Failures   []DownloadFailure
}

// DownloadMany downloads reqs with bounded concurrency. One failing item
// never stops the others.
func (o *Orchestrator) DownloadMany(ctx context.Context, reqs []DownloadRequest) BatchDownloadResult {
	results := make([]DownloadResult, len(reqs))
	errs := make([]error, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.opts.DownloadWorkers)
	for i, req := range reqs {
		g.Go(func() error {
			h := o.Download(ctx, req.RemotePath, req.LocalPath)
			if err := h.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					h.Cancel()
					<-h.Done()
				}
				errs[i] = err
				return nil
			}
			results[i] = h.Result()
			return nil
		})
	}
	g.Wait()

	var out BatchDownloadResult
	for i := range reqs {
		if errs[i] != nil {
			out.Failures = append(out.Failures, DownloadFailure{Request: reqs[i], Err: errs[i]})
			continue
		}
		out.Downloaded = append(out.Downloaded, results[i])
	}
	return out
}
