package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/reconcile"
	"github.com/miroshar-success/book-adapter-epub/internal/tasks"
)

// LibraryController reports and repairs the local library state.
type LibraryController struct {
	files      FileLister
	queue      QueueLister
	reconciler LibraryReconciler
	progress   map[entities.SyncType]ProgressReader
	tasks      TaskClient
}

func NewLibraryController(files FileLister, queue QueueLister, reconciler LibraryReconciler, progress map[entities.SyncType]ProgressReader, taskClient TaskClient) *LibraryController {
	return &LibraryController{
		files:      files,
		queue:      queue,
		reconciler: reconciler,
		progress:   progress,
		tasks:      taskClient,
	}
}

// FileResponse is a tracked local file.
type FileResponse struct {
	Filepath           string    `json:"filepath"`
	ContentHash        string    `json:"content_hash"`
	IsDocumentUploaded bool      `json:"is_document_uploaded"`
	IsFileUploaded     bool      `json:"is_file_uploaded"`
	IsDownloaded       bool      `json:"is_downloaded"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func newFileResponse(rec entities.LocalFileRecord) FileResponse {
	return FileResponse{
		Filepath:           rec.Filepath,
		ContentHash:        rec.ContentHash.String(),
		IsDocumentUploaded: rec.IsDocumentUploaded,
		IsFileUploaded:     rec.IsFileUploaded,
		IsDownloaded:       rec.IsDownloaded,
		UpdatedAt:          rec.UpdatedAt,
	}
}

// ReconcileResponse describes what a library reconcile changed.
type ReconcileResponse struct {
	Cleared    []string            `json:"cleared"`
	Discovered []string            `json:"discovered"`
	Collected  []string            `json:"collected"`
	Failures   []map[string]string `json:"failures,omitempty"`
}

func newReconcileResponse(r reconcile.LibraryReport) ReconcileResponse {
	resp := ReconcileResponse{
		Cleared:    nonNil(r.Cleared),
		Discovered: nonNil(r.Discovered),
		Collected:  nonNil(r.Collected),
	}
	for _, f := range r.Failures {
		resp.Failures = append(resp.Failures, map[string]string{"filepath": f.Filepath, "error": errString(f.Err)})
	}
	return resp
}

// StatusResponse summarizes the sync state of the library.
type StatusResponse struct {
	TrackedFiles   int   `json:"tracked_files"`
	Downloaded     int   `json:"downloaded"`
	Uploaded       int   `json:"uploaded"`
	PendingUploads int64 `json:"pending_uploads"`

	Syncs map[entities.SyncType]*entities.SyncProgress `json:"syncs"`
}

// ListFiles handles GET /api/files
func (lc *LibraryController) ListFiles(c *gin.Context) {
	records, err := lc.files.ListAll(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "list files")
		return
	}

	files := make([]FileResponse, 0, len(records))
	for _, rec := range records {
		files = append(files, newFileResponse(rec))
	}
	c.JSON(http.StatusOK, gin.H{"files": files, "total": len(files)})
}

// GetFile handles GET /api/files/*filepath
func (lc *LibraryController) GetFile(c *gin.Context) {
	fp := c.Param("filepath")
	if len(fp) > 0 && fp[0] == '/' {
		fp = fp[1:]
	}
	if fp == "" {
		respondBadRequest(c, "filepath is required")
		return
	}

	rec, err := lc.files.Get(c.Request.Context(), fp)
	if err != nil {
		respondInternalError(c, err, "get file")
		return
	}
	if rec == nil {
		respondNotFound(c, "file")
		return
	}
	c.JSON(http.StatusOK, newFileResponse(*rec))
}

// Reconcile handles POST /api/library/reconcile
func (lc *LibraryController) Reconcile(c *gin.Context) {
	if lc.tasks != nil && c.Query("wait") != "true" {
		ids, err := lc.tasks.Enqueue(c.Request.Context(), tasks.ReconcileLibraryTask{})
		if err != nil {
			respondInternalError(c, err, "enqueue reconcile")
			return
		}
		respondAccepted(c, "reconcile enqueued", gin.H{"task_id": ids[0]})
		return
	}

	report, err := lc.reconciler.ReconcileLibrary(c.Request.Context())
	if err != nil {
		respondSyncError(c, err, "reconcile library")
		return
	}
	c.JSON(http.StatusOK, newReconcileResponse(report))
}

// CollectOrphans handles POST /api/library/collect
func (lc *LibraryController) CollectOrphans(c *gin.Context) {
	removed, err := lc.reconciler.CollectOrphans(c.Request.Context())
	if err != nil {
		respondSyncError(c, err, "collect orphans")
		return
	}
	c.JSON(http.StatusOK, gin.H{"collected": nonNil(removed)})
}

// Status handles GET /api/status
func (lc *LibraryController) Status(c *gin.Context) {
	ctx := c.Request.Context()

	records, err := lc.files.ListAll(ctx)
	if err != nil {
		respondInternalError(c, err, "status files")
		return
	}
	pending, err := lc.queue.Count(ctx)
	if err != nil {
		respondInternalError(c, err, "status queue")
		return
	}

	resp := StatusResponse{
		TrackedFiles:   len(records),
		PendingUploads: pending,
		Syncs:          make(map[entities.SyncType]*entities.SyncProgress),
	}
	for _, rec := range records {
		if rec.IsDownloaded {
			resp.Downloaded++
		}
		if rec.IsDocumentUploaded && rec.IsFileUploaded {
			resp.Uploaded++
		}
	}

	for syncType, reader := range lc.progress {
		p, err := reader.GetSyncProgress(ctx)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			respondInternalError(c, err, "status progress")
			return
		}
		resp.Syncs[syncType] = p
	}

	c.JSON(http.StatusOK, resp)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
