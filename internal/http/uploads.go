package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/tasks"
	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

// UploadsController exposes the upload protocol.
type UploadsController struct {
	transfers Transfers
	queue     QueueLister
	tasks     TaskClient
}

func NewUploadsController(transfers Transfers, queue QueueLister, taskClient TaskClient) *UploadsController {
	return &UploadsController{transfers: transfers, queue: queue, tasks: taskClient}
}

// UploadRequest is the body of POST /api/uploads.
type UploadRequest struct {
	Filepath     string `json:"filepath" binding:"required"`
	Title        string `json:"title,omitempty"`
	Author       string `json:"author,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	// Async hands the upload to the task queue when one is configured.
	Async bool `json:"async,omitempty"`
}

type filepathRequest struct {
	Filepath string `json:"filepath" binding:"required"`
}

// UploadResponse describes a finished upload.
type UploadResponse struct {
	Filepath   string `json:"filepath"`
	DocumentID string `json:"document_id"`
	BlobPath   string `json:"blob_path"`
	CoverPath  string `json:"cover_path,omitempty"`
	CoverError string `json:"cover_error,omitempty"`
	Resumed    bool   `json:"resumed"`
}

func newUploadResponse(res *transfer.UploadResult) UploadResponse {
	return UploadResponse{
		Filepath:   res.Filepath,
		DocumentID: res.DocumentID,
		BlobPath:   res.BlobPath,
		CoverPath:  res.CoverPath,
		CoverError: errString(res.CoverErr),
		Resumed:    res.Resumed,
	}
}

// ResumeOutcomeResponse is one replayed queue entry.
type ResumeOutcomeResponse struct {
	Filepath string          `json:"filepath"`
	Result   *UploadResponse `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// PendingUpload is a queue entry as exposed by the API.
type PendingUpload struct {
	Filepath           string    `json:"filepath"`
	Title              string    `json:"title"`
	Author             string    `json:"author,omitempty"`
	ContentHash        string    `json:"content_hash"`
	DocumentID         string    `json:"document_id,omitempty"`
	IsDocumentUploaded bool      `json:"is_document_uploaded"`
	IsFileUploaded     bool      `json:"is_file_uploaded"`
	Attempts           int       `json:"attempts"`
	LastError          string    `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func newPendingUpload(e entities.UploadQueueEntry) PendingUpload {
	return PendingUpload{
		Filepath:           e.Filepath,
		Title:              e.Title,
		Author:             e.Author,
		ContentHash:        e.ContentHash.String(),
		DocumentID:         e.DocumentID,
		IsDocumentUploaded: e.IsDocumentUploaded,
		IsFileUploaded:     e.IsFileUploaded,
		Attempts:           e.Attempts,
		LastError:          e.LastError,
		CreatedAt:          e.CreatedAt,
	}
}

// Upload handles POST /api/uploads
func (uc *UploadsController) Upload(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "filepath is required")
		return
	}

	if req.Async && uc.tasks != nil {
		ids, err := uc.tasks.Enqueue(c.Request.Context(), tasks.UploadBookTask{
			Filepath:     req.Filepath,
			Title:        req.Title,
			Author:       req.Author,
			CollectionID: req.CollectionID,
		})
		if err != nil {
			respondInternalError(c, err, "enqueue upload")
			return
		}
		log.Printf("[HTTP] Queued upload of %s as task %s", req.Filepath, ids[0])
		respondAccepted(c, "upload enqueued", gin.H{"task_id": ids[0]})
		return
	}

	res, err := uc.transfers.Upload(c.Request.Context(), transfer.UploadRequest{
		Filepath:     req.Filepath,
		Title:        req.Title,
		Author:       req.Author,
		CollectionID: req.CollectionID,
	})
	if err != nil {
		respondSyncError(c, err, "upload")
		return
	}
	c.JSON(http.StatusCreated, newUploadResponse(res))
}

// ListPending handles GET /api/uploads
func (uc *UploadsController) ListPending(c *gin.Context) {
	entries, err := uc.queue.ListPending(c.Request.Context())
	if err != nil {
		respondInternalError(c, err, "list pending uploads")
		return
	}

	pending := make([]PendingUpload, 0, len(entries))
	for _, e := range entries {
		pending = append(pending, newPendingUpload(e))
	}
	c.JSON(http.StatusOK, gin.H{"uploads": pending, "total": len(pending)})
}

// Resume handles POST /api/uploads/resume
func (uc *UploadsController) Resume(c *gin.Context) {
	var req filepathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "filepath is required")
		return
	}

	res, err := uc.transfers.Resume(c.Request.Context(), req.Filepath)
	if err != nil {
		respondSyncError(c, err, "resume upload")
		return
	}
	c.JSON(http.StatusOK, newUploadResponse(res))
}

// Replay handles POST /api/uploads/replay
// With a task queue the replay runs in the background.
func (uc *UploadsController) Replay(c *gin.Context) {
	if uc.tasks != nil {
		ids, err := uc.tasks.Enqueue(c.Request.Context(), tasks.ReplayUploadsTask{})
		if err != nil {
			respondInternalError(c, err, "enqueue replay")
			return
		}
		respondAccepted(c, "replay enqueued", gin.H{"task_id": ids[0]})
		return
	}

	outcomes, err := uc.transfers.ResumePending(c.Request.Context())
	if err != nil {
		respondSyncError(c, err, "replay uploads")
		return
	}

	resp := make([]ResumeOutcomeResponse, 0, len(outcomes))
	failed := 0
	for _, o := range outcomes {
		item := ResumeOutcomeResponse{Filepath: o.Filepath, Error: errString(o.Err)}
		if o.Result != nil {
			r := newUploadResponse(o.Result)
			item.Result = &r
		}
		if o.Err != nil {
			failed++
		}
		resp = append(resp, item)
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": resp, "failed": failed})
}

// Cancel handles POST /api/uploads/cancel
func (uc *UploadsController) Cancel(c *gin.Context) {
	var req filepathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "filepath is required")
		return
	}

	if err := uc.transfers.CancelUpload(c.Request.Context(), req.Filepath); err != nil {
		respondSyncError(c, err, "cancel upload")
		return
	}
	respondSuccess(c, "upload cancelled")
}
