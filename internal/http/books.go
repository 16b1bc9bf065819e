package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

// BooksController exposes remote books: downloads, links and deletion.
type BooksController struct {
	transfers Transfers
}

func NewBooksController(transfers Transfers) *BooksController {
	return &BooksController{transfers: transfers}
}

// DownloadResponse describes a finished download.
type DownloadResponse struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Bytes      int64  `json:"bytes"`
	Hash       string `json:"hash"`
}

func newDownloadResponse(r transfer.DownloadResult) DownloadResponse {
	return DownloadResponse{
		RemotePath: r.RemotePath,
		LocalPath:  r.LocalPath,
		Bytes:      r.Bytes,
		Hash:       r.Hash.String(),
	}
}

// Download handles POST /api/books/:id/download
// The transfer continues after the response unless ?wait=true is given.
func (bc *BooksController) Download(c *gin.Context) {
	id := c.Param("id")
	handle, err := bc.transfers.DownloadBook(c.Request.Context(), id)
	if err != nil {
		respondSyncError(c, err, "download book")
		return
	}

	if c.Query("wait") != "true" {
		respondAccepted(c, "download started", gin.H{"document_id": id})
		return
	}

	if err := handle.Wait(c.Request.Context()); err != nil {
		respondSyncError(c, err, "download book")
		return
	}
	c.JSON(http.StatusOK, newDownloadResponse(handle.Result()))
}

type batchDownloadItem struct {
	RemotePath string `json:"remote_path" binding:"required"`
	LocalPath  string `json:"local_path" binding:"required"`
}

type batchDownloadRequest struct {
	Items []batchDownloadItem `json:"items" binding:"required,min=1,dive"`
}

type downloadFailureResponse struct {
	RemotePath string `json:"remote_path"`
	LocalPath  string `json:"local_path"`
	Error      string `json:"error"`
}

// DownloadMany handles POST /api/downloads
func (bc *BooksController) DownloadMany(c *gin.Context) {
	var req batchDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "items with remote_path and local_path are required")
		return
	}

	reqs := make([]transfer.DownloadRequest, 0, len(req.Items))
	for _, item := range req.Items {
		reqs = append(reqs, transfer.DownloadRequest{RemotePath: item.RemotePath, LocalPath: item.LocalPath})
	}

	batch := bc.transfers.DownloadMany(c.Request.Context(), reqs)

	downloaded := make([]DownloadResponse, 0, len(batch.Downloaded))
	for _, d := range batch.Downloaded {
		downloaded = append(downloaded, newDownloadResponse(d))
	}
	failures := make([]downloadFailureResponse, 0, len(batch.Failures))
	for _, f := range batch.Failures {
		failures = append(failures, downloadFailureResponse{
			RemotePath: f.Request.RemotePath,
			LocalPath:  f.Request.LocalPath,
			Error:      errString(f.Err),
		})
	}

	status := http.StatusOK
	if len(downloaded) == 0 && len(failures) > 0 {
		status = http.StatusBadGateway
	}
	c.JSON(status, gin.H{"downloaded": downloaded, "failures": failures})
}

// DownloadURL handles GET /api/download-url?filename=...
func (bc *BooksController) DownloadURL(c *gin.Context) {
	filename := c.Query("filename")
	if filename == "" {
		respondBadRequest(c, "filename is required")
		return
	}

	url, err := bc.transfers.GetDownloadURL(c.Request.Context(), filename)
	if err != nil {
		respondSyncError(c, err, "download url")
		return
	}
	c.JSON(http.StatusOK, gin.H{"filename": filename, "url": url})
}

// Delete handles DELETE /api/books/:id
func (bc *BooksController) Delete(c *gin.Context) {
	if err := bc.transfers.DeleteBook(c.Request.Context(), c.Param("id")); err != nil {
		respondSyncError(c, err, "delete book")
		return
	}
	respondSuccess(c, "book deleted")
}
