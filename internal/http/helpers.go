package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
	"github.com/miroshar-success/book-adapter-epub/internal/transfer"
)

// --- Response Types ---

// ErrorResponse is the standard error response format for all API errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`    // machine-readable error code
	Details any    `json:"details,omitempty"` // additional context (validation errors, etc.)
}

// SuccessResponse is a standard success response with optional data.
type SuccessResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// --- Error Response Helpers ---

// respondBadRequest sends a 400 Bad Request response.
func respondBadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: message})
}

// respondNotFound sends a 404 Not Found response.
func respondNotFound(c *gin.Context, resource string) {
	c.JSON(http.StatusNotFound, ErrorResponse{Error: resource + " not found"})
}

// respondInternalError logs the error and sends a 500 Internal Server Error response.
// The actual error is logged but not exposed to the client.
func respondInternalError(c *gin.Context, err error, context string) {
	log.Printf("Internal error (%s): %v", context, err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}

// respondSyncError maps the error kinds of the sync core onto status codes.
// Unknown errors are treated as internal and not exposed.
func respondSyncError(c *gin.Context, err error, context string) {
	if errors.Is(err, metastore.ErrNotFound) {
		respondNotFound(c, "book")
		return
	}
	if errors.Is(err, transfer.ErrNotQueued) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_queued"})
		return
	}

	code := syncerr.Code(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}

	var status int
	switch code {
	case "not_authenticated":
		status = http.StatusUnauthorized
	case "duplicate_content":
		status = http.StatusConflict
		var dup *syncerr.DuplicateContentError
		if errors.As(err, &dup) {
			resp.Details = gin.H{"document_id": dup.DocumentID}
		}
	case "file_already_exists":
		status = http.StatusConflict
	case "transfer_failed":
		status = http.StatusBadGateway
	case "filesystem_error":
		log.Printf("[HTTP] %s: %v", context, err)
		status = http.StatusInternalServerError
	default:
		respondInternalError(c, err, context)
		return
	}
	c.JSON(status, resp)
}

// --- Success Response Helpers ---

// respondSuccess sends a 200 OK response with a message.
func respondSuccess(c *gin.Context, message string) {
	c.JSON(http.StatusOK, SuccessResponse{Message: message})
}

// respondAccepted sends a 202 Accepted response (for async operations).
func respondAccepted(c *gin.Context, message string, data any) {
	c.JSON(http.StatusAccepted, SuccessResponse{Message: message, Data: data})
}

// errString renders err for JSON bodies.
func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
