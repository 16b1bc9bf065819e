// Package syncerr defines the error kinds surfaced by the library sync core.
//
// Every kind carries a short human-readable message through Error() and
// keeps the underlying cause reachable through Unwrap, so callers can match
// with errors.As while diagnostics still see the original failure.
package syncerr

import (
	"errors"
	"fmt"
)

// NotAuthenticatedError is returned when an operation needs a signed-in user.
type NotAuthenticatedError struct {
	Op string
}

func (e *NotAuthenticatedError) Error() string {
	if e.Op == "" {
		return "not signed in"
	}
	return fmt.Sprintf("%s: not signed in", e.Op)
}

// DuplicateContentError means the same book is already stored remotely.
// Nothing was written when it is returned.
type DuplicateContentError struct {
	Filepath   string
	DocumentID string
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("%q is already in your library", e.Filepath)
}

// FileAlreadyExistsError means the target blob path is occupied.
type FileAlreadyExistsError struct {
	Path string
}

func (e *FileAlreadyExistsError) Error() string {
	return fmt.Sprintf("a file already exists at %q", e.Path)
}

// NoCoverImageError is non-fatal: the book is uploaded without a cover.
type NoCoverImageError struct {
	Filepath string
	Err      error
}

func (e *NoCoverImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("no cover image in %q: %v", e.Filepath, e.Err)
	}
	return fmt.Sprintf("no cover image in %q", e.Filepath)
}

func (e *NoCoverImageError) Unwrap() error { return e.Err }

// TransferError wraps a network or backend failure during a metadata or
// blob operation. The upload queue entry stays in place for a retry.
type TransferError struct {
	Op   string
	Path string
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%s %q failed: %v", e.Op, e.Path, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }

// FilesystemError wraps a local read/write/delete failure.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

// Transfer wraps err as a TransferError unless it is nil or already one of
// the typed kinds.
func Transfer(op, path string, err error) error {
	if err == nil || isTyped(err) {
		return err
	}
	return &TransferError{Op: op, Path: path, Err: err}
}

// Filesystem wraps err as a FilesystemError unless it is nil or already typed.
func Filesystem(op, path string, err error) error {
	if err == nil || isTyped(err) {
		return err
	}
	return &FilesystemError{Op: op, Path: path, Err: err}
}

// IsRetryable reports whether a later retry of the same operation may
// succeed without user intervention.
func IsRetryable(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// Code returns a stable machine-readable code for err, or "internal".
func Code(err error) string {
	var (
		na  *NotAuthenticatedError
		dup *DuplicateContentError
		ex  *FileAlreadyExistsError
		nc  *NoCoverImageError
		te  *TransferError
		fe  *FilesystemError
	)
	switch {
	case errors.As(err, &na):
		return "not_authenticated"
	case errors.As(err, &dup):
		return "duplicate_content"
	case errors.As(err, &ex):
		return "file_already_exists"
	case errors.As(err, &nc):
		return "no_cover_image"
	case errors.As(err, &te):
		return "transfer_failed"
	case errors.As(err, &fe):
		return "filesystem_error"
	default:
		return "internal"
	}
}

func isTyped(err error) bool {
	return Code(err) != "internal"
}
