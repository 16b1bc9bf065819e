// Package storage defines the remote blob store used for book files and
// cover images, plus the deterministic layout of objects inside it.
package storage

import (
	"context"
	"errors"
	"io"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/miroshar-success/book-adapter-epub/internal/utils"
)

var (
	// ErrNotFound is returned by Stat and Open for missing objects.
	ErrNotFound = errors.New("blob not found")
	// ErrAlreadyExists is returned by Put when the path is occupied.
	// Stores never overwrite an existing object.
	ErrAlreadyExists = errors.New("blob already exists")
)

// ObjectInfo contains metadata about a stored object.
type ObjectInfo struct {
	Path        string
	Size        int64
	ContentType string
	ModifiedAt  time.Time
	ContentHash string // Provider-specific content hash (if available)
}

// BlobStore defines the interface for remote object storage.
type BlobStore interface {
	// Exists checks if an object exists at path
	Exists(ctx context.Context, path string) (bool, error)

	// Stat retrieves object info without downloading content
	Stat(ctx context.Context, path string) (*ObjectInfo, error)

	// Put writes size bytes from r to a new object and returns its URL
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)

	// DownloadURL returns a URL a client can fetch the object from
	DownloadURL(ctx context.Context, path string) (string, error)

	// Open streams the object content
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes the object; deleting a missing object is not an error
	Delete(ctx context.Context, path string) error
}

// BlobPath returns the object path of a book file owned by ownerID. The
// whole library-relative path is kept so that equal names in different
// folders map to different objects.
func BlobPath(ownerID, filename string) string {
	return path.Join("books", ownerID, objectKey(filename))
}

// CoverPath returns the object path of a book's cover image. ext is the
// image extension without the dot.
func CoverPath(ownerID, filename, ext string) string {
	return path.Join("covers", ownerID, objectKey(filename)+"."+strings.TrimPrefix(ext, "."))
}

// objectKey sanitizes every segment of a library-relative path. Empty and
// dot segments are dropped so the key never escapes its owner prefix.
func objectKey(filename string) string {
	cleaned := path.Clean("/" + filepath.ToSlash(filename))
	var segments []string
	for _, seg := range strings.Split(cleaned, "/") {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		segments = append(segments, utils.SanitizeFilename(seg))
	}
	if len(segments) == 0 {
		return utils.SanitizeFilename("")
	}
	return strings.Join(segments, "/")
}

var bookContentTypes = map[string]string{
	".epub":       "application/epub+zip",
	".kepub.epub": "application/epub+zip",
	".pdf":        "application/pdf",
	".mobi":       "application/x-mobipocket-ebook",
	".azw":        "application/vnd.amazon.ebook",
	".azw3":       "application/vnd.amazon.ebook",
	".fb2":        "application/x-fictionbook+xml",
	".fb2.zip":    "application/zip",
	".djvu":       "image/vnd.djvu",
	".txt":        "text/plain; charset=utf-8",
}

// ContentType guesses the MIME type of filename.
func ContentType(filename string) string {
	if ct, ok := bookContentTypes[strings.ToLower(utils.BookExtension(filename))]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
