// Package localfs implements storage.BlobStore on a directory. It backs
// development setups and tests; production deployments use s3 or dropbox.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/miroshar-success/book-adapter-epub/internal/libraryfs"
	"github.com/miroshar-success/book-adapter-epub/internal/storage"
)

// Store keeps blobs as plain files.
type Store struct {
	fs      afero.Fs
	baseURL string

	// serializes the existence check and the rename in Put
	mu sync.Mutex
}

// New creates a store on fs. Download URLs are baseURL joined with the
// object path; with an empty baseURL they are file:// URLs.
func New(fs afero.Fs, baseURL string) *Store {
	return &Store{fs: fs, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// NewOS creates a store rooted at dir on the real filesystem.
func NewOS(dir, baseURL string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), baseURL), nil
}

func cleanPath(p string) (string, error) {
	clean := path.Clean("/" + p)[1:]
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid blob path %q", p)
	}
	return clean, nil
}

func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) Stat(ctx context.Context, p string) (*storage.ObjectInfo, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(clean)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, storage.ErrNotFound
	}
	return &storage.ObjectInfo{
		Path:        clean,
		Size:        info.Size(),
		ContentType: storage.ContentType(clean),
		ModifiedAt:  info.ModTime(),
	}, nil
}

func (s *Store) Put(ctx context.Context, p string, r io.Reader, size int64, contentType string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.fs.Stat(clean); err == nil {
		return "", storage.ErrAlreadyExists
	}

	n, err := libraryfs.WriteFileAtomic(ctx, s.fs, clean, r)
	if err != nil {
		return "", err
	}
	if size >= 0 && n != size {
		s.fs.Remove(clean)
		return "", fmt.Errorf("short write to %s: got %d of %d bytes", clean, n, size)
	}
	return s.DownloadURL(ctx, clean)
}

func (s *Store) DownloadURL(ctx context.Context, p string) (string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if s.baseURL == "" {
		return "file:///" + clean, nil
	}
	return s.baseURL + "/" + clean, nil
}

func (s *Store) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, err
	}
	f, err := s.fs.Open(clean)
	if errors.Is(err, os.ErrNotExist) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *Store) Delete(ctx context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return err
	}
	err = s.fs.Remove(clean)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
