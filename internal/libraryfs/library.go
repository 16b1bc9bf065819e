// Package libraryfs scopes the local book library to one directory per user
// under an application-owned root.
//
// Every path handed to a Library method is relative to the user's
// directory; paths that would escape it are rejected by afero's BasePathFs.
package libraryfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"

	"github.com/miroshar-success/book-adapter-epub/internal/utils"
)

const tempPrefix = ".partial-"

var ErrNoUser = errors.New("libraryfs: empty user id")

// BookFile is one book found on disk.
type BookFile struct {
	Path string
	Size int64
}

// Library is the local filesystem root shared by all users.
type Library struct {
	fs   afero.Fs
	root string
}

// New returns a library rooted at root on fs.
func New(fs afero.Fs, root string) *Library {
	return &Library{fs: fs, root: root}
}

// NewOS returns a library on the real filesystem.
func NewOS(root string) (*Library, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create library root: %w", err)
	}
	return New(afero.NewOsFs(), root), nil
}

// Root returns the library root directory.
func (l *Library) Root() string {
	return l.root
}

// ForUser returns a filesystem confined to userID's directory, creating
// the directory on first use.
func (l *Library) ForUser(userID string) (afero.Fs, error) {
	if userID == "" || strings.ContainsAny(userID, `/\`) || userID == "." || userID == ".." {
		return nil, ErrNoUser
	}
	dir := filepath.Join(l.root, userID)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create user dir: %w", err)
	}
	return afero.NewBasePathFs(l.fs, dir), nil
}

// Exists reports whether path exists as a regular file.
func (l *Library) Exists(userID, path string) (bool, error) {
	fs, err := l.ForUser(userID)
	if err != nil {
		return false, err
	}
	info, err := fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// Open opens path for reading.
func (l *Library) Open(userID, path string) (afero.File, error) {
	fs, err := l.ForUser(userID)
	if err != nil {
		return nil, err
	}
	return fs.Open(path)
}

// WriteAtomic streams r into path inside the user's directory. See
// WriteFileAtomic.
func (l *Library) WriteAtomic(ctx context.Context, userID, path string, r io.Reader) (int64, error) {
	fs, err := l.ForUser(userID)
	if err != nil {
		return 0, err
	}
	return WriteFileAtomic(ctx, fs, path, r)
}

// WriteFileAtomic streams r into a temporary file next to path and renames
// it into place once the copy finished. On any error, including ctx being
// cancelled, the temporary file is removed and path is left untouched.
func WriteFileAtomic(ctx context.Context, fs afero.Fs, path string, r io.Reader) (int64, error) {
	dir := filepath.Dir(path)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fs, dir, tempPrefix+filepath.Base(path)+"-")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	// BasePathFs reports names with a leading separator.
	tmpPath := filepath.Join(dir, filepath.Base(tmp.Name()))

	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			fs.Remove(tmpPath)
		}
	}()

	n, err := io.Copy(tmp, &contextReader{ctx: ctx, r: r})
	if err != nil {
		return n, err
	}
	if err := tmp.Sync(); err != nil {
		return n, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}
	if err := fs.Rename(tmpPath, path); err != nil {
		return n, fmt.Errorf("rename into place: %w", err)
	}
	committed = true
	return n, nil
}

// Remove deletes path. A missing file is reported as os.ErrNotExist.
func (l *Library) Remove(userID, path string) error {
	fs, err := l.ForUser(userID)
	if err != nil {
		return err
	}
	return fs.Remove(path)
}

// ListBooks walks the user's directory and returns every book file,
// skipping in-progress downloads. Paths are slash-separated and sorted.
func (l *Library) ListBooks(userID string) ([]BookFile, error) {
	fs, err := l.ForUser(userID)
	if err != nil {
		return nil, err
	}

	var books []BookFile
	err = afero.Walk(fs, ".", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), tempPrefix) {
			return nil
		}
		if !utils.IsBookFile(info.Name()) {
			return nil
		}
		books = append(books, BookFile{Path: filepath.ToSlash(path), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}

	sort.Slice(books, func(i, j int) bool { return books[i].Path < books[j].Path })
	return books, nil
}

type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
