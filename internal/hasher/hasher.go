// Package hasher computes content fingerprints used to detect re-added books.
package hasher

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/spf13/afero"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
)

// Hasher produces FileHash values with a fixed algorithm.
type Hasher struct {
	algorithm entities.HashAlgorithm
}

// New returns a Hasher for the given algorithm. An empty algorithm selects SHA-256.
func New(algorithm entities.HashAlgorithm) (*Hasher, error) {
	if algorithm == "" {
		algorithm = entities.HashAlgorithmSHA256
	}
	if _, err := newHash(algorithm); err != nil {
		return nil, err
	}
	return &Hasher{algorithm: algorithm}, nil
}

// Algorithm returns the algorithm tag written into every hash.
func (h *Hasher) Algorithm() entities.HashAlgorithm {
	return h.algorithm
}

// Sum hashes an in-memory buffer.
func (h *Hasher) Sum(data []byte) entities.FileHash {
	fn, _ := newHash(h.algorithm)
	fn.Write(data)
	return entities.FileHash{Algorithm: h.algorithm, Digest: fn.Sum(nil)}
}

// HashReader streams r through the hash function.
func (h *Hasher) HashReader(r io.Reader) (entities.FileHash, error) {
	fn, _ := newHash(h.algorithm)
	if _, err := io.Copy(fn, r); err != nil {
		return entities.FileHash{}, fmt.Errorf("hash content: %w", err)
	}
	return entities.FileHash{Algorithm: h.algorithm, Digest: fn.Sum(nil)}, nil
}

// HashFile hashes the file at path on fs.
func (h *Hasher) HashFile(fs afero.Fs, path string) (entities.FileHash, error) {
	f, err := fs.Open(path)
	if err != nil {
		return entities.FileHash{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return h.HashReader(f)
}

// Digest is an incremental hash. It is an io.Writer so it can sit behind
// an io.TeeReader while content streams elsewhere.
type Digest struct {
	algorithm entities.HashAlgorithm
	fn        hash.Hash
}

// NewDigest starts an incremental hash.
func (h *Hasher) NewDigest() *Digest {
	fn, _ := newHash(h.algorithm)
	return &Digest{algorithm: h.algorithm, fn: fn}
}

func (d *Digest) Write(p []byte) (int, error) {
	return d.fn.Write(p)
}

// Sum returns the hash of everything written so far.
func (d *Digest) Sum() entities.FileHash {
	return entities.FileHash{Algorithm: d.algorithm, Digest: d.fn.Sum(nil)}
}

func newHash(algorithm entities.HashAlgorithm) (hash.Hash, error) {
	switch algorithm {
	case entities.HashAlgorithmSHA256:
		return sha256.New(), nil
	case entities.HashAlgorithmXXH64:
		return xxhash.New(), nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", algorithm)
	}
}
