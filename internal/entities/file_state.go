package entities

import (
	"bytes"
	"encoding/hex"
	"time"
)

type HashAlgorithm string

const (
	HashAlgorithmSHA256 HashAlgorithm = "sha256"
	HashAlgorithmXXH64  HashAlgorithm = "xxh64"
)

// FileHash is a content fingerprint tagged with the algorithm that produced it.
type FileHash struct {
	Algorithm HashAlgorithm `gorm:"size:16" json:"algorithm"`
	Digest    []byte        `json:"digest"`
}

// Equal reports whether both hashes were produced by the same algorithm
// over the same content.
func (h FileHash) Equal(other FileHash) bool {
	return h.Algorithm == other.Algorithm && bytes.Equal(h.Digest, other.Digest)
}

func (h FileHash) IsZero() bool {
	return h.Algorithm == "" && len(h.Digest) == 0
}

// String renders the hash as "algorithm:hexdigest".
func (h FileHash) String() string {
	if h.IsZero() {
		return ""
	}
	return string(h.Algorithm) + ":" + hex.EncodeToString(h.Digest)
}

// LocalFileRecord tracks the upload/download state of one file under the
// user's library root. Filepath is relative to that root.
type LocalFileRecord struct {
	Filepath           string    `gorm:"primaryKey;size:1024" json:"filepath"`
	ContentHash        FileHash  `gorm:"embedded;embeddedPrefix:hash_" json:"content_hash"`
	IsDocumentUploaded bool      `gorm:"not null;default:false" json:"is_document_uploaded"`
	IsFileUploaded     bool      `gorm:"not null;default:false" json:"is_file_uploaded"`
	IsDownloaded       bool      `gorm:"not null;default:false" json:"is_downloaded"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (LocalFileRecord) TableName() string {
	return "local_files"
}

// IsOrphan reports whether the record no longer describes anything:
// nothing uploaded, nothing on disk and no upload in flight.
func (r LocalFileRecord) IsOrphan(queued bool) bool {
	return !r.IsDocumentUploaded && !r.IsFileUploaded && !r.IsDownloaded && !queued
}

// UploadQueueEntry is the durable marker of an upload that has not yet
// completed both of its phases.
type UploadQueueEntry struct {
	Filepath           string    `gorm:"primaryKey;size:1024" json:"filepath"`
	ContentHash        FileHash  `gorm:"embedded;embeddedPrefix:hash_" json:"content_hash"`
	IsDocumentUploaded bool      `gorm:"not null;default:false" json:"is_document_uploaded"`
	IsFileUploaded     bool      `gorm:"not null;default:false" json:"is_file_uploaded"`
	OwnerID            string    `gorm:"size:128;index" json:"owner_id"`
	Title              string    `gorm:"size:512" json:"title"`
	Author             string    `gorm:"size:256" json:"author,omitempty"`
	CollectionID       string    `gorm:"size:64" json:"collection_id,omitempty"`
	Size               int64     `json:"size"`
	DocumentID         string    `gorm:"size:64" json:"document_id,omitempty"`
	Attempts           int       `gorm:"not null;default:0" json:"attempts"`
	LastError          string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt          time.Time `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (UploadQueueEntry) TableName() string {
	return "upload_queue"
}

// Complete reports whether both upload phases have finished.
func (e UploadQueueEntry) Complete() bool {
	return e.IsDocumentUploaded && e.IsFileUploaded
}
