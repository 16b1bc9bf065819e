package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// Collections in the remote metadata store.
const (
	CollectionBooks       = "books"
	CollectionCollections = "collections"
)

// BookDocument is the remote metadata record describing an uploaded book.
type BookDocument struct {
	ID           string    `json:"id"`
	OwnerID      string    `json:"owner_id"`
	Title        string    `json:"title"`
	Author       string    `json:"author,omitempty"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	ContentHash  string    `json:"content_hash,omitempty"`
	BlobPath     string    `json:"blob_path"`
	CoverPath    string    `json:"cover_path,omitempty"`
	CollectionID string    `json:"collection_id,omitempty"`
	Deleted      bool      `json:"deleted"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// Fields flattens the document into the generic field map stored by the
// metadata backends.
func (b BookDocument) Fields() (map[string]any, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal book document: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal book fields: %w", err)
	}
	return fields, nil
}

// BookDocumentFromFields is the inverse of Fields.
func BookDocumentFromFields(fields map[string]any) (BookDocument, error) {
	var b BookDocument
	raw, err := json.Marshal(fields)
	if err != nil {
		return b, fmt.Errorf("marshal book fields: %w", err)
	}
	if err := json.Unmarshal(raw, &b); err != nil {
		return b, fmt.Errorf("unmarshal book document: %w", err)
	}
	return b, nil
}
