// Package metastore defines the remote metadata database: collections of
// JSON-like documents that can be written, queried, partially updated and
// observed.
//
// # Usage
//
//	store := metastore.NewMemoryStore(clockwork.NewRealClock())
//	err := store.Write(ctx, "books", id, metastore.Document{OwnerID: uid, Data: fields})
//	docs, err := store.Query(ctx, metastore.Filter{Collection: "books", OwnerID: uid})
//	unsubscribe := store.Subscribe(filter, func(docs []metastore.Document) { ... })
//	defer unsubscribe()
package metastore

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"time"
)

// DeletedField is the update key that toggles Document.Deleted.
const DeletedField = "deleted"

var ErrNotFound = errors.New("document not found")

// Document is one record in a collection.
type Document struct {
	Collection string         `json:"collection"`
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	Data       map[string]any `json:"data"`
	Deleted    bool           `json:"deleted"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Filter selects documents of one collection. Fields are compared for
// equality against top-level keys of Data. Deleted documents are excluded
// unless IncludeDeleted or OnlyDeleted is set.
type Filter struct {
	Collection     string
	OwnerID        string
	Fields         map[string]any
	IncludeDeleted bool
	OnlyDeleted    bool
}

// Store is the remote metadata database.
type Store interface {
	// Write creates or fully replaces a document
	Write(ctx context.Context, collection, id string, doc Document) error

	// Query returns documents matching the filter, oldest update first
	Query(ctx context.Context, filter Filter) ([]Document, error)

	// Update merges fields into an existing document's data
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Subscribe calls onChange with the full matching set once right away
	// and again whenever that set changes, until unsubscribe is called
	Subscribe(filter Filter, onChange func([]Document)) (unsubscribe func())
}

// Matches reports whether doc is selected by f.
func (f Filter) Matches(doc Document) bool {
	if f.Collection != "" && doc.Collection != f.Collection {
		return false
	}
	if f.OwnerID != "" && doc.OwnerID != f.OwnerID {
		return false
	}
	switch {
	case f.OnlyDeleted && !doc.Deleted:
		return false
	case !f.OnlyDeleted && !f.IncludeDeleted && doc.Deleted:
		return false
	}
	if len(f.Fields) == 0 {
		return true
	}
	want := normalize(f.Fields)
	have := normalize(doc.Data)
	for k, v := range want {
		if !reflect.DeepEqual(have[k], v) {
			return false
		}
	}
	return true
}

// normalize brings values to their JSON shape so that int64(5) and
// float64(5) compare equal.
func normalize(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return m
	}
	return out
}

// Clone returns a deep copy of doc.
func (d Document) Clone() Document {
	d.Data = normalize(d.Data)
	return d
}

// changeKey identifies one version of a document for change detection.
type changeKey struct {
	id        string
	updatedAt int64
	deleted   bool
}

func signature(docs []Document) []changeKey {
	keys := make([]changeKey, len(docs))
	for i, d := range docs {
		keys[i] = changeKey{id: d.Collection + "/" + d.ID, updatedAt: d.UpdatedAt.UnixNano(), deleted: d.Deleted}
	}
	return keys
}

func sameSignature(a, b []changeKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
