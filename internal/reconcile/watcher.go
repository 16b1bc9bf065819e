package reconcile

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/identity"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
)

const watchTimeout = 2 * time.Minute

// Watcher applies remote deletions of the signed-in user's books as they
// are observed on the metadata store.
type Watcher struct {
	reconciler *Reconciler
	metadata   metastore.Store
	identity   identity.Provider
	onResult   func(Result)

	mu          sync.Mutex
	handled     map[string]time.Time
	unsubscribe func()
}

// NewWatcher creates a stopped watcher. onResult, if set, receives the
// outcome of every reconciliation the watcher runs.
func NewWatcher(r *Reconciler, metadata metastore.Store, onResult func(Result)) *Watcher {
	return &Watcher{
		reconciler: r,
		metadata:   metadata,
		identity:   r.identity,
		onResult:   onResult,
		handled:    make(map[string]time.Time),
	}
}

// Start subscribes to deleted books of the signed-in user. Deletions that
// already exist are reconciled right away.
func (w *Watcher) Start() error {
	userID, ok := w.identity.CurrentUserID()
	if !ok {
		return &syncerr.NotAuthenticatedError{Op: "watch deletions"}
	}

	w.mu.Lock()
	if w.unsubscribe != nil {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	filter := metastore.Filter{
		Collection:  entities.CollectionBooks,
		OwnerID:     userID,
		OnlyDeleted: true,
	}
	unsubscribe := w.metadata.Subscribe(filter, func(docs []metastore.Document) {
		w.handle(userID, docs)
	})

	w.mu.Lock()
	w.unsubscribe = unsubscribe
	w.mu.Unlock()

	log.Printf("[RECONCILE] Watching deletions for %s", userID)
	return nil
}

// Stop ends the subscription. It must not be called from onResult.
func (w *Watcher) Stop() {
	w.mu.Lock()
	unsubscribe := w.unsubscribe
	w.unsubscribe = nil
	w.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (w *Watcher) handle(userID string, docs []metastore.Document) {
	var items []DeletedItem

	w.mu.Lock()
	for _, doc := range docs {
		if seen, ok := w.handled[doc.ID]; ok && !doc.UpdatedAt.After(seen) {
			continue
		}
		w.handled[doc.ID] = doc.UpdatedAt

		book, err := entities.BookDocumentFromFields(doc.Data)
		if err != nil {
			log.WithError(err).WithField("document", doc.ID).Warn("[RECONCILE] Skipping unreadable book document")
			continue
		}
		items = append(items, DeletedItem{DocumentID: doc.ID, Filename: book.Path})
	}
	w.mu.Unlock()

	if len(items) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), watchTimeout)
	defer cancel()

	remainingDocs, err := w.metadata.Query(ctx, metastore.Filter{
		Collection: entities.CollectionBooks,
		OwnerID:    userID,
	})
	if err != nil {
		log.WithError(err).Warn("[RECONCILE] Could not list remaining books, retrying on next change")
		w.forget(items)
		return
	}
	remaining := make([]entities.BookDocument, 0, len(remainingDocs))
	for _, doc := range remainingDocs {
		book, err := entities.BookDocumentFromFields(doc.Data)
		if err != nil {
			continue
		}
		remaining = append(remaining, book)
	}

	result, err := w.reconciler.ReconcileDeletions(ctx, items, remaining)
	if err != nil {
		log.WithError(err).Warn("[RECONCILE] Deletion reconcile aborted")
		w.forget(items)
		return
	}
	if retry := failedItems(items, result.Failures); len(retry) > 0 {
		log.Printf("[RECONCILE] %d deletions failed, retrying on next change", len(retry))
		w.forget(retry)
	}
	if w.onResult != nil {
		w.onResult(result)
	}
}

// forget lets items be picked up again by the next notification.
func (w *Watcher) forget(items []DeletedItem) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, item := range items {
		delete(w.handled, item.DocumentID)
	}
}

// failedItems returns the items whose file is listed in failures.
func failedItems(items []DeletedItem, failures []FileFailure) []DeletedItem {
	if len(failures) == 0 {
		return nil
	}
	failed := make(map[string]bool, len(failures))
	for _, f := range failures {
		failed[f.Filepath] = true
	}
	var out []DeletedItem
	for _, item := range items {
		if failed[normalize(item.Filename)] {
			out = append(out, item)
		}
	}
	return out
}
