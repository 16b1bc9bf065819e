package transfer

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/syncerr"
)

// DeleteBook marks the current user's book documentID as deleted and
// removes its blob and cover. Local copies are cleaned up by whoever
// watches deletions on the metadata store.
func (o *Orchestrator) DeleteBook(ctx context.Context, documentID string) error {
	userID, ok := o.identity.CurrentUserID()
	if !ok {
		return &syncerr.NotAuthenticatedError{Op: "delete"}
	}

	docs, err := o.metadata.Query(ctx, metastore.Filter{
		Collection: entities.CollectionBooks,
		OwnerID:    userID,
		Fields:     map[string]any{"id": documentID},
	})
	if err != nil {
		return syncerr.Transfer("lookup book", documentID, err)
	}
	if len(docs) == 0 {
		return fmt.Errorf("book %s: %w", documentID, metastore.ErrNotFound)
	}
	book, err := entities.BookDocumentFromFields(docs[0].Data)
	if err != nil {
		return err
	}

	err = o.metadata.Update(ctx, entities.CollectionBooks, documentID, map[string]any{metastore.DeletedField: true})
	if err != nil {
		return syncerr.Transfer("delete metadata", documentID, err)
	}

	var errs error
	for _, p := range []string{book.BlobPath, book.CoverPath} {
		if p == "" {
			continue
		}
		if err := o.blobs.Delete(ctx, p); err != nil {
			errs = multierr.Append(errs, syncerr.Transfer("delete blob", p, err))
		}
	}

	log.WithFields(log.Fields{"op": "delete", "document": documentID, "file": book.Path}).Info("[DELETE] Book deleted")
	return errs
}
