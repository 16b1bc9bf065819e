// Package postgres implements metastore.Store on a PostgreSQL JSONB table.
// Field filters use jsonb containment so they can be served by the GIN
// index; subscriptions are polled.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"

	"github.com/miroshar-success/book-adapter-epub/internal/metastore"
	"github.com/miroshar-success/book-adapter-epub/internal/metastore/postgres/migrations"
)

var gooseUpContext = goose.UpContext

// Store is a metastore.Store on PostgreSQL.
type Store struct {
	db     *sql.DB
	clock  clockwork.Clock
	poller *metastore.Poller
}

// Open connects with the pgx driver and applies migrations.
func Open(ctx context.Context, dsn string, pollInterval time.Duration) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("db ping error: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return New(db, clockwork.NewRealClock(), pollInterval), nil
}

// New wraps an open database.
func New(db *sql.DB, clock clockwork.Clock, pollInterval time.Duration) *Store {
	s := &Store{db: db, clock: clock}
	s.poller = metastore.NewPoller(s, clock, pollInterval)
	return s
}

// RunMigrations applies the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, ".")
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

const upsertSQL = `INSERT INTO documents (collection, id, owner_id, data, deleted, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (collection, id) DO UPDATE
SET owner_id = EXCLUDED.owner_id, data = EXCLUDED.data, deleted = EXCLUDED.deleted, updated_at = EXCLUDED.updated_at`

func (s *Store) Write(ctx context.Context, collection, id string, doc metastore.Document) error {
	data := doc.Data
	if data == nil {
		data = map[string]any{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode document %s/%s: %w", collection, id, err)
	}

	_, err = s.db.ExecContext(ctx, upsertSQL, collection, id, doc.OwnerID, raw, doc.Deleted, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("write document %s/%s: %w", collection, id, err)
	}
	return nil
}

// buildQuery renders filter as a parameterized SELECT.
func buildQuery(filter metastore.Filter) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Collection != "" {
		add("collection = $%d", filter.Collection)
	}
	if filter.OwnerID != "" {
		add("owner_id = $%d", filter.OwnerID)
	}
	if len(filter.Fields) > 0 {
		raw, err := json.Marshal(filter.Fields)
		if err != nil {
			return "", nil, fmt.Errorf("encode filter: %w", err)
		}
		add("data @> $%d::jsonb", raw)
	}
	switch {
	case filter.OnlyDeleted:
		where = append(where, "deleted")
	case !filter.IncludeDeleted:
		where = append(where, "NOT deleted")
	}

	q := "SELECT collection, id, owner_id, data, deleted, updated_at FROM documents"
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY updated_at, id"
	return q, args, nil
}

func (s *Store) Query(ctx context.Context, filter metastore.Filter) ([]metastore.Document, error) {
	q, args, err := buildQuery(filter)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", filter.Collection, err)
	}
	defer rows.Close()

	var docs []metastore.Document
	for rows.Next() {
		var (
			doc metastore.Document
			raw []byte
		)
		if err := rows.Scan(&doc.Collection, &doc.ID, &doc.OwnerID, &raw, &doc.Deleted, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("decode document %s/%s: %w", doc.Collection, doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: %w", filter.Collection, err)
	}
	return docs, nil
}

const updateSQL = `UPDATE documents
SET data = data || $3::jsonb, deleted = COALESCE($4, deleted), updated_at = $5
WHERE collection = $1 AND id = $2`

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode update %s/%s: %w", collection, id, err)
	}

	var deleted sql.NullBool
	if v, ok := fields[metastore.DeletedField].(bool); ok {
		deleted = sql.NullBool{Bool: v, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, updateSQL, collection, id, raw, deleted, s.clock.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update document %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return metastore.ErrNotFound
	}
	return nil
}

func (s *Store) Subscribe(filter metastore.Filter, onChange func([]metastore.Document)) func() {
	return s.poller.Subscribe(filter, onChange)
}
