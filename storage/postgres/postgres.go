// Package postgres implements the chunkmap relational store on PostgreSQL.
//
// Store accepts an externally-owned *pgxpool.Pool via constructor injection.
// The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"
)

// Store is a storage.RelationalStore backed by PostgreSQL.
// Bulk writes go through COPY inside a transaction that first clears the
// rows being replaced.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Option configures a PostgreSQL Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

var _ storage.RelationalStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{pool: pool, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Init creates the chunk and mapping tables.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context, schema storage.Schema) error {
	if err := storage.ValidateSchema(schema); err != nil {
		return err
	}

	var ddl []string
	for _, table := range schema.ChunkTables {
		ddl = append(ddl, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT NOT NULL,
			chunk_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (document_id, chunk_id)
		)`, pgx.Identifier{table}.Sanitize()))
	}
	ddl = append(ddl, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		document_id TEXT NOT NULL,
		child_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL,
		version TEXT NOT NULL,
		PRIMARY KEY (document_id, version, child_id)
	)`, pgx.Identifier{schema.MappingTable}.Sanitize()))

	for _, stmt := range ddl {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: create table: %w", err)
		}
	}
	return nil
}

// ProcessedIDs returns the distinct document ids in scope.Table, restricted to
// scope.Version when it is set.
func (s *Store) ProcessedIDs(ctx context.Context, scope storage.Scope) ([]core.DocumentID, error) {
	if err := storage.ValidateTable(scope.Table); err != nil {
		return nil, err
	}
	table := pgx.Identifier{scope.Table}.Sanitize()

	var (
		rows pgx.Rows
		err  error
	)
	if scope.Version != "" {
		rows, err = s.pool.Query(ctx,
			fmt.Sprintf(`SELECT DISTINCT document_id FROM %s WHERE version = $1`, table), scope.Version)
	} else {
		rows, err = s.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT document_id FROM %s`, table))
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: processed ids: %w", err)
	}
	defer rows.Close()

	var ids []core.DocumentID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan document id: %w", err)
		}
		ids = append(ids, core.DocumentID(id))
	}
	return ids, rows.Err()
}

// InsertChunks replaces the rows of every document in chunks with chunks.
func (s *Store) InsertChunks(ctx context.Context, table string, chunks ...core.Chunk) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	docs := distinctDocuments(len(chunks), func(i int) core.DocumentID { return chunks[i].DocumentID })
	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		rows[i] = []any{string(c.DocumentID), c.ChunkID, c.Text}
	}

	return s.copyReplacing(ctx, table,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = ANY($1)`, pgx.Identifier{table}.Sanitize()),
		[]any{docs},
		[]string{"document_id", "chunk_id", "text"}, rows)
}

// InsertMappings replaces the rows of every (document, version) pair in rows with rows.
func (s *Store) InsertMappings(ctx context.Context, table string, mappings ...core.ChunkMapping) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}

	seen := make(map[core.ChunkMapping]struct{})
	var docs, versions []string
	rows := make([][]any, len(mappings))
	for i, m := range mappings {
		rows[i] = []any{string(m.DocumentID), m.ChildID, m.ParentID, m.Version}
		pair := core.ChunkMapping{DocumentID: m.DocumentID, Version: m.Version}
		if _, ok := seen[pair]; !ok {
			seen[pair] = struct{}{}
			docs = append(docs, string(m.DocumentID))
			versions = append(versions, m.Version)
		}
	}

	return s.copyReplacing(ctx, table,
		fmt.Sprintf(`DELETE FROM %s WHERE (document_id, version) IN (SELECT * FROM unnest($1::text[], $2::text[]))`,
			pgx.Identifier{table}.Sanitize()),
		[]any{docs, versions},
		[]string{"document_id", "child_id", "parent_id", "version"}, rows)
}

// DeleteDocument removes every row of id from table.
func (s *Store) DeleteDocument(ctx context.Context, table string, id core.DocumentID) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, pgx.Identifier{table}.Sanitize()), string(id))
	if err != nil {
		return fmt.Errorf("postgres: delete document: %w", err)
	}
	s.logger.Debug("postgres: delete document", "table", table, "document_id", id, "rows", tag.RowsAffected())
	return nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error {
	return nil
}

func (s *Store) copyReplacing(ctx context.Context, table, deleteSQL string, deleteArgs []any, columns []string, rows [][]any) error {
	start := time.Now()
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, deleteSQL, deleteArgs...); err != nil {
		return fmt.Errorf("postgres: clear rows: %w", err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("postgres: copy into %s: %w", table, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	s.logger.Debug("postgres: copy committed", "table", table, "rows", n, "duration", time.Since(start))
	return nil
}

func distinctDocuments(n int, at func(int) core.DocumentID) []string {
	seen := make(map[core.DocumentID]struct{})
	var docs []string
	for i := 0; i < n; i++ {
		id := at(i)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		docs = append(docs, string(id))
	}
	return docs
}
