// Package sqlite implements the chunkmap relational store on pure-Go SQLite.
//
// A single connection is shared by every goroutine, so concurrent writers
// serialize instead of failing with SQLITE_BUSY.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/chunkmap/core"
	"github.com/poiesic/chunkmap/storage"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is a storage.RelationalStore backed by a local SQLite file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ storage.RelationalStore = (*Store)(nil)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New opens the SQLite database at dbPath. Use ":memory:" for a throwaway store.
func New(dbPath string, opts ...StoreOption) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s, nil
}

// Init creates the chunk and mapping tables. Safe to call multiple times.
func (s *Store) Init(ctx context.Context, schema storage.Schema) error {
	if err := storage.ValidateSchema(schema); err != nil {
		return err
	}
	start := time.Now()

	var ddl []string
	for _, table := range schema.ChunkTables {
		ddl = append(ddl, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
			document_id TEXT NOT NULL,
			chunk_id INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (document_id, chunk_id)
		)`, table))
	}
	ddl = append(ddl, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		document_id TEXT NOT NULL,
		child_id INTEGER NOT NULL,
		parent_id INTEGER NOT NULL,
		version TEXT NOT NULL,
		PRIMARY KEY (document_id, version, child_id)
	)`, schema.MappingTable))

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: create table: %w", err)
		}
	}
	s.logger.Debug("sqlite: init completed", "tables", len(ddl), "duration", time.Since(start))
	return nil
}

// ProcessedIDs returns the distinct document ids in scope.Table, restricted to
// scope.Version when it is set.
func (s *Store) ProcessedIDs(ctx context.Context, scope storage.Scope) ([]core.DocumentID, error) {
	if err := storage.ValidateTable(scope.Table); err != nil {
		return nil, err
	}
	start := time.Now()

	var (
		rows *sql.Rows
		err  error
	)
	if scope.Version != "" {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT DISTINCT document_id FROM %q WHERE version = ?`, scope.Table), scope.Version)
	} else {
		rows, err = s.db.QueryContext(ctx,
			fmt.Sprintf(`SELECT DISTINCT document_id FROM %q`, scope.Table))
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: processed ids: %w", err)
	}
	defer rows.Close()

	var ids []core.DocumentID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan document id: %w", err)
		}
		ids = append(ids, core.DocumentID(id))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: processed ids: %w", err)
	}
	s.logger.Debug("sqlite: processed ids", "table", scope.Table, "version", scope.Version,
		"count", len(ids), "duration", time.Since(start))
	return ids, nil
}

// InsertChunks writes chunks to table in one transaction. The previous rows
// of every document in chunks are deleted first, so a rewrite never leaves
// stale chunk ids behind.
func (s *Store) InsertChunks(ctx context.Context, table string, chunks ...core.Chunk) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}

	var stale [][]any
	for i, c := range chunks {
		if i == 0 || c.DocumentID != chunks[i-1].DocumentID {
			stale = append(stale, []any{string(c.DocumentID)})
		}
	}
	rows := make([][]any, len(chunks))
	for i, c := range chunks {
		rows[i] = []any{string(c.DocumentID), c.ChunkID, c.Text}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := execEach(ctx, tx, fmt.Sprintf(`DELETE FROM %q WHERE document_id = ?`, table), stale); err != nil {
			return fmt.Errorf("sqlite: delete stale chunks: %w", err)
		}
		if err := execEach(ctx, tx, fmt.Sprintf(
			`INSERT INTO %q (document_id, chunk_id, text) VALUES (?, ?, ?)`, table), rows); err != nil {
			return fmt.Errorf("sqlite: insert chunks: %w", err)
		}
		return nil
	})
}

// InsertMappings writes rows to table in one transaction. The previous rows of
// every (document, version) pair in rows are deleted first.
func (s *Store) InsertMappings(ctx context.Context, table string, rows ...core.ChunkMapping) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	type docVersion struct {
		id      core.DocumentID
		version string
	}
	seen := make(map[docVersion]struct{})
	var stale [][]any
	values := make([][]any, len(rows))
	for i, m := range rows {
		key := docVersion{m.DocumentID, m.Version}
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			stale = append(stale, []any{string(m.DocumentID), m.Version})
		}
		values[i] = []any{string(m.DocumentID), m.ChildID, m.ParentID, m.Version}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := execEach(ctx, tx, fmt.Sprintf(
			`DELETE FROM %q WHERE document_id = ? AND version = ?`, table), stale); err != nil {
			return fmt.Errorf("sqlite: delete stale mappings: %w", err)
		}
		if err := execEach(ctx, tx, fmt.Sprintf(
			`INSERT INTO %q (document_id, child_id, parent_id, version) VALUES (?, ?, ?, ?)`, table), values); err != nil {
			return fmt.Errorf("sqlite: insert mappings: %w", err)
		}
		return nil
	})
}

// DeleteDocument removes every row of id from table.
func (s *Store) DeleteDocument(ctx context.Context, table string, id core.DocumentID) error {
	if err := storage.ValidateTable(table); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %q WHERE document_id = ?`, table), string(id))
	if err != nil {
		return fmt.Errorf("sqlite: delete document: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Debug("sqlite: delete document", "table", table, "document_id", id, "rows", n)
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	s.logger.Debug("sqlite: write committed", "duration", time.Since(start))
	return nil
}

// execEach runs query once per argument list with a single prepared statement.
func execEach(ctx context.Context, tx *sql.Tx, query string, args [][]any) error {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, a := range args {
		if _, err := stmt.ExecContext(ctx, a...); err != nil {
			return fmt.Errorf("%v: %w", a[0], err)
		}
	}
	return nil
}
