// Package sqlite implements the cellgraph collaborators on SQLite through
// database/sql. It is the embedded backend for tests and local runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/meikuraledutech/cellgraph"
)

// DriverName is the database/sql driver registered by modernc.org/sqlite.
const DriverName = "sqlite"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements cellgraph.ReferenceStore, cellgraph.FieldCatalog and
// cellgraph.RowStore on a *sql.DB.
type Store struct {
	db *sql.DB
	q  querier
}

// New creates a Store backed by db.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Open opens a SQLite database. Use "file:name?mode=memory&cache=shared"
// for an in-memory database shared by the pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: open sqlite: %w", err)
	}
	return New(db), nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// InTx runs fn with a store bound to a single transaction. The transaction
// is committed when fn returns nil and rolled back otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cellgraph: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cellgraph: commit: %w", err)
	}
	return nil
}

// ident quotes a physical table or column name.
func ident(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// placeholders returns "?, ?, ?" for n arguments and the arguments as []any.
func placeholders(ids []string) (string, []any) {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", "), args
}

// wrapErr maps missing table and column errors to cellgraph.ErrSchemaMismatch.
func wrapErr(op string, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") {
		return fmt.Errorf("%w: %s: %s", cellgraph.ErrSchemaMismatch, op, msg)
	}
	return fmt.Errorf("cellgraph: %s: %w", op, err)
}
