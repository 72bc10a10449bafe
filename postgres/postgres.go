package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/cellgraph"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PGStore implements cellgraph.ReferenceStore, cellgraph.FieldCatalog and
// cellgraph.RowStore using PostgreSQL via pgx.
type PGStore struct {
	db DBTX
}

// New creates a new PGStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// InTx runs fn with a store bound to a single transaction. The transaction
// is committed when fn returns nil and rolled back otherwise.
func (s *PGStore) InTx(ctx context.Context, fn func(tx *PGStore) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("cellgraph: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PGStore{db: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("cellgraph: commit: %w", err)
	}
	return nil
}

// ident quotes a physical table or column name.
func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// wrapErr maps missing table and column errors to cellgraph.ErrSchemaMismatch.
func wrapErr(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42703": // undefined_table, undefined_column
			return fmt.Errorf("%w: %s: %s", cellgraph.ErrSchemaMismatch, op, pgErr.Message)
		}
	}
	return fmt.Errorf("cellgraph: %s: %w", op, err)
}

// isNoRows checks if the error is a "no rows" error from pgx.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
