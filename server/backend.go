package main

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meikuraledutech/cellgraph"
	"github.com/meikuraledutech/cellgraph/postgres"
	"github.com/meikuraledutech/cellgraph/sqlite"
)

// backend is the storage the HTTP handlers run against.
type backend interface {
	cellgraph.ReferenceStore
	cellgraph.FieldCatalog
	cellgraph.RowStore

	CreateSchema(ctx context.Context) error
	DropSchema(ctx context.Context) error
	CreateTable(ctx context.Context, t *cellgraph.Table) error
	GetTable(ctx context.Context, tableID string) (*cellgraph.Table, error)
	CreateField(ctx context.Context, f *cellgraph.Field) error
	GetField(ctx context.Context, fieldID string) (*cellgraph.Field, error)
	ListFields(ctx context.Context, tableID string) ([]*cellgraph.Field, error)
	DeleteField(ctx context.Context, fieldID string) error
	InsertRecord(ctx context.Context, tableID, recordID string) error
	SetCell(ctx context.Context, recordID, fieldID string, value any) error
	ApplyChanges(ctx context.Context, changes []cellgraph.Change) error

	// Tx runs fn against a backend bound to one transaction.
	Tx(ctx context.Context, fn func(b backend) error) error
}

type pgBackend struct {
	*postgres.PGStore
}

func (b pgBackend) Tx(ctx context.Context, fn func(b backend) error) error {
	return b.InTx(ctx, func(tx *postgres.PGStore) error {
		return fn(pgBackend{tx})
	})
}

type sqliteBackend struct {
	*sqlite.Store
}

func (b sqliteBackend) Tx(ctx context.Context, fn func(b backend) error) error {
	return b.InTx(ctx, func(tx *sqlite.Store) error {
		return fn(sqliteBackend{tx})
	})
}

// openBackend picks SQLite for "sqlite:" URLs and PostgreSQL otherwise.
func openBackend(ctx context.Context, url string) (backend, func(), error) {
	if dsn, ok := strings.CutPrefix(url, "sqlite:"); ok {
		s, err := sqlite.Open(dsn)
		if err != nil {
			return nil, nil, err
		}
		s.DB().SetMaxOpenConns(1)
		return sqliteBackend{s}, func() { s.Close() }, nil
	}

	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	return pgBackend{postgres.New(pool)}, pool.Close, nil
}
