package cellgraph

import (
	"context"
	"errors"
)

var (
	ErrCycleDetected  = errors.New("cellgraph: cycle detected, reference graph is not acyclic")
	ErrSchemaMismatch = errors.New("cellgraph: schema mismatch between field catalog and storage")
	ErrFieldNotFound  = errors.New("cellgraph: field not found")
	ErrTableNotFound  = errors.New("cellgraph: table not found")
	ErrRecordNotFound = errors.New("cellgraph: record not found")
)

// ReferenceStore persists the field reference graph.
type ReferenceStore interface {
	// AddReference inserts an edge, rejecting it with ErrCycleDetected if the
	// graph would no longer be acyclic.
	AddReference(ctx context.Context, ref Reference) error
	RemoveReference(ctx context.Context, ref Reference) error
	ListReferences(ctx context.Context) ([]Reference, error)

	// Closure returns every edge reachable from fieldID by following
	// ToFieldID, plus every other edge pointing into a reached field.
	// Edges are returned in insertion order.
	Closure(ctx context.Context, fieldID string) ([]Reference, error)
}

// FieldCatalog describes tables and fields.
type FieldCatalog interface {
	// Fields returns the requested fields keyed by id. Unknown ids are
	// absent from the map.
	Fields(ctx context.Context, ids []string) (map[string]*Field, error)
	// DBTableNames maps table ids to physical table names.
	DBTableNames(ctx context.Context, tableIDs []string) (map[string]string, error)
}

// ForeignKeyRow is a row id paired with the value of one foreign key column.
type ForeignKeyRow struct {
	ID         string
	ForeignKey string
}

// RowStore reads physical rows. Implementations return ErrSchemaMismatch
// (wrapped) when a table or column does not exist.
type RowStore interface {
	// ForeignKeys returns the foreign key value of each row in ids that has one.
	ForeignKeys(ctx context.Context, dbTableName, fkColumn string, ids []string) ([]ForeignKeyRow, error)
	// RowsByForeignKey returns the rows whose fkColumn is one of parentIDs.
	RowsByForeignKey(ctx context.Context, dbTableName, fkColumn string, parentIDs []string) ([]ForeignKeyRow, error)
	// Records returns row payloads keyed by field id.
	Records(ctx context.Context, dbTableName string, ids []string) ([]*Record, error)
}
