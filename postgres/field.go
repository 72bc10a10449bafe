package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meikuraledutech/cellgraph"
)

// CreateTable registers a table and creates its physical table.
// If t.ID is empty, a UUID is auto-generated; DBTableName defaults to
// "tbl_" plus the id.
func (s *PGStore) CreateTable(ctx context.Context, t *cellgraph.Table) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.DBTableName == "" {
		t.DBTableName = "tbl_" + t.ID
	}

	if _, err := s.db.Exec(ctx,
		`INSERT INTO cellgraph_tables (id, name, db_table_name) VALUES ($1, $2, $3)`,
		t.ID, t.Name, t.DBTableName,
	); err != nil {
		return fmt.Errorf("cellgraph: insert table: %w", err)
	}
	if _, err := s.db.Exec(ctx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("__id" TEXT PRIMARY KEY)`, ident(t.DBTableName)),
	); err != nil {
		return fmt.Errorf("cellgraph: create table %s: %w", t.DBTableName, err)
	}
	return nil
}

// GetTable fetches a table by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetTable(ctx context.Context, tableID string) (*cellgraph.Table, error) {
	var t cellgraph.Table
	err := s.db.QueryRow(ctx,
		`SELECT id, name, db_table_name FROM cellgraph_tables WHERE id = $1`, tableID,
	).Scan(&t.ID, &t.Name, &t.DBTableName)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cellgraph: get table: %w", err)
	}
	return &t, nil
}

// DBTableNames implements cellgraph.FieldCatalog.
func (s *PGStore) DBTableNames(ctx context.Context, tableIDs []string) (map[string]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, db_table_name FROM cellgraph_tables WHERE id = ANY($1)`, tableIDs)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: table names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]string, len(tableIDs))
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("cellgraph: scan table: %w", err)
		}
		names[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cellgraph: rows tables: %w", err)
	}
	return names, nil
}

// CreateField registers a field, adds its column (and foreign key column
// for ManyOne links) and inserts the references it depends on.
// If f.ID is empty, a UUID is auto-generated.
func (s *PGStore) CreateField(ctx context.Context, f *cellgraph.Field) error {
	if f.ID == "" {
		f.ID = "fld" + uuid.NewString()
	}
	if f.Type == cellgraph.FieldLink && f.Options.DBForeignKeyName == "" {
		f.Options.DBForeignKeyName = cellgraph.ForeignKeyName(f.ID)
	}

	t, err := s.GetTable(ctx, f.TableID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: %s", cellgraph.ErrTableNotFound, f.TableID)
	}

	if _, err := s.db.Exec(ctx,
		`INSERT INTO cellgraph_fields (id, table_id, name, type, options) VALUES ($1, $2, $3, $4, $5)`,
		f.ID, f.TableID, f.Name, string(f.Type), f.Options,
	); err != nil {
		return fmt.Errorf("cellgraph: insert field: %w", err)
	}

	if _, err := s.db.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s JSONB`,
		ident(t.DBTableName), ident(f.ID))); err != nil {
		return wrapErr("add column", err)
	}
	if f.Type == cellgraph.FieldLink && f.Options.Relationship == cellgraph.ManyOne {
		if _, err := s.db.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s TEXT`,
			ident(t.DBTableName), ident(f.Options.DBForeignKeyName))); err != nil {
			return wrapErr("add foreign key column", err)
		}
	}

	for _, ref := range cellgraph.FieldReferences(f) {
		if err := s.AddReference(ctx, ref); err != nil {
			return err
		}
	}
	return nil
}

// GetField fetches a single field by its ID.
// Returns nil, nil if not found.
func (s *PGStore) GetField(ctx context.Context, fieldID string) (*cellgraph.Field, error) {
	fields, err := s.Fields(ctx, []string{fieldID})
	if err != nil {
		return nil, err
	}
	return fields[fieldID], nil
}

// Fields implements cellgraph.FieldCatalog.
func (s *PGStore) Fields(ctx context.Context, ids []string) (map[string]*cellgraph.Field, error) {
	return s.queryFields(ctx,
		`SELECT id, table_id, name, type, options FROM cellgraph_fields WHERE id = ANY($1)`, ids)
}

// ListFields returns all fields of a table, ordered by created_at.
func (s *PGStore) ListFields(ctx context.Context, tableID string) ([]*cellgraph.Field, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, table_id, name, type, options FROM cellgraph_fields WHERE table_id = $1 ORDER BY created_at`, tableID)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: list fields: %w", err)
	}
	defer rows.Close()

	fields := []*cellgraph.Field{}
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cellgraph: rows fields: %w", err)
	}
	return fields, nil
}

// DeleteField removes a field from the catalog. Its references are
// cascade-deleted by the DB; the physical column is kept.
// No error if the field doesn't exist.
func (s *PGStore) DeleteField(ctx context.Context, fieldID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM cellgraph_fields WHERE id = $1`, fieldID); err != nil {
		return fmt.Errorf("cellgraph: delete field: %w", err)
	}
	return nil
}

func (s *PGStore) queryFields(ctx context.Context, sql string, args ...any) (map[string]*cellgraph.Field, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: query fields: %w", err)
	}
	defer rows.Close()

	fields := make(map[string]*cellgraph.Field)
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields[f.ID] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cellgraph: rows fields: %w", err)
	}
	return fields, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanField(row scanner) (*cellgraph.Field, error) {
	var f cellgraph.Field
	var typ string
	if err := row.Scan(&f.ID, &f.TableID, &f.Name, &typ, &f.Options); err != nil {
		return nil, fmt.Errorf("cellgraph: scan field: %w", err)
	}
	f.Type = cellgraph.FieldType(typ)
	return &f, nil
}
