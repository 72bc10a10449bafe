package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/meikuraledutech/cellgraph"
)

// CreateTable registers a table and creates its physical table.
func (s *Store) CreateTable(ctx context.Context, t *cellgraph.Table) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.DBTableName == "" {
		t.DBTableName = "tbl_" + t.ID
	}

	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO cellgraph_tables (id, name, db_table_name) VALUES (?, ?, ?)`,
		t.ID, t.Name, t.DBTableName,
	); err != nil {
		return fmt.Errorf("cellgraph: insert table: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s ("__id" TEXT PRIMARY KEY)`, ident(t.DBTableName)),
	); err != nil {
		return fmt.Errorf("cellgraph: create table %s: %w", t.DBTableName, err)
	}
	return nil
}

// GetTable fetches a table by its ID. Returns nil, nil if not found.
func (s *Store) GetTable(ctx context.Context, tableID string) (*cellgraph.Table, error) {
	var t cellgraph.Table
	err := s.q.QueryRowContext(ctx,
		`SELECT id, name, db_table_name FROM cellgraph_tables WHERE id = ?`, tableID,
	).Scan(&t.ID, &t.Name, &t.DBTableName)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("cellgraph: get table: %w", err)
	}
	return &t, nil
}

// DBTableNames implements cellgraph.FieldCatalog.
func (s *Store) DBTableNames(ctx context.Context, tableIDs []string) (map[string]string, error) {
	names := make(map[string]string, len(tableIDs))
	if len(tableIDs) == 0 {
		return names, nil
	}
	in, args := placeholders(tableIDs)
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, db_table_name FROM cellgraph_tables WHERE id IN (`+in+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: table names: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("cellgraph: scan table: %w", err)
		}
		names[id] = name
	}
	return names, rows.Err()
}

// CreateField registers a field, adds its columns and inserts the
// references it depends on.
func (s *Store) CreateField(ctx context.Context, f *cellgraph.Field) error {
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

	opts, err := json.Marshal(f.Options)
	if err != nil {
		return fmt.Errorf("cellgraph: encode options: %w", err)
	}
	if _, err := s.q.ExecContext(ctx,
		`INSERT INTO cellgraph_fields (id, table_id, name, type, options) VALUES (?, ?, ?, ?, ?)`,
		f.ID, f.TableID, f.Name, string(f.Type), string(opts),
	); err != nil {
		return fmt.Errorf("cellgraph: insert field: %w", err)
	}

	if _, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, ident(t.DBTableName), ident(f.ID)),
	); err != nil {
		return wrapErr("add column", err)
	}
	if f.Type == cellgraph.FieldLink && f.Options.Relationship == cellgraph.ManyOne {
		if _, err := s.q.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s TEXT`, ident(t.DBTableName), ident(f.Options.DBForeignKeyName)),
		); err != nil {
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

// GetField fetches a field by its ID. Returns nil, nil if not found.
func (s *Store) GetField(ctx context.Context, fieldID string) (*cellgraph.Field, error) {
	fields, err := s.Fields(ctx, []string{fieldID})
	if err != nil {
		return nil, err
	}
	return fields[fieldID], nil
}

// Fields implements cellgraph.FieldCatalog.
func (s *Store) Fields(ctx context.Context, ids []string) (map[string]*cellgraph.Field, error) {
	fields := make(map[string]*cellgraph.Field, len(ids))
	if len(ids) == 0 {
		return fields, nil
	}
	in, args := placeholders(ids)
	list, err := s.queryFields(ctx,
		`SELECT id, table_id, name, type, options FROM cellgraph_fields WHERE id IN (`+in+`) ORDER BY seq`, args...)
	if err != nil {
		return nil, err
	}
	for _, f := range list {
		fields[f.ID] = f
	}
	return fields, nil
}

// ListFields returns all fields of a table in creation order.
func (s *Store) ListFields(ctx context.Context, tableID string) ([]*cellgraph.Field, error) {
	return s.queryFields(ctx,
		`SELECT id, table_id, name, type, options FROM cellgraph_fields WHERE table_id = ? ORDER BY seq`, tableID)
}

// DeleteField removes a field and every reference touching it.
func (s *Store) DeleteField(ctx context.Context, fieldID string) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM cellgraph_references WHERE from_field_id = ? OR to_field_id = ?`, fieldID, fieldID,
	); err != nil {
		return fmt.Errorf("cellgraph: delete field references: %w", err)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM cellgraph_fields WHERE id = ?`, fieldID); err != nil {
		return fmt.Errorf("cellgraph: delete field: %w", err)
	}
	return nil
}

func (s *Store) queryFields(ctx context.Context, query string, args ...any) ([]*cellgraph.Field, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: query fields: %w", err)
	}
	defer rows.Close()

	fields := []*cellgraph.Field{}
	for rows.Next() {
		var f cellgraph.Field
		var typ, opts string
		if err := rows.Scan(&f.ID, &f.TableID, &f.Name, &typ, &opts); err != nil {
			return nil, fmt.Errorf("cellgraph: scan field: %w", err)
		}
		f.Type = cellgraph.FieldType(typ)
		if err := json.Unmarshal([]byte(opts), &f.Options); err != nil {
			return nil, fmt.Errorf("cellgraph: decode options of %s: %w", f.ID, err)
		}
		fields = append(fields, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cellgraph: rows fields: %w", err)
	}
	return fields, nil
}
