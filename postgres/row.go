package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meikuraledutech/cellgraph"
)

// ForeignKeys implements cellgraph.RowStore.
func (s *PGStore) ForeignKeys(ctx context.Context, dbTableName, fkColumn string, ids []string) ([]cellgraph.ForeignKeyRow, error) {
	sql := fmt.Sprintf(`SELECT "__id", %[2]s FROM %[1]s WHERE "__id" = ANY($1) AND %[2]s IS NOT NULL ORDER BY "__id"`,
		ident(dbTableName), ident(fkColumn))
	return s.queryForeignKeys(ctx, sql, ids)
}

// RowsByForeignKey implements cellgraph.RowStore.
func (s *PGStore) RowsByForeignKey(ctx context.Context, dbTableName, fkColumn string, parentIDs []string) ([]cellgraph.ForeignKeyRow, error) {
	sql := fmt.Sprintf(`SELECT "__id", %[2]s FROM %[1]s WHERE %[2]s = ANY($1) ORDER BY "__id"`,
		ident(dbTableName), ident(fkColumn))
	return s.queryForeignKeys(ctx, sql, parentIDs)
}

func (s *PGStore) queryForeignKeys(ctx context.Context, sql string, ids []string) ([]cellgraph.ForeignKeyRow, error) {
	rows, err := s.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, wrapErr("query foreign keys", err)
	}
	defer rows.Close()

	out := []cellgraph.ForeignKeyRow{}
	for rows.Next() {
		var r cellgraph.ForeignKeyRow
		if err := rows.Scan(&r.ID, &r.ForeignKey); err != nil {
			return nil, fmt.Errorf("cellgraph: scan foreign key: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("rows foreign keys", err)
	}
	return out, nil
}

// Records implements cellgraph.RowStore. Columns prefixed with "__" are
// system columns and are not returned as fields.
func (s *PGStore) Records(ctx context.Context, dbTableName string, ids []string) ([]*cellgraph.Record, error) {
	rows, err := s.db.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE "__id" = ANY($1) ORDER BY "__id"`, ident(dbTableName)), ids)
	if err != nil {
		return nil, wrapErr("query records", err)
	}
	defer rows.Close()

	cols := rows.FieldDescriptions()
	out := []*cellgraph.Record{}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("cellgraph: scan record: %w", err)
		}
		rec := &cellgraph.Record{Fields: make(map[string]any)}
		for i, col := range cols {
			switch {
			case col.Name == "__id":
				rec.ID, _ = values[i].(string)
			case strings.HasPrefix(col.Name, "__"):
			case values[i] != nil:
				rec.Fields[col.Name] = values[i]
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("rows records", err)
	}
	return out, nil
}

// InsertRecord creates an empty row in a table.
func (s *PGStore) InsertRecord(ctx context.Context, tableID, recordID string) error {
	t, err := s.GetTable(ctx, tableID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: %s", cellgraph.ErrTableNotFound, tableID)
	}
	if _, err := s.db.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s ("__id") VALUES ($1)`, ident(t.DBTableName)), recordID,
	); err != nil {
		return wrapErr("insert record", err)
	}
	return nil
}

// SetCell writes a plain cell value. Setting a link also updates the foreign
// key column: the row's own for ManyOne, the listed rows' for OneMany.
func (s *PGStore) SetCell(ctx context.Context, recordID, fieldID string, value any) error {
	f, err := s.GetField(ctx, fieldID)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: %s", cellgraph.ErrFieldNotFound, fieldID)
	}
	t, err := s.GetTable(ctx, f.TableID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("%w: %s", cellgraph.ErrTableNotFound, f.TableID)
	}

	value = cellgraph.DecodeCell(f, value)
	if err := s.updateCell(ctx, t.DBTableName, recordID, f.ID, value); err != nil {
		return err
	}
	if f.Type == cellgraph.FieldLink && f.Options.Relationship == cellgraph.ManyOne {
		var fk any
		if lv, ok := value.(cellgraph.LinkValue); ok {
			fk = lv.ID
		}
		if _, err := s.db.Exec(ctx,
			fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE "__id" = $2`, ident(t.DBTableName), ident(f.Options.DBForeignKeyName)),
			fk, recordID,
		); err != nil {
			return wrapErr("update foreign key", err)
		}
	}
	if f.Type == cellgraph.FieldLink && f.Options.Relationship == cellgraph.OneMany {
		return s.setChildren(ctx, f, recordID, cellgraph.LinkIDs(value))
	}
	return nil
}

// setChildren points the foreign key of exactly the given rows at recordID.
func (s *PGStore) setChildren(ctx context.Context, f *cellgraph.Field, recordID string, children []string) error {
	foreign, err := s.GetTable(ctx, f.Options.ForeignTableID)
	if err != nil {
		return err
	}
	if foreign == nil {
		return fmt.Errorf("%w: %s", cellgraph.ErrTableNotFound, f.Options.ForeignTableID)
	}
	table, fk := ident(foreign.DBTableName), ident(f.Options.DBForeignKeyName)
	if _, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE %s = $1`, table, fk, fk), recordID,
	); err != nil {
		return wrapErr("clear foreign keys", err)
	}
	if len(children) == 0 {
		return nil
	}
	if _, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE "__id" = ANY($2)`, table, fk), recordID, children,
	); err != nil {
		return wrapErr("set foreign keys", err)
	}
	return nil
}

// ApplyChanges writes a changeset. Run it inside InTx together with the
// write that produced it.
func (s *PGStore) ApplyChanges(ctx context.Context, changes []cellgraph.Change) error {
	tables := make(map[string]string)
	for _, c := range changes {
		if _, ok := tables[c.TableID]; ok {
			continue
		}
		t, err := s.GetTable(ctx, c.TableID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("%w: %s", cellgraph.ErrTableNotFound, c.TableID)
		}
		tables[c.TableID] = t.DBTableName
	}

	for _, c := range changes {
		if err := s.updateCell(ctx, tables[c.TableID], c.RecordID, c.FieldID, c.NewValue); err != nil {
			return err
		}
	}
	return nil
}

func (s *PGStore) updateCell(ctx context.Context, dbTableName, recordID, fieldID string, value any) error {
	// pgx passes strings to jsonb parameters verbatim, so encode first.
	var arg any
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cellgraph: encode cell %s: %w", fieldID, err)
		}
		arg = string(b)
	}
	ct, err := s.db.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = $1 WHERE "__id" = $2`, ident(dbTableName), ident(fieldID)),
		arg, recordID,
	)
	if err != nil {
		return wrapErr("update cell", err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s in %s", cellgraph.ErrRecordNotFound, recordID, dbTableName)
	}
	return nil
}
