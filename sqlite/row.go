package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/meikuraledutech/cellgraph"
)

// ForeignKeys implements cellgraph.RowStore.
func (s *Store) ForeignKeys(ctx context.Context, dbTableName, fkColumn string, ids []string) ([]cellgraph.ForeignKeyRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := placeholders(ids)
	query := fmt.Sprintf(`SELECT "__id", %[2]s FROM %[1]s WHERE "__id" IN (%[3]s) AND %[2]s IS NOT NULL ORDER BY "__id"`,
		ident(dbTableName), ident(fkColumn), in)
	return s.queryForeignKeys(ctx, query, args)
}

// RowsByForeignKey implements cellgraph.RowStore.
func (s *Store) RowsByForeignKey(ctx context.Context, dbTableName, fkColumn string, parentIDs []string) ([]cellgraph.ForeignKeyRow, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	in, args := placeholders(parentIDs)
	query := fmt.Sprintf(`SELECT "__id", %[2]s FROM %[1]s WHERE %[2]s IN (%[3]s) ORDER BY "__id"`,
		ident(dbTableName), ident(fkColumn), in)
	return s.queryForeignKeys(ctx, query, args)
}

func (s *Store) queryForeignKeys(ctx context.Context, query string, args []any) ([]cellgraph.ForeignKeyRow, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
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
// system columns and are not returned as fields. Text cells holding JSON
// are decoded; other text is returned as is.
func (s *Store) Records(ctx context.Context, dbTableName string, ids []string) ([]*cellgraph.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	in, args := placeholders(ids)
	rows, err := s.q.QueryContext(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE "__id" IN (%s) ORDER BY "__id"`, ident(dbTableName), in), args...)
	if err != nil {
		return nil, wrapErr("query records", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("cellgraph: columns: %w", err)
	}
	out := []*cellgraph.Record{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("cellgraph: scan record: %w", err)
		}
		rec := &cellgraph.Record{Fields: make(map[string]any)}
		for i, col := range cols {
			switch {
			case col == "__id":
				rec.ID = asString(values[i])
			case strings.HasPrefix(col, "__"):
			case values[i] != nil:
				rec.Fields[col] = decodeValue(values[i])
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("rows records", err)
	}
	return out, nil
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	}
	return fmt.Sprint(v)
}

func decodeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		v = string(t)
	case int64:
		return float64(t)
	}
	s, ok := v.(string)
	if !ok {
		return v
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return s
	}
	return decoded
}

// InsertRecord creates an empty row in a table.
func (s *Store) InsertRecord(ctx context.Context, tableID, recordID string) error {
	t, err := s.table(ctx, tableID)
	if err != nil {
		return err
	}
	if _, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s ("__id") VALUES (?)`, ident(t.DBTableName)), recordID,
	); err != nil {
		return wrapErr("insert record", err)
	}
	return nil
}

// SetCell writes a plain cell value. Setting a link also updates the foreign
// key column: the row's own for ManyOne, the listed rows' for OneMany.
func (s *Store) SetCell(ctx context.Context, recordID, fieldID string, value any) error {
	f, err := s.GetField(ctx, fieldID)
	if err != nil {
		return err
	}
	if f == nil {
		return fmt.Errorf("%w: %s", cellgraph.ErrFieldNotFound, fieldID)
	}
	t, err := s.table(ctx, f.TableID)
	if err != nil {
		return err
	}

	value = cellgraph.DecodeCell(f, value)
	if err := s.updateCell(ctx, t.DBTableName, recordID, f.ID, value); err != nil {
		return err
	}
	if f.Type == cellgraph.FieldLink && f.Options.Relationship == cellgraph.ManyOne {
		var fk sql.NullString
		if lv, ok := value.(cellgraph.LinkValue); ok {
			fk = sql.NullString{String: lv.ID, Valid: true}
		}
		if _, err := s.q.ExecContext(ctx,
			fmt.Sprintf(`UPDATE %s SET %s = ? WHERE "__id" = ?`, ident(t.DBTableName), ident(f.Options.DBForeignKeyName)),
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
func (s *Store) setChildren(ctx context.Context, f *cellgraph.Field, recordID string, children []string) error {
	foreign, err := s.table(ctx, f.Options.ForeignTableID)
	if err != nil {
		return err
	}
	table, fk := ident(foreign.DBTableName), ident(f.Options.DBForeignKeyName)
	if _, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = NULL WHERE %s = ?`, table, fk, fk), recordID,
	); err != nil {
		return wrapErr("clear foreign keys", err)
	}
	if len(children) == 0 {
		return nil
	}
	in, args := placeholders(children)
	if _, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = ? WHERE "__id" IN (%s)`, table, fk, in),
		append([]any{recordID}, args...)...,
	); err != nil {
		return wrapErr("set foreign keys", err)
	}
	return nil
}

// ApplyChanges writes a changeset.
func (s *Store) ApplyChanges(ctx context.Context, changes []cellgraph.Change) error {
	tables := make(map[string]string)
	for _, c := range changes {
		if _, ok := tables[c.TableID]; ok {
			continue
		}
		t, err := s.table(ctx, c.TableID)
		if err != nil {
			return err
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

func (s *Store) table(ctx context.Context, tableID string) (*cellgraph.Table, error) {
	t, err := s.GetTable(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("%w: %s", cellgraph.ErrTableNotFound, tableID)
	}
	return t, nil
}

func (s *Store) updateCell(ctx context.Context, dbTableName, recordID, fieldID string, value any) error {
	var arg sql.NullString
	if value != nil {
		b, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("cellgraph: encode cell %s: %w", fieldID, err)
		}
		arg = sql.NullString{String: string(b), Valid: true}
	}
	res, err := s.q.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET %s = ? WHERE "__id" = ?`, ident(dbTableName), ident(fieldID)),
		arg, recordID,
	)
	if err != nil {
		return wrapErr("update cell", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s in %s", cellgraph.ErrRecordNotFound, recordID, dbTableName)
	}
	return nil
}
