package sqlite

import (
	"context"
	"strings"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cellgraph_tables (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    db_table_name TEXT NOT NULL UNIQUE,
    created_at    TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS cellgraph_fields (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    id         TEXT NOT NULL UNIQUE,
    table_id   TEXT NOT NULL REFERENCES cellgraph_tables(id) ON DELETE CASCADE,
    name       TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL,
    options    TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS cellgraph_references (
    seq           INTEGER PRIMARY KEY AUTOINCREMENT,
    from_field_id TEXT NOT NULL,
    to_field_id   TEXT NOT NULL,
    UNIQUE (from_field_id, to_field_id)
);

CREATE INDEX IF NOT EXISTS idx_cellgraph_fields_table_id ON cellgraph_fields(table_id);
CREATE INDEX IF NOT EXISTS idx_cellgraph_references_from ON cellgraph_references(from_field_id);
CREATE INDEX IF NOT EXISTS idx_cellgraph_references_to   ON cellgraph_references(to_field_id);
`

// CreateSchema creates the catalog and reference tables if they don't exist.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// DropSchema drops the catalog and reference tables.
func (s *Store) DropSchema(ctx context.Context) error {
	for _, t := range []string{"cellgraph_references", "cellgraph_fields", "cellgraph_tables"} {
		if _, err := s.q.ExecContext(ctx, `DROP TABLE IF EXISTS `+t); err != nil {
			return err
		}
	}
	return nil
}
