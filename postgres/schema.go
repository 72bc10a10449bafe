package postgres

import "context"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS cellgraph_tables (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL DEFAULT '',
    db_table_name TEXT NOT NULL UNIQUE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS cellgraph_fields (
    id         TEXT PRIMARY KEY,
    table_id   TEXT NOT NULL REFERENCES cellgraph_tables(id) ON DELETE CASCADE,
    name       TEXT NOT NULL DEFAULT '',
    type       TEXT NOT NULL,
    options    JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS cellgraph_references (
    seq           BIGSERIAL,
    from_field_id TEXT NOT NULL REFERENCES cellgraph_fields(id) ON DELETE CASCADE,
    to_field_id   TEXT NOT NULL REFERENCES cellgraph_fields(id) ON DELETE CASCADE,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (from_field_id, to_field_id)
);

CREATE INDEX IF NOT EXISTS idx_cellgraph_fields_table_id ON cellgraph_fields(table_id);
CREATE INDEX IF NOT EXISTS idx_cellgraph_references_to   ON cellgraph_references(to_field_id);
`

// CreateSchema creates the catalog and reference tables if they don't exist.
func (s *PGStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schemaSQL)
	return err
}

// DropSchema drops the catalog and reference tables. Data tables created
// through CreateTable are left in place.
func (s *PGStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS cellgraph_references, cellgraph_fields, cellgraph_tables CASCADE;`)
	return err
}
