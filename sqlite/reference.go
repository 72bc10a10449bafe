package sqlite

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/cellgraph"
)

// AddReference inserts an edge, rejecting it if it would create a cycle.
// Adding an existing edge is a no-op.
func (s *Store) AddReference(ctx context.Context, ref cellgraph.Reference) error {
	if ref.FromFieldID == ref.ToFieldID {
		return cellgraph.ErrCycleDetected
	}
	refs, err := s.ListReferences(ctx)
	if err != nil {
		return err
	}
	if err := cellgraph.ValidateAcyclic(append(refs, ref)); err != nil {
		return err
	}

	if _, err := s.q.ExecContext(ctx,
		`INSERT OR IGNORE INTO cellgraph_references (from_field_id, to_field_id) VALUES (?, ?)`,
		ref.FromFieldID, ref.ToFieldID,
	); err != nil {
		return fmt.Errorf("cellgraph: insert reference: %w", err)
	}
	return nil
}

// RemoveReference deletes an edge. No error if it doesn't exist.
func (s *Store) RemoveReference(ctx context.Context, ref cellgraph.Reference) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM cellgraph_references WHERE from_field_id = ? AND to_field_id = ?`,
		ref.FromFieldID, ref.ToFieldID,
	); err != nil {
		return fmt.Errorf("cellgraph: delete reference: %w", err)
	}
	return nil
}

// ListReferences returns all edges in insertion order.
func (s *Store) ListReferences(ctx context.Context) ([]cellgraph.Reference, error) {
	return s.queryReferences(ctx, "list references",
		`SELECT from_field_id, to_field_id FROM cellgraph_references ORDER BY seq`)
}

const closureSQL = `
WITH RECURSIVE reached(field_id) AS (
    SELECT ?
    UNION
    SELECT r.to_field_id
    FROM cellgraph_references r
    JOIN reached ON r.from_field_id = reached.field_id
)
SELECT r.from_field_id, r.to_field_id
FROM cellgraph_references r
WHERE r.to_field_id IN (SELECT field_id FROM reached)
ORDER BY r.seq`

// Closure implements cellgraph.ReferenceStore.
func (s *Store) Closure(ctx context.Context, fieldID string) ([]cellgraph.Reference, error) {
	return s.queryReferences(ctx, "closure", closureSQL, fieldID)
}

func (s *Store) queryReferences(ctx context.Context, op, query string, args ...any) ([]cellgraph.Reference, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: %s: %w", op, err)
	}
	defer rows.Close()

	refs := []cellgraph.Reference{}
	for rows.Next() {
		var r cellgraph.Reference
		if err := rows.Scan(&r.FromFieldID, &r.ToFieldID); err != nil {
			return nil, fmt.Errorf("cellgraph: scan reference: %w", err)
		}
		refs = append(refs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cellgraph: rows references: %w", err)
	}
	return refs, nil
}
