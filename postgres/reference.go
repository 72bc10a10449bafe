package postgres

import (
	"context"
	"fmt"

	"github.com/meikuraledutech/cellgraph"
)

// AddReference inserts an edge into the reference graph.
// Validates that adding this edge does not create a cycle.
// Adding an existing edge is a no-op.
func (s *PGStore) AddReference(ctx context.Context, ref cellgraph.Reference) error {
	if ref.FromFieldID == ref.ToFieldID {
		return cellgraph.ErrCycleDetected
	}

	// Fetch existing edges for cycle detection.
	refs, err := s.ListReferences(ctx)
	if err != nil {
		return err
	}
	refs = append(refs, ref)
	if err := cellgraph.ValidateAcyclic(refs); err != nil {
		return err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO cellgraph_references (from_field_id, to_field_id) VALUES ($1, $2)
		 ON CONFLICT (from_field_id, to_field_id) DO NOTHING`,
		ref.FromFieldID, ref.ToFieldID,
	)
	if err != nil {
		return fmt.Errorf("cellgraph: insert reference: %w", err)
	}
	return nil
}

// RemoveReference deletes an edge.
// No error if the edge doesn't exist.
func (s *PGStore) RemoveReference(ctx context.Context, ref cellgraph.Reference) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM cellgraph_references WHERE from_field_id = $1 AND to_field_id = $2`,
		ref.FromFieldID, ref.ToFieldID,
	)
	if err != nil {
		return fmt.Errorf("cellgraph: delete reference: %w", err)
	}
	return nil
}

// ListReferences returns all edges in insertion order.
// Returns an empty slice (not nil) if none found.
func (s *PGStore) ListReferences(ctx context.Context) ([]cellgraph.Reference, error) {
	return s.queryReferences(ctx, "list references",
		`SELECT from_field_id, to_field_id FROM cellgraph_references ORDER BY seq`)
}

// closureSQL walks descendants of $1 and returns every edge that points into
// a reached field, so ancestors of a reached field are included too.
const closureSQL = `
WITH RECURSIVE reached(field_id) AS (
    SELECT $1::text
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
func (s *PGStore) Closure(ctx context.Context, fieldID string) ([]cellgraph.Reference, error) {
	return s.queryReferences(ctx, "closure", closureSQL, fieldID)
}

func (s *PGStore) queryReferences(ctx context.Context, op, sql string, args ...any) ([]cellgraph.Reference, error) {
	rows, err := s.db.Query(ctx, sql, args...)
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
