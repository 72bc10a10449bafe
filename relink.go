package cellgraph

import (
	"context"
	"fmt"
)

// Relink is what a write to a link cell did to the foreign key column the
// link shares with its symmetric field.
type Relink struct {
	// ManyTable holds the foreign key column, which points into OneTable.
	ManyTable       string
	OneTable        string
	ForeignKeyField string
	// Children are the rows of ManyTable whose foreign key may have moved,
	// with its current value. ForeignKey is empty for unlinked rows.
	Children []ForeignKeyRow
	// Parents are the rows of OneTable that gained or lost children.
	Parents []string
}

// Relink resolves the rows on both sides of a write to link on roots.
// symmetric is the paired field in the foreign table and may be nil.
//
// For a ManyOne write the children are the roots, and the parents are the
// roots' old links plus their current foreign keys. For a OneMany write the
// parents are the roots plus the previous parents of the rows they took
// over, read from those rows' symmetric cells; the children are the roots'
// current and old links.
func (r *Resolver) Relink(ctx context.Context, link, symmetric *Field, roots []TableRef, dbNames map[string]string) (*Relink, error) {
	rl := &Relink{ForeignKeyField: link.Options.DBForeignKeyName}
	if rl.ForeignKeyField == "" {
		return nil, fmt.Errorf("%w: link %s has no foreign key", ErrSchemaMismatch, link.ID)
	}
	children := newStringSet()
	parents := newStringSet()

	switch link.Options.Relationship {
	case ManyOne:
		rl.ManyTable, rl.OneTable = dbNames[link.TableID], dbNames[link.Options.ForeignTableID]
		for _, root := range roots {
			children.add(root.ID)
			for _, id := range root.OldLinks {
				parents.add(id)
			}
		}

	case OneMany:
		rl.ManyTable, rl.OneTable = dbNames[link.Options.ForeignTableID], dbNames[link.TableID]
		ids := make([]string, 0, len(roots))
		for _, root := range roots {
			ids = append(ids, root.ID)
			parents.add(root.ID)
		}
		current, err := r.rows.RowsByForeignKey(ctx, rl.ManyTable, rl.ForeignKeyField, ids)
		if err != nil {
			return nil, fmt.Errorf("cellgraph: relink %s: %w", link.ID, err)
		}
		for _, row := range current {
			children.add(row.ID)
		}

		if symmetric != nil && len(children.list) > 0 {
			recs, err := r.rows.Records(ctx, rl.ManyTable, children.list)
			if err != nil {
				return nil, fmt.Errorf("cellgraph: relink %s: %w", link.ID, err)
			}
			for _, rec := range recs {
				for _, id := range LinkIDs(DecodeCell(symmetric, rec.Fields[symmetric.ID])) {
					parents.add(id)
				}
			}
		}
		for _, root := range roots {
			for _, id := range root.OldLinks {
				children.add(id)
			}
		}

	default:
		return nil, fmt.Errorf("%w: link %s has unknown relationship %q", ErrSchemaMismatch, link.ID, link.Options.Relationship)
	}
	if rl.ManyTable == "" || rl.OneTable == "" {
		return nil, fmt.Errorf("%w: link %s has no foreign table", ErrSchemaMismatch, link.ID)
	}

	fks, err := r.rows.ForeignKeys(ctx, rl.ManyTable, rl.ForeignKeyField, children.list)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: relink %s: %w", link.ID, err)
	}
	current := make(map[string]string, len(fks))
	for _, row := range fks {
		current[row.ID] = row.ForeignKey
	}
	for _, id := range children.list {
		rl.Children = append(rl.Children, ForeignKeyRow{ID: id, ForeignKey: current[id]})
		parents.add(current[id])
	}
	rl.Parents = parents.list

	r.log.DebugContext(ctx, "resolved relinked rows",
		"field", link.ID, "children", len(rl.Children), "parents", len(rl.Parents))
	return rl, nil
}
