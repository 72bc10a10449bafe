package cellgraph

import (
	"context"
	"fmt"
	"log/slog"
)

// Resolver expands a field level order into the rows impacted by a write.
type Resolver struct {
	rows RowStore
	log  *slog.Logger
	// fanOut bounds concurrent row queries; zero means unbounded.
	fanOut int
}

// NewResolver creates a Resolver reading rows from rows.
func NewResolver(rows RowStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{rows: rows, log: log}
}

// TableRef is a changed root row addressed by physical table name.
type TableRef struct {
	ID          string
	DBTableName string
	// OldLinks is RecordRef.OldLinks.
	OldLinks []string
}

// knownRows tracks, per physical table, the ordered set of row ids whose
// values have changed so far.
type knownRows map[string]*stringSet

func (k knownRows) add(table, id string) {
	s := k[table]
	if s == nil {
		s = newStringSet()
		k[table] = s
	}
	s.add(id)
}

func (k knownRows) get(table string) []string {
	if s := k[table]; s != nil {
		return s.list
	}
	return nil
}

// AffectedRecordItems walks order and returns every row whose relational
// field value depends on the roots, in discovery order.
//
// For a ManyOne descriptor the rows of DBTableName pointing at an already
// changed row of LinkedTable are emitted with RelationTo set to that row.
// For a OneMany descriptor the parent of every changed child row is emitted
// with SelectIn addressing all of its children.
func (r *Resolver) AffectedRecordItems(ctx context.Context, roots []TableRef, order []RelationDescriptor) ([]AffectedRecordItem, error) {
	return r.affectedRecordItems(ctx, roots, order, nil)
}

// affectedRecordItems also emits the rows of a link write. Descriptors
// reading through the rewritten foreign key get rl's children or parents
// before the regular walk.
func (r *Resolver) affectedRecordItems(ctx context.Context, roots []TableRef, order []RelationDescriptor, rl *Relink) ([]AffectedRecordItem, error) {
	known := knownRows{}
	for _, root := range roots {
		known.add(root.DBTableName, root.ID)
	}

	var items []AffectedRecordItem
	emitted := make(map[itemKey]bool)
	emit := func(it AffectedRecordItem) {
		if emitted[it.key()] {
			return
		}
		emitted[it.key()] = true
		items = append(items, it)
		known.add(it.DBTableName, it.ID)
	}

	for _, d := range order {
		if rl != nil && d.ForeignKeyField == rl.ForeignKeyField {
			switch {
			case d.Relationship == ManyOne && d.DBTableName == rl.ManyTable:
				for _, c := range rl.Children {
					emit(AffectedRecordItem{ID: c.ID, DBTableName: d.DBTableName, FieldID: d.FieldID, RelationTo: c.ForeignKey})
				}
			case d.Relationship == OneMany && d.DBTableName == rl.OneTable:
				for _, p := range rl.Parents {
					emit(AffectedRecordItem{
						ID:          p,
						DBTableName: d.DBTableName,
						FieldID:     d.FieldID,
						SelectIn:    &SelectIn{Table: d.LinkedTable, Column: d.ForeignKeyField},
					})
				}
			}
		}

		parents := known.get(d.LinkedTable)
		if len(parents) == 0 {
			continue
		}

		switch d.Relationship {
		case ManyOne:
			rows, err := r.rows.RowsByForeignKey(ctx, d.DBTableName, d.ForeignKeyField, parents)
			if err != nil {
				return nil, fmt.Errorf("cellgraph: resolve %s: %w", d.FieldID, err)
			}
			for _, parent := range parents {
				for _, row := range rows {
					if row.ForeignKey != parent {
						continue
					}
					emit(AffectedRecordItem{
						ID:          row.ID,
						DBTableName: d.DBTableName,
						FieldID:     d.FieldID,
						RelationTo:  parent,
					})
				}
			}

		case OneMany:
			rows, err := r.rows.ForeignKeys(ctx, d.LinkedTable, d.ForeignKeyField, parents)
			if err != nil {
				return nil, fmt.Errorf("cellgraph: resolve %s: %w", d.FieldID, err)
			}
			byID := make(map[string]string, len(rows))
			for _, row := range rows {
				byID[row.ID] = row.ForeignKey
			}
			for _, child := range parents {
				parent, ok := byID[child]
				if !ok || parent == "" {
					continue
				}
				emit(AffectedRecordItem{
					ID:          parent,
					DBTableName: d.DBTableName,
					FieldID:     d.FieldID,
					SelectIn:    &SelectIn{Table: d.LinkedTable, Column: d.ForeignKeyField},
				})
			}

		default:
			return nil, fmt.Errorf("%w: field %s has unknown relationship %q", ErrSchemaMismatch, d.FieldID, d.Relationship)
		}

		r.log.DebugContext(ctx, "resolved affected rows",
			"field", d.FieldID, "table", d.DBTableName, "relationship", d.Relationship, "total", len(items))
	}

	return items, nil
}
