package cellgraph

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DependentRecordItems expands every SelectIn item into the child rows it
// aggregates. Siblings of a changed child surface here: they share the
// parent, so the parent's aggregate has to be rebuilt from all of them.
//
// Addresses are queried concurrently and reassembled ordered by table, then
// column, then parent discovery order, then row order.
func (r *Resolver) DependentRecordItems(ctx context.Context, affected []AffectedRecordItem) ([]DependentRecordItem, error) {
	type group struct {
		addr    SelectIn
		parents []AffectedRecordItem
		rows    []ForeignKeyRow
	}

	index := make(map[SelectIn]*group)
	var groups []*group
	for _, it := range affected {
		if it.SelectIn == nil {
			continue
		}
		g := index[*it.SelectIn]
		if g == nil {
			g = &group{addr: *it.SelectIn}
			index[*it.SelectIn] = g
			groups = append(groups, g)
		}
		g.parents = append(g.parents, it)
	}
	if len(groups) == 0 {
		return nil, nil
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].addr.Table != groups[j].addr.Table {
			return groups[i].addr.Table < groups[j].addr.Table
		}
		return groups[i].addr.Column < groups[j].addr.Column
	})

	eg, egCtx := errgroup.WithContext(ctx)
	if r.fanOut > 0 {
		eg.SetLimit(r.fanOut)
	}
	for _, g := range groups {
		g := g
		eg.Go(func() error {
			ids := make([]string, 0, len(g.parents))
			for _, p := range g.parents {
				ids = append(ids, p.ID)
			}
			rows, err := r.rows.RowsByForeignKey(egCtx, g.addr.Table, g.addr.Column, ids)
			if err != nil {
				return fmt.Errorf("cellgraph: select in %s: %w", g.addr, err)
			}
			g.rows = rows
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var items []DependentRecordItem
	emitted := make(map[itemKey]bool)
	for _, g := range groups {
		for _, parent := range g.parents {
			for _, row := range g.rows {
				if row.ForeignKey != parent.ID {
					continue
				}
				it := AffectedRecordItem{
					ID:          row.ID,
					DBTableName: g.addr.Table,
					FieldID:     parent.FieldID,
					RelationTo:  parent.ID,
				}
				if emitted[it.key()] {
					continue
				}
				emitted[it.key()] = true
				items = append(items, DependentRecordItem(it))
			}
		}
	}

	r.log.DebugContext(ctx, "resolved dependent rows", "addresses", len(groups), "total", len(items))
	return items, nil
}
