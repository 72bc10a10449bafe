package cellgraph

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

type fakeRow struct {
	id    string
	cells map[string]any
}

// fakeRows is an in-memory RowStore. Rows keep insertion order.
type fakeRows struct {
	mu     sync.Mutex
	tables map[string][]fakeRow
	calls  []string
	err    error
}

func newFakeRows() *fakeRows {
	return &fakeRows{tables: map[string][]fakeRow{}}
}

func (f *fakeRows) insert(table, id string, cells map[string]any) {
	f.tables[table] = append(f.tables[table], fakeRow{id: id, cells: cells})
}

func (f *fakeRows) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeRows) column(table, col string) ([]fakeRow, error) {
	rows, ok := f.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: no table %s", ErrSchemaMismatch, table)
	}
	return rows, nil
}

func (f *fakeRows) ForeignKeys(_ context.Context, table, col string, ids []string) ([]ForeignKeyRow, error) {
	if err := f.record("fk " + table + "." + col); err != nil {
		return nil, err
	}
	rows, err := f.column(table, col)
	if err != nil {
		return nil, err
	}
	var out []ForeignKeyRow
	for _, r := range rows {
		fk, _ := r.cells[col].(string)
		if fk != "" && slices.Contains(ids, r.id) {
			out = append(out, ForeignKeyRow{ID: r.id, ForeignKey: fk})
		}
	}
	return out, nil
}

func (f *fakeRows) RowsByForeignKey(_ context.Context, table, col string, parents []string) ([]ForeignKeyRow, error) {
	if err := f.record("children " + table + "." + col); err != nil {
		return nil, err
	}
	rows, err := f.column(table, col)
	if err != nil {
		return nil, err
	}
	var out []ForeignKeyRow
	for _, r := range rows {
		fk, _ := r.cells[col].(string)
		if slices.Contains(parents, fk) {
			out = append(out, ForeignKeyRow{ID: r.id, ForeignKey: fk})
		}
	}
	return out, nil
}

func (f *fakeRows) Records(_ context.Context, table string, ids []string) ([]*Record, error) {
	if err := f.record("records " + table); err != nil {
		return nil, err
	}
	var out []*Record
	for _, r := range f.tables[table] {
		if !slices.Contains(ids, r.id) {
			continue
		}
		cells := make(map[string]any, len(r.cells))
		for k, v := range r.cells {
			cells[k] = v
		}
		out = append(out, &Record{ID: r.id, Fields: cells})
	}
	return out, nil
}

// fakeCatalog is an in-memory ReferenceStore and FieldCatalog.
type fakeCatalog struct {
	refs   []Reference
	fields map[string]*Field
	tables map[string]string
}

func (c *fakeCatalog) AddReference(_ context.Context, ref Reference) error {
	if err := ValidateAcyclic(append(slices.Clone(c.refs), ref)); err != nil {
		return err
	}
	c.refs = append(c.refs, ref)
	return nil
}

func (c *fakeCatalog) RemoveReference(_ context.Context, ref Reference) error {
	c.refs = slices.DeleteFunc(c.refs, func(r Reference) bool { return r == ref })
	return nil
}

func (c *fakeCatalog) ListReferences(context.Context) ([]Reference, error) {
	return slices.Clone(c.refs), nil
}

func (c *fakeCatalog) Closure(_ context.Context, fieldID string) ([]Reference, error) {
	reached := map[string]bool{fieldID: true}
	for changed := true; changed; {
		changed = false
		for _, r := range c.refs {
			if reached[r.FromFieldID] && !reached[r.ToFieldID] {
				reached[r.ToFieldID] = true
				changed = true
			}
		}
	}
	var out []Reference
	for _, r := range c.refs {
		if reached[r.ToFieldID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (c *fakeCatalog) Fields(_ context.Context, ids []string) (map[string]*Field, error) {
	out := make(map[string]*Field)
	for _, id := range ids {
		if f, ok := c.fields[id]; ok {
			out[id] = f
		}
	}
	return out, nil
}

func (c *fakeCatalog) DBTableNames(_ context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string)
	for _, id := range ids {
		if n, ok := c.tables[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

// addField registers f and its references.
func (c *fakeCatalog) addField(f *Field) {
	if c.fields == nil {
		c.fields = map[string]*Field{}
	}
	c.fields[f.ID] = f
	for _, r := range FieldReferences(f) {
		if err := c.AddReference(context.Background(), r); err != nil {
			panic(err)
		}
	}
}
