package cellgraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// abcEngine wires the A <- B <- C scenario into an Engine backed by fakes.
// idC1.fieldC has already been written as CX.
func abcEngine(t *testing.T, opts ...Option) (*Engine, *fakeCatalog, *fakeRows) {
	t.Helper()
	fields, _ := abcFields()
	catalog := &fakeCatalog{tables: map[string]string{"A": "A", "B": "B", "C": "C"}}
	for _, id := range []string{"fieldA", "oneToManyB", "fieldB", "manyToOneA", "oneToManyC", "fieldC", "manyToOneB"} {
		catalog.addField(fields[id])
	}

	rows := newFakeRows()
	rows.insert("A", "idA1", map[string]any{
		"fieldA":     "A1",
		"oneToManyB": []LinkValue{{ID: "idB1", Title: "C1, C2"}, {ID: "idB2", Title: "C3"}},
	})
	rows.insert("B", "idB1", map[string]any{
		"fieldB":          "C1, C2",
		"manyToOneA":      LinkValue{ID: "idA1", Title: "A1"},
		"__fk_manyToOneA": "idA1",
		"oneToManyC":      []LinkValue{{ID: "idC1", Title: "C1"}, {ID: "idC2", Title: "C2"}},
	})
	rows.insert("B", "idB2", map[string]any{
		"fieldB":          "C3",
		"manyToOneA":      LinkValue{ID: "idA1", Title: "A1"},
		"__fk_manyToOneA": "idA1",
		"oneToManyC":      []LinkValue{{ID: "idC3", Title: "C3"}},
	})
	rows.insert("C", "idC1", map[string]any{
		"fieldC":          "CX",
		"manyToOneB":      LinkValue{ID: "idB1", Title: "C1, C2"},
		"__fk_manyToOneB": "idB1",
	})
	rows.insert("C", "idC2", map[string]any{
		"fieldC":          "C2",
		"manyToOneB":      LinkValue{ID: "idB1", Title: "C1, C2"},
		"__fk_manyToOneB": "idB1",
	})
	rows.insert("C", "idC3", map[string]any{
		"fieldC":          "C3",
		"manyToOneB":      LinkValue{ID: "idB2", Title: "C3"},
		"__fk_manyToOneB": "idB2",
	})

	return NewEngine(catalog, catalog, rows, opts...), catalog, rows
}

// apply writes changes into the fake store. Table ids equal table names.
func apply(rows *fakeRows, changes []Change) {
	for _, c := range changes {
		for _, r := range rows.tables[c.TableID] {
			if r.id == c.RecordID {
				r.cells[c.FieldID] = c.NewValue
			}
		}
	}
}

func TestComputeChangeset(t *testing.T) {
	engine, _, rows := abcEngine(t)
	ctx := context.Background()

	changes, err := engine.ComputeChangeset(ctx, []RecordRef{{ID: "idC1", TableID: "C"}}, "fieldC")
	require.NoError(t, err)

	type cell struct{ table, record, field string }
	got := make([]cell, len(changes))
	for i, c := range changes {
		got[i] = cell{c.TableID, c.RecordID, c.FieldID}
	}
	assert.Equal(t, []cell{
		{"B", "idB1", "oneToManyC"},
		{"B", "idB1", "fieldB"},
		{"A", "idA1", "oneToManyB"},
		{"C", "idC1", "manyToOneB"},
		{"C", "idC2", "manyToOneB"},
	}, got)
	assert.Equal(t, "CX, C2", changes[1].NewValue)
	assert.Equal(t, []LinkValue{{ID: "idB1", Title: "CX, C2"}, {ID: "idB2", Title: "C3"}}, changes[2].NewValue)

	apply(rows, changes)
	again, err := engine.ComputeChangeset(ctx, []RecordRef{{ID: "idC1", TableID: "C"}}, "fieldC")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestComputeChangesetManyOne(t *testing.T) {
	engine, _, rows := abcEngine(t)
	rows.tables["A"][0].cells["fieldA"] = "AX"

	changes, err := engine.ComputeChangeset(context.Background(), []RecordRef{{ID: "idA1", TableID: "A"}}, "fieldA")
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{
			TableID:  "B",
			RecordID: "idB1",
			FieldID:  "manyToOneA",
			OldValue: LinkValue{ID: "idA1", Title: "A1"},
			NewValue: LinkValue{ID: "idA1", Title: "AX"},
		},
		{
			TableID:  "B",
			RecordID: "idB2",
			FieldID:  "manyToOneA",
			OldValue: LinkValue{ID: "idA1", Title: "A1"},
			NewValue: LinkValue{ID: "idA1", Title: "AX"},
		},
	}, changes)
}

func TestComputeChangesetNothingDownstream(t *testing.T) {
	engine, _, rows := abcEngine(t)

	// Rewriting a link with the ids it already holds moves nothing.
	changes, err := engine.ComputeChangeset(context.Background(), []RecordRef{{ID: "idA1", TableID: "A"}}, "oneToManyB")
	require.NoError(t, err)
	assert.Empty(t, changes)

	rows.calls = nil
	changes, err = engine.ComputeChangeset(context.Background(), nil, "fieldC")
	require.NoError(t, err)
	assert.Empty(t, changes)
	assert.Empty(t, rows.calls)
}

// settledABC returns the A/B/C engine with the pending fieldC write applied,
// so every computed cell is up to date.
func settledABC(t *testing.T) (*Engine, *fakeRows) {
	t.Helper()
	engine, _, rows := abcEngine(t)
	changes, err := engine.ComputeChangeset(context.Background(), []RecordRef{{ID: "idC1", TableID: "C"}}, "fieldC")
	require.NoError(t, err)
	apply(rows, changes)
	rows.calls = nil
	return engine, rows
}

func cellsOf(rows *fakeRows, table, id string) map[string]any {
	for _, r := range rows.tables[table] {
		if r.id == id {
			return r.cells
		}
	}
	return nil
}

type cellKey struct{ table, record, field string }

func keysOf(changes []Change) []cellKey {
	out := make([]cellKey, len(changes))
	for i, c := range changes {
		out[i] = cellKey{c.TableID, c.RecordID, c.FieldID}
	}
	return out
}

func TestComputeChangesetRelinkManyOne(t *testing.T) {
	engine, rows := settledABC(t)
	ctx := context.Background()

	// idC1 moves from idB1 to idB2. The write stores the id without a title.
	c1 := cellsOf(rows, "C", "idC1")
	c1["__fk_manyToOneB"] = "idB2"
	c1["manyToOneB"] = LinkValue{ID: "idB2"}
	roots := []RecordRef{{ID: "idC1", TableID: "C", OldLinks: []string{"idB1"}}}

	changes, err := engine.ComputeChangeset(ctx, roots, "manyToOneB")
	require.NoError(t, err)
	assert.Equal(t, []cellKey{
		{"B", "idB1", "oneToManyC"},
		{"B", "idB2", "oneToManyC"},
		{"B", "idB1", "fieldB"},
		{"B", "idB2", "fieldB"},
		{"A", "idA1", "oneToManyB"},
		{"C", "idC1", "manyToOneB"},
		{"C", "idC2", "manyToOneB"},
		{"C", "idC3", "manyToOneB"},
	}, keysOf(changes))

	assert.Equal(t, []LinkValue{{ID: "idC2", Title: "C2"}}, changes[0].NewValue)
	assert.Equal(t, []LinkValue{{ID: "idC1", Title: "CX"}, {ID: "idC3", Title: "C3"}}, changes[1].NewValue)
	assert.Equal(t, "C2", changes[2].NewValue)
	assert.Equal(t, "CX, C3", changes[3].NewValue)
	assert.Equal(t, []LinkValue{{ID: "idB1", Title: "C2"}, {ID: "idB2", Title: "CX, C3"}}, changes[4].NewValue)
	assert.Equal(t, LinkValue{ID: "idB2"}, changes[5].OldValue)
	assert.Equal(t, LinkValue{ID: "idB2", Title: "CX, C3"}, changes[5].NewValue)

	apply(rows, changes)
	again, err := engine.ComputeChangeset(ctx, roots, "manyToOneB")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestComputeChangesetUnlink(t *testing.T) {
	engine, rows := settledABC(t)

	c2 := cellsOf(rows, "C", "idC2")
	delete(c2, "__fk_manyToOneB")
	delete(c2, "manyToOneB")

	changes, err := engine.ComputeChangeset(context.Background(),
		[]RecordRef{{ID: "idC2", TableID: "C", OldLinks: []string{"idB1"}}}, "manyToOneB")
	require.NoError(t, err)
	require.NotEmpty(t, changes)
	assert.Equal(t, Change{
		TableID:  "B",
		RecordID: "idB1",
		FieldID:  "oneToManyC",
		OldValue: []LinkValue{{ID: "idC1", Title: "CX"}, {ID: "idC2", Title: "C2"}},
		NewValue: []LinkValue{{ID: "idC1", Title: "CX"}},
	}, changes[0])
	for _, c := range changes {
		assert.NotEqual(t, "idC2", c.RecordID, "the unlinked row already holds no link")
	}
}

func TestComputeChangesetRelinkOneMany(t *testing.T) {
	engine, rows := settledABC(t)

	// idB2 takes idC2 over from idB1 by writing its OneMany cell.
	cellsOf(rows, "C", "idC2")["__fk_manyToOneB"] = "idB2"
	cellsOf(rows, "B", "idB2")["oneToManyC"] = []LinkValue{{ID: "idC2", Title: "C2"}, {ID: "idC3", Title: "C3"}}
	roots := []RecordRef{{ID: "idB2", TableID: "B", OldLinks: []string{"idC3"}}}

	changes, err := engine.ComputeChangeset(context.Background(), roots, "oneToManyC")
	require.NoError(t, err)
	assert.Equal(t, []cellKey{
		{"B", "idB1", "oneToManyC"},
		{"B", "idB2", "fieldB"},
		{"B", "idB1", "fieldB"},
		{"A", "idA1", "oneToManyB"},
		{"C", "idC2", "manyToOneB"},
		{"C", "idC3", "manyToOneB"},
		{"C", "idC1", "manyToOneB"},
	}, keysOf(changes))
	assert.Equal(t, []LinkValue{{ID: "idC1", Title: "CX"}}, changes[0].NewValue)
	assert.Equal(t, "C2, C3", changes[1].NewValue)
	assert.Equal(t, LinkValue{ID: "idB2", Title: "C2, C3"}, changes[4].NewValue)
	assert.Equal(t, LinkValue{ID: "idB1", Title: "CX"}, changes[6].NewValue)

	apply(rows, changes)
	again, err := engine.ComputeChangeset(context.Background(), roots, "oneToManyC")
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestWithLoggerNil(t *testing.T) {
	engine, _, _ := abcEngine(t, WithLogger(nil))
	_, err := engine.ComputeChangeset(context.Background(), []RecordRef{{ID: "idC1", TableID: "C"}}, "fieldC")
	assert.NoError(t, err)
}

func TestComputeChangesetFanOut(t *testing.T) {
	engine, _, rows := abcEngine(t, WithFanOut(1))

	_, err := engine.ComputeChangeset(context.Background(), []RecordRef{{ID: "idC1", TableID: "C"}}, "fieldC")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"fk C.__fk_manyToOneB",
		"fk B.__fk_manyToOneA",
		"children C.__fk_manyToOneB",
		"children B.__fk_manyToOneA",
		"children C.__fk_manyToOneB",
		"records A",
		"records B",
		"records C",
	}, rows.calls)
}

func TestComputeChangesetErrors(t *testing.T) {
	ctx := context.Background()
	roots := []RecordRef{{ID: "idC1", TableID: "C"}}

	t.Run("missing field", func(t *testing.T) {
		engine, catalog, _ := abcEngine(t)
		delete(catalog.fields, "fieldB")
		_, err := engine.ComputeChangeset(ctx, roots, "fieldC")
		assert.ErrorIs(t, err, ErrFieldNotFound)
	})

	t.Run("missing table", func(t *testing.T) {
		engine, catalog, _ := abcEngine(t)
		delete(catalog.tables, "A")
		_, err := engine.ComputeChangeset(ctx, roots, "fieldC")
		assert.ErrorIs(t, err, ErrTableNotFound)
	})

	t.Run("cycle", func(t *testing.T) {
		engine, catalog, _ := abcEngine(t)
		catalog.refs = append(catalog.refs, Reference{FromFieldID: "manyToOneB", ToFieldID: "oneToManyC"})
		_, err := engine.ComputeChangeset(ctx, roots, "fieldC")
		assert.ErrorIs(t, err, ErrCycleDetected)
	})

	t.Run("link without foreign key", func(t *testing.T) {
		engine, catalog, _ := abcEngine(t)
		catalog.fields["oneToManyC"].Options.DBForeignKeyName = ""
		_, err := engine.ComputeChangeset(ctx, roots, "fieldC")
		assert.ErrorIs(t, err, ErrSchemaMismatch)
	})

	t.Run("row store failure", func(t *testing.T) {
		engine, _, rows := abcEngine(t)
		boom := errors.New("connection reset")
		rows.err = boom
		_, err := engine.ComputeChangeset(ctx, roots, "fieldC")
		assert.ErrorIs(t, err, boom)
	})
}
