package cellgraph

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// abcRows builds three tables: B rows point at A through __fk_manyToOneA and
// C rows point at B through __fk_manyToOneB.
func abcRows() *fakeRows {
	rows := newFakeRows()
	rows.insert("A", "idA1", map[string]any{"fieldA": "A1"})
	rows.insert("A", "idA2", map[string]any{"fieldA": "A2"})

	rows.insert("B", "idB1", map[string]any{"fieldB": "A1", "__fk_manyToOneA": "idA1"})
	rows.insert("B", "idB2", map[string]any{"fieldB": "A1", "__fk_manyToOneA": "idA1"})
	rows.insert("B", "idB3", map[string]any{"fieldB": "A2", "__fk_manyToOneA": "idA2"})
	rows.insert("B", "idB4", map[string]any{})

	rows.insert("C", "idC1", map[string]any{"fieldC": "C1", "__fk_manyToOneB": "idB1"})
	rows.insert("C", "idC2", map[string]any{"fieldC": "C2", "__fk_manyToOneB": "idB1"})
	rows.insert("C", "idC3", map[string]any{"fieldC": "C3", "__fk_manyToOneB": "idB2"})
	rows.insert("C", "idC4", map[string]any{"fieldC": "C4", "__fk_manyToOneB": "idB3"})
	return rows
}

func manyOneOrder() []RelationDescriptor {
	return []RelationDescriptor{
		{
			DBTableName:     "B",
			FieldID:         "manyToOneA",
			ForeignKeyField: "__fk_manyToOneA",
			Relationship:    ManyOne,
			LinkedTable:     "A",
			Dependencies:    []string{"fieldA"},
		},
		{
			DBTableName:     "C",
			FieldID:         "manyToOneB",
			ForeignKeyField: "__fk_manyToOneB",
			Relationship:    ManyOne,
			LinkedTable:     "B",
			Dependencies:    []string{"fieldB"},
		},
	}
}

func TestAffectedRecordItemsManyOne(t *testing.T) {
	r := NewResolver(abcRows(), slog.Default())
	ctx := context.Background()

	items, err := r.AffectedRecordItems(ctx, []TableRef{{ID: "idA1", DBTableName: "A"}}, manyOneOrder())
	require.NoError(t, err)
	assert.Equal(t, []AffectedRecordItem{
		{ID: "idB1", DBTableName: "B", FieldID: "manyToOneA", RelationTo: "idA1"},
		{ID: "idB2", DBTableName: "B", FieldID: "manyToOneA", RelationTo: "idA1"},
		{ID: "idC1", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB1"},
		{ID: "idC2", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB1"},
		{ID: "idC3", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB2"},
	}, items)

	items, err = r.AffectedRecordItems(ctx, []TableRef{
		{ID: "idA1", DBTableName: "A"},
		{ID: "idA2", DBTableName: "A"},
	}, manyOneOrder())
	require.NoError(t, err)
	assert.Equal(t, []AffectedRecordItem{
		{ID: "idB1", DBTableName: "B", FieldID: "manyToOneA", RelationTo: "idA1"},
		{ID: "idB2", DBTableName: "B", FieldID: "manyToOneA", RelationTo: "idA1"},
		{ID: "idB3", DBTableName: "B", FieldID: "manyToOneA", RelationTo: "idA2"},
		{ID: "idC1", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB1"},
		{ID: "idC2", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB1"},
		{ID: "idC3", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB2"},
		{ID: "idC4", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB3"},
	}, items)
}

// oneManyOrder is the graph C.fieldC -> B.oneToManyC -> B.fieldB, which
// feeds both A.oneToManyB and C.manyToOneB.
func oneManyOrder() []RelationDescriptor {
	return []RelationDescriptor{
		{
			DBTableName:     "B",
			FieldID:         "oneToManyC",
			ForeignKeyField: "__fk_manyToOneB",
			Relationship:    OneMany,
			LinkedTable:     "C",
		},
		{
			DBTableName:     "A",
			FieldID:         "oneToManyB",
			ForeignKeyField: "__fk_manyToOneA",
			Relationship:    OneMany,
			LinkedTable:     "B",
		},
		{
			DBTableName:     "C",
			FieldID:         "manyToOneB",
			ForeignKeyField: "__fk_manyToOneB",
			Relationship:    ManyOne,
			LinkedTable:     "B",
		},
	}
}

func oneManyAffected() []AffectedRecordItem {
	return []AffectedRecordItem{
		{ID: "idB1", DBTableName: "B", FieldID: "oneToManyC", SelectIn: &SelectIn{Table: "C", Column: "__fk_manyToOneB"}},
		{ID: "idA1", DBTableName: "A", FieldID: "oneToManyB", SelectIn: &SelectIn{Table: "B", Column: "__fk_manyToOneA"}},
		{ID: "idC1", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB1"},
		{ID: "idC2", DBTableName: "C", FieldID: "manyToOneB", RelationTo: "idB1"},
	}
}

func oneManyDependent() []DependentRecordItem {
	return []DependentRecordItem{
		{ID: "idB1", DBTableName: "B", FieldID: "oneToManyB", RelationTo: "idA1"},
		{ID: "idB2", DBTableName: "B", FieldID: "oneToManyB", RelationTo: "idA1"},
		{ID: "idC1", DBTableName: "C", FieldID: "oneToManyC", RelationTo: "idB1"},
		{ID: "idC2", DBTableName: "C", FieldID: "oneToManyC", RelationTo: "idB1"},
	}
}

func TestAffectedAndDependentRecordItemsOneMany(t *testing.T) {
	r := NewResolver(abcRows(), nil)
	ctx := context.Background()

	items, err := r.AffectedRecordItems(ctx, []TableRef{{ID: "idC1", DBTableName: "C"}}, oneManyOrder())
	require.NoError(t, err)
	assert.Equal(t, oneManyAffected(), items)

	dependent, err := r.DependentRecordItems(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, oneManyDependent(), dependent)
}

func TestAffectedRecordItemsSkipsUnrelated(t *testing.T) {
	r := NewResolver(abcRows(), nil)

	// idB4 has no parent, and nothing in C points at it.
	items, err := r.AffectedRecordItems(context.Background(), []TableRef{{ID: "idB4", DBTableName: "B"}}, []RelationDescriptor{
		{DBTableName: "A", FieldID: "oneToManyB", ForeignKeyField: "__fk_manyToOneA", Relationship: OneMany, LinkedTable: "B"},
		{DBTableName: "C", FieldID: "manyToOneB", ForeignKeyField: "__fk_manyToOneB", Relationship: ManyOne, LinkedTable: "B"},
	})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAffectedRecordItemsDeduplicates(t *testing.T) {
	r := NewResolver(abcRows(), nil)
	order := manyOneOrder()
	order = append(order, order[0])

	items, err := r.AffectedRecordItems(context.Background(), []TableRef{
		{ID: "idA1", DBTableName: "A"},
		{ID: "idA1", DBTableName: "A"},
	}, order)
	require.NoError(t, err)

	seen := map[itemKey]bool{}
	for _, it := range items {
		assert.False(t, seen[it.key()], "duplicate %v", it)
		seen[it.key()] = true
	}
	assert.Len(t, items, 5)
}

func TestAffectedRecordItemsErrors(t *testing.T) {
	ctx := context.Background()
	roots := []TableRef{{ID: "idA1", DBTableName: "A"}}

	r := NewResolver(abcRows(), nil)
	_, err := r.AffectedRecordItems(ctx, roots, []RelationDescriptor{
		{DBTableName: "B", FieldID: "x", ForeignKeyField: "fk", Relationship: "sideways", LinkedTable: "A"},
	})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = r.AffectedRecordItems(ctx, roots, []RelationDescriptor{
		{DBTableName: "Z", FieldID: "x", ForeignKeyField: "fk", Relationship: ManyOne, LinkedTable: "A"},
	})
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	boom := errors.New("connection reset")
	rows := abcRows()
	rows.err = boom
	_, err = NewResolver(rows, nil).AffectedRecordItems(ctx, roots, manyOneOrder())
	assert.ErrorIs(t, err, boom)
}

func TestDependentRecordItemsErrors(t *testing.T) {
	boom := errors.New("connection reset")
	rows := abcRows()
	rows.err = boom

	_, err := NewResolver(rows, nil).DependentRecordItems(context.Background(), oneManyAffected())
	assert.ErrorIs(t, err, boom)

	items, err := NewResolver(rows, nil).DependentRecordItems(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDependentRecordItemsBoundedFanOut(t *testing.T) {
	rows := abcRows()
	r := NewResolver(rows, nil)
	r.fanOut = 1

	dependent, err := r.DependentRecordItems(context.Background(), oneManyAffected())
	require.NoError(t, err)
	assert.Equal(t, oneManyDependent(), dependent)
	assert.Equal(t, []string{"children B.__fk_manyToOneA", "children C.__fk_manyToOneB"}, rows.calls)
}
