package cellgraph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCell(t *testing.T) {
	plain := &Field{ID: "p", Type: FieldPlain}
	link := &Field{ID: "l", Type: FieldLink}
	formula := &Field{ID: "f", Type: FieldFormula}

	assert.Nil(t, DecodeCell(link, nil))
	assert.Equal(t, 3.0, DecodeCell(plain, int64(3)))
	assert.Equal(t, `{"id":"x"}`, DecodeCell(plain, `{"id":"x"}`))
	assert.Equal(t, "hello", DecodeCell(nil, []byte("hello")))

	assert.Equal(t, LinkValue{ID: "idB1", Title: "B1"}, DecodeCell(link, `{"id":"idB1","title":"B1"}`))
	assert.Equal(t,
		[]LinkValue{{ID: "idC1", Title: "C1"}, {ID: "idC2"}},
		DecodeCell(link, []any{
			map[string]any{"id": "idC1", "title": "C1"},
			map[string]any{"id": "idC2"},
		}))
	assert.Equal(t, []any{"C1", "C2"}, DecodeCell(link, `["C1","C2"]`))

	assert.Equal(t, CellError{Code: CodeDivZero, Message: "m"}, DecodeCell(formula, `{"code":"#DIV/0!","message":"m"}`))
	assert.Equal(t, map[string]any{"code": "plain"}, DecodeCell(formula, map[string]any{"code": "plain"}))
}

func TestDecodeCellRoundTrip(t *testing.T) {
	link := &Field{ID: "l", Type: FieldLink}
	formula := &Field{ID: "f", Type: FieldFormula}

	for _, tc := range []struct {
		field *Field
		value any
	}{
		{link, LinkValue{ID: "r1", Title: "T"}},
		{link, []LinkValue{{ID: "r1", Title: "T"}, {ID: "r2", Title: "U"}}},
		{formula, CellError{Code: CodeValue, Message: "bad"}},
		{formula, 4.5},
		{formula, "text"},
	} {
		b, err := json.Marshal(tc.value)
		require.NoError(t, err)
		var raw any
		require.NoError(t, json.Unmarshal(b, &raw))
		assert.True(t, CellEqual(tc.value, DecodeCell(tc.field, raw)), "%#v", tc.value)
	}
}

func TestDisplayString(t *testing.T) {
	assert.Equal(t, "", DisplayString(nil))
	assert.Equal(t, "abc", DisplayString("abc"))
	assert.Equal(t, "1.5", DisplayString(1.5))
	assert.Equal(t, "2", DisplayString(2))
	assert.Equal(t, "true", DisplayString(true))
	assert.Equal(t, "T", DisplayString(LinkValue{ID: "r", Title: "T"}))
	assert.Equal(t, "CX, C2", DisplayString([]LinkValue{{Title: "CX"}, {Title: "C2"}}))
	assert.Equal(t, "a, 1", DisplayString([]any{"a", 1.0}))
	assert.Equal(t, CodeNum, DisplayString(CellError{Code: CodeNum}))
	assert.Equal(t, `{"k":"v"}`, DisplayString(map[string]any{"k": "v"}))
}

func TestCellEqual(t *testing.T) {
	assert.True(t, CellEqual(nil, nil))
	assert.True(t, CellEqual(1, 1.0))
	assert.True(t, CellEqual(int64(2), 2.0))
	assert.True(t, CellEqual(
		[]LinkValue{{ID: "a", Title: "A"}},
		[]LinkValue{{ID: "a", Title: "A"}},
	))
	assert.True(t, CellEqual([]any{"a", 1.0}, []any{"a", 1.0}))

	assert.False(t, CellEqual(nil, ""))
	assert.False(t, CellEqual("1", 1.0))
	assert.False(t, CellEqual(LinkValue{ID: "a", Title: "A"}, LinkValue{ID: "a", Title: "B"}))
	assert.False(t, CellEqual([]LinkValue{{ID: "a"}}, LinkValue{ID: "a"}))
}

func TestSelectIn(t *testing.T) {
	s, err := ParseSelectIn("C.__fk_manyToOneB")
	require.NoError(t, err)
	assert.Equal(t, SelectIn{Table: "C", Column: "__fk_manyToOneB"}, s)
	assert.Equal(t, "C.__fk_manyToOneB", s.String())

	for _, bad := range []string{"", "C", ".col", "tbl."} {
		_, err := ParseSelectIn(bad)
		assert.Error(t, err, bad)
	}

	b, err := json.Marshal(AffectedRecordItem{ID: "idB1", DBTableName: "B", FieldID: "oneToManyC", SelectIn: &s})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"idB1","dbTableName":"B","fieldId":"oneToManyC","selectIn":"C.__fk_manyToOneB"}`, string(b))

	var back AffectedRecordItem
	require.NoError(t, json.Unmarshal(b, &back))
	require.NotNil(t, back.SelectIn)
	assert.Equal(t, s, *back.SelectIn)
}

func TestRelationshipSymmetric(t *testing.T) {
	assert.Equal(t, OneMany, ManyOne.Symmetric())
	assert.Equal(t, ManyOne, OneMany.Symmetric())

	link := &Field{ID: "lnk", TableID: "A", Type: FieldLink, Options: FieldOptions{
		Relationship:     ManyOne,
		ForeignTableID:   "B",
		DBForeignKeyName: ForeignKeyName("lnk"),
	}}
	assert.Equal(t, FieldOptions{
		Relationship:     OneMany,
		ForeignTableID:   "A",
		LookupFieldID:    "title",
		DBForeignKeyName: "__fk_lnk",
		SymmetricFieldID: "lnk",
	}, SymmetricLinkOptions(link, "title"))
}
