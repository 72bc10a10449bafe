package cellgraph

import (
	"fmt"
	"strings"
)

// FieldType is the closed set of field kinds the engine knows how to evaluate.
type FieldType string

const (
	FieldPlain   FieldType = "plain"
	FieldLink    FieldType = "link"
	FieldFormula FieldType = "formula"
	FieldLookup  FieldType = "lookup"
	FieldRollup  FieldType = "rollup"
)

// Relationship is the cardinality of a link field seen from its own table.
type Relationship string

const (
	// ManyOne: the row's own foreign key column points at one parent row.
	ManyOne Relationship = "manyOne"
	// OneMany: rows of the foreign table point back at this row.
	OneMany Relationship = "oneMany"
)

// Symmetric returns the relationship of the paired field on the other side.
func (r Relationship) Symmetric() Relationship {
	if r == ManyOne {
		return OneMany
	}
	return ManyOne
}

// Table maps a logical table id to its physical table.
type Table struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DBTableName string `json:"dbTableName"`
}

// Field is a column of a table as described by the field catalog.
type Field struct {
	ID      string       `json:"id"`
	TableID string       `json:"tableId"`
	Name    string       `json:"name"`
	Type    FieldType    `json:"type"`
	Options FieldOptions `json:"options"`
}

// FieldOptions holds the type specific configuration of a field.
// Link fields use Relationship, ForeignTableID, LookupFieldID, DBForeignKeyName
// and SymmetricFieldID. Lookup and Rollup fields read LookupFieldID through
// the link named by LinkFieldID. Formula fields use Expression.
type FieldOptions struct {
	Relationship     Relationship `json:"relationship,omitempty"`
	ForeignTableID   string       `json:"foreignTableId,omitempty"`
	LookupFieldID    string       `json:"lookupFieldId,omitempty"`
	DBForeignKeyName string       `json:"dbForeignKeyName,omitempty"`
	SymmetricFieldID string       `json:"symmetricFieldId,omitempty"`
	LinkFieldID      string       `json:"linkFieldId,omitempty"`
	Expression       string       `json:"expression,omitempty"`
	Aggregation      string       `json:"aggregation,omitempty"`
}

// IsComputed reports whether the field's value is derived from other fields.
func (f *Field) IsComputed() bool {
	return f.Type != FieldPlain
}

// IsRelational reports whether the field's value is read through a link.
func (f *Field) IsRelational() bool {
	switch f.Type {
	case FieldLink, FieldLookup, FieldRollup:
		return true
	}
	return false
}

// ForeignKeyName returns the physical foreign key column for a link field id.
func ForeignKeyName(linkFieldID string) string {
	return "__fk_" + linkFieldID
}

// SymmetricLinkOptions returns the options of the paired link field that lives
// in the foreign table. Both sides share the foreign key column.
func SymmetricLinkOptions(link *Field, lookupFieldID string) FieldOptions {
	return FieldOptions{
		Relationship:     link.Options.Relationship.Symmetric(),
		ForeignTableID:   link.TableID,
		LookupFieldID:    lookupFieldID,
		DBForeignKeyName: link.Options.DBForeignKeyName,
		SymmetricFieldID: link.ID,
	}
}

// Reference is a directed edge: ToFieldID is computed from FromFieldID.
type Reference struct {
	FromFieldID string `json:"fromFieldId"`
	ToFieldID   string `json:"toFieldId"`
}

// TopoNode is a field in topological order with its direct dependencies.
type TopoNode struct {
	ID           string   `json:"id"`
	Dependencies []string `json:"dependencies"`
}

// RelationDescriptor describes how to walk from a changed row to the rows
// of a relational field.
type RelationDescriptor struct {
	DBTableName     string       `json:"dbTableName"`
	FieldID         string       `json:"fieldId"`
	ForeignKeyField string       `json:"foreignKeyField"`
	Relationship    Relationship `json:"relationship"`
	LinkedTable     string       `json:"linkedTable"`
	Dependencies    []string     `json:"dependencies,omitempty"`
}

// SelectIn addresses all rows of Table whose Column equals a parent id.
type SelectIn struct {
	Table  string
	Column string
}

// String returns the "<table>.<column>" wire form.
func (s SelectIn) String() string {
	return s.Table + "." + s.Column
}

// ParseSelectIn parses the "<table>.<column>" wire form.
func ParseSelectIn(v string) (SelectIn, error) {
	i := strings.LastIndex(v, ".")
	if i <= 0 || i == len(v)-1 {
		return SelectIn{}, fmt.Errorf("cellgraph: invalid selectIn %q", v)
	}
	return SelectIn{Table: v[:i], Column: v[i+1:]}, nil
}

// MarshalText implements encoding.TextMarshaler.
func (s SelectIn) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SelectIn) UnmarshalText(b []byte) error {
	v, err := ParseSelectIn(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// AffectedRecordItem is a row whose field value is impacted by a write.
// At most one of RelationTo and SelectIn is set; neither means the row no
// longer links to anything.
type AffectedRecordItem struct {
	ID          string    `json:"id"`
	DBTableName string    `json:"dbTableName"`
	FieldID     string    `json:"fieldId"`
	RelationTo  string    `json:"relationTo,omitempty"`
	SelectIn    *SelectIn `json:"selectIn,omitempty"`
}

// DependentRecordItem is a child row found through a OneMany aggregate in
// the affected set. RelationTo is the parent id.
type DependentRecordItem AffectedRecordItem

type itemKey struct {
	id, table, field string
}

func (it AffectedRecordItem) key() itemKey {
	return itemKey{it.ID, it.DBTableName, it.FieldID}
}

// RecordRef identifies a row by id and table.
type RecordRef struct {
	ID      string `json:"id"`
	TableID string `json:"tableId"`
	// OldLinks holds the record ids a written link cell pointed at before
	// the write. Rows that lost the link are only found through it.
	OldLinks []string `json:"oldLinks,omitempty"`
}

// Record is a row payload keyed by field id.
type Record struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// LinkValue is the cell value of a link: the linked row and its cached title.
type LinkValue struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

// CellError is stored in a formula cell when evaluation fails.
type CellError struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

func (e CellError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + " " + e.Message
}

// DependencyKind tells how a record item's dependencies were resolved.
type DependencyKind int

const (
	// DependencyNone: pure recompute, no relational input.
	DependencyNone DependencyKind = iota
	// DependencySingle: one related record, nil when it no longer exists.
	DependencySingle
	// DependencyMultiple: every child row pointing at the record.
	DependencyMultiple
)

// RecordItem is one record to evaluate for a field, with the records its
// value is read from.
type RecordItem struct {
	Record       *Record
	Kind         DependencyKind
	Dependencies []*Record
}

// Dependency returns the single related record, or nil.
func (ri RecordItem) Dependency() *Record {
	if ri.Kind != DependencySingle || len(ri.Dependencies) == 0 {
		return nil
	}
	return ri.Dependencies[0]
}

// TopoItem is a field in topological order with the records to evaluate.
type TopoItem struct {
	ID           string       `json:"id"`
	Dependencies []string     `json:"dependencies"`
	RecordItems  []RecordItem `json:"-"`
}

// Change is one cell diff produced by a propagation run.
type Change struct {
	TableID  string `json:"tableId"`
	RecordID string `json:"recordId"`
	FieldID  string `json:"fieldId"`
	OldValue any    `json:"oldValue"`
	NewValue any    `json:"newValue"`
}
