package cellgraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"
)

// Engine computes the changeset a write produces across every dependent
// cell. It holds no per-write state and is safe for concurrent use as long
// as its collaborators are.
type Engine struct {
	refs     ReferenceStore
	catalog  FieldCatalog
	rows     RowStore
	resolver *Resolver
	formulas FormulaEvaluator
	log      *slog.Logger
	fanOut   int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to slog.Default(); nil is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithFormulas replaces the formula evaluator.
func WithFormulas(f FormulaEvaluator) Option {
	return func(e *Engine) { e.formulas = f }
}

// WithFanOut bounds how many row queries run at once. Use 1 when the
// stores share a single connection, such as a pgx transaction.
func WithFanOut(n int) Option {
	return func(e *Engine) { e.fanOut = n }
}

// NewEngine creates an Engine over the given collaborators.
func NewEngine(refs ReferenceStore, catalog FieldCatalog, rows RowStore, opts ...Option) *Engine {
	e := &Engine{
		refs:     refs,
		catalog:  catalog,
		rows:     rows,
		formulas: NewFormulas(),
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(rows, e.log)
	e.resolver.fanOut = e.fanOut
	return e
}

// ComputeChangeset returns the ordered cell changes caused by writing
// changedFieldID on the root records. The stores must present a consistent
// snapshot that already contains the write. Running it again on the
// resulting snapshot yields no changes.
//
// When changedFieldID is a link, the write moved rows between parents: both
// link fields are recomputed along with everything reading through them.
// Set OldLinks on the roots so rows that lost the link are found.
func (e *Engine) ComputeChangeset(ctx context.Context, roots []RecordRef, changedFieldID string) ([]Change, error) {
	log := e.log.With("field", changedFieldID)

	link, symmetric, err := e.linkWrite(ctx, changedFieldID)
	if err != nil {
		return nil, err
	}
	root, closure, err := e.closure(ctx, changedFieldID, link, symmetric)
	if err != nil {
		return nil, err
	}
	order, err := TopologicalOrder(root, closure)
	if err != nil {
		log.ErrorContext(ctx, "reference graph invariant violated", "error", err)
		return nil, err
	}
	if len(order) <= 1 || len(roots) == 0 {
		return nil, nil
	}
	log.DebugContext(ctx, "topological order", "nodes", len(order), "edges", len(closure))

	fields, err := e.loadFields(ctx, order)
	if err != nil {
		return nil, err
	}

	fieldTables := make(map[string]string, len(fields))
	tableIDs := newStringSet()
	for _, r := range roots {
		tableIDs.add(r.TableID)
	}
	for id, f := range fields {
		fieldTables[id] = f.TableID
		tableIDs.add(f.TableID)
		if f.Type == FieldLink {
			tableIDs.add(f.Options.ForeignTableID)
		}
	}
	dbNames, err := e.catalog.DBTableNames(ctx, tableIDs.list)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: table names: %w", err)
	}
	for _, id := range tableIDs.list {
		if dbNames[id] == "" {
			return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
		}
	}

	descriptors, err := relationDescriptors(order[1:], fields, dbNames)
	if err != nil {
		return nil, err
	}

	tableRoots := make([]TableRef, 0, len(roots))
	for _, r := range roots {
		tableRoots = append(tableRoots, TableRef{ID: r.ID, DBTableName: dbNames[r.TableID], OldLinks: r.OldLinks})
	}
	var rl *Relink
	if link != nil {
		if rl, err = e.resolver.Relink(ctx, link, symmetric, tableRoots, dbNames); err != nil {
			log.ErrorContext(ctx, "resolve relinked rows", "error", err)
			return nil, err
		}
	}
	affected, err := e.resolver.affectedRecordItems(ctx, tableRoots, descriptors, rl)
	if err != nil {
		log.ErrorContext(ctx, "resolve affected rows", "error", err)
		return nil, err
	}
	dependent, err := e.resolver.DependentRecordItems(ctx, affected)
	if err != nil {
		log.ErrorContext(ctx, "resolve dependent rows", "error", err)
		return nil, err
	}

	rows, err := e.fetchRows(ctx, tableRoots, affected, dependent, descriptors, fields)
	if err != nil {
		return nil, err
	}

	items := AssembleTopoItems(AssembleInput{
		TableDBNames: dbNames,
		Rows:         rows,
		Affected:     affected,
		Dependent:    dependent,
		Fields:       fields,
		FieldTables:  fieldTables,
		Order:        order,
		RootFieldID:  root,
		Roots:        roots,
	})
	changes := CollectChanges(items, fields, fieldTables, e.formulas)

	log.InfoContext(ctx, "computed changeset",
		"roots", len(roots), "affected", len(affected), "dependent", len(dependent), "changes", len(changes))
	return changes, nil
}

// linkWrite returns the changed field and its symmetric field when the
// changed field is a link. Both are nil otherwise.
func (e *Engine) linkWrite(ctx context.Context, fieldID string) (link, symmetric *Field, err error) {
	fields, err := e.catalog.Fields(ctx, []string{fieldID})
	if err != nil {
		return nil, nil, fmt.Errorf("cellgraph: fields: %w", err)
	}
	link = fields[fieldID]
	if link == nil || link.Type != FieldLink {
		return nil, nil, nil
	}
	if link.Options.DBForeignKeyName == "" {
		return nil, nil, fmt.Errorf("%w: link %s has no foreign key", ErrSchemaMismatch, link.ID)
	}
	if id := link.Options.SymmetricFieldID; id != "" {
		sym, err := e.catalog.Fields(ctx, []string{id})
		if err != nil {
			return nil, nil, fmt.Errorf("cellgraph: fields: %w", err)
		}
		symmetric = sym[id]
	}
	return link, symmetric, nil
}

// closure returns the topological root and the edges to order. A link write
// moves the foreign key both link fields read, so the root becomes that
// column and the link and its symmetric field are ordered below it.
func (e *Engine) closure(ctx context.Context, fieldID string, link, symmetric *Field) (string, []Reference, error) {
	closure, err := e.refs.Closure(ctx, fieldID)
	if err != nil {
		return "", nil, fmt.Errorf("cellgraph: closure: %w", err)
	}
	if link == nil {
		return fieldID, closure, nil
	}

	root := link.Options.DBForeignKeyName
	edges := []Reference{{FromFieldID: root, ToFieldID: link.ID}}
	if symmetric != nil {
		edges = append(edges, Reference{FromFieldID: root, ToFieldID: symmetric.ID})
		more, err := e.refs.Closure(ctx, symmetric.ID)
		if err != nil {
			return "", nil, fmt.Errorf("cellgraph: closure: %w", err)
		}
		closure = append(closure, more...)
	}
	return root, append(edges, closure...), nil
}

// loadFields fetches every field in order plus the link fields that lookup
// and rollup fields read through.
func (e *Engine) loadFields(ctx context.Context, order []TopoNode) (map[string]*Field, error) {
	ids := make([]string, 0, len(order))
	for _, n := range order {
		ids = append(ids, n.ID)
	}
	fields, err := e.catalog.Fields(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("cellgraph: fields: %w", err)
	}

	var links []string
	for _, n := range order[1:] {
		f := fields[n.ID]
		if f == nil {
			return nil, fmt.Errorf("%w: %s", ErrFieldNotFound, n.ID)
		}
		if (f.Type == FieldLookup || f.Type == FieldRollup) && fields[f.Options.LinkFieldID] == nil {
			links = append(links, f.Options.LinkFieldID)
		}
	}
	if len(links) > 0 {
		extra, err := e.catalog.Fields(ctx, links)
		if err != nil {
			return nil, fmt.Errorf("cellgraph: link fields: %w", err)
		}
		for id, f := range extra {
			fields[id] = f
		}
	}
	return fields, nil
}

// relationDescriptors turns the relational fields of order into descriptors.
func relationDescriptors(order []TopoNode, fields map[string]*Field, dbNames map[string]string) ([]RelationDescriptor, error) {
	var out []RelationDescriptor
	for _, n := range order {
		f := fields[n.ID]
		if !f.IsRelational() {
			continue
		}
		link := linkOf(f, fields)
		if link == nil {
			return nil, fmt.Errorf("%w: link %q of field %s", ErrFieldNotFound, f.Options.LinkFieldID, f.ID)
		}
		linked := dbNames[link.Options.ForeignTableID]
		if linked == "" || link.Options.DBForeignKeyName == "" {
			return nil, fmt.Errorf("%w: field %s has no foreign table or key", ErrSchemaMismatch, f.ID)
		}
		out = append(out, RelationDescriptor{
			DBTableName:     dbNames[f.TableID],
			FieldID:         f.ID,
			ForeignKeyField: link.Options.DBForeignKeyName,
			Relationship:    link.Options.Relationship,
			LinkedTable:     linked,
			Dependencies:    n.Dependencies,
		})
	}
	return out, nil
}

// fetchRows loads every record the evaluation touches, one query per
// table, issued concurrently.
func (e *Engine) fetchRows(
	ctx context.Context,
	roots []TableRef,
	affected []AffectedRecordItem,
	dependent []DependentRecordItem,
	descriptors []RelationDescriptor,
	fields map[string]*Field,
) (map[string][]*Record, error) {
	linked := make(map[string]string, len(descriptors))
	for _, d := range descriptors {
		linked[d.FieldID] = d.LinkedTable
	}

	wanted := make(map[string]*stringSet)
	want := func(table, id string) {
		s := wanted[table]
		if s == nil {
			s = newStringSet()
			wanted[table] = s
		}
		s.add(id)
	}
	for _, r := range roots {
		want(r.DBTableName, r.ID)
	}
	for _, it := range affected {
		want(it.DBTableName, it.ID)
		if it.RelationTo != "" {
			want(linked[it.FieldID], it.RelationTo)
		}
	}
	for _, it := range dependent {
		want(it.DBTableName, it.ID)
	}

	tables := make([]string, 0, len(wanted))
	for t := range wanted {
		tables = append(tables, t)
	}
	sort.Strings(tables)

	results := make([][]*Record, len(tables))
	eg, egCtx := errgroup.WithContext(ctx)
	if e.fanOut > 0 {
		eg.SetLimit(e.fanOut)
	}
	for i, table := range tables {
		i, table := i, table
		eg.Go(func() error {
			records, err := e.rows.Records(egCtx, table, wanted[table].list)
			if err != nil {
				return fmt.Errorf("cellgraph: records of %s: %w", table, err)
			}
			results[i] = records
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	rows := make(map[string][]*Record, len(tables))
	for i, table := range tables {
		for _, r := range results[i] {
			for id, v := range r.Fields {
				r.Fields[id] = DecodeCell(fields[id], v)
			}
		}
		rows[table] = results[i]
	}
	return rows, nil
}

type stringSet struct {
	list []string
	seen map[string]bool
}

func newStringSet() *stringSet {
	return &stringSet{seen: map[string]bool{}}
}

func (s *stringSet) add(v string) {
	if v == "" || s.seen[v] {
		return
	}
	s.seen[v] = true
	s.list = append(s.list, v)
}
