package cellgraph

// AssembleInput is everything needed to pair each field in the topological
// order with the records to evaluate.
type AssembleInput struct {
	// TableDBNames maps table ids to physical table names.
	TableDBNames map[string]string
	// Rows holds the fetched records of each physical table.
	Rows      map[string][]*Record
	Affected  []AffectedRecordItem
	Dependent []DependentRecordItem
	Fields    map[string]*Field
	// FieldTables maps field ids to table ids.
	FieldTables map[string]string
	Order       []TopoNode

	// RootFieldID and Roots describe the write itself. Fields computed
	// directly from the root field are evaluated for the root records.
	RootFieldID string
	Roots       []RecordRef
}

type tableRecord struct {
	table  string
	record *Record
}

type parentKey struct {
	field, table, parent string
}

// AssembleTopoItems joins the field order with the affected and dependent
// rows. Record items keep the discovery order of the resolvers.
func AssembleTopoItems(in AssembleInput) []TopoItem {
	index := make(map[string]map[string]*Record, len(in.Rows))
	for table, records := range in.Rows {
		m := make(map[string]*Record, len(records))
		for _, r := range records {
			m[r.ID] = r
		}
		index[table] = m
	}
	lookup := func(table, id string) *Record {
		return index[table][id]
	}

	byField := make(map[string][]AffectedRecordItem)
	for _, it := range in.Affected {
		byField[it.FieldID] = append(byField[it.FieldID], it)
	}
	children := make(map[parentKey][]string)
	for _, it := range in.Dependent {
		k := parentKey{it.FieldID, it.DBTableName, it.RelationTo}
		children[k] = append(children[k], it.ID)
	}

	collected := make(map[string][]tableRecord)
	for _, root := range in.Roots {
		table := in.TableDBNames[root.TableID]
		if r := lookup(table, root.ID); r != nil {
			collected[in.RootFieldID] = append(collected[in.RootFieldID], tableRecord{table, r})
		}
	}

	items := make([]TopoItem, 0, len(in.Order))
	for _, node := range in.Order {
		if node.ID == in.RootFieldID {
			continue
		}
		field := in.Fields[node.ID]
		if field == nil {
			continue
		}
		table := in.TableDBNames[in.FieldTables[node.ID]]
		item := TopoItem{ID: node.ID, Dependencies: append([]string{}, node.Dependencies...)}

		if field.IsRelational() {
			var foreign string
			if link := linkOf(field, in.Fields); link != nil {
				foreign = in.TableDBNames[link.Options.ForeignTableID]
			}
			for _, it := range byField[node.ID] {
				r := lookup(table, it.ID)
				if r == nil {
					continue
				}
				switch {
				case it.SelectIn != nil:
					ids := children[parentKey{node.ID, it.SelectIn.Table, it.ID}]
					deps := make([]*Record, 0, len(ids))
					for _, id := range ids {
						if c := lookup(it.SelectIn.Table, id); c != nil {
							deps = append(deps, c)
						}
					}
					item.RecordItems = append(item.RecordItems, RecordItem{Record: r, Kind: DependencyMultiple, Dependencies: deps})
				default:
					// An empty RelationTo finds no record: the link was cleared.
					item.RecordItems = append(item.RecordItems, RecordItem{
						Record:       r,
						Kind:         DependencySingle,
						Dependencies: []*Record{lookup(foreign, it.RelationTo)},
					})
				}
			}
		} else {
			seen := make(map[string]bool)
			for _, dep := range node.Dependencies {
				for _, tr := range collected[dep] {
					if tr.table != table || seen[tr.record.ID] {
						continue
					}
					seen[tr.record.ID] = true
					item.RecordItems = append(item.RecordItems, RecordItem{Record: tr.record})
				}
			}
		}

		for _, ri := range item.RecordItems {
			collected[node.ID] = append(collected[node.ID], tableRecord{table, ri.Record})
		}
		items = append(items, item)
	}
	return items
}

// linkOf returns the link field a relational field reads through.
func linkOf(f *Field, fields map[string]*Field) *Field {
	if f.Type == FieldLink {
		return f
	}
	return fields[f.Options.LinkFieldID]
}
