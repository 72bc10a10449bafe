package cellgraph

type changeKey struct {
	table, record, field string
}

// CollectChanges evaluates every record item in topological order and
// returns the cells whose value changed. Each change is written back into
// the in-memory record so later fields read the new value. A cell is
// reported at most once; the first evaluation wins.
func CollectChanges(items []TopoItem, fields map[string]*Field, fieldTables map[string]string, formulas FormulaEvaluator) []Change {
	if formulas == nil {
		formulas = NewFormulas()
	}

	var changes []Change
	done := make(map[changeKey]bool)
	for _, item := range items {
		field := fields[item.ID]
		if field == nil {
			continue
		}
		tableID := fieldTables[item.ID]
		for _, ri := range item.RecordItems {
			rec := ri.Record
			k := changeKey{tableID, rec.ID, field.ID}
			if done[k] {
				continue
			}

			newValue, ok := evaluate(field, ri, formulas)
			if !ok {
				continue
			}
			if rec.Fields == nil {
				rec.Fields = make(map[string]any)
			}
			oldValue := rec.Fields[field.ID]
			if CellEqual(oldValue, newValue) {
				continue
			}

			done[k] = true
			changes = append(changes, Change{
				TableID:  tableID,
				RecordID: rec.ID,
				FieldID:  field.ID,
				OldValue: oldValue,
				NewValue: newValue,
			})
			if newValue == nil {
				delete(rec.Fields, field.ID)
			} else {
				rec.Fields[field.ID] = newValue
			}
		}
	}
	return changes
}

// evaluate computes the new value of field for one record item. It reports
// false when the field has nothing to compute for the item.
func evaluate(field *Field, ri RecordItem, formulas FormulaEvaluator) (any, bool) {
	switch field.Type {
	case FieldLink:
		if ri.Kind == DependencyNone {
			return nil, false
		}
		return linkValue(field.Options.LookupFieldID, ri), true

	case FieldFormula:
		return formulas.Evaluate(field.Options.Expression, ri.Record.Fields), true

	case FieldLookup:
		if ri.Kind == DependencyNone {
			return nil, false
		}
		return lookupValue(field.Options.LookupFieldID, ri), true

	case FieldRollup:
		if ri.Kind == DependencyNone {
			return nil, false
		}
		var values []any
		switch v := lookupValue(field.Options.LookupFieldID, ri).(type) {
		case nil:
		case []any:
			values = v
		default:
			values = []any{v}
		}
		out, err := Rollup(field.Options.Aggregation, values)
		if err != nil {
			return CellError{Code: CodeError, Message: err.Error()}, true
		}
		return out, true

	case FieldPlain:
		return nil, false
	}
	return nil, false
}

func linkValue(lookupFieldID string, ri RecordItem) any {
	if ri.Kind == DependencySingle {
		dep := ri.Dependency()
		if dep == nil {
			return nil
		}
		return LinkValue{ID: dep.ID, Title: DisplayString(dep.Fields[lookupFieldID])}
	}
	if len(ri.Dependencies) == 0 {
		return nil
	}
	out := make([]LinkValue, 0, len(ri.Dependencies))
	for _, dep := range ri.Dependencies {
		out = append(out, LinkValue{ID: dep.ID, Title: DisplayString(dep.Fields[lookupFieldID])})
	}
	return out
}

func lookupValue(lookupFieldID string, ri RecordItem) any {
	if ri.Kind == DependencySingle {
		dep := ri.Dependency()
		if dep == nil {
			return nil
		}
		return dep.Fields[lookupFieldID]
	}
	var out []any
	for _, dep := range ri.Dependencies {
		switch v := dep.Fields[lookupFieldID].(type) {
		case nil:
		case []any:
			out = append(out, v...)
		default:
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
