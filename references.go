package cellgraph

// FieldReferences returns the edges a field contributes to the reference
// graph: one edge from every field its value is computed from.
//
// A link depends on the foreign field it displays. Lookup and rollup fields
// depend on their link and on the foreign field they read. Formulas depend
// on every field referenced in the expression.
func FieldReferences(f *Field) []Reference {
	var from []string
	switch f.Type {
	case FieldLink:
		from = append(from, f.Options.LookupFieldID)
	case FieldLookup, FieldRollup:
		from = append(from, f.Options.LinkFieldID, f.Options.LookupFieldID)
	case FieldFormula:
		from = Refs(f.Options.Expression)
	case FieldPlain:
	}

	var refs []Reference
	seen := make(map[string]bool)
	for _, id := range from {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		refs = append(refs, Reference{FromFieldID: id, ToFieldID: f.ID})
	}
	return refs
}
