package cellgraph

import (
	"fmt"
	"strings"
)

// Aggregation functions available to rollup fields.
const (
	AggSum         = "sum"
	AggAverage     = "average"
	AggCount       = "count"
	AggCountA      = "counta"
	AggMax         = "max"
	AggMin         = "min"
	AggConcatenate = "concatenate"
	AggArrayUnique = "array_unique"
)

// flattenValues expands list cells so a rollup over a lookup of a lookup
// sees scalars.
func flattenValues(values []any) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		switch t := v.(type) {
		case []any:
			out = append(out, flattenValues(t)...)
		case []LinkValue:
			for _, lv := range t {
				out = append(out, lv.Title)
			}
		case LinkValue:
			out = append(out, t.Title)
		default:
			out = append(out, normalizeNumber(v))
		}
	}
	return out
}

// Rollup aggregates values with the named function.
func Rollup(fn string, values []any) (any, error) {
	values = flattenValues(values)
	fn = strings.ToLower(fn)
	switch fn {
	case AggSum:
		var total float64
		for _, v := range values {
			if n, ok := toFloat(v); ok {
				total += n
			}
		}
		return total, nil

	case AggAverage:
		var total float64
		var count int
		for _, v := range values {
			if n, ok := toFloat(v); ok {
				total += n
				count++
			}
		}
		if count == 0 {
			return nil, nil
		}
		return total / float64(count), nil

	case AggCount:
		var count int
		for _, v := range values {
			if _, ok := toFloat(v); ok {
				count++
			}
		}
		return float64(count), nil

	case AggCountA:
		var count int
		for _, v := range values {
			if v != nil && v != "" {
				count++
			}
		}
		return float64(count), nil

	case AggMax, AggMin:
		var best float64
		found := false
		for _, v := range values {
			n, ok := toFloat(v)
			if !ok {
				continue
			}
			if !found || (fn == AggMax && n > best) || (fn == AggMin && n < best) {
				best = n
				found = true
			}
		}
		if !found {
			return nil, nil
		}
		return best, nil

	case AggConcatenate:
		parts := make([]string, 0, len(values))
		for _, v := range values {
			if v == nil {
				continue
			}
			parts = append(parts, DisplayString(v))
		}
		return strings.Join(parts, ", "), nil

	case AggArrayUnique:
		seen := make(map[string]bool)
		var out []any
		for _, v := range values {
			if v == nil {
				continue
			}
			key := DisplayString(v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
		if len(out) == 0 {
			return nil, nil
		}
		return out, nil
	}
	return nil, fmt.Errorf("cellgraph: unknown aggregation %q", fn)
}
