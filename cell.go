package cellgraph

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// DecodeCell normalizes a value read from storage into the engine's cell
// shapes: link cells become LinkValue or []LinkValue, JSON numbers become
// float64.
func DecodeCell(f *Field, v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(string); ok && f != nil && f.Type != FieldPlain {
		trimmed := strings.TrimSpace(s)
		if strings.HasPrefix(trimmed, "[") || strings.HasPrefix(trimmed, "{") {
			var decoded any
			if err := json.Unmarshal([]byte(trimmed), &decoded); err == nil {
				v = decoded
			}
		}
	}
	if f != nil && f.Type == FieldLink {
		return decodeLink(v)
	}
	if m, ok := v.(map[string]any); ok && f != nil && f.Type == FieldFormula {
		if code, ok := m["code"].(string); ok && strings.HasPrefix(code, "#") {
			msg, _ := m["message"].(string)
			return CellError{Code: code, Message: msg}
		}
	}
	return normalizeNumber(v)
}

func decodeLink(v any) any {
	switch t := v.(type) {
	case LinkValue, []LinkValue:
		return t
	case map[string]any:
		lv, ok := linkFromMap(t)
		if !ok {
			return t
		}
		return lv
	case []any:
		out := make([]LinkValue, 0, len(t))
		for _, e := range t {
			m, ok := e.(map[string]any)
			if !ok {
				return t
			}
			lv, ok := linkFromMap(m)
			if !ok {
				return t
			}
			out = append(out, lv)
		}
		return out
	}
	return v
}

// LinkIDs returns the record ids held by a decoded link cell.
func LinkIDs(v any) []string {
	switch t := v.(type) {
	case LinkValue:
		if t.ID != "" {
			return []string{t.ID}
		}
	case []LinkValue:
		ids := make([]string, 0, len(t))
		for _, lv := range t {
			ids = append(ids, lv.ID)
		}
		return ids
	}
	return nil
}

func linkFromMap(m map[string]any) (LinkValue, bool) {
	id, ok := m["id"].(string)
	if !ok {
		return LinkValue{}, false
	}
	title, _ := m["title"].(string)
	return LinkValue{ID: id, Title: title}, true
}

func normalizeNumber(v any) any {
	if f, ok := toFloat(v); ok {
		return f
	}
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// DisplayString renders a cell the way it is shown to users: link titles,
// lists joined with ", ".
func DisplayString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case LinkValue:
		return t.Title
	case []LinkValue:
		parts := make([]string, len(t))
		for i, lv := range t {
			parts[i] = lv.Title
		}
		return strings.Join(parts, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = DisplayString(e)
		}
		return strings.Join(parts, ", ")
	case CellError:
		return t.Code
	}
	if f, ok := toFloat(v); ok {
		return DisplayString(f)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// CellEqual compares two cell values structurally.
func CellEqual(a, b any) bool {
	return cmp.Equal(normalizeNumber(a), normalizeNumber(b))
}
