package filter

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
)

// EmptyMode selects what "empty" means for in-memory matching.
type EmptyMode int

const (
	// EmptyNullOrBlank matches NULL values and empty strings (SQL semantics).
	EmptyNullOrBlank EmptyMode = iota
	// EmptyMissing matches attributes that do not exist (schemaless semantics).
	EmptyMissing
)

// numericTypes are data types whose string values are coerced to numbers.
var numericTypes = map[string]bool{
	"number": true, "n": true, "int": true, "bigint": true, "smallint": true, "tinyint": true,
	"varint": true, "counter": true, "float": true, "double": true, "decimal": true,
}

// Coerce converts numeric strings for numeric columns. Other values pass through.
func Coerce(v any, dataType string) any {
	s, ok := v.(string)
	if !ok || !numericTypes[strings.ToLower(dataType)] {
		return v
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return v
}

// Match evaluates one filter against a row entirely in memory. It backs the
// engines that cannot express a criterion natively. Unknown criteria match.
func Match(row dao.Row, f dao.FilterSpec, mode EmptyMode) bool {
	v, present := row[f.Field]
	switch f.Criteria.Normalize() {
	case dao.Empty:
		if mode == EmptyMissing {
			return !present
		}
		return v == nil || toText(v) == ""
	case dao.IContains:
		if !present || v == nil {
			return true
		}
		return !strings.Contains(toText(v), toText(f.Value))
	}

	if !present || v == nil {
		if f.Criteria.Normalize() == dao.Eq {
			return f.Value == nil
		}
		return !f.Criteria.Known()
	}

	text := toText(v)
	want := toText(f.Value)
	switch f.Criteria.Normalize() {
	case dao.Eq:
		return compare(v, f.Value) == 0
	case dao.StartsWith:
		return strings.HasPrefix(text, want)
	case dao.EndsWith:
		return strings.HasSuffix(text, want)
	case dao.Contains:
		return strings.Contains(text, want)
	case dao.Gt:
		return compare(v, f.Value) > 0
	case dao.Lt:
		return compare(v, f.Value) < 0
	case dao.Gte:
		return compare(v, f.Value) >= 0
	case dao.Lte:
		return compare(v, f.Value) <= 0
	}
	return true
}

// MatchAll combines filters with AND.
func MatchAll(row dao.Row, filters []dao.FilterSpec, mode EmptyMode) bool {
	for _, f := range filters {
		if !Match(row, f, mode) {
			return false
		}
	}
	return true
}

// MatchSearch is the in-memory free-text search: a case-insensitive substring
// match over fields combined with OR. An empty value matches every row.
func MatchSearch(row dao.Row, fields []string, value string) bool {
	if value == "" || len(fields) == 0 {
		return true
	}
	needle := strings.ToLower(value)
	for _, f := range fields {
		if v, ok := row[f]; ok && v != nil && strings.Contains(strings.ToLower(toText(v)), needle) {
			return true
		}
	}
	return false
}

// MatchPrefix is the in-memory autocomplete predicate.
func MatchPrefix(row dao.Row, fields []string, value string) bool {
	for _, f := range fields {
		if v, ok := row[f]; ok && v != nil && strings.HasPrefix(toText(v), value) {
			return true
		}
	}
	return false
}

// SortRows orders rows by field, numerically when both sides are numbers.
func SortRows(rows []dao.Row, field string, dir dao.Ordering) {
	if field == "" {
		return
	}
	slices.SortStableFunc(rows, func(a, b dao.Row) int {
		c := compareNullable(a[field], b[field])
		if dir == dao.Desc {
			return -c
		}
		return c
	})
}

// Page returns the rows of one page.
func Page(rows []dao.Row, page, perPage int) []dao.Row {
	start := dao.Offset(page, perPage)
	if start >= len(rows) {
		return []dao.Row{}
	}
	end := start + perPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return compare(a, b)
}

func compare(a, b any) int {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(toText(a), toText(b))
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case fmt.Stringer:
		f, err := strconv.ParseFloat(t.String(), 64)
		return f, err == nil
	}
	return 0, false
}
