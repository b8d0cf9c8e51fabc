package dao

import (
	"encoding/json"
	"strings"

	"github.com/rowpane/rowpane/internal/jsonrepair"
)

// IsJSONType reports whether the normalized data type holds JSON documents.
func IsJSONType(dataType string) bool {
	switch strings.ToLower(dataType) {
	case "json", "jsonb":
		return true
	}
	return false
}

// PrepareJSONValues serializes values bound for JSON-typed columns. Strings are
// parsed (with repair) first so the stored document is always well formed.
// Values for other columns are returned untouched. row is not modified.
func PrepareJSONValues(row Row, structure []ColumnInfo) (Row, error) {
	out := make(Row, len(row))
	for k, v := range row {
		col, ok := FindColumn(structure, k)
		if !ok || !IsJSONType(col.DataType) || v == nil {
			out[k] = v
			continue
		}
		s, err := encodeJSONValue(k, v)
		if err != nil {
			return nil, err
		}
		out[k] = s
	}
	return out, nil
}

func encodeJSONValue(column string, v any) (string, error) {
	switch t := v.(type) {
	case string:
		parsed, err := jsonrepair.ParseOrRepair(t)
		if err != nil {
			return "", Validationf("column %q: value is not valid JSON: %v", column, err)
		}
		v = parsed
	case []byte:
		parsed, err := jsonrepair.ParseOrRepair(string(t))
		if err != nil {
			return "", Validationf("column %q: value is not valid JSON: %v", column, err)
		}
		v = parsed
	case json.RawMessage:
		v = t
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", Validationf("column %q: cannot encode JSON: %v", column, err)
	}
	return string(b), nil
}

// DecodeJSONValue turns a driver value read from a JSON column into native
// JSON. Undecodable text is returned as-is.
func DecodeJSONValue(v any) any {
	var raw []byte
	switch t := v.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	default:
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return string(raw)
	}
	return out
}
