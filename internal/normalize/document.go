package normalize

import (
	"encoding/json"
	"slices"
	"time"

	"github.com/rowpane/rowpane/internal/dao"
)

// Document type names reported for schemaless engines.
const (
	TypeString   = "string"
	TypeNumber   = "number"
	TypeBoolean  = "boolean"
	TypeDate     = "date"
	TypeObjectID = "objectid"
	TypeObject   = "object"
	TypeArray    = "array"
	TypeBinary   = "binary"
	TypeNull     = "null"
	TypeMixed    = "mixed"
)

// Typer maps an engine value to a document type name. It returns "" for
// values it does not recognize so the generic mapping applies.
type Typer func(v any) string

// ExpandEnum turns a user-defined column into an enum carrying its labels.
func ExpandEnum(col dao.ColumnInfo, labels []string) dao.ColumnInfo {
	col.DataType = "enum"
	col.DataTypeParams = labels
	return col
}

// ExpandComposite turns a user-defined column into a composite carrying its
// normalized member columns.
func ExpandComposite(col dao.ColumnInfo, members []RawColumn) dao.ColumnInfo {
	col.DataType = "composite"
	col.CompositeFields = Columns(members)
	return col
}

// InferDocuments synthesizes a structure from sampled documents. Required keys
// come first, the rest follow in order of first appearance (alphabetical
// within one document). A key observed with different types is reported as
// mixed; null observations do not count. Every inferred column is nullable
// except the required ones. No documents yields an empty structure.
func InferDocuments(docs []map[string]any, required []string, typer Typer) []dao.ColumnInfo {
	var order []string
	types := make(map[string]string)
	for _, doc := range docs {
		for _, k := range sortedKeys(doc) {
			t := valueType(doc[k], typer)
			prev, seen := types[k]
			if !seen {
				order = append(order, k)
				types[k] = t
				continue
			}
			switch {
			case prev == t || t == TypeNull:
			case prev == TypeNull:
				types[k] = t
			default:
				types[k] = TypeMixed
			}
		}
	}

	req := make(map[string]bool, len(required))
	for _, r := range required {
		req[r] = true
	}

	sorted := make([]string, 0, len(order))
	for _, r := range required {
		if _, ok := types[r]; ok {
			sorted = append(sorted, r)
		}
	}
	for _, k := range order {
		if !req[k] {
			sorted = append(sorted, k)
		}
	}

	cols := make([]dao.ColumnInfo, 0, len(sorted))
	for _, k := range sorted {
		cols = append(cols, dao.ColumnInfo{
			ColumnName: k,
			DataType:   types[k],
			AllowNull:  !req[k],
		})
	}
	return cols
}

func valueType(v any, typer Typer) string {
	if typer != nil {
		if t := typer(v); t != "" {
			return t
		}
	}
	switch v.(type) {
	case nil:
		return TypeNull
	case string:
		return TypeString
	case bool:
		return TypeBoolean
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, json.Number:
		return TypeNumber
	case time.Time:
		return TypeDate
	case []byte:
		return TypeBinary
	case map[string]any, dao.Row:
		return TypeObject
	case []any:
		return TypeArray
	default:
		return TypeString
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
