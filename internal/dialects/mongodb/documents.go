package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/normalize"
)

// native converts decoded BSON into plain Go values: object ids become hex
// strings, dates become time.Time and nested documents become maps.
func native(v any) any {
	switch t := v.(type) {
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case bson.Decimal128:
		return t.String()
	case bson.Binary:
		return t.Data
	case bson.Regex:
		return t.Pattern
	case bson.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = native(e.Value)
		}
		return m
	case bson.M:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = native(e)
		}
		return m
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = native(e)
		}
		return out
	case bson.Null, bson.Undefined:
		return nil
	}
	return v
}

// toRow converts one decoded document.
func toRow(doc bson.M) dao.Row {
	row := make(dao.Row, len(doc))
	for k, v := range doc {
		row[k] = native(v)
	}
	return row
}

// idPolicy decides how string _id values are read. By default a string _id
// must be a 24 hex character ObjectID; collections keyed by custom strings
// opt in with the string_ids connection option.
type idPolicy struct {
	customStrings bool
}

func (p idPolicy) id(v any) (any, error) {
	id, err := filter.MongoID(v)
	if err != nil && p.customStrings {
		return v, nil
	}
	return id, err
}

// toDocument prepares row for writing with _id reparsed under p.
func (p idPolicy) toDocument(row dao.Row) (bson.M, error) {
	doc := make(bson.M, len(row))
	for k, v := range row {
		if k == filter.MongoIDField {
			id, err := p.id(v)
			if err != nil {
				return nil, err
			}
			v = id
		}
		doc[k] = v
	}
	return doc, nil
}

// typer names BSON specific values for structure inference.
func typer(v any) string {
	switch v.(type) {
	case bson.ObjectID:
		return normalize.TypeObjectID
	case bson.DateTime, bson.Timestamp:
		return normalize.TypeDate
	case bson.Decimal128:
		return normalize.TypeNumber
	case bson.Binary:
		return normalize.TypeBinary
	case bson.D, bson.M:
		return normalize.TypeObject
	case bson.A:
		return normalize.TypeArray
	case bson.Null, bson.Undefined:
		return normalize.TypeNull
	}
	return ""
}

// inferStructure builds the structure of sampled documents. _id comes first
// and is engine generated.
func inferStructure(docs []bson.M) []dao.ColumnInfo {
	plain := make([]map[string]any, len(docs))
	for i, d := range docs {
		plain[i] = d
	}
	cols := normalize.InferDocuments(plain, []string{filter.MongoIDField}, typer)
	for i := range cols {
		if cols[i].ColumnName == filter.MongoIDField {
			def := dao.AutoIncrement
			cols[i].ColumnDefault = &def
		}
	}
	return cols
}

// keyFilter matches one key row. A malformed _id is a validation error.
func (p idPolicy) keyFilter(key dao.Row) (bson.D, error) {
	cols, err := dao.RowColumns(key)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, dao.Validationf("primary key must not be empty")
	}
	d := make(bson.D, 0, len(cols))
	for _, c := range cols {
		v := key[c]
		if c == filter.MongoIDField {
			if v, err = p.id(v); err != nil {
				return nil, err
			}
		}
		d = append(d, bson.E{Key: c, Value: v})
	}
	return d, nil
}

// keysFilter matches any of keys.
func (p idPolicy) keysFilter(keys []dao.Row) (bson.D, error) {
	if len(keys) == 0 {
		return nil, dao.Validationf("at least one primary key is required")
	}
	if len(keys) == 1 {
		return p.keyFilter(keys[0])
	}
	or := make(bson.A, 0, len(keys))
	for _, k := range keys {
		f, err := p.keyFilter(k)
		if err != nil {
			return nil, err
		}
		or = append(or, f)
	}
	return bson.D{{Key: "$or", Value: or}}, nil
}

// projection limits the returned fields to the selectable columns. Nil
// means the whole document.
func projection(settings *dao.TableSettings, structure []dao.ColumnInfo) bson.D {
	if settings == nil || (len(settings.ListFields) == 0 && len(settings.ExcludedFields) == 0) {
		return nil
	}
	cols := dao.SelectableColumns(settings, structure)
	if len(cols) == 0 {
		return nil
	}
	p := make(bson.D, 0, len(cols)+1)
	hasID := false
	for _, c := range cols {
		p = append(p, bson.E{Key: c, Value: 1})
		hasID = hasID || c == filter.MongoIDField
	}
	if !hasID {
		p = append(p, bson.E{Key: filter.MongoIDField, Value: 0})
	}
	return p
}

// structureTypes maps column names to their inferred type for value coercion.
func structureTypes(structure []dao.ColumnInfo) map[string]string {
	types := make(map[string]string, len(structure))
	for _, c := range structure {
		types[c.ColumnName] = c.DataType
	}
	return types
}
