package dynamodb

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/normalize"
)

// Item is one raw DynamoDB item.
type Item = map[string]types.AttributeValue

// scalarType names a key attribute type.
func scalarType(t types.ScalarAttributeType) string {
	switch t {
	case types.ScalarAttributeTypeN:
		return normalize.TypeNumber
	case types.ScalarAttributeTypeB:
		return normalize.TypeBinary
	}
	return normalize.TypeString
}

// keySchema orders the hash key before the range key.
func keySchema(desc *types.TableDescription) []dao.PrimaryKeyInfo {
	defs := make(map[string]types.ScalarAttributeType, len(desc.AttributeDefinitions))
	for _, d := range desc.AttributeDefinitions {
		if d.AttributeName != nil {
			defs[*d.AttributeName] = d.AttributeType
		}
	}
	var hash, rng []dao.PrimaryKeyInfo
	for _, k := range desc.KeySchema {
		if k.AttributeName == nil {
			continue
		}
		pk := dao.PrimaryKeyInfo{ColumnName: *k.AttributeName, DataType: scalarType(defs[*k.AttributeName])}
		if k.KeyType == types.KeyTypeHash {
			hash = append(hash, pk)
		} else {
			rng = append(rng, pk)
		}
	}
	return append(hash, rng...)
}

// toRow decodes item. Numbers become int64 when integral, else float64.
func toRow(item Item) (dao.Row, error) {
	var m map[string]any
	err := attributevalue.UnmarshalMapWithOptions(item, &m, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, err
	}
	row := make(dao.Row, len(m))
	for k, v := range m {
		row[k] = native(v)
	}
	return row, nil
}

func native(v any) any {
	switch t := v.(type) {
	case attributevalue.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, e := range t {
			t[k] = native(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = native(e)
		}
		return t
	}
	return v
}

func toRows(items []Item) ([]dao.Row, error) {
	rows := make([]dao.Row, 0, len(items))
	for _, it := range items {
		row, err := toRow(it)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// toItem encodes row, coercing numeric strings of numeric attributes.
func toItem(row dao.Row, attrTypes map[string]string) (Item, error) {
	if _, err := dao.RowColumns(row); err != nil {
		return nil, err
	}
	coerced := make(map[string]any, len(row))
	for k, v := range row {
		coerced[k] = filter.Coerce(v, attrTypes[k])
	}
	item, err := attributevalue.MarshalMap(coerced)
	if err != nil {
		return nil, dao.Validationf("cannot encode item: %v", err)
	}
	return item, nil
}

// keyItem encodes the key attributes of key. Every key attribute must be
// present and nothing else may be.
func keyItem(key dao.Row, pks []dao.PrimaryKeyInfo) (Item, error) {
	if len(key) != len(pks) {
		return nil, dao.Validationf("primary key must contain exactly %v", dao.KeyNames(pks))
	}
	attrTypes := make(map[string]string, len(pks))
	for _, pk := range pks {
		if _, ok := key[pk.ColumnName]; !ok {
			return nil, dao.Validationf("primary key attribute %q is missing", pk.ColumnName)
		}
		attrTypes[pk.ColumnName] = pk.DataType
	}
	return toItem(key, attrTypes)
}

// keyCondition asserts the item exists.
func keyCondition(pks []dao.PrimaryKeyInfo) expression.ConditionBuilder {
	return expression.Name(pks[0].ColumnName).AttributeExists()
}

// projectionOf returns the projection of the selectable columns, or false
// when the whole item is wanted.
func projectionOf(settings *dao.TableSettings, structure []dao.ColumnInfo) (expression.ProjectionBuilder, bool) {
	if settings == nil || (len(settings.ListFields) == 0 && len(settings.ExcludedFields) == 0) {
		return expression.ProjectionBuilder{}, false
	}
	cols := dao.SelectableColumns(settings, structure)
	if len(cols) == 0 {
		return expression.ProjectionBuilder{}, false
	}
	names := make([]expression.NameBuilder, len(cols))
	for i, c := range cols {
		names[i] = expression.Name(c)
	}
	return expression.NamesList(names[0], names[1:]...), true
}

// structureTypes maps attribute names to their inferred type.
func structureTypes(structure []dao.ColumnInfo) map[string]string {
	attrTypes := make(map[string]string, len(structure))
	for _, c := range structure {
		attrTypes[c.ColumnName] = c.DataType
	}
	return attrTypes
}
