package filter

import (
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"

	"github.com/rowpane/rowpane/internal/dao"
)

// DynamoCondition is a translated DynamoDB scan filter. Cond is only meaningful
// when HasCond is true. Residual lists the filters DynamoDB cannot express
// (endswith) which the caller applies with Match after the scan.
type DynamoCondition struct {
	Cond     expression.ConditionBuilder
	HasCond  bool
	Residual []dao.FilterSpec
}

// DynamoPredicate translates one filter. ok is false when the filter is not
// expressible as a FilterExpression or is unknown.
func DynamoPredicate(f dao.FilterSpec, types map[string]string) (expression.ConditionBuilder, bool) {
	name := expression.Name(f.Field)
	value := Coerce(f.Value, types[f.Field])
	switch f.Criteria.Normalize() {
	case dao.Eq:
		return name.Equal(expression.Value(value)), true
	case dao.StartsWith:
		return name.BeginsWith(toText(f.Value)), true
	case dao.Contains:
		return name.Contains(toText(f.Value)), true
	case dao.IContains:
		return expression.Not(name.Contains(toText(f.Value))), true
	case dao.Gt:
		return name.GreaterThan(expression.Value(value)), true
	case dao.Lt:
		return name.LessThan(expression.Value(value)), true
	case dao.Gte:
		return name.GreaterThanEqual(expression.Value(value)), true
	case dao.Lte:
		return name.LessThanEqual(expression.Value(value)), true
	case dao.Empty:
		return name.AttributeNotExists(), true
	}
	return expression.ConditionBuilder{}, false
}

// DynamoFilter combines filters with AND and the search over searchFields with OR.
func DynamoFilter(filters []dao.FilterSpec, searchFields []string, searchValue string, types map[string]string) DynamoCondition {
	var out DynamoCondition
	var conds []expression.ConditionBuilder
	for _, f := range filters {
		if f.Criteria.Normalize() == dao.EndsWith {
			out.Residual = append(out.Residual, f)
			continue
		}
		if c, ok := DynamoPredicate(f, types); ok {
			conds = append(conds, c)
		}
	}
	if searchValue != "" && len(searchFields) > 0 {
		ors := make([]expression.ConditionBuilder, 0, len(searchFields))
		for _, f := range searchFields {
			ors = append(ors, expression.Name(f).Contains(searchValue))
		}
		conds = append(conds, combine(ors, expression.Or))
	}
	if len(conds) > 0 {
		out.Cond = combine(conds, expression.And)
		out.HasCond = true
	}
	return out
}

// DynamoPrefix is the autocomplete filter.
func DynamoPrefix(fields []string, value string) (expression.ConditionBuilder, bool) {
	if len(fields) == 0 {
		return expression.ConditionBuilder{}, false
	}
	ors := make([]expression.ConditionBuilder, 0, len(fields))
	for _, f := range fields {
		ors = append(ors, expression.Name(f).BeginsWith(value))
	}
	return combine(ors, expression.Or), true
}

type joinFunc func(left, right expression.ConditionBuilder, other ...expression.ConditionBuilder) expression.ConditionBuilder

func combine(conds []expression.ConditionBuilder, join joinFunc) expression.ConditionBuilder {
	switch len(conds) {
	case 1:
		return conds[0]
	case 2:
		return join(conds[0], conds[1])
	}
	return join(conds[0], conds[1], conds[2:]...)
}
