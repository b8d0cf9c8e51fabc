package filter

import (
	"regexp"

	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/rowpane/rowpane/internal/dao"
)

// MongoIDField is the document identifier field.
const MongoIDField = "_id"

// MongoID reparses a string identifier into an ObjectID. Non-string values
// are returned unchanged; a malformed hex string is a validation error.
func MongoID(v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	oid, err := bson.ObjectIDFromHex(s)
	if err != nil {
		return nil, dao.Validationf("%q is not a valid object id", s)
	}
	return oid, nil
}

// MongoPredicate translates one filter into a document query. types maps
// field names to the sampled document type, used to coerce numeric strings.
func MongoPredicate(f dao.FilterSpec, types map[string]string) (bson.D, bool, error) {
	value := Coerce(f.Value, types[f.Field])
	if f.Field == MongoIDField {
		id, err := MongoID(f.Value)
		if err != nil {
			return nil, false, err
		}
		value = id
	}

	field := f.Field
	switch f.Criteria.Normalize() {
	case dao.Eq:
		return bson.D{{Key: field, Value: value}}, true, nil
	case dao.StartsWith:
		return bson.D{{Key: field, Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(toText(f.Value))}}}}, true, nil
	case dao.EndsWith:
		return bson.D{{Key: field, Value: bson.D{{Key: "$regex", Value: regexp.QuoteMeta(toText(f.Value)) + "$"}}}}, true, nil
	case dao.Contains:
		return bson.D{{Key: field, Value: bson.D{{Key: "$regex", Value: regexp.QuoteMeta(toText(f.Value))}}}}, true, nil
	case dao.IContains:
		re := bson.Regex{Pattern: regexp.QuoteMeta(toText(f.Value))}
		return bson.D{{Key: field, Value: bson.D{{Key: "$not", Value: re}}}}, true, nil
	case dao.Gt:
		return bson.D{{Key: field, Value: bson.D{{Key: "$gt", Value: value}}}}, true, nil
	case dao.Lt:
		return bson.D{{Key: field, Value: bson.D{{Key: "$lt", Value: value}}}}, true, nil
	case dao.Gte:
		return bson.D{{Key: field, Value: bson.D{{Key: "$gte", Value: value}}}}, true, nil
	case dao.Lte:
		return bson.D{{Key: field, Value: bson.D{{Key: "$lte", Value: value}}}}, true, nil
	case dao.Empty:
		return bson.D{{Key: field, Value: bson.D{{Key: "$exists", Value: false}}}}, true, nil
	}
	return nil, false, nil
}

// MongoQuery combines filters with $and and the free-text search over
// searchFields with $or. The result matches everything when both are empty.
func MongoQuery(filters []dao.FilterSpec, searchFields []string, searchValue string, types map[string]string) (bson.D, error) {
	var and bson.A
	for _, f := range filters {
		p, ok, err := MongoPredicate(f, types)
		if err != nil {
			return nil, err
		}
		if ok {
			and = append(and, p)
		}
	}
	if searchValue != "" && len(searchFields) > 0 {
		or := make(bson.A, 0, len(searchFields))
		pattern := regexp.QuoteMeta(searchValue)
		for _, f := range searchFields {
			or = append(or, bson.D{{Key: f, Value: bson.D{{Key: "$regex", Value: pattern}, {Key: "$options", Value: "i"}}}})
		}
		and = append(and, bson.D{{Key: "$or", Value: or}})
	}
	switch len(and) {
	case 0:
		return bson.D{}, nil
	case 1:
		return and[0].(bson.D), nil
	}
	return bson.D{{Key: "$and", Value: and}}, nil
}

// MongoPrefix is the autocomplete query: a prefix match over fields combined with $or.
func MongoPrefix(fields []string, value string) bson.D {
	or := make(bson.A, 0, len(fields))
	pattern := "^" + regexp.QuoteMeta(value)
	for _, f := range fields {
		or = append(or, bson.D{{Key: f, Value: bson.D{{Key: "$regex", Value: pattern}}}})
	}
	if len(or) == 0 {
		return bson.D{}
	}
	return bson.D{{Key: "$or", Value: or}}
}
