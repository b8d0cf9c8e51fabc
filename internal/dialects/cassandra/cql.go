package cassandra

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/gocql/gocql"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
)

// cql renders identifiers and bind markers for the shared predicate builder.
type cql struct{}

func (cql) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (cql) Placeholder(int) string { return "?" }

func (cql) TextExpr(quoted string) string { return quoted }

// schemaColumn is one row of system_schema.columns.
type schemaColumn struct {
	Name     string
	Type     string
	Kind     string
	Position int
}

const (
	kindPartition  = "partition_key"
	kindClustering = "clustering"
)

// keyColumns orders partition columns before clustering columns, each by
// position.
func keyColumns(cols []schemaColumn) []dao.PrimaryKeyInfo {
	var part, clus []schemaColumn
	for _, c := range cols {
		switch c.Kind {
		case kindPartition:
			part = append(part, c)
		case kindClustering:
			clus = append(clus, c)
		}
	}
	byPos := func(a, b schemaColumn) int { return a.Position - b.Position }
	slices.SortStableFunc(part, byPos)
	slices.SortStableFunc(clus, byPos)

	pks := make([]dao.PrimaryKeyInfo, 0, len(part)+len(clus))
	for _, c := range append(part, clus...) {
		pks = append(pks, dao.PrimaryKeyInfo{ColumnName: c.Name, DataType: c.Type})
	}
	return pks
}

// structure lists the key columns first, then the rest by name. Collection
// types keep their parameters, for example map<text, int>.
func structure(cols []schemaColumn) []dao.ColumnInfo {
	pks := keyColumns(cols)
	out := make([]dao.ColumnInfo, 0, len(cols))
	for _, pk := range pks {
		out = append(out, dao.ColumnInfo{ColumnName: pk.ColumnName, DataType: pk.DataType})
	}
	rest := make([]schemaColumn, 0, len(cols))
	for _, c := range cols {
		if c.Kind != kindPartition && c.Kind != kindClustering {
			rest = append(rest, c)
		}
	}
	slices.SortFunc(rest, func(a, b schemaColumn) int { return strings.Compare(a.Name, b.Name) })
	for _, c := range rest {
		col := dao.ColumnInfo{ColumnName: c.Name, DataType: c.Type, AllowNull: true}
		if i := strings.IndexByte(c.Type, '<'); i > 0 && strings.HasSuffix(c.Type, ">") {
			col.DataType = c.Type[:i]
			col.DataTypeParams = splitTypeParams(c.Type[i+1 : len(c.Type)-1])
		}
		out = append(out, col)
	}
	return out
}

// splitTypeParams splits top level generic parameters.
func splitTypeParams(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// serverSide reports whether CQL can evaluate f with ALLOW FILTERING. String
// criteria and NULL equality have no CQL form and are matched in memory.
func serverSide(f dao.FilterSpec) bool {
	switch f.Criteria.Normalize() {
	case dao.Gt, dao.Lt, dao.Gte, dao.Lte:
		return true
	case dao.Eq:
		return f.Value != nil
	}
	return false
}

// splitFilters partitions filters into CQL and in-memory parts. Comparison
// values are coerced to the column type first.
func splitFilters(filters []dao.FilterSpec, types map[string]string) (cqlPart, memPart []dao.FilterSpec) {
	for _, f := range filters {
		if serverSide(f) {
			f.Value = filter.Coerce(f.Value, types[f.Field])
			cqlPart = append(cqlPart, f)
		} else {
			memPart = append(memPart, f)
		}
	}
	return cqlPart, memPart
}

// selectStatement renders a SELECT over ref. filtering appends ALLOW
// FILTERING, which CQL requires for predicates outside the primary key.
func selectStatement(list, ref string, b *filter.Builder, filtering bool) string {
	stmt := "SELECT " + list + " FROM " + ref + b.Where()
	if filtering && !b.Empty() {
		stmt += " ALLOW FILTERING"
	}
	return stmt
}

func quoteList(cols []string) (string, error) {
	q := make([]string, len(cols))
	for i, c := range cols {
		if err := dao.ValidateIdentifier(c); err != nil {
			return "", err
		}
		q[i] = cql{}.QuoteIdent(c)
	}
	return strings.Join(q, ", "), nil
}

// native converts driver values to plain Go values.
func native(v any) any {
	switch t := v.(type) {
	case gocql.UUID:
		return t.String()
	case time.Time:
		return t.UTC()
	case []byte, string, bool, nil:
		return v
	case fmt.Stringer:
		// varint and decimal arrive as *big.Int and *inf.Dec.
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

func toRow(m map[string]any) dao.Row {
	row := make(dao.Row, len(m))
	for k, v := range m {
		row[k] = native(v)
	}
	return row
}
