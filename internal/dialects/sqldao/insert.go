package sqldao

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
)

// InsertStatement is one single-row insert ready to be rendered by a dialect.
type InsertStatement struct {
	// Table is the qualified, quoted table reference.
	Table string
	// Columns are the quoted column names in the same order as Args.
	Columns []string
	Args    []any
	// Keys are the table's primary key columns; KeyColumns are them quoted.
	Keys       []dao.PrimaryKeyInfo
	KeyColumns []string
	// Row holds the values being inserted, keyed by unquoted column name.
	Row dao.Row

	b            *filter.Builder
	placeholders []string
}

// Builder binds the insert values. Dialects that add output binds continue
// numbering on the same builder.
func (s *InsertStatement) Builder() *filter.Builder { return s.b }

// Placeholders returns the bind markers of the values.
func (s *InsertStatement) Placeholders() []string {
	return s.placeholders
}

// SQL renders INSERT INTO t (cols) VALUES (...).
func (s *InsertStatement) SQL() string {
	return s.SQLWith("")
}

// SQLWith renders the insert with clause between the column list and
// VALUES, as MSSQL's OUTPUT requires.
func (s *InsertStatement) SQLWith(clause string) string {
	q := "INSERT INTO " + s.Table + " (" + strings.Join(s.Columns, ", ") + ")"
	if clause != "" {
		q += " " + clause
	}
	return q + " VALUES (" + strings.Join(s.placeholders, ", ") + ")"
}

// KeyList renders the quoted key columns separated by commas.
func (s *InsertStatement) KeyList() string {
	return strings.Join(s.KeyColumns, ", ")
}

// ProvidedKey returns the key when every key column was supplied in Row.
func (s *InsertStatement) ProvidedKey() (dao.Row, bool) {
	key := make(dao.Row, len(s.Keys))
	for _, k := range s.Keys {
		v, ok := s.Row[k.ColumnName]
		if !ok || v == nil {
			return nil, false
		}
		key[k.ColumnName] = v
	}
	return key, true
}

// ScanKey reads one row holding the key columns in order.
func (s *InsertStatement) ScanKey(row *sql.Row) (dao.Row, error) {
	vals := make([]any, len(s.Keys))
	ptrs := make([]any, len(s.Keys))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := row.Scan(ptrs...); err != nil {
		return nil, err
	}
	key := make(dao.Row, len(s.Keys))
	for i, k := range s.Keys {
		key[k.ColumnName] = normalizeValue(vals[i])
	}
	return key, nil
}

func newInsert(d Dialect, table string, row dao.Row, keys []dao.PrimaryKeyInfo) (*InsertStatement, error) {
	cols, err := dao.RowColumns(row)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, dao.Validationf("row must have at least one column")
	}
	s := &InsertStatement{Table: table, Keys: keys, Row: row, b: filter.NewBuilder(d)}
	for _, c := range cols {
		s.Columns = append(s.Columns, d.QuoteIdent(c))
		s.placeholders = append(s.placeholders, s.b.Arg(row[c]))
	}
	s.Args = s.b.Args()
	for _, k := range keys {
		s.KeyColumns = append(s.KeyColumns, d.QuoteIdent(k.ColumnName))
	}
	return s, nil
}

// InsertReturning runs "INSERT ... RETURNING keys" (Postgres).
func InsertReturning(ctx context.Context, q Querier, s *InsertStatement) (dao.Row, error) {
	return s.ScanKey(q.QueryRowContext(ctx, s.SQL()+" RETURNING "+s.KeyList(), s.Args...))
}

// InsertFinalTable runs "SELECT keys FROM FINAL TABLE (INSERT ...)" (Db2).
func InsertFinalTable(ctx context.Context, q Querier, s *InsertStatement) (dao.Row, error) {
	return s.ScanKey(q.QueryRowContext(ctx, "SELECT "+s.KeyList()+" FROM FINAL TABLE ("+s.SQL()+")", s.Args...))
}

// InsertLastID runs a plain insert and resolves the key from the supplied
// values or, for a single generated key, from LastInsertId (MySQL).
func InsertLastID(ctx context.Context, q Querier, s *InsertStatement) (dao.Row, error) {
	res, err := q.ExecContext(ctx, s.SQL(), s.Args...)
	if err != nil {
		return nil, err
	}
	if key, ok := s.ProvidedKey(); ok {
		return key, nil
	}
	if len(s.Keys) != 1 {
		return nil, dao.New(dao.KindNotSupported, "composite generated keys cannot be resolved after insert")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return dao.Row{s.Keys[0].ColumnName: id}, nil
}

// parseNumeric converts a numeric string returned through a text out-bind.
func parseNumeric(v string) any {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// KeyFromText builds a key row from text out-binds, converting values of
// numeric key columns.
func KeyFromText(keys []dao.PrimaryKeyInfo, vals []string, numeric func(dataType string) bool) dao.Row {
	key := make(dao.Row, len(keys))
	for i, k := range keys {
		if numeric != nil && numeric(k.DataType) {
			key[k.ColumnName] = parseNumeric(vals[i])
			continue
		}
		key[k.ColumnName] = vals[i]
	}
	return key
}
