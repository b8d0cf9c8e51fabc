// Package sqldao is the adapter core shared by the SQL engines. Engine
// packages supply a Dialect with catalog queries, quoting, paging and their
// insert-returning strategy; everything else is implemented once here.
package sqldao

import (
	"context"
	"database/sql"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
)

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Dialect is the engine specific part of a SQL adapter.
//
// Catalog queries bind their parameters through the supplied builder and
// must return the columns documented on each method, in that order.
type Dialect interface {
	filter.Dialect

	Engine() dao.EngineType
	// Open connects and pings.
	Open(ctx context.Context, params dao.ConnectionParams) (*sql.DB, error)
	// DefaultSchema is used for table names without a schema qualifier.
	DefaultSchema(params dao.ConnectionParams) string
	// Paginate renders the clause following ORDER BY.
	Paginate(limit, offset int) string

	// ColumnsQuery returns column_name, data_type, udt_name, is_nullable,
	// column_default, max_length, identity, extra.
	ColumnsQuery(b *filter.Builder, schema, table string) string
	// PrimaryKeysQuery returns column_name, data_type.
	PrimaryKeysQuery(b *filter.Builder, schema, table string) string
	// ForeignKeysQuery returns column_name, referenced_table_name,
	// referenced_column_name, constraint_name.
	ForeignKeysQuery(b *filter.Builder, schema, table string) string
	// ReferencingQuery returns referenced_column_name, table_name,
	// column_name for every foreign key pointing at table.
	ReferencingQuery(b *filter.Builder, schema, table string) string
	// TablesQuery returns table_name, is_view.
	TablesQuery(b *filter.Builder, schema string) string
	// EstimateQuery returns one nullable numeric row estimate.
	EstimateQuery(b *filter.Builder, schema, table string) string

	// Insert runs s and returns the primary key of the new row. It is only
	// called for tables that have a primary key.
	Insert(ctx context.Context, q Querier, s *InsertStatement) (dao.Row, error)
}

// StructureExpander post-processes normalized columns, for example to expand
// user defined types.
type StructureExpander interface {
	ExpandStructure(ctx context.Context, q Querier, schema, table string, cols []dao.ColumnInfo) ([]dao.ColumnInfo, error)
}

// ErrorClassifier recognizes driver errors that mean the connection is gone.
type ErrorClassifier interface {
	IsConnectivityError(err error) bool
}

// ValueConverter rewrites driver values read from a column of dbType.
type ValueConverter interface {
	ConvertValue(dbType string, v any) any
}
