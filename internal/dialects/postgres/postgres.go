// Package postgres is the PostgreSQL dialect, driven by pgx through
// database/sql.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/normalize"
)

const (
	defaultPort   = 5432
	defaultSchema = "public"
)

// Dialect implements sqldao.Dialect for PostgreSQL.
type Dialect struct{}

var (
	_ sqldao.Dialect           = Dialect{}
	_ sqldao.StructureExpander = Dialect{}
	_ sqldao.ErrorClassifier   = Dialect{}
)

// New returns a Postgres adapter for params.
func New(params dao.ConnectionParams, cfg sqldao.Config) *sqldao.Adapter {
	return sqldao.New(Dialect{}, params, cfg)
}

func (Dialect) Engine() dao.EngineType { return dao.Postgres }

// ConnString builds a postgres:// URL for params.
func ConnString(p dao.ConnectionParams) string {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Path:   "/" + p.Database,
	}
	if p.Password != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	} else if p.Username != "" {
		u.User = url.User(p.Username)
	}
	q := url.Values{}
	q.Set("application_name", p.Option("application_name", "rowpane"))
	if p.SSL {
		q.Set("sslmode", p.Option("sslmode", "require"))
	} else {
		q.Set("sslmode", "disable")
	}
	if tz := p.Option("timezone", ""); tz != "" {
		q.Set("timezone", tz)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects through pgx and pings the server.
func (Dialect) Open(ctx context.Context, p dao.ConnectionParams) (*sql.DB, error) {
	cfg, err := pgx.ParseConfig(ConnString(p))
	if err != nil {
		return nil, dao.Validationf("invalid postgres connection settings: %v", err)
	}
	tlsCfg, err := p.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		cfg.TLSConfig = tlsCfg
	}

	db := stdlib.OpenDB(*cfg)
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func (Dialect) DefaultSchema(p dao.ConnectionParams) string {
	if p.Schema != "" {
		return p.Schema
	}
	return defaultSchema
}

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Dialect) TextExpr(quoted string) string { return quoted + "::text" }

func (Dialect) Paginate(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

func (Dialect) ColumnsQuery(b *filter.Builder, schema, table string) string {
	return `SELECT column_name, data_type, udt_name, is_nullable, column_default,
       character_maximum_length, is_identity, ''
FROM information_schema.columns
WHERE table_schema = ` + b.Arg(schema) + ` AND table_name = ` + b.Arg(table) + `
ORDER BY ordinal_position`
}

func (Dialect) PrimaryKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT kcu.column_name, c.data_type
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema AND tc.table_name = kcu.table_name
JOIN information_schema.columns c
  ON c.table_schema = kcu.table_schema AND c.table_name = kcu.table_name AND c.column_name = kcu.column_name
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = ` + b.Arg(schema) + ` AND tc.table_name = ` + b.Arg(table) + `
ORDER BY kcu.ordinal_position`
}

func (Dialect) ForeignKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT kcu.column_name, ccu.table_name, ccu.column_name, tc.constraint_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND tc.table_schema = ` + b.Arg(schema) + ` AND tc.table_name = ` + b.Arg(table) + `
ORDER BY kcu.ordinal_position`
}

func (Dialect) ReferencingQuery(b *filter.Builder, schema, table string) string {
	return `SELECT ccu.column_name, tc.table_name, kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
  ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
JOIN information_schema.constraint_column_usage ccu
  ON ccu.constraint_name = tc.constraint_name AND ccu.constraint_schema = tc.table_schema
WHERE tc.constraint_type = 'FOREIGN KEY' AND ccu.table_schema = ` + b.Arg(schema) + ` AND ccu.table_name = ` + b.Arg(table) + `
ORDER BY tc.table_name, kcu.column_name`
}

func (Dialect) TablesQuery(b *filter.Builder, schema string) string {
	return `SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = ` + b.Arg(schema) + `
ORDER BY table_name`
}

// EstimateQuery reads pg_class.reltuples, which is -1 for tables that were
// never vacuumed or analyzed.
func (Dialect) EstimateQuery(b *filter.Builder, schema, table string) string {
	return `SELECT c.reltuples
FROM pg_class c
JOIN pg_namespace n ON n.oid = c.relnamespace
WHERE n.nspname = ` + b.Arg(schema) + ` AND c.relname = ` + b.Arg(table)
}

func (Dialect) Insert(ctx context.Context, q sqldao.Querier, s *sqldao.InsertStatement) (dao.Row, error) {
	return sqldao.InsertReturning(ctx, q, s)
}

// columnType resolves the type of one column through pg_attribute, so a type
// name defined in several schemas maps to the one the column uses.
const columnType = `FROM pg_attribute col
JOIN pg_class c ON c.oid = col.attrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_type t ON t.oid = col.atttypid
`

const columnTypeWhere = `WHERE n.nspname = $1 AND c.relname = $2 AND col.attname = $3`

const enumLabelsQuery = `SELECT e.enumlabel
` + columnType + `JOIN pg_enum e ON e.enumtypid = t.oid
` + columnTypeWhere + `
ORDER BY e.enumsortorder`

const compositeMembersQuery = `SELECT a.attname, format_type(a.atttypid, a.atttypmod),
       CASE WHEN a.attnotnull THEN 'NO' ELSE 'YES' END
` + columnType + `JOIN pg_attribute a ON a.attrelid = t.typrelid
` + columnTypeWhere + ` AND a.attnum > 0 AND NOT a.attisdropped
ORDER BY a.attnum`

// ExpandStructure resolves USER-DEFINED columns into enums (labels as
// data_type_params) or composites (normalized member columns).
func (Dialect) ExpandStructure(ctx context.Context, q sqldao.Querier, schema, table string, cols []dao.ColumnInfo) ([]dao.ColumnInfo, error) {
	for i, c := range cols {
		if c.DataType != "user-defined" || c.UDTName == "" {
			continue
		}
		labels, err := queryStrings(ctx, q, enumLabelsQuery, schema, table, c.ColumnName)
		if err != nil {
			return nil, err
		}
		if len(labels) > 0 {
			cols[i] = normalize.ExpandEnum(c, labels)
			continue
		}
		members, err := compositeMembers(ctx, q, schema, table, c.ColumnName)
		if err != nil {
			return nil, err
		}
		if len(members) > 0 {
			cols[i] = normalize.ExpandComposite(c, members)
		}
	}
	return cols, nil
}

func queryStrings(ctx context.Context, q sqldao.Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func compositeMembers(ctx context.Context, q sqldao.Querier, schema, table, column string) ([]normalize.RawColumn, error) {
	rows, err := q.QueryContext(ctx, compositeMembersQuery, schema, table, column)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []normalize.RawColumn
	for rows.Next() {
		var m normalize.RawColumn
		if err := rows.Scan(&m.Name, &m.DataType, &m.Nullable); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// IsConnectivityError recognizes failed connects and connection-class
// SQLSTATEs (08xxx, 57P01..57P03).
func (Dialect) IsConnectivityError(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P0")
	}
	return false
}
