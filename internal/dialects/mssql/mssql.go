// Package mssql is the Microsoft SQL Server dialect.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/filter"
)

const (
	defaultPort   = 1433
	defaultSchema = "dbo"
)

// Dialect implements sqldao.Dialect for SQL Server.
type Dialect struct{}

var (
	_ sqldao.Dialect         = Dialect{}
	_ sqldao.ErrorClassifier = Dialect{}
	_ sqldao.ValueConverter  = Dialect{}
)

// New returns a SQL Server adapter for params.
func New(params dao.ConnectionParams, cfg sqldao.Config) *sqldao.Adapter {
	return sqldao.New(Dialect{}, params, cfg)
}

func (Dialect) Engine() dao.EngineType { return dao.MSSQL }

// ConnString builds a sqlserver:// URL for params.
func ConnString(p dao.ConnectionParams) string {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	q := url.Values{}
	q.Set("database", p.Database)
	q.Set("app name", "rowpane")
	if p.SSL {
		q.Set("encrypt", "true")
		if p.Cert == "" {
			q.Set("TrustServerCertificate", "true")
		}
	} else {
		q.Set("encrypt", p.Option("encrypt", "disable"))
	}
	u := url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(p.Username, p.Password),
		Host:     net.JoinHostPort(p.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	if inst := p.Option("instance", ""); inst != "" {
		u.Path = "/" + inst
	}
	return u.String()
}

// Open connects and pings the server. A configured CA certificate replaces
// the driver's TLS settings.
func (Dialect) Open(ctx context.Context, p dao.ConnectionParams) (*sql.DB, error) {
	cfg, err := msdsn.Parse(ConnString(p))
	if err != nil {
		return nil, dao.Validationf("invalid mssql connection settings: %v", err)
	}
	if p.SSL && p.Cert != "" {
		tlsCfg, err := p.TLSConfig()
		if err != nil {
			return nil, err
		}
		cfg.TLSConfig = tlsCfg
	}
	db := sql.OpenDB(mssql.NewConnectorConfig(cfg))
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mssql: %w", err)
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
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (Dialect) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

func (Dialect) TextExpr(quoted string) string { return "CAST(" + quoted + " AS NVARCHAR(MAX))" }

// LikeWildcards reports the bracket character class T-SQL adds to LIKE.
func (Dialect) LikeWildcards() string { return "[" }

// Paginate renders OFFSET/FETCH, which is only valid after ORDER BY.
func (Dialect) Paginate(limit, offset int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (Dialect) ColumnsQuery(b *filter.Builder, schema, table string) string {
	return `SELECT c.column_name, c.data_type, c.data_type, c.is_nullable, c.column_default,
       c.character_maximum_length,
       CAST(COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.table_schema) + '.' + QUOTENAME(c.table_name)), c.column_name, 'IsIdentity') AS VARCHAR(1)),
       ''
FROM information_schema.columns c
WHERE c.table_schema = ` + b.Arg(schema) + ` AND c.table_name = ` + b.Arg(table) + `
ORDER BY c.ordinal_position`
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

const foreignKeyJoins = `FROM sys.foreign_keys fk
JOIN sys.foreign_key_columns fkc ON fkc.constraint_object_id = fk.object_id
JOIN sys.tables pt ON pt.object_id = fkc.parent_object_id
JOIN sys.columns pc ON pc.object_id = fkc.parent_object_id AND pc.column_id = fkc.parent_column_id
JOIN sys.tables rt ON rt.object_id = fkc.referenced_object_id
JOIN sys.columns rc ON rc.object_id = fkc.referenced_object_id AND rc.column_id = fkc.referenced_column_id
`

func (Dialect) ForeignKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT pc.name, rt.name, rc.name, fk.name
` + foreignKeyJoins + `WHERE SCHEMA_NAME(pt.schema_id) = ` + b.Arg(schema) + ` AND pt.name = ` + b.Arg(table) + `
ORDER BY fk.name, fkc.constraint_column_id`
}

func (Dialect) ReferencingQuery(b *filter.Builder, schema, table string) string {
	return `SELECT rc.name, pt.name, pc.name
` + foreignKeyJoins + `WHERE SCHEMA_NAME(rt.schema_id) = ` + b.Arg(schema) + ` AND rt.name = ` + b.Arg(table) + `
ORDER BY pt.name, pc.name`
}

func (Dialect) TablesQuery(b *filter.Builder, schema string) string {
	return `SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = ` + b.Arg(schema) + `
ORDER BY table_name`
}

// EstimateQuery sums the heap or clustered index partitions.
func (Dialect) EstimateQuery(b *filter.Builder, schema, table string) string {
	return `SELECT SUM(ps.row_count)
FROM sys.dm_db_partition_stats ps
JOIN sys.objects o ON o.object_id = ps.object_id
WHERE ps.index_id IN (0, 1) AND SCHEMA_NAME(o.schema_id) = ` + b.Arg(schema) + ` AND o.name = ` + b.Arg(table)
}

// Insert returns the key columns through OUTPUT INSERTED.
func (Dialect) Insert(ctx context.Context, q sqldao.Querier, s *sqldao.InsertStatement) (dao.Row, error) {
	out := make([]string, len(s.KeyColumns))
	for i, k := range s.KeyColumns {
		out[i] = "INSERTED." + k
	}
	return s.ScanKey(q.QueryRowContext(ctx, s.SQLWith("OUTPUT "+strings.Join(out, ", ")), s.Args...))
}

// ConvertValue renders UNIQUEIDENTIFIER columns in their canonical form.
// The driver returns them as bytes in SQL Server's mixed-endian order.
func (Dialect) ConvertValue(dbType string, v any) any {
	if dbType != "UNIQUEIDENTIFIER" {
		return v
	}
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	var id mssql.UniqueIdentifier
	if err := id.Scan(b); err != nil {
		return v
	}
	return id.String()
}

// IsConnectivityError recognizes login and transport failures.
func (Dialect) IsConnectivityError(err error) bool {
	var msErr mssql.Error
	if errors.As(err, &msErr) {
		switch msErr.Number {
		// Login failures, server unavailable, connection broken.
		case 4060, 18456, 233, 10053, 10054, 10060, 40613:
			return true
		}
		return false
	}
	var se mssql.StreamError
	return errors.As(err, &se)
}
