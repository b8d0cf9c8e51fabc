// Package mysql is the MySQL and MariaDB dialect.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/filter"
)

const defaultPort = 3306

// Dialect implements sqldao.Dialect for MySQL.
type Dialect struct{}

var (
	_ sqldao.Dialect           = Dialect{}
	_ sqldao.StructureExpander = Dialect{}
	_ sqldao.ErrorClassifier   = Dialect{}
	_ sqldao.ValueConverter    = Dialect{}
)

// New returns a MySQL adapter for params.
func New(params dao.ConnectionParams, cfg sqldao.Config) *sqldao.Adapter {
	return sqldao.New(Dialect{}, params, cfg)
}

func (Dialect) Engine() dao.EngineType { return dao.MySQL }

// DriverConfig builds the driver configuration for params. ClientFoundRows
// makes UPDATE report matched rows, so rewriting a row with its current
// values still counts as a hit.
func DriverConfig(p dao.ConnectionParams) *mysql.Config {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	cfg := mysql.NewConfig()
	cfg.User = p.Username
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(port))
	cfg.DBName = p.Database
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	cfg.Timeout = 15 * time.Second
	cfg.Params = map[string]string{"charset": p.Option("charset", "utf8mb4")}
	if p.SSL {
		// Without a CA certificate the server certificate is not verified.
		cfg.TLSConfig = "skip-verify"
	}
	return cfg
}

// DSN renders the driver DSN for params.
func DSN(p dao.ConnectionParams) string {
	return DriverConfig(p).FormatDSN()
}

// Open connects and pings the server. Custom certificates are registered
// under a per-connection key.
func (Dialect) Open(ctx context.Context, p dao.ConnectionParams) (*sql.DB, error) {
	cfg := DriverConfig(p)
	if p.SSL && p.Cert != "" {
		tlsCfg, err := p.TLSConfig()
		if err != nil {
			return nil, err
		}
		key := "rowpane-" + p.Fingerprint()[:16]
		if err := mysql.RegisterTLSConfig(key, tlsCfg); err != nil {
			return nil, fmt.Errorf("failed to register mysql tls config: %w", err)
		}
		cfg.TLSConfig = key
	}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, dao.Validationf("invalid mysql connection settings: %v", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping mysql: %w", err)
	}
	return db, nil
}

// DefaultSchema is the database.
func (Dialect) DefaultSchema(p dao.ConnectionParams) string {
	if p.Schema != "" {
		return p.Schema
	}
	return p.Database
}

func (Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) TextExpr(quoted string) string { return "CAST(" + quoted + " AS CHAR)" }

func (Dialect) Paginate(limit, offset int) string {
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

// ColumnsQuery reports COLUMN_TYPE in the udt slot so enum and set labels
// can be expanded.
func (Dialect) ColumnsQuery(b *filter.Builder, schema, table string) string {
	return `SELECT column_name, data_type, column_type, is_nullable, column_default,
       character_maximum_length, '', extra
FROM information_schema.columns
WHERE table_schema = ` + b.Arg(schema) + ` AND table_name = ` + b.Arg(table) + `
ORDER BY ordinal_position`
}

func (Dialect) PrimaryKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT k.column_name, c.data_type
FROM information_schema.key_column_usage k
JOIN information_schema.columns c
  ON c.table_schema = k.table_schema AND c.table_name = k.table_name AND c.column_name = k.column_name
WHERE k.constraint_name = 'PRIMARY' AND k.table_schema = ` + b.Arg(schema) + ` AND k.table_name = ` + b.Arg(table) + `
ORDER BY k.ordinal_position`
}

func (Dialect) ForeignKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT column_name, referenced_table_name, referenced_column_name, constraint_name
FROM information_schema.key_column_usage
WHERE constraint_schema = ` + b.Arg(schema) + ` AND table_name = ` + b.Arg(table) + `
  AND referenced_table_name IS NOT NULL
ORDER BY ordinal_position`
}

func (Dialect) ReferencingQuery(b *filter.Builder, schema, table string) string {
	return `SELECT referenced_column_name, table_name, column_name
FROM information_schema.key_column_usage
WHERE referenced_table_schema = ` + b.Arg(schema) + ` AND referenced_table_name = ` + b.Arg(table) + `
ORDER BY table_name, column_name`
}

func (Dialect) TablesQuery(b *filter.Builder, schema string) string {
	return `SELECT table_name, table_type
FROM information_schema.tables
WHERE table_schema = ` + b.Arg(schema) + `
ORDER BY table_name`
}

// EstimateQuery reads TABLE_ROWS, which InnoDB keeps approximately.
func (Dialect) EstimateQuery(b *filter.Builder, schema, table string) string {
	return `SELECT table_rows
FROM information_schema.tables
WHERE table_schema = ` + b.Arg(schema) + ` AND table_name = ` + b.Arg(table)
}

func (Dialect) Insert(ctx context.Context, q sqldao.Querier, s *sqldao.InsertStatement) (dao.Row, error) {
	return sqldao.InsertLastID(ctx, q, s)
}

// ExpandStructure turns enum and set columns into enums carrying their
// labels, parsed from COLUMN_TYPE.
func (Dialect) ExpandStructure(_ context.Context, _ sqldao.Querier, _, _ string, cols []dao.ColumnInfo) ([]dao.ColumnInfo, error) {
	for i, c := range cols {
		if c.DataType != "enum" && c.DataType != "set" {
			continue
		}
		cols[i].DataTypeParams = ParseEnumLabels(c.UDTName)
		cols[i].UDTName = ""
	}
	return cols, nil
}

// ParseEnumLabels extracts the labels of enum('a','b') or set('a','b').
// Quotes inside labels are doubled.
func ParseEnumLabels(columnType string) []string {
	open := strings.IndexByte(columnType, '(')
	end := strings.LastIndexByte(columnType, ')')
	if open < 0 || end <= open {
		return nil
	}
	body := columnType[open+1 : end]
	labels := []string{}
	var cur strings.Builder
	inQuote := false
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\'' && inQuote && i+1 < len(body) && body[i+1] == '\'':
			cur.WriteByte('\'')
			i++
		case c == '\'':
			if inQuote {
				labels = append(labels, cur.String())
				cur.Reset()
			}
			inQuote = !inQuote
		case inQuote:
			cur.WriteByte(c)
		}
	}
	return labels
}

// IsConnectivityError recognizes driver level connection failures and the
// server's "gone away" codes.
func (Dialect) IsConnectivityError(err error) bool {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case 1040, 1042, 1043, 1047, 1053, 1081, 2002, 2003, 2006, 2013:
			return true
		}
	}
	return false
}

// ConvertValue parses numbers that the text protocol returns as bytes.
// DECIMAL stays a string to keep its precision.
func (Dialect) ConvertValue(dbType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	switch strings.TrimPrefix(dbType, "UNSIGNED ") {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		if n, err := strconv.ParseInt(string(b), 10, 64); err == nil {
			return n
		}
		if n, err := strconv.ParseUint(string(b), 10, 64); err == nil {
			return n
		}
	case "FLOAT", "DOUBLE":
		if f, err := strconv.ParseFloat(string(b), 64); err == nil {
			return f
		}
	}
	return string(b)
}
