// Package oracle is the Oracle Database dialect, driven by the pure Go
// go-ora driver.
package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	go_ora "github.com/sijms/go-ora/v2"
	"github.com/sijms/go-ora/v2/network"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/filter"
)

const (
	defaultPort = 1521
	// outBindSize bounds the text out-binds that carry generated keys.
	outBindSize = 4000
)

// Dialect implements sqldao.Dialect for Oracle.
type Dialect struct{}

var (
	_ sqldao.Dialect         = Dialect{}
	_ sqldao.ErrorClassifier = Dialect{}
)

// New returns an Oracle adapter for params.
func New(params dao.ConnectionParams, cfg sqldao.Config) *sqldao.Adapter {
	return sqldao.New(Dialect{}, params, cfg)
}

func (Dialect) Engine() dao.EngineType { return dao.Oracle }

// ConnString builds an oracle:// URL. The service name is the SID when set,
// else the database.
func ConnString(p dao.ConnectionParams) string {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	service := p.SID
	if service == "" {
		service = p.Database
	}
	opts := map[string]string{}
	if p.SSL {
		opts["SSL"] = "true"
		if p.Cert == "" {
			opts["SSL VERIFY"] = "false"
		}
	}
	if tz := p.Option("timezone", ""); tz != "" {
		opts["TIMEZONE"] = tz
	}
	return go_ora.BuildUrl(p.Host, port, service, p.Username, p.Password, opts)
}

func (Dialect) Open(ctx context.Context, p dao.ConnectionParams) (*sql.DB, error) {
	db, err := sql.Open("oracle", ConnString(p))
	if err != nil {
		return nil, dao.Validationf("invalid oracle connection settings: %v", err)
	}
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping oracle: %w", err)
	}
	return db, nil
}

// DefaultSchema is the upper-cased user, Oracle's default owner.
func (Dialect) DefaultSchema(p dao.ConnectionParams) string {
	if p.Schema != "" {
		return p.Schema
	}
	return strings.ToUpper(p.Username)
}

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(n int) string { return ":" + strconv.Itoa(n) }

func (Dialect) TextExpr(quoted string) string { return "TO_CHAR(" + quoted + ")" }

func (Dialect) Paginate(limit, offset int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", offset, limit)
}

func (Dialect) ColumnsQuery(b *filter.Builder, schema, table string) string {
	return `SELECT column_name, data_type, data_type, nullable, data_default,
       char_length, identity_column, ''
FROM all_tab_columns
WHERE owner = ` + b.Arg(schema) + ` AND table_name = ` + b.Arg(table) + `
ORDER BY column_id`
}

func (Dialect) PrimaryKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT cc.column_name, tc.data_type
FROM all_constraints c
JOIN all_cons_columns cc ON cc.owner = c.owner AND cc.constraint_name = c.constraint_name
JOIN all_tab_columns tc ON tc.owner = cc.owner AND tc.table_name = cc.table_name AND tc.column_name = cc.column_name
WHERE c.constraint_type = 'P' AND c.owner = ` + b.Arg(schema) + ` AND c.table_name = ` + b.Arg(table) + `
ORDER BY cc.position`
}

const foreignKeyJoins = `FROM all_constraints c
JOIN all_cons_columns a ON a.owner = c.owner AND a.constraint_name = c.constraint_name
JOIN all_cons_columns r ON r.owner = c.r_owner AND r.constraint_name = c.r_constraint_name AND r.position = a.position
WHERE c.constraint_type = 'R' AND `

func (Dialect) ForeignKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT a.column_name, r.table_name, r.column_name, c.constraint_name
` + foreignKeyJoins + `c.owner = ` + b.Arg(schema) + ` AND c.table_name = ` + b.Arg(table) + `
ORDER BY c.constraint_name, a.position`
}

func (Dialect) ReferencingQuery(b *filter.Builder, schema, table string) string {
	return `SELECT r.column_name, a.table_name, a.column_name
` + foreignKeyJoins + `r.owner = ` + b.Arg(schema) + ` AND r.table_name = ` + b.Arg(table) + `
ORDER BY a.table_name, a.column_name`
}

func (Dialect) TablesQuery(b *filter.Builder, schema string) string {
	return `SELECT table_name, 'N' FROM all_tables WHERE owner = ` + b.Arg(schema) + `
UNION ALL
SELECT view_name, 'Y' FROM all_views WHERE owner = ` + b.Arg(schema) + `
ORDER BY 1`
}

// EstimateQuery reads NUM_ROWS, which is NULL until statistics are gathered.
func (Dialect) EstimateQuery(b *filter.Builder, schema, table string) string {
	return `SELECT num_rows FROM all_tables WHERE owner = ` + b.Arg(schema) + ` AND table_name = ` + b.Arg(table)
}

// Insert returns the key through RETURNING ... INTO text out-binds, which
// continue the placeholder numbering of the values.
func (Dialect) Insert(ctx context.Context, q sqldao.Querier, s *sqldao.InsertStatement) (dao.Row, error) {
	b := s.Builder()
	vals := make([]string, len(s.Keys))
	marks := make([]string, len(s.Keys))
	for i := range s.Keys {
		marks[i] = b.Arg(go_ora.Out{Dest: &vals[i], Size: outBindSize})
	}
	query := s.SQL() + " RETURNING " + s.KeyList() + " INTO " + strings.Join(marks, ", ")
	if _, err := q.ExecContext(ctx, query, b.Args()...); err != nil {
		return nil, err
	}
	return sqldao.KeyFromText(s.Keys, vals, isNumeric), nil
}

func isNumeric(dataType string) bool {
	switch strings.ToUpper(dataType) {
	case "NUMBER", "INTEGER", "FLOAT", "BINARY_FLOAT", "BINARY_DOUBLE":
		return true
	}
	return false
}

// connectivityCodes are ORA- errors raised for lost or refused sessions.
var connectivityCodes = map[int]bool{
	1012: true, 3113: true, 3114: true, 3135: true, 12170: true,
	12514: true, 12537: true, 12541: true, 12543: true, 12547: true,
}

func (Dialect) IsConnectivityError(err error) bool {
	var oraErr *network.OracleError
	if errors.As(err, &oraErr) {
		return connectivityCodes[oraErr.ErrCode]
	}
	return false
}
