// Package db2 is the IBM Db2 dialect. The go_ibm_db driver needs the IBM
// CLI driver (clidriver) at build and run time, so it is only linked into
// binaries built with the db2 tag.
package db2

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/filter"
)

const (
	defaultPort = 50000
	driverName  = "go_ibm_db"
)

// Dialect implements sqldao.Dialect for Db2 LUW.
type Dialect struct{}

var (
	_ sqldao.Dialect         = Dialect{}
	_ sqldao.ErrorClassifier = Dialect{}
)

// New returns a Db2 adapter for params.
func New(params dao.ConnectionParams, cfg sqldao.Config) *sqldao.Adapter {
	return sqldao.New(Dialect{}, params, cfg)
}

func (Dialect) Engine() dao.EngineType { return dao.IBMDB2 }

// ConnString builds the semicolon separated CLI connection string.
func ConnString(p dao.ConnectionParams) string {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	parts := []string{
		"HOSTNAME=" + p.Host,
		"PORT=" + strconv.Itoa(port),
		"DATABASE=" + p.Database,
		"UID=" + p.Username,
		"PWD=" + p.Password,
		"PROTOCOL=TCPIP",
	}
	if p.SSL {
		parts = append(parts, "SECURITY=SSL")
	}
	if p.Schema != "" {
		parts = append(parts, "CURRENTSCHEMA="+p.Schema)
	}
	return strings.Join(parts, ";") + ";"
}

func (Dialect) Open(ctx context.Context, p dao.ConnectionParams) (*sql.DB, error) {
	if !slices.Contains(sql.Drivers(), driverName) {
		return nil, dao.New(dao.KindNotSupported, "this build has no IBM Db2 support; rebuild with -tags db2")
	}
	db, err := sql.Open(driverName, ConnString(p))
	if err != nil {
		return nil, dao.Validationf("invalid db2 connection settings: %v", err)
	}
	db.SetMaxOpenConns(10)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping db2: %w", err)
	}
	return db, nil
}

// DefaultSchema is the upper-cased user.
func (Dialect) DefaultSchema(p dao.ConnectionParams) string {
	if p.Schema != "" {
		return p.Schema
	}
	return strings.ToUpper(p.Username)
}

func (Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) TextExpr(quoted string) string { return "VARCHAR(" + quoted + ")" }

func (Dialect) Paginate(limit, offset int) string {
	return fmt.Sprintf("OFFSET %d ROWS FETCH FIRST %d ROWS ONLY", offset, limit)
}

func (Dialect) ColumnsQuery(b *filter.Builder, schema, table string) string {
	return `SELECT COLNAME, TYPENAME, TYPENAME, NULLS, DEFAULT, LENGTH, IDENTITY, ''
FROM SYSCAT.COLUMNS
WHERE TABSCHEMA = ` + b.Arg(schema) + ` AND TABNAME = ` + b.Arg(table) + `
ORDER BY COLNO`
}

func (Dialect) PrimaryKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT k.COLNAME, c.TYPENAME
FROM SYSCAT.KEYCOLUSE k
JOIN SYSCAT.TABCONST tc ON tc.CONSTNAME = k.CONSTNAME AND tc.TABSCHEMA = k.TABSCHEMA AND tc.TABNAME = k.TABNAME
JOIN SYSCAT.COLUMNS c ON c.TABSCHEMA = k.TABSCHEMA AND c.TABNAME = k.TABNAME AND c.COLNAME = k.COLNAME
WHERE tc.TYPE = 'P' AND k.TABSCHEMA = ` + b.Arg(schema) + ` AND k.TABNAME = ` + b.Arg(table) + `
ORDER BY k.COLSEQ`
}

const referenceJoins = `FROM SYSCAT.REFERENCES r
JOIN SYSCAT.KEYCOLUSE fk ON fk.CONSTNAME = r.CONSTNAME AND fk.TABSCHEMA = r.TABSCHEMA AND fk.TABNAME = r.TABNAME
JOIN SYSCAT.KEYCOLUSE pk ON pk.CONSTNAME = r.REFKEYNAME AND pk.TABSCHEMA = r.REFTABSCHEMA AND pk.TABNAME = r.REFTABNAME AND pk.COLSEQ = fk.COLSEQ
`

func (Dialect) ForeignKeysQuery(b *filter.Builder, schema, table string) string {
	return `SELECT fk.COLNAME, r.REFTABNAME, pk.COLNAME, r.CONSTNAME
` + referenceJoins + `WHERE r.TABSCHEMA = ` + b.Arg(schema) + ` AND r.TABNAME = ` + b.Arg(table) + `
ORDER BY r.CONSTNAME, fk.COLSEQ`
}

func (Dialect) ReferencingQuery(b *filter.Builder, schema, table string) string {
	return `SELECT pk.COLNAME, r.TABNAME, fk.COLNAME
` + referenceJoins + `WHERE r.REFTABSCHEMA = ` + b.Arg(schema) + ` AND r.REFTABNAME = ` + b.Arg(table) + `
ORDER BY r.TABNAME, fk.COLNAME`
}

// TablesQuery maps TYPE onto Y for views and N for base tables.
func (Dialect) TablesQuery(b *filter.Builder, schema string) string {
	return `SELECT TABNAME, CASE WHEN TYPE = 'V' THEN 'Y' ELSE 'N' END
FROM SYSCAT.TABLES
WHERE TABSCHEMA = ` + b.Arg(schema) + ` AND TYPE IN ('T', 'V')
ORDER BY TABNAME`
}

// EstimateQuery reads CARD, which is -1 until RUNSTATS has run.
func (Dialect) EstimateQuery(b *filter.Builder, schema, table string) string {
	return `SELECT CARD FROM SYSIBM.SYSTABLES WHERE CREATOR = ` + b.Arg(schema) + ` AND NAME = ` + b.Arg(table)
}

func (Dialect) Insert(ctx context.Context, q sqldao.Querier, s *sqldao.InsertStatement) (dao.Row, error) {
	return sqldao.InsertFinalTable(ctx, q, s)
}

// IsConnectivityError matches the CLI communication SQLSTATEs (08xxx) and
// SQL30081N, which go_ibm_db only exposes in the message text.
func (Dialect) IsConnectivityError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLSTATE=08") || strings.Contains(msg, "SQL30081N") || strings.Contains(msg, "SQLSTATE 08")
}
