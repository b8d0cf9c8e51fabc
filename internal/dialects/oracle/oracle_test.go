package oracle

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"net/url"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	go_ora "github.com/sijms/go-ora/v2"
	"github.com/sijms/go-ora/v2/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/rescache"
)

func TestConnString(t *testing.T) {
	raw := ConnString(dao.ConnectionParams{Host: "ora", Database: "ORCL", SID: "XEPDB1", Username: "hr", Password: "pw", SSL: true})
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "oracle", u.Scheme)
	assert.Equal(t, "ora:1521", u.Host)
	assert.Equal(t, "/XEPDB1", u.Path)
	assert.Equal(t, "hr", u.User.Username())
	assert.Equal(t, "true", u.Query().Get("SSL"))
	assert.Equal(t, "false", u.Query().Get("SSL VERIFY"))
}

func TestRendering(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, ":3", d.Placeholder(3))
	assert.Equal(t, "OFFSET 0 ROWS FETCH NEXT 20 ROWS ONLY", d.Paginate(20, 0))
	assert.Equal(t, "HR", d.DefaultSchema(dao.ConnectionParams{Username: "hr"}))
}

func TestIsConnectivityError(t *testing.T) {
	d := Dialect{}
	assert.True(t, d.IsConnectivityError(&network.OracleError{ErrCode: 3113}))
	assert.False(t, d.IsConnectivityError(&network.OracleError{ErrCode: 942}))
}

// passthrough lets go_ora.Out reach the expectation unchanged.
type passthrough struct{}

func (passthrough) ConvertValue(v any) (driver.Value, error) { return v, nil }

// outBind fills the out-bind as the server would.
type outBind string

func (o outBind) Match(v driver.Value) bool {
	out, ok := v.(go_ora.Out)
	if !ok {
		return false
	}
	s, ok := out.Dest.(*string)
	if !ok {
		return false
	}
	*s = string(o)
	return true
}

func TestAddRow_ReturningInto(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(passthrough{}))
	require.NoError(t, err)
	a := New(dao.ConnectionParams{Name: "hr", Type: dao.Oracle, Username: "hr"}, sqldao.Config{
		Cache: rescache.New(rescache.Options{}),
		Open:  func(context.Context, dao.ConnectionParams) (*sql.DB, error) { return db, nil },
	})

	mock.ExpectQuery(regexp.QuoteMeta("FROM all_tab_columns")).WithArgs("HR", "EMPLOYEES").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt", "nullable", "data_default", "char_length", "identity_column", "extra"}).
			AddRow("EMPLOYEE_ID", "NUMBER", "NUMBER", "N", nil, int64(0), "YES", "").
			AddRow("LAST_NAME", "VARCHAR2", "VARCHAR2", "Y", nil, int64(25), "NO", ""))
	mock.ExpectQuery(regexp.QuoteMeta("c.constraint_type = 'P'")).WithArgs("HR", "EMPLOYEES").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("EMPLOYEE_ID", "NUMBER"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "HR"."EMPLOYEES" ("LAST_NAME") VALUES (:1) RETURNING "EMPLOYEE_ID" INTO :2`)).
		WithArgs("King", outBind("207")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	key, err := a.AddRow(context.Background(), "EMPLOYEES", dao.Row{"LAST_NAME": "King"})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{"EMPLOYEE_ID": int64(207)}, key)
	assert.NoError(t, mock.ExpectationsWereMet())
}
