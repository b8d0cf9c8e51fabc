package mysql

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/rescache"
)

func TestDSN(t *testing.T) {
	p := dao.ConnectionParams{
		Host: "db.internal", Database: "shop", Username: "app", Password: "s3cr@t",
		SSL: true, Options: map[string]string{"charset": "latin1"},
	}
	cfg, err := mysql.ParseDSN(DSN(p))
	require.NoError(t, err)
	assert.Equal(t, "app", cfg.User)
	assert.Equal(t, "s3cr@t", cfg.Passwd)
	assert.Equal(t, "db.internal:3306", cfg.Addr)
	assert.Equal(t, "shop", cfg.DBName)
	assert.True(t, cfg.ClientFoundRows)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "skip-verify", cfg.TLSConfig)
	assert.Equal(t, "latin1", cfg.Params["charset"])
}

func TestDefaultSchemaIsDatabase(t *testing.T) {
	assert.Equal(t, "shop", Dialect{}.DefaultSchema(dao.ConnectionParams{Database: "shop"}))
	assert.Equal(t, "other", Dialect{}.DefaultSchema(dao.ConnectionParams{Database: "shop", Schema: "other"}))
}

func TestQuoteIdent(t *testing.T) {
	if got := (Dialect{}).QuoteIdent("we`ird"); got != "`we``ird`" {
		t.Errorf("QuoteIdent() = %s", got)
	}
}

func TestParseEnumLabels(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"enum('small','medium','large')", []string{"small", "medium", "large"}},
		{"set('a','b')", []string{"a", "b"}},
		{"enum('it''s','x,y')", []string{"it's", "x,y"}},
		{"enum()", []string{}},
		{"int(11)", []string{}},
		{"varchar", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseEnumLabels(tt.in), tt.in)
	}
}

func TestConvertValue(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, int64(42), d.ConvertValue("INT", []byte("42")))
	assert.Equal(t, uint64(18446744073709551615), d.ConvertValue("UNSIGNED BIGINT", []byte("18446744073709551615")))
	assert.Equal(t, 1.5, d.ConvertValue("DOUBLE", []byte("1.5")))
	assert.Equal(t, "10.20", d.ConvertValue("DECIMAL", []byte("10.20")))
	assert.Equal(t, "hi", d.ConvertValue("VARCHAR", []byte("hi")))
	assert.Equal(t, int64(7), d.ConvertValue("INT", int64(7)))
}

func TestIsConnectivityError(t *testing.T) {
	d := Dialect{}
	assert.True(t, d.IsConnectivityError(mysql.ErrInvalidConn))
	assert.True(t, d.IsConnectivityError(&mysql.MySQLError{Number: 2006, Message: "MySQL server has gone away"}))
	assert.False(t, d.IsConnectivityError(&mysql.MySQLError{Number: 1146, Message: "Table doesn't exist"}))
}

func newAdapter(t *testing.T) (*sqldao.Adapter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	a := New(dao.ConnectionParams{Name: "shop", Type: dao.MySQL, Database: "shop"}, sqldao.Config{
		Cache: rescache.New(rescache.Options{}),
		Open:  func(context.Context, dao.ConnectionParams) (*sql.DB, error) { return db, nil },
	})
	return a, mock
}

func TestAddRow_LastInsertID(t *testing.T) {
	a, mock := newAdapter(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "column_type", "is_nullable", "column_default", "max_length", "identity", "extra"}).
			AddRow("id", "int", "int(11)", "NO", nil, nil, "", "auto_increment").
			AddRow("size", "enum", "enum('s','m')", "YES", nil, nil, "", ""))
	mock.ExpectQuery(regexp.QuoteMeta("k.constraint_name = 'PRIMARY'")).WithArgs("shop", "orders").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "int"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `shop`.`orders` (`size`) VALUES (?)")).WithArgs("m").
		WillReturnResult(sqlmock.NewResult(42, 1))

	key, err := a.AddRow(context.Background(), "orders", dao.Row{"size": "m"})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{"id": int64(42)}, key)

	structure, err := a.GetStructure(context.Background(), "orders")
	require.NoError(t, err)
	assert.True(t, structure[0].IsAutoIncrement())
	assert.Equal(t, []string{"s", "m"}, structure[1].DataTypeParams)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRow_UnchangedValuesStillMatch(t *testing.T) {
	a, mock := newAdapter(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "column_type", "is_nullable", "column_default", "max_length", "identity", "extra"}).
			AddRow("id", "int", "int(11)", "NO", nil, nil, "", "auto_increment").
			AddRow("name", "varchar", "varchar(50)", "YES", nil, int64(50), "", ""))
	// With clientFoundRows an UPDATE to identical values reports one row.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `shop`.`users` SET `name` = ? WHERE `id` = ?")).WithArgs("Vasia", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT `id`, `name` FROM `shop`.`users` WHERE `id` = ?")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Vasia"))

	row, err := a.UpdateRow(context.Background(), "users", dao.Row{"name": "Vasia"}, dao.Row{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{"id": int64(1), "name": "Vasia"}, row)
	assert.NoError(t, mock.ExpectationsWereMet())
}
