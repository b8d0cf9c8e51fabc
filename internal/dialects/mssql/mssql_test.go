package mssql

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	mssql "github.com/microsoft/go-mssqldb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/rescache"
)

func TestConnString(t *testing.T) {
	tests := []struct {
		name   string
		params dao.ConnectionParams
		want   string
	}{
		{
			name:   "plain",
			params: dao.ConnectionParams{Host: "db", Database: "app", Username: "sa", Password: "pw"},
			want:   "sqlserver://sa:pw@db:1433?app+name=rowpane&database=app&encrypt=disable",
		},
		{
			name:   "ssl without certificate trusts the server",
			params: dao.ConnectionParams{Host: "db", Port: 14330, Database: "app", Username: "sa", Password: "pw", SSL: true},
			want:   "sqlserver://sa:pw@db:14330?TrustServerCertificate=true&app+name=rowpane&database=app&encrypt=true",
		},
		{
			name: "named instance",
			params: dao.ConnectionParams{
				Host: "db", Database: "app", Username: "sa", Password: "pw",
				Options: map[string]string{"instance": "SQLEXPRESS"},
			},
			want: "sqlserver://sa:pw@db:1433/SQLEXPRESS?app+name=rowpane&database=app&encrypt=disable",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConnString(tt.params); got != tt.want {
				t.Errorf("ConnString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRendering(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "[we]]ird]", d.QuoteIdent("we]ird"))
	assert.Equal(t, "@p2", d.Placeholder(2))
	assert.Equal(t, "OFFSET 40 ROWS FETCH NEXT 20 ROWS ONLY", d.Paginate(20, 40))
	assert.Equal(t, "dbo", d.DefaultSchema(dao.ConnectionParams{}))
}

func TestConvertValue_UniqueIdentifier(t *testing.T) {
	raw := []byte{0xFF, 0x19, 0x96, 0x6F, 0x86, 0x8B, 0x11, 0xD0, 0xB4, 0x2D, 0x00, 0xC0, 0x4F, 0xC9, 0x64, 0xFF}
	assert.Equal(t, "6F9619FF-8B86-D011-B42D-00C04FC964FF", Dialect{}.ConvertValue("UNIQUEIDENTIFIER", raw))
	assert.Equal(t, []byte("x"), Dialect{}.ConvertValue("VARBINARY", []byte("x")))
}

func TestIsConnectivityError(t *testing.T) {
	d := Dialect{}
	assert.True(t, d.IsConnectivityError(mssql.Error{Number: 18456, Message: "Login failed"}))
	assert.False(t, d.IsConnectivityError(mssql.Error{Number: 208, Message: "Invalid object name"}))
	assert.True(t, d.IsConnectivityError(mssql.StreamError{}))
}

func TestAddRow_OutputInserted(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	a := New(dao.ConnectionParams{Name: "erp", Type: dao.MSSQL}, sqldao.Config{
		Cache: rescache.New(rescache.Options{}),
		Open:  func(context.Context, dao.ConnectionParams) (*sql.DB, error) { return db, nil },
	})

	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).WithArgs("dbo", "invoices").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt", "is_nullable", "column_default", "max_length", "identity", "extra"}).
			AddRow("id", "int", "int", "NO", nil, nil, "1", "").
			AddRow("total", "decimal", "decimal", "YES", "((0))", nil, "0", ""))
	mock.ExpectQuery(regexp.QuoteMeta("'PRIMARY KEY'")).WithArgs("dbo", "invoices").
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "int"))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO [dbo].[invoices] ([total]) OUTPUT INSERTED.[id] VALUES (@p1)")).
		WithArgs(12.5).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(9)))

	key, err := a.AddRow(context.Background(), "invoices", dao.Row{"total": 12.5})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{"id": int64(9)}, key)

	structure, err := a.GetStructure(context.Background(), "invoices")
	require.NoError(t, err)
	assert.True(t, structure[0].IsAutoIncrement())
	require.NotNil(t, structure[1].ColumnDefault)
	assert.Equal(t, "0", *structure[1].ColumnDefault)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListRows_OffsetFetch(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	a := New(dao.ConnectionParams{Name: "erp", Type: dao.MSSQL}, sqldao.Config{
		Cache: rescache.New(rescache.Options{}),
		Open:  func(context.Context, dao.ConnectionParams) (*sql.DB, error) { return db, nil },
	})
	mock.ExpectQuery(regexp.QuoteMeta("FROM information_schema.columns")).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type", "udt", "is_nullable", "column_default", "max_length", "identity", "extra"}).
			AddRow("id", "int", "int", "NO", nil, nil, "1", ""))
	mock.ExpectQuery(regexp.QuoteMeta("'PRIMARY KEY'")).
		WillReturnRows(sqlmock.NewRows([]string{"column_name", "data_type"}).AddRow("id", "int"))
	mock.ExpectQuery(regexp.QuoteMeta("sys.dm_db_partition_stats")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(nil))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM [dbo].[invoices]")).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(int64(3)))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT [id] FROM [dbo].[invoices] ORDER BY [id] ASC OFFSET 2 ROWS FETCH NEXT 2 ROWS ONLY")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

	res, err := a.ListRows(context.Background(), "invoices", dao.ListQuery{Page: 2, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, dao.Pagination{Total: 3, LastPage: 2, PerPage: 2, CurrentPage: 2}, res.Pagination)
	assert.NoError(t, mock.ExpectationsWereMet())
}
