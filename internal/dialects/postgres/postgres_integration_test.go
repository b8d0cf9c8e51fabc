package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/dialects/sqldao"
	"github.com/rowpane/rowpane/internal/rescache"
)

var schemaSQL = []string{
	`CREATE TYPE mood AS ENUM ('sad', 'ok', 'happy')`,
	`CREATE TABLE users (
		id      serial PRIMARY KEY,
		name    text NOT NULL,
		age     integer,
		mood    mood,
		profile jsonb
	)`,
	`CREATE TABLE orders (
		id      serial PRIMARY KEY,
		user_id integer NOT NULL REFERENCES users(id),
		total   numeric(10, 2)
	)`,
	`CREATE VIEW adults AS SELECT id, name FROM users WHERE age >= 18`,
}

// PostgresTestSuite runs the adapter against a real server. The container is
// shared across tests; every test starts from an empty users table.
type PostgresTestSuite struct {
	suite.Suite
	ctx       context.Context
	container testcontainers.Container
	raw       *sql.DB
	cache     *rescache.Cache
	adapter   *sqldao.Adapter
}

func TestPostgresSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresTestSuite))
}

func (s *PostgresTestSuite) SetupSuite() {
	s.ctx = context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(90 * time.Second),
	}
	container, err := testcontainers.GenericContainer(s.ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	s.Require().NoError(err, "Failed to start container")
	s.container = container

	host, err := container.Host(s.ctx)
	s.Require().NoError(err)
	port, err := container.MappedPort(s.ctx, "5432")
	s.Require().NoError(err)

	params := dao.ConnectionParams{
		Name:     "pg-test",
		Type:     dao.Postgres,
		Host:     host,
		Port:     port.Int(),
		Username: "test",
		Password: "test",
		Database: "testdb",
	}

	s.raw, err = sql.Open("pgx", ConnString(params))
	s.Require().NoError(err)
	for _, stmt := range schemaSQL {
		_, err = s.raw.ExecContext(s.ctx, stmt)
		s.Require().NoError(err, "Failed to create schema")
	}

	s.cache = rescache.New(rescache.Options{})
	s.adapter = New(params, sqldao.Config{Cache: s.cache})
}

func (s *PostgresTestSuite) TearDownSuite() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.raw != nil {
		s.raw.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresTestSuite) SetupTest() {
	_, err := s.raw.ExecContext(s.ctx, `TRUNCATE orders, users RESTART IDENTITY`)
	s.Require().NoError(err)
}

func (s *PostgresTestSuite) seed(names ...string) {
	for i, name := range names {
		_, err := s.adapter.AddRow(s.ctx, "users", dao.Row{"name": name, "age": 20 + 10*i, "mood": "ok"})
		s.Require().NoError(err)
	}
}

func (s *PostgresTestSuite) TestConnect() {
	res := s.adapter.TestConnect(s.ctx)
	s.True(res.Result, res.Message)
}

func (s *PostgresTestSuite) TestSchema() {
	tables, err := s.adapter.ListTables(s.ctx)
	s.Require().NoError(err)
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		names = append(names, t.TableName)
	}
	s.Subset(names, []string{"users", "orders", "adults"})

	view, err := s.adapter.IsView(s.ctx, "adults")
	s.Require().NoError(err)
	s.True(view)

	structure, err := s.adapter.GetStructure(s.ctx, "users")
	s.Require().NoError(err)
	s.Equal([]string{"id", "name", "age", "mood", "profile"}, dao.ColumnNames(structure))
	s.Equal([]string{"sad", "ok", "happy"}, structure[3].DataTypeParams)

	pks, err := s.adapter.GetPrimaryKeys(s.ctx, "users")
	s.Require().NoError(err)
	s.Equal([]string{"id"}, dao.KeyNames(pks))

	fks, err := s.adapter.GetForeignKeys(s.ctx, "orders")
	s.Require().NoError(err)
	s.Require().Len(fks, 1)
	s.Equal("user_id", fks[0].ColumnName)
	s.Equal("users", fks[0].ReferencedTableName)

	refs, err := s.adapter.GetReferencingTables(s.ctx, "users")
	s.Require().NoError(err)
	s.Require().Len(refs, 1)
	s.Equal("id", refs[0].ReferencedOnColumnName)
	s.Equal([]dao.ReferencedBy{{TableName: "orders", ColumnName: "user_id"}}, refs[0].ReferencedBy)
}

func (s *PostgresTestSuite) TestRowLifecycle() {
	key, err := s.adapter.AddRow(s.ctx, "users", dao.Row{"name": "Vasia", "age": 30, "profile": `{"lang": "ru"}`})
	s.Require().NoError(err)
	s.Equal("1", fmt.Sprint(key["id"]))

	row, err := s.adapter.GetRowByPrimaryKey(s.ctx, "users", dao.Row{"id": 1}, &dao.TableSettings{ExcludedFields: []string{"age"}})
	s.Require().NoError(err)
	s.Equal("Vasia", row["name"])
	s.NotContains(row, "age")

	updated, err := s.adapter.UpdateRow(s.ctx, "users", dao.Row{"name": "Vasilii"}, dao.Row{"id": 1})
	s.Require().NoError(err)
	s.Equal("Vasilii", updated["name"])

	missing, err := s.adapter.UpdateRow(s.ctx, "users", dao.Row{"name": "ghost"}, dao.Row{"id": 99})
	s.Require().NoError(err)
	s.Nil(missing)

	_, err = s.adapter.AddRow(s.ctx, "users", dao.Row{"age": 1})
	s.Error(err, "name is NOT NULL")

	deleted, err := s.adapter.DeleteRow(s.ctx, "users", dao.Row{"id": 1})
	s.Require().NoError(err)
	s.Equal(dao.Row{"id": 1}, deleted)

	again, err := s.adapter.DeleteRow(s.ctx, "users", dao.Row{"id": 1})
	s.Require().NoError(err)
	s.Nil(again)

	gone, err := s.adapter.GetRowByPrimaryKey(s.ctx, "users", dao.Row{"id": 1}, nil)
	s.Require().NoError(err)
	s.Nil(gone)
}

func (s *PostgresTestSuite) TestListRows() {
	s.seed("Vasia", "Petia", "Kolia", "Masha")

	page, err := s.adapter.ListRows(s.ctx, "users", dao.ListQuery{
		Filters: []dao.FilterSpec{
			{Field: "age", Criteria: dao.Gte, Value: "30"},
			{Field: "name", Criteria: dao.EndsWith, Value: "ia"},
		},
		Settings: &dao.TableSettings{OrderingField: "age", Ordering: dao.Desc},
	})
	s.Require().NoError(err)
	s.Require().Len(page.Data, 2)
	s.Equal("Kolia", page.Data[0]["name"])
	s.Equal(int64(2), page.Pagination.Total)

	page, err = s.adapter.ListRows(s.ctx, "users", dao.ListQuery{
		SearchValue: "MA",
		Settings:    &dao.TableSettings{SearchFields: []string{"name"}},
	})
	s.Require().NoError(err)
	s.Require().Len(page.Data, 1)
	s.Equal("Masha", page.Data[0]["name"])

	page, err = s.adapter.ListRows(s.ctx, "users", dao.ListQuery{Page: 2, PerPage: 3})
	s.Require().NoError(err)
	s.Equal(2, page.Pagination.LastPage)
	s.Len(page.Data, 1)
}

func (s *PostgresTestSuite) TestBulkAndImport() {
	s.Require().NoError(s.adapter.ImportCSV(s.ctx, "users", []byte("name,age\nVasia,30\nPetia,25\n")))

	all, err := s.adapter.ListRows(s.ctx, "users", dao.ListQuery{})
	s.Require().NoError(err)
	s.Require().Len(all.Data, 2)

	rows, err := s.adapter.BulkUpdateRows(s.ctx, "users", dao.Row{"age": 50}, []dao.Row{{"id": 1}, {"id": 2}})
	s.Require().NoError(err)
	s.Len(rows, 2)

	ids, err := s.adapter.GetIdentityColumns(s.ctx, "users", "id", "name", []any{"1", "2"})
	s.Require().NoError(err)
	s.Len(ids, 2)

	n, err := s.adapter.BulkDeleteRows(s.ctx, "users", []dao.Row{{"id": 1}, {"id": 2}, {"id": 3}})
	s.Require().NoError(err)
	s.Equal(int64(2), n)

	err = s.adapter.ImportCSV(s.ctx, "users", []byte("name,nope\nx,y\n"))
	s.Error(err)
}
