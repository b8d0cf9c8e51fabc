package cassandra

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rowpane/rowpane/internal/dao"
)

func setupCassandra(t *testing.T) (*Adapter, func()) {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "cassandra:4.1",
		ExposedPorts: []string{"9042/tcp"},
		Env: map[string]string{
			"MAX_HEAP_SIZE": "512M",
			"HEAP_NEWSIZE":  "128M",
		},
		WaitingFor: wait.ForLog("Starting listening for CQL clients").
			WithStartupTimeout(3 * time.Minute),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9042")
	require.NoError(t, err)

	params := dao.ConnectionParams{
		Name:     "cassandra-test",
		Type:     dao.Cassandra,
		Host:     host,
		Port:     port.Int(),
		Database: "shop",
		Options:  map[string]string{"consistency": "ONE", "disable_discovery": "true"},
	}

	cluster, err := Cluster(params)
	require.NoError(t, err)
	cluster.Keyspace = ""
	s, err := cluster.CreateSession()
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE KEYSPACE shop WITH replication = {'class': 'SimpleStrategy', 'replication_factor': 1}`,
		`CREATE TABLE shop.users (id int PRIMARY KEY, name text, age int)`,
	} {
		require.NoError(t, s.Query(stmt).Consistency(gocql.One).Exec())
	}
	s.Close()

	a := New(params, Config{})
	return a, func() {
		a.cache.Close()
		_ = container.Terminate(ctx)
	}
}

func TestCassandraAdapter(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	a, cleanup := setupCassandra(t)
	defer cleanup()
	ctx := context.Background()

	res := a.TestConnect(ctx)
	require.True(t, res.Result, res.Message)

	pks, err := a.GetPrimaryKeys(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, dao.KeyNames(pks))

	_, err = a.AddRow(ctx, "users", dao.Row{"name": "nobody"})
	assert.True(t, dao.IsKind(err, dao.KindValidation))

	for i, name := range []string{"Vasia", "Petia", "Kolia"} {
		key, err := a.AddRow(ctx, "users", dao.Row{"id": i + 1, "name": name, "age": 20 + 10*i})
		require.NoError(t, err)
		assert.Equal(t, dao.Row{"id": i + 1}, key)
	}

	page, err := a.ListRows(ctx, "users", dao.ListQuery{
		Filters: []dao.FilterSpec{
			{Field: "age", Criteria: dao.Gte, Value: "30"},
			{Field: "name", Criteria: dao.EndsWith, Value: "ia"},
		},
		Settings: &dao.TableSettings{OrderingField: "age", Ordering: dao.Desc},
	})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "Kolia", page.Data[0]["name"])
	assert.Equal(t, int64(2), page.Pagination.Total)

	updated, err := a.UpdateRow(ctx, "users", dao.Row{"name": "Vasilii"}, dao.Row{"id": 1})
	require.NoError(t, err)
	assert.Equal(t, "Vasilii", updated["name"])

	missing, err := a.UpdateRow(ctx, "users", dao.Row{"name": "ghost"}, dao.Row{"id": 99})
	require.NoError(t, err)
	assert.Nil(t, missing)

	ids, err := a.GetIdentityColumns(ctx, "users", "id", "name", []any{"1", "3"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	var csv []byte
	csv = append(csv, "id,name,age\n"...)
	for i := 10; i < 15; i++ {
		csv = append(csv, strconv.Itoa(i)+",user"+strconv.Itoa(i)+",\n"...)
	}
	require.NoError(t, a.ImportCSV(ctx, "users", csv))

	n, err := a.BulkDeleteRows(ctx, "users", []dao.Row{{"id": 10}, {"id": 11}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	deleted, err := a.DeleteRow(ctx, "users", dao.Row{"id": 99})
	require.NoError(t, err)
	assert.Nil(t, deleted)

	all, err := a.ListRows(ctx, "users", dao.ListQuery{PerPage: 50})
	require.NoError(t, err)
	assert.Len(t, all.Data, 6)
}
