package redis

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/normalize"
)

func setupRedis(t *testing.T, opts dao.Options) (*Adapter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	a := New(dao.ConnectionParams{Name: "redis-test", Type: dao.Redis, Host: mr.Host(), Port: port}, Config{Options: opts})
	t.Cleanup(a.cache.Close)
	return a, mr
}

func seedUsers(t *testing.T, mr *miniredis.Miniredis) {
	t.Helper()
	mr.HSet("users:1", "name", "Vasia", "age", "30")
	mr.HSet("users:2", "name", "Petia", "age", "25", "email", "petia@example.com")
	mr.HSet("users:10", "name", "Kolia", "age", "41")
	mr.Set("users:__seq", "10")
	mr.HSet("orders:1", "total", "100")
	mr.Set("plain", "value")
}

func TestListTables(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)

	tables, err := a.ListTables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []dao.TableInfo{{TableName: "orders"}, {TableName: "users"}}, tables)
}

func TestGetStructure(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)

	cols, err := a.GetStructure(context.Background(), "users")
	require.NoError(t, err)
	require.NotEmpty(t, cols)
	assert.Equal(t, KeyField, cols[0].ColumnName)
	require.NotNil(t, cols[0].ColumnDefault)
	assert.Equal(t, dao.AutoIncrement, *cols[0].ColumnDefault)

	age, ok := dao.FindColumn(cols, "age")
	require.True(t, ok)
	assert.Equal(t, normalize.TypeNumber, age.DataType)
	email, ok := dao.FindColumn(cols, "email")
	require.True(t, ok)
	assert.True(t, email.AllowNull)

	pks, err := a.GetPrimaryKeys(context.Background(), "users")
	require.NoError(t, err)
	assert.Equal(t, []string{KeyField}, dao.KeyNames(pks))

	_, err = a.GetStructure(context.Background(), "bad:table")
	assert.True(t, dao.IsKind(err, dao.KindValidation))
}

func TestListRows(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)
	ctx := context.Background()

	res, err := a.ListRows(ctx, "users", dao.ListQuery{})
	require.NoError(t, err)
	require.Len(t, res.Data, 3)
	assert.Equal(t, []any{"1", "2", "10"}, []any{res.Data[0][KeyField], res.Data[1][KeyField], res.Data[2][KeyField]})
	assert.Equal(t, int64(3), res.Pagination.Total)

	res, err = a.ListRows(ctx, "users", dao.ListQuery{
		Filters:  []dao.FilterSpec{{Field: "age", Criteria: dao.Gte, Value: 30}},
		Settings: &dao.TableSettings{OrderingField: "age", Ordering: dao.Desc},
	})
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, "Kolia", res.Data[0]["name"])
	assert.Equal(t, int64(2), res.Pagination.Total)

	res, err = a.ListRows(ctx, "users", dao.ListQuery{
		Filters: []dao.FilterSpec{{Field: "email", Criteria: dao.Empty}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Data, 2)

	res, err = a.ListRows(ctx, "users", dao.ListQuery{
		SearchValue: "pet",
		Settings:    &dao.TableSettings{SearchFields: []string{"name"}, ExcludedFields: []string{"email"}},
	})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Petia", res.Data[0]["name"])
	assert.NotContains(t, res.Data[0], "email")

	res, err = a.ListRows(ctx, "users", dao.ListQuery{Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "10", res.Data[0][KeyField])

	res, err = a.ListRows(ctx, "users", dao.ListQuery{Autocomplete: &dao.AutocompleteQuery{Fields: []string{"name"}, Value: "K"}})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Kolia", res.Data[0]["name"])
}

func TestListRows_LargeDataset(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{LargeDatasetThreshold: 2})
	seedUsers(t, mr)
	ctx := context.Background()

	res, err := a.ListRows(ctx, "users", dao.ListQuery{})
	require.NoError(t, err)
	assert.True(t, res.LargeDataset)
	assert.Equal(t, int64(3), res.Pagination.Total)

	_, err = a.StreamRows(ctx, "users", dao.ListQuery{})
	assert.True(t, dao.IsKind(err, dao.KindLargeDataset))
}

func TestStreamRows(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)

	s, err := a.StreamRows(context.Background(), "users", dao.ListQuery{})
	require.NoError(t, err)
	rows, err := dao.Collect(s)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestAddRow(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)
	ctx := context.Background()

	key, err := a.AddRow(ctx, "users", dao.Row{"name": "Sasha", "tags": []any{"a", "b"}, "active": true})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{KeyField: "11"}, key)
	assert.Equal(t, `["a","b"]`, mr.HGet("users:11", "tags"))
	assert.Equal(t, "true", mr.HGet("users:11", "active"))

	key, err = a.AddRow(ctx, "users", dao.Row{KeyField: "abc", "name": "Masha"})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{KeyField: "abc"}, key)
	assert.Equal(t, "Masha", mr.HGet("users:abc", "name"))
	assert.Empty(t, mr.HGet("users:abc", KeyField))

	_, err = a.AddRow(ctx, "users", dao.Row{KeyField: "abc", "name": "again"})
	assert.True(t, dao.IsKind(err, dao.KindValidation))

	_, err = a.AddRow(ctx, "users", dao.Row{KeyField: "empty"})
	assert.True(t, dao.IsKind(err, dao.KindValidation))
}

func TestUpdateRow(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)
	ctx := context.Background()

	row, err := a.UpdateRow(ctx, "users", dao.Row{"name": "Petr", "email": nil}, dao.Row{KeyField: 2})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{KeyField: "2", "name": "Petr", "age": "25"}, row)

	row, err = a.UpdateRow(ctx, "users", dao.Row{"name": "ghost"}, dao.Row{KeyField: "404"})
	require.NoError(t, err)
	assert.Nil(t, row)
	assert.False(t, mr.Exists("users:404"))

	rows, err := a.BulkUpdateRows(ctx, "users", dao.Row{"age": 50}, []dao.Row{{KeyField: "1"}, {KeyField: "10"}, {KeyField: "404"}})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Equal(t, "50", mr.HGet("users:10", "age"))

	_, err = a.UpdateRow(ctx, "users", dao.Row{"name": "x"}, dao.Row{"id": 1})
	assert.True(t, dao.IsKind(err, dao.KindValidation))
}

func TestDeleteRows(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)
	ctx := context.Background()

	old, err := a.DeleteRow(ctx, "users", dao.Row{KeyField: "1"})
	require.NoError(t, err)
	assert.Equal(t, "Vasia", old["name"])
	assert.False(t, mr.Exists("users:1"))

	old, err = a.DeleteRow(ctx, "users", dao.Row{KeyField: "1"})
	require.NoError(t, err)
	assert.Nil(t, old)

	n, err := a.BulkDeleteRows(ctx, "users", []dao.Row{{KeyField: "2"}, {KeyField: "10"}, {KeyField: "404"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestGetRows(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	seedUsers(t, mr)
	ctx := context.Background()

	row, err := a.GetRowByPrimaryKey(ctx, "users", dao.Row{KeyField: "2"}, &dao.TableSettings{ListFields: []string{"name"}})
	require.NoError(t, err)
	assert.Equal(t, dao.Row{KeyField: "2", "name": "Petia"}, row)

	row, err = a.GetRowByPrimaryKey(ctx, "users", dao.Row{KeyField: "404"}, nil)
	require.NoError(t, err)
	assert.Nil(t, row)

	rows, err := a.BulkGetRowsByPrimaryKeys(ctx, "users", []dao.Row{{KeyField: "10"}, {KeyField: "404"}, {KeyField: "1"}}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Kolia", rows[0]["name"])

	ids, err := a.GetIdentityColumns(ctx, "users", KeyField, "name", []any{1, "2"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []dao.Row{{KeyField: "1", "name": "Vasia"}, {KeyField: "2", "name": "Petia"}}, ids)

	ids, err = a.GetIdentityColumns(ctx, "users", "age", "name", []any{41})
	require.NoError(t, err)
	assert.Equal(t, []dao.Row{{"age": "41", "name": "Kolia"}}, ids)
}

func TestImportCSV(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{DocumentBatchSize: 2})
	seedUsers(t, mr)

	csv := "key,name,age\n,Anna,22\nmanual,Olga,\n,Irina,35\n"
	require.NoError(t, a.ImportCSV(context.Background(), "users", []byte(csv)))

	assert.Equal(t, "Olga", mr.HGet("users:manual", "name"))
	assert.Empty(t, mr.HGet("users:manual", "age"))

	names := []string{mr.HGet("users:11", "name"), mr.HGet("users:12", "name")}
	assert.ElementsMatch(t, []string{"Anna", "Irina"}, names)
	seq, err := mr.Get("users:__seq")
	require.NoError(t, err)
	assert.Equal(t, "12", seq)
}

func TestTestConnect(t *testing.T) {
	a, mr := setupRedis(t, dao.Options{})
	assert.True(t, a.TestConnect(context.Background()).Result)

	mr.Close()
	res := a.TestConnect(context.Background())
	assert.False(t, res.Result)
	assert.NotEmpty(t, res.Message)
}

func TestClientOptions(t *testing.T) {
	opts, err := ClientOptions(dao.ConnectionParams{Host: "cache.local", Database: "3", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "cache.local:6379", opts.Addr)
	assert.Equal(t, 3, opts.DB)
	assert.Nil(t, opts.TLSConfig)

	_, err = ClientOptions(dao.ConnectionParams{Host: "h", Database: "main"})
	assert.True(t, dao.IsKind(err, dao.KindValidation))
}

func TestCompareKeys(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2", "10", -1},
		{"10", "2", 1},
		{"7", "7", 0},
		{"9", "a", -1},
		{"b", "a", 1},
	}
	for _, tt := range tests {
		if got := compareKeys(tt.a, tt.b); got != tt.want {
			t.Errorf("compareKeys(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
