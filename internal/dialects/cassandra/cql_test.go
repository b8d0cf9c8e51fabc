package cassandra

import (
	"math/big"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
)

var usersColumns = []schemaColumn{
	{Name: "name", Type: "text", Kind: "regular", Position: -1},
	{Name: "created", Type: "timestamp", Kind: kindClustering, Position: 0},
	{Name: "tenant", Type: "text", Kind: kindPartition, Position: 1},
	{Name: "attrs", Type: "map<text, frozen<list<int>>>", Kind: "regular", Position: -1},
	{Name: "id", Type: "uuid", Kind: kindPartition, Position: 0},
	{Name: "age", Type: "int", Kind: "regular", Position: -1},
}

func TestKeyColumns(t *testing.T) {
	pks := keyColumns(usersColumns)
	assert.Equal(t, []string{"id", "tenant", "created"}, dao.KeyNames(pks))
	assert.Equal(t, "uuid", pks[0].DataType)
}

func TestStructure(t *testing.T) {
	st := structure(usersColumns)
	require.Len(t, st, 6)

	names := dao.ColumnNames(st)
	assert.Equal(t, []string{"id", "tenant", "created", "age", "attrs", "name"}, names)
	assert.False(t, st[0].AllowNull)
	assert.True(t, st[3].AllowNull)

	attrs := st[4]
	assert.Equal(t, "map", attrs.DataType)
	assert.Equal(t, []string{"text", "frozen<list<int>>"}, attrs.DataTypeParams)
}

func TestSplitTypeParams(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"int", []string{"int"}},
		{"text, int", []string{"text", "int"}},
		{"text, map<int, text>", []string{"text", "map<int, text>"}},
	}
	for _, tt := range tests {
		got := splitTypeParams(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("splitTypeParams(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitTypeParams(%q)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}

func TestSplitFilters(t *testing.T) {
	types := map[string]string{"age": "int", "name": "text"}
	filters := []dao.FilterSpec{
		{Field: "age", Criteria: dao.Gte, Value: "30"},
		{Field: "name", Criteria: dao.Contains, Value: "as"},
		{Field: "name", Criteria: dao.Eq, Value: nil},
		{Field: "name", Criteria: dao.Eq, Value: "Vasia"},
		{Field: "name", Criteria: dao.Empty},
	}
	server, mem := splitFilters(filters, types)
	require.Len(t, server, 2)
	assert.Equal(t, int64(30), server[0].Value)
	assert.Equal(t, "Vasia", server[1].Value)
	assert.Len(t, mem, 3)
}

func TestSelectStatement(t *testing.T) {
	b := filter.NewBuilder(cql{})
	assert.Equal(t, `SELECT "id" FROM "ks"."users"`, selectStatement(`"id"`, `"ks"."users"`, b, true))

	require.NoError(t, b.AndFilters([]dao.FilterSpec{{Field: "age", Criteria: dao.Gt, Value: int64(3)}}))
	assert.Equal(t, `SELECT "id" FROM "ks"."users" WHERE "age" > ? ALLOW FILTERING`,
		selectStatement(`"id"`, `"ks"."users"`, b, true))
	assert.Equal(t, []any{int64(3)}, b.Args())
}

func TestKeyWhere(t *testing.T) {
	pks := keyColumns(usersColumns)
	types := columnTypes(usersColumns)

	_, err := keyWhere(dao.Row{"id": "x"}, pks, types)
	assert.True(t, dao.IsKind(err, dao.KindValidation))

	_, err = keyWhere(dao.Row{"id": "x", "tenant": "t", "other": 1}, pks, types)
	assert.True(t, dao.IsKind(err, dao.KindValidation))

	b, err := keyWhere(dao.Row{"id": "x", "tenant": "t", "created": "2024-01-01"}, pks, types)
	require.NoError(t, err)
	assert.Len(t, b.Args(), 3)
	assert.Contains(t, b.Where(), `"tenant" = ?`)
}

func TestInsertAndUpdateStatement(t *testing.T) {
	types := map[string]string{"id": "int", "name": "text"}
	pks := []dao.PrimaryKeyInfo{{ColumnName: "id", DataType: "int"}}

	stmt, args, err := insertStatement(`"users"`, dao.Row{"name": "Vasia", "id": "7"}, types)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("id", "name") VALUES (?, ?)`, stmt)
	assert.Equal(t, []any{int64(7), "Vasia"}, args)

	stmt, args, err = updateStatement(`"users"`, dao.Row{"id": 9, "name": "Petia"}, dao.Row{"id": 7}, pks, types, true)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "name" = ? WHERE "id" = ? IF EXISTS`, stmt)
	assert.Equal(t, []any{"Petia", 7}, args)

	_, _, err = updateStatement(`"users"`, dao.Row{"id": 9}, dao.Row{"id": 7}, pks, types, false)
	assert.True(t, dao.IsKind(err, dao.KindValidation))
}

func TestNative(t *testing.T) {
	id := gocql.TimeUUID()
	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))

	row := toRow(map[string]any{
		"id":    id,
		"at":    when,
		"big":   big.NewInt(42),
		"tags":  []any{"a", id},
		"name":  "Vasia",
		"count": 3,
	})
	assert.Equal(t, id.String(), row["id"])
	assert.Equal(t, when.UTC(), row["at"])
	assert.Equal(t, "42", row["big"])
	assert.Equal(t, []any{"a", id.String()}, row["tags"])
	assert.Equal(t, 3, row["count"])
}

func TestCluster(t *testing.T) {
	c, err := Cluster(dao.ConnectionParams{Host: "a, b", Database: "ks", Username: "u"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, c.Hosts)
	assert.Equal(t, defaultPort, c.Port)
	assert.Equal(t, "ks", c.Keyspace)
	assert.Equal(t, gocql.LocalQuorum, c.Consistency)
	assert.NotNil(t, c.Authenticator)

	_, err = Cluster(dao.ConnectionParams{Host: "a", Options: map[string]string{"consistency": "SOMETIMES"}})
	assert.True(t, dao.IsKind(err, dao.KindValidation))
}
