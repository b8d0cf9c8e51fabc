package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
)

func strPtr(s string) *string { return &s }

func TestNullable(t *testing.T) {
	tests := []struct {
		token string
		want  bool
	}{
		{"YES", true},
		{"yes", true},
		{"Y", true},
		{"NULL", true},
		{"NO", false},
		{"N", false},
		{"no", false},
		{" N ", false},
		{"NOT NULL", false},
		{"0", false},
		{"1", true},
	}
	for _, tt := range tests {
		if got := Nullable(tt.token); got != tt.want {
			t.Errorf("Nullable(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestColumns_AllowNullIsBooleanForEveryEngineToken(t *testing.T) {
	raw := []RawColumn{
		{Name: "pg", DataType: "integer", Nullable: "NO"},
		{Name: "mysql", DataType: "varchar", Nullable: "YES"},
		{Name: "oracle", DataType: "VARCHAR2", Nullable: "Y"},
		{Name: "db2", DataType: "INTEGER", Nullable: "N"},
	}
	cols := Columns(raw)
	require.Len(t, cols, 4)

	b, err := json.Marshal(cols)
	require.NoError(t, err)
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	for _, c := range decoded {
		_, isBool := c["allow_null"].(bool)
		assert.True(t, isBool, "allow_null for %v must be a JSON boolean", c["column_name"])
	}
	assert.False(t, cols[0].AllowNull)
	assert.True(t, cols[1].AllowNull)
	assert.True(t, cols[2].AllowNull)
	assert.False(t, cols[3].AllowNull)
}

func TestColumn_Identity(t *testing.T) {
	tests := []struct {
		name string
		raw  RawColumn
	}{
		{"postgres serial", RawColumn{Name: "id", Default: strPtr("nextval('users_id_seq'::regclass)")}},
		{"postgres identity", RawColumn{Name: "id", Identity: "a"}},
		{"information_schema identity", RawColumn{Name: "id", Identity: "YES"}},
		{"mysql auto_increment", RawColumn{Name: "id", Extra: "auto_increment"}},
		{"mssql identity", RawColumn{Name: "id", Identity: "1"}},
		{"oracle sequence default", RawColumn{Name: "id", Default: strPtr(`"APP"."ISEQ$$_7312".nextval`)}},
		{"db2 identity", RawColumn{Name: "id", Identity: "Y"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			col := Column(tt.raw)
			require.NotNil(t, col.ColumnDefault)
			assert.Equal(t, dao.AutoIncrement, *col.ColumnDefault)
			assert.True(t, col.IsAutoIncrement())
		})
	}
}

func TestColumn_PlainDefault(t *testing.T) {
	col := Column(RawColumn{Name: "qty", DataType: "INT", Nullable: "NO", Default: strPtr("((0))"), Identity: "NO"})
	require.NotNil(t, col.ColumnDefault)
	assert.Equal(t, "0", *col.ColumnDefault)
	assert.Equal(t, "int", col.DataType)
	assert.False(t, col.IsAutoIncrement())

	col = Column(RawColumn{Name: "note"})
	assert.Nil(t, col.ColumnDefault)
}

func TestExpandUserDefined(t *testing.T) {
	base := Column(RawColumn{Name: "mood", DataType: "USER-DEFINED", UDTName: "mood"})
	enum := ExpandEnum(base, []string{"sad", "ok", "happy"})
	assert.Equal(t, "enum", enum.DataType)
	assert.Equal(t, []string{"sad", "ok", "happy"}, enum.DataTypeParams)

	comp := ExpandComposite(base, []RawColumn{
		{Name: "street", DataType: "text", Nullable: "YES"},
		{Name: "zip", DataType: "integer", Nullable: "NO"},
	})
	assert.Equal(t, "composite", comp.DataType)
	require.Len(t, comp.CompositeFields, 2)
	assert.Equal(t, "integer", comp.CompositeFields[1].DataType)
	assert.False(t, comp.CompositeFields[1].AllowNull)
}

func TestInferDocuments(t *testing.T) {
	docs := []map[string]any{
		{"_id": "a1", "name": "Vasia", "age": 30, "tags": []any{"x"}},
		{"_id": "a2", "name": nil, "age": "unknown", "joined": time.Now()},
	}
	cols := InferDocuments(docs, []string{"_id"}, nil)
	require.Len(t, cols, 5)
	assert.Equal(t, "_id", cols[0].ColumnName)
	assert.False(t, cols[0].AllowNull)

	byName := map[string]dao.ColumnInfo{}
	for _, c := range cols {
		byName[c.ColumnName] = c
	}
	assert.Equal(t, TypeString, byName["name"].DataType)
	assert.Equal(t, TypeMixed, byName["age"].DataType)
	assert.Equal(t, TypeArray, byName["tags"].DataType)
	assert.Equal(t, TypeDate, byName["joined"].DataType)
	assert.True(t, byName["name"].AllowNull)
}

func TestInferDocuments_Empty(t *testing.T) {
	cols := InferDocuments(nil, []string{"_id"}, nil)
	assert.NotNil(t, cols)
	assert.Empty(t, cols)
}

func TestInferDocuments_Typer(t *testing.T) {
	type oid [12]byte
	typer := func(v any) string {
		if _, ok := v.(oid); ok {
			return TypeObjectID
		}
		return ""
	}
	cols := InferDocuments([]map[string]any{{"_id": oid{}}}, []string{"_id"}, typer)
	require.Len(t, cols, 1)
	assert.Equal(t, TypeObjectID, cols[0].DataType)
}
