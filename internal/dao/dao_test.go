package dao

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func estimateOf(n int64) EstimateFunc {
	return func(context.Context) (int64, bool, error) { return n, true, nil }
}

func TestResolveCount_ThresholdBoundary(t *testing.T) {
	exactCalls := 0
	exact := func(context.Context) (int64, error) {
		exactCalls++
		return 999, nil
	}

	res, err := ResolveCount(context.Background(), 1000, estimateOf(1000), exact)
	require.NoError(t, err)
	assert.True(t, res.LargeDataset, "estimate at the threshold marks a large dataset")
	assert.Equal(t, int64(1000), res.Total)
	assert.Equal(t, 0, exactCalls)

	res, err = ResolveCount(context.Background(), 1000, estimateOf(999), exact)
	require.NoError(t, err)
	assert.False(t, res.LargeDataset)
	assert.Equal(t, int64(999), res.Total)
	assert.Equal(t, 1, exactCalls)
}

func TestResolveCount_EstimateUnavailable(t *testing.T) {
	failing := func(context.Context) (int64, bool, error) { return 0, false, errors.New("no stats") }
	unknown := func(context.Context) (int64, bool, error) { return -1, false, nil }
	exact := func(context.Context) (int64, error) { return 3, nil }

	for _, est := range []EstimateFunc{failing, unknown, nil} {
		res, err := ResolveCount(context.Background(), 10, est, exact)
		require.NoError(t, err)
		assert.Equal(t, CountResult{Total: 3}, res)
	}

	_, err := ResolveCount(context.Background(), 10, nil, func(context.Context) (int64, error) {
		return 0, errors.New("boom")
	})
	assert.Error(t, err)
}

func TestGuardStream(t *testing.T) {
	err := GuardStream(context.Background(), 100, estimateOf(100))
	assert.True(t, IsKind(err, KindLargeDataset))
	assert.NoError(t, GuardStream(context.Background(), 100, estimateOf(99)))
	assert.NoError(t, GuardStream(context.Background(), 100, nil))
}

func TestNewPagination(t *testing.T) {
	tests := []struct {
		total        int64
		page, per    int
		wantLastPage int
	}{
		{0, 1, 20, 1},
		{3, 1, 3, 1},
		{4, 1, 3, 2},
		{100, 5, 20, 5},
		{101, 5, 20, 6},
	}
	for _, tt := range tests {
		p := NewPagination(tt.total, tt.page, tt.per)
		if p.LastPage != tt.wantLastPage {
			t.Errorf("NewPagination(%d, %d, %d).LastPage = %d, want %d", tt.total, tt.page, tt.per, p.LastPage, tt.wantLastPage)
		}
		if p.Total != tt.total || p.PerPage != tt.per || p.CurrentPage != tt.page {
			t.Errorf("NewPagination(%d, %d, %d) = %+v", tt.total, tt.page, tt.per, p)
		}
	}
	if got := Offset(3, 20); got != 40 {
		t.Errorf("Offset(3, 20) = %d, want 40", got)
	}
}

func TestResolvePage(t *testing.T) {
	page, per := ResolvePage(ListQuery{}, 20)
	assert.Equal(t, 1, page)
	assert.Equal(t, 20, per)

	page, per = ResolvePage(ListQuery{Page: 3, Settings: &TableSettings{ListPerPage: 50}}, 20)
	assert.Equal(t, 3, page)
	assert.Equal(t, 50, per)

	_, per = ResolvePage(ListQuery{PerPage: 5, Settings: &TableSettings{ListPerPage: 50}}, 20)
	assert.Equal(t, 5, per)
}

func usersStructure() []ColumnInfo {
	auto := AutoIncrement
	return []ColumnInfo{
		{ColumnName: "id", DataType: "integer", ColumnDefault: &auto},
		{ColumnName: "name", DataType: "text", AllowNull: true},
		{ColumnName: "email", DataType: "text", AllowNull: true},
		{ColumnName: "meta", DataType: "jsonb", AllowNull: true},
	}
}

func TestValidateTableSettings(t *testing.T) {
	pks := []PrimaryKeyInfo{{ColumnName: "id", DataType: "integer"}}

	ok := ValidateTableSettings(TableSettings{
		ListFields:    []string{"id", "name"},
		SearchFields:  []string{"name"},
		OrderingField: "email",
		Ordering:      "desc",
	}, "users", usersStructure(), pks)
	assert.Empty(t, ok)

	errs := ValidateTableSettings(TableSettings{
		ListFields:     []string{"id", "nope"},
		ExcludedFields: []string{"id"},
		SearchFields:   []string{"ghost", "phantom"},
		OrderingField:  "missing",
		Ordering:       "sideways",
	}, "users", usersStructure(), pks)
	require.Len(t, errs, 5)
	assert.Contains(t, errs[0], "list_fields")
	assert.Contains(t, errs[0], "nope")
	assert.Contains(t, errs[1], "ghost, phantom")
	assert.Contains(t, errs[2], "ordering_field")
	assert.Contains(t, errs[3], "ASC or DESC")
	assert.Contains(t, errs[4], `primary key column "id"`)
}

func TestSelectableColumns(t *testing.T) {
	s := usersStructure()
	assert.Equal(t, []string{"id", "name", "email", "meta"}, SelectableColumns(nil, s))
	assert.Equal(t, []string{"id", "email", "meta"}, SelectableColumns(&TableSettings{ExcludedFields: []string{"name"}}, s))
	assert.Equal(t, []string{"email", "id"}, SelectableColumns(&TableSettings{
		ListFields:     []string{"email", "id"},
		ExcludedFields: []string{"email"},
	}, s), "explicit list wins over excluded fields")
}

func TestResolveOrdering(t *testing.T) {
	field, dir := ResolveOrdering(nil, []string{"id", "name"})
	assert.Equal(t, "id", field)
	assert.Equal(t, Asc, dir)

	field, dir = ResolveOrdering(&TableSettings{OrderingField: "name", Ordering: "DESC"}, []string{"id", "name"})
	assert.Equal(t, "name", field)
	assert.Equal(t, Desc, dir)

	field, dir = ResolveOrdering(&TableSettings{Ordering: Desc}, []string{"id"})
	assert.Equal(t, "id", field)
	assert.Equal(t, Asc, dir)
}

func TestValidateIdentifier(t *testing.T) {
	valid := []string{"users", "user_roles", "Order Items", "café", "t$1", "_x", "kebab-case"}
	for _, v := range valid {
		assert.NoError(t, ValidateIdentifier(v), v)
	}
	invalid := []string{"", "1abc", `a"b`, "a;b", "a'b", "a/*b", "a`b", "a]b", string(make([]byte, 200))}
	for _, v := range invalid {
		err := ValidateIdentifier(v)
		assert.Error(t, err, v)
		assert.True(t, IsKind(err, KindValidation), v)
	}

	schema, table, err := SplitTableName("sales.orders")
	require.NoError(t, err)
	assert.Equal(t, "sales", schema)
	assert.Equal(t, "orders", table)
	_, _, err = SplitTableName("sales.ord;ers")
	assert.Error(t, err)
}

func TestPrepareJSONValues(t *testing.T) {
	row := Row{"name": "x", "meta": `{"a":1,}`, "id": 7}
	out, err := PrepareJSONValues(row, usersStructure())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, out["meta"])
	assert.Equal(t, "x", out["name"])
	assert.Equal(t, `{"a":1,}`, row["meta"], "input row is not modified")

	out, err = PrepareJSONValues(Row{"meta": map[string]any{"b": true}}, usersStructure())
	require.NoError(t, err)
	assert.Equal(t, `{"b":true}`, out["meta"])

	_, err = PrepareJSONValues(Row{"meta": "not json"}, usersStructure())
	assert.True(t, IsKind(err, KindValidation))

	assert.Equal(t, map[string]any{"a": float64(1)}, DecodeJSONValue([]byte(`{"a":1}`)))
	assert.Equal(t, "plain", DecodeJSONValue("plain"))
	assert.Equal(t, 5, DecodeJSONValue(5))
}

func TestFingerprint(t *testing.T) {
	a := ConnectionParams{Type: Postgres, Host: "db", Port: 5432, Database: "app", Options: map[string]string{"x": "1", "y": "2"}}
	b := ConnectionParams{Type: Postgres, Host: "db", Port: 5432, Database: "app", Options: map[string]string{"y": "2", "x": "1"}}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := b.WithEndpoint("127.0.0.1", 40000)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.Equal(t, "db", b.Host, "WithEndpoint does not mutate the receiver")

	b.Password = "secret"
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	assert.NotContains(t, b.String(), "secret")
}

func TestEngineType(t *testing.T) {
	assert.True(t, EngineType("agent_postgres").IsAgent())
	assert.Equal(t, Postgres, EngineType("agent_postgres").Base())
	assert.Equal(t, EngineType("agent_redis"), Redis.Agent())
	assert.True(t, EngineType("agent_oracledb").Valid())
	assert.False(t, EngineType("sqlite").Valid())
}

func TestKnownFilters(t *testing.T) {
	got := KnownFilters([]FilterSpec{
		{Field: "a", Criteria: "EQ", Value: 1},
		{Field: "b", Criteria: "between", Value: 2},
		{Field: "c", Criteria: IContains, Value: "x"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, Eq, got[0].Criteria)
	assert.Equal(t, IContains, got[1].Criteria)
}

func TestPaginationResultJSON(t *testing.T) {
	b, err := json.Marshal(PaginationResult{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":[],"pagination":{"total":0,"lastPage":0,"perPage":0,"currentPage":0},"large_dataset":false}`, string(b))
}

func TestSliceStream(t *testing.T) {
	rows, err := Collect(NewSliceStream([]Row{{"id": 1}, {"id": 2}}))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	s := NewSliceStream(nil)
	assert.False(t, s.Next())
	assert.Nil(t, s.Row())
}

func TestErrors(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := Connectivity("open postgres", base)
	assert.True(t, IsKind(err, KindConnectivity))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "open postgres: dial tcp: refused", Message(err))

	v := Validationf("bad %s", "id")
	assert.Same(t, v, Connectivity("wrapped", v).(*Error))
	assert.Nil(t, Connectivity("x", nil))
	assert.Equal(t, Kind(""), KindOf(base))
}
