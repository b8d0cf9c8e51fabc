package agentproto

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpane/rowpane/internal/dao"
)

func TestCommandWireNames(t *testing.T) {
	cmd := Command{
		OperationType: OpListRows,
		TableName:     "users",
		ListQuery: dao.ListQuery{
			Page:        2,
			SearchValue: "kol",
			Filters:     []dao.FilterSpec{{Field: "age", Criteria: dao.Gt, Value: "18"}},
		},
		PrimaryKey: dao.Row{"id": 1},
		FileData:   []byte("id\n1\n"),
	}
	b, err := json.Marshal(cmd)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "getRowsFromTable", raw["operationType"])
	assert.Equal(t, "users", raw["tableName"])
	assert.Equal(t, float64(2), raw["page"])
	assert.Equal(t, "kol", raw["searchedFieldValue"])
	assert.Contains(t, raw, "filteringFields")
	assert.Contains(t, raw, "primaryKey")
	assert.Equal(t, "aWQKMQo=", raw["fileData"])

	var back Command
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []byte("id\n1\n"), back.FileData)
	assert.Equal(t, 2, back.Page)
}

func TestOperationValid(t *testing.T) {
	assert.Len(t, Operations, 19)
	assert.True(t, OpImportCSV.Valid())
	assert.False(t, Operation("dropDatabase").Valid())
}

func TestDecode(t *testing.T) {
	t.Run("result", func(t *testing.T) {
		resp, err := ResultOf(dao.Row{"id": 1})
		require.NoError(t, err)
		var row dao.Row
		require.NoError(t, Decode(resp, &row))
		assert.Equal(t, float64(1), row["id"])
	})

	t.Run("null result", func(t *testing.T) {
		row := dao.Row{"stale": true}
		require.NoError(t, Decode(Response{CommandResult: json.RawMessage("null")}, &row))
		assert.Nil(t, row)
	})

	t.Run("absent result", func(t *testing.T) {
		err := Decode(Response{}, nil)
		assert.ErrorIs(t, err, dao.ErrNoDataFromAgent)
	})

	t.Run("array result", func(t *testing.T) {
		var names []string
		require.NoError(t, Decode(Response{CommandResult: json.RawMessage(`["a","b"]`)}, &names))
		assert.Equal(t, []string{"a", "b"}, names)
	})

	t.Run("error keeps kind", func(t *testing.T) {
		resp := ErrorOf(dao.Validationf("bad table name %q", "x;"))
		err := Decode(resp, nil)
		require.Error(t, err)
		assert.True(t, dao.IsKind(err, dao.KindValidation))
		assert.Equal(t, `bad table name "x;"`, dao.Message(err))
	})

	t.Run("untyped error becomes agent error", func(t *testing.T) {
		err := Decode(ErrorOf(errors.New("disk full")), nil)
		assert.True(t, dao.IsKind(err, dao.KindAgent))
		assert.Equal(t, "disk full", dao.Message(err))
	})

	t.Run("row with $type column is data", func(t *testing.T) {
		var row dao.Row
		require.NoError(t, Decode(Response{CommandResult: json.RawMessage(`{"$type":"Order"}`)}, &row))
		assert.Equal(t, "Order", row["$type"])
	})
}

func TestTokenRoundTrip(t *testing.T) {
	secret := []byte("s3cret")
	raw, err := SignToken(secret, "conn-token", time.Minute)
	require.NoError(t, err)

	claims, err := VerifyToken(secret, raw)
	require.NoError(t, err)
	assert.Equal(t, "conn-token", claims.ConnectionToken)

	_, err = VerifyToken([]byte("other"), raw)
	assert.Error(t, err)
}

func TestVerifyTokenRejects(t *testing.T) {
	secret := []byte("s3cret")

	sign := func(c Claims, m jwt.SigningMethod, key any) string {
		s, err := jwt.NewWithClaims(m, c).SignedString(key)
		require.NoError(t, err)
		return s
	}
	past := jwt.NewNumericDate(time.Now().Add(-time.Hour))
	future := jwt.NewNumericDate(time.Now().Add(time.Hour))

	tests := []struct {
		name string
		raw  string
	}{
		{"expired", sign(Claims{ConnectionToken: "c", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: past}}, jwt.SigningMethodHS256, secret)},
		{"no expiry", sign(Claims{ConnectionToken: "c"}, jwt.SigningMethodHS256, secret)},
		{"wrong method", sign(Claims{ConnectionToken: "c", RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, jwt.SigningMethodHS512, secret)},
		{"no connection", sign(Claims{RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: future}}, jwt.SigningMethodHS256, secret)},
		{"garbage", "not.a.token"},
	}
	for _, tt := range tests {
		if _, err := VerifyToken(secret, tt.raw); err == nil {
			t.Errorf("%s: VerifyToken() succeeded, want error", tt.name)
		}
	}

	_, err := SignToken(nil, "c", time.Minute)
	assert.Error(t, err)
}
