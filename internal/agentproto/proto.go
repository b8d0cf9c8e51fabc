// Package agentproto defines the wire format shared by the delegation client
// and the local agent: command bodies, operation names, the result envelope
// and command token signing.
package agentproto

import (
	"encoding/json"
	"fmt"

	"github.com/rowpane/rowpane/internal/dao"
)

// Operation names a delegated DAO operation.
type Operation string

const (
	OpAddRow             Operation = "addRowInTable"
	OpUpdateRow          Operation = "updateRowInTable"
	OpBulkUpdateRows     Operation = "bulkUpdateRowInTable"
	OpDeleteRow          Operation = "deleteRowInTable"
	OpBulkDeleteRows     Operation = "bulkDeleteRowsInTable"
	OpGetRowByPrimaryKey Operation = "getRowByPrimaryKey"
	OpBulkGetRows        Operation = "bulkGetRowsFromTableByPrimaryKeys"
	OpListRows           Operation = "getRowsFromTable"
	OpGetStructure       Operation = "getTableStructure"
	OpGetPrimaryKeys     Operation = "getTablePrimaryColumns"
	OpGetForeignKeys     Operation = "getTableForeignKeys"
	OpGetReferencing     Operation = "getReferencedTableNamesAndColumns"
	OpListTables         Operation = "getTablesFromDB"
	OpIsView             Operation = "isView"
	OpGetIdentityColumns Operation = "getIdentityColumns"
	OpValidateSettings   Operation = "validateSettings"
	OpTestConnect        Operation = "testConnect"
	OpStreamRows         Operation = "getTableRowsStream"
	OpImportCSV          Operation = "importCSVInTable"
)

// Operations lists every operation an agent executes.
var Operations = []Operation{
	OpAddRow, OpUpdateRow, OpBulkUpdateRows, OpDeleteRow, OpBulkDeleteRows,
	OpGetRowByPrimaryKey, OpBulkGetRows, OpListRows,
	OpGetStructure, OpGetPrimaryKeys, OpGetForeignKeys, OpGetReferencing,
	OpListTables, OpIsView, OpGetIdentityColumns, OpValidateSettings, OpTestConnect,
	OpStreamRows, OpImportCSV,
}

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	for _, o := range Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Command is the body of POST /command. The listing parameters are inlined
// from dao.ListQuery; Settings doubles as the settings of get and validate
// operations.
type Command struct {
	OperationType Operation      `json:"operationType"`
	Engine        dao.EngineType `json:"engine,omitempty"`
	TableName     string         `json:"tableName,omitempty"`
	Email         string         `json:"email,omitempty"`

	dao.ListQuery

	Row         dao.Row   `json:"row,omitempty"`
	PrimaryKey  dao.Row   `json:"primaryKey,omitempty"`
	PrimaryKeys []dao.Row `json:"primaryKeys,omitempty"`
	NewValues   dao.Row   `json:"newValues,omitempty"`

	ReferencedFieldName string `json:"referencedFieldName,omitempty"`
	IdentityColumnName  string `json:"identityColumnName,omitempty"`
	FieldValues         []any  `json:"fieldValues,omitempty"`

	// FileData is the raw CSV of an import, base64 encoded on the wire.
	FileData []byte `json:"fileData,omitempty"`
}

// Response is the agent reply. CommandResult holds either the JSON result or
// an ErrorResult envelope. An absent result is an error; JSON null is a valid
// "no row" answer.
type Response struct {
	CommandResult json.RawMessage `json:"commandResult,omitempty"`
}

// ErrorType tags an ErrorResult.
const ErrorType = "Error"

// ErrorResult is the error envelope carried in CommandResult.
type ErrorResult struct {
	Type    string   `json:"$type"`
	Kind    dao.Kind `json:"kind,omitempty"`
	Message string   `json:"message"`
}

// ResultOf encodes a successful result.
func ResultOf(v any) (Response, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode command result: %w", err)
	}
	return Response{CommandResult: b}, nil
}

// ErrorOf encodes err as an error envelope, keeping its kind.
func ErrorOf(err error) Response {
	env := ErrorResult{Type: ErrorType, Kind: dao.KindOf(err), Message: dao.Message(err)}
	b, _ := json.Marshal(env)
	return Response{CommandResult: b}
}

// Decode unpacks resp into out. Error envelopes become *dao.Error values
// carrying the agent's kind.
func Decode(resp Response, out any) error {
	if len(resp.CommandResult) == 0 {
		return dao.ErrNoDataFromAgent
	}
	var tagged struct {
		Type *string `json:"$type"`
	}
	// Non-object results (arrays, numbers, null) cannot be envelopes.
	if json.Unmarshal(resp.CommandResult, &tagged) == nil && tagged.Type != nil && *tagged.Type == ErrorType {
		var env ErrorResult
		if err := json.Unmarshal(resp.CommandResult, &env); err != nil {
			return fmt.Errorf("failed to decode agent error: %w", err)
		}
		kind := env.Kind
		if kind == "" {
			kind = dao.KindAgent
		}
		return dao.New(kind, env.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.CommandResult, out); err != nil {
		return fmt.Errorf("failed to decode command result: %w", err)
	}
	return nil
}
