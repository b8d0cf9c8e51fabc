package agent

import (
	"context"

	"github.com/rowpane/rowpane/internal/agentproto"
	"github.com/rowpane/rowpane/internal/config"
	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/factory"
)

// Executor runs delegated commands against the agent's own connections.
type Executor struct {
	factory *factory.Factory
}

// NewExecutor returns an executor building DAOs through f.
func NewExecutor(f *factory.Factory) *Executor {
	return &Executor{factory: f}
}

// tableless operations run without a table name.
var tableless = map[agentproto.Operation]bool{
	agentproto.OpListTables:  true,
	agentproto.OpTestConnect: true,
}

// Execute maps cmd onto the DAO of conn and returns the JSON-encodable
// result. Commands without settings use the table settings configured on
// the agent side.
func (e *Executor) Execute(ctx context.Context, conn config.ConnectionConfig, cmd agentproto.Command) (any, error) {
	if !cmd.OperationType.Valid() {
		return nil, dao.Validationf("unknown operation %q", cmd.OperationType)
	}
	if cmd.Engine != "" && cmd.Engine != conn.Type.Base() {
		return nil, dao.Validationf("connection %q serves %s, not %s", conn.Name, conn.Type, cmd.Engine)
	}
	if cmd.TableName == "" && !tableless[cmd.OperationType] {
		return nil, dao.Validationf("%s requires a table name", cmd.OperationType)
	}

	d, err := e.factory.DAO(conn.ConnectionParams)
	if err != nil {
		return nil, err
	}
	if cmd.Settings == nil {
		cmd.Settings = conn.TableSettings(cmd.TableName)
	}
	table := cmd.TableName

	switch cmd.OperationType {
	case agentproto.OpAddRow:
		return d.AddRow(ctx, table, cmd.Row)
	case agentproto.OpUpdateRow:
		return d.UpdateRow(ctx, table, cmd.Row, cmd.PrimaryKey)
	case agentproto.OpBulkUpdateRows:
		return d.BulkUpdateRows(ctx, table, cmd.NewValues, cmd.PrimaryKeys)
	case agentproto.OpDeleteRow:
		return d.DeleteRow(ctx, table, cmd.PrimaryKey)
	case agentproto.OpBulkDeleteRows:
		return d.BulkDeleteRows(ctx, table, cmd.PrimaryKeys)
	case agentproto.OpGetRowByPrimaryKey:
		return d.GetRowByPrimaryKey(ctx, table, cmd.PrimaryKey, cmd.Settings)
	case agentproto.OpBulkGetRows:
		return d.BulkGetRowsByPrimaryKeys(ctx, table, cmd.PrimaryKeys, cmd.Settings)
	case agentproto.OpListRows:
		return d.ListRows(ctx, table, cmd.ListQuery)
	case agentproto.OpStreamRows:
		return streamAll(ctx, d, table, cmd.ListQuery)
	case agentproto.OpGetIdentityColumns:
		return d.GetIdentityColumns(ctx, table, cmd.ReferencedFieldName, cmd.IdentityColumnName, cmd.FieldValues)
	case agentproto.OpGetStructure:
		return d.GetStructure(ctx, table)
	case agentproto.OpGetPrimaryKeys:
		return d.GetPrimaryKeys(ctx, table)
	case agentproto.OpGetForeignKeys:
		return d.GetForeignKeys(ctx, table)
	case agentproto.OpGetReferencing:
		return d.GetReferencingTables(ctx, table)
	case agentproto.OpListTables:
		return d.ListTables(ctx)
	case agentproto.OpIsView:
		return d.IsView(ctx, table)
	case agentproto.OpValidateSettings:
		var settings dao.TableSettings
		if cmd.Settings != nil {
			settings = *cmd.Settings
		}
		errs, err := d.ValidateSettings(ctx, settings, table)
		if errs == nil && err == nil {
			errs = []string{}
		}
		return errs, err
	case agentproto.OpTestConnect:
		return d.TestConnect(ctx), nil
	case agentproto.OpImportCSV:
		if err := d.ImportCSV(ctx, table, cmd.FileData); err != nil {
			return nil, err
		}
		return true, nil
	}
	return nil, dao.Validationf("unknown operation %q", cmd.OperationType)
}

// streamAll drains a row stream into one response body.
func streamAll(ctx context.Context, d dao.DataAccessObject, table string, q dao.ListQuery) ([]dao.Row, error) {
	s, err := d.StreamRows(ctx, table, q)
	if err != nil {
		return nil, err
	}
	rows, err := dao.Collect(s)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []dao.Row{}
	}
	return rows, nil
}
