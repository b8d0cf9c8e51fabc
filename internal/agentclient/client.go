// Package agentclient implements dao.DataAccessObject by delegating every
// operation to a local agent over HTTP.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"

	"github.com/rowpane/rowpane/internal/agentproto"
	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/logger"
)

const (
	commandPath      = "/command"
	requestIDHeader  = "X-Request-ID"
	defaultTimeout   = 2 * time.Minute
	maxErrorBodySize = 64 << 10
)

// Config configures a Client.
type Config struct {
	// Address is the agent base URL, e.g. http://rowpane-agent.local:7070.
	Address string
	Secret  []byte
	// ConnectionToken is used when the connection carries no agent token.
	ConnectionToken string
	TokenTTL        time.Duration
	Timeout         time.Duration
	Email           string
	Logger          *slog.Logger
	// HTTPClient overrides the default gzip-aware client.
	HTTPClient *http.Client
}

// Client forwards DAO operations to an agent.
type Client struct {
	params dao.ConnectionParams
	cfg    Config
	http   *http.Client
	log    *slog.Logger
}

var _ dao.DataAccessObject = (*Client)(nil)

// New returns a client for the agent connection params.
func New(params dao.ConnectionParams, cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{
			Transport: gzhttp.Transport(http.DefaultTransport),
			Timeout:   timeout,
		}
	}
	return &Client{
		params: params,
		cfg:    cfg,
		http:   hc,
		log:    logger.OrDiscard(cfg.Logger).With("engine", params.Type, "connection", params.Name),
	}
}

func (c *Client) token() (string, error) {
	conn := c.params.AgentToken
	if conn == "" {
		conn = c.cfg.ConnectionToken
	}
	if conn == "" {
		return "", dao.Validationf("connection %q has no agent token", c.params.Name)
	}
	return agentproto.SignToken(c.cfg.Secret, conn, c.cfg.TokenTTL)
}

// call sends cmd and decodes the result into out.
func (c *Client) call(ctx context.Context, cmd agentproto.Command, out any) error {
	cmd.Engine = c.params.Type.Base()
	if cmd.Email == "" {
		cmd.Email = c.cfg.Email
	}

	tok, err := c.token()
	if err != nil {
		return err
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	url := strings.TrimRight(c.cfg.Address, "/") + commandPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return dao.Wrap(dao.KindAgentUnreachable, "invalid agent address", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set(requestIDHeader, reqID)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("Agent request failed", "operation", cmd.OperationType, "request_id", reqID, "error", err)
		return transportError(err)
	}
	defer resp.Body.Close()

	c.log.Debug("Agent command",
		"operation", cmd.OperationType,
		"table", cmd.TableName,
		"request_id", reqID,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		var env agentproto.Response
		if json.Unmarshal(raw, &env) == nil && len(env.CommandResult) > 0 {
			if err := agentproto.Decode(env, nil); err != nil {
				return err
			}
		}
		return dao.New(dao.KindAgent, fmt.Sprintf("agent returned %s", resp.Status))
	}

	var env agentproto.Response
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return dao.Wrap(dao.KindAgent, "malformed agent response", err)
	}
	return agentproto.Decode(env, out)
}

// transportError classifies a failed round trip. A name that does not
// resolve means no agent is running on this machine.
func transportError(err error) error {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dao.Wrap(dao.KindAgentUnreachable, dao.ErrAgentUnreachable.Message, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return dao.Connectivity("agent request failed", err)
}

func (c *Client) AddRow(ctx context.Context, table string, row dao.Row) (dao.Row, error) {
	var out dao.Row
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpAddRow, TableName: table, Row: row}, &out)
	return out, err
}

func (c *Client) UpdateRow(ctx context.Context, table string, row dao.Row, primaryKey dao.Row) (dao.Row, error) {
	var out dao.Row
	err := c.call(ctx, agentproto.Command{
		OperationType: agentproto.OpUpdateRow,
		TableName:     table,
		Row:           row,
		PrimaryKey:    primaryKey,
	}, &out)
	return out, err
}

func (c *Client) BulkUpdateRows(ctx context.Context, table string, newValues dao.Row, primaryKeys []dao.Row) ([]dao.Row, error) {
	var out []dao.Row
	err := c.call(ctx, agentproto.Command{
		OperationType: agentproto.OpBulkUpdateRows,
		TableName:     table,
		NewValues:     newValues,
		PrimaryKeys:   primaryKeys,
	}, &out)
	return out, err
}

func (c *Client) DeleteRow(ctx context.Context, table string, primaryKey dao.Row) (dao.Row, error) {
	var out dao.Row
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpDeleteRow, TableName: table, PrimaryKey: primaryKey}, &out)
	return out, err
}

func (c *Client) BulkDeleteRows(ctx context.Context, table string, primaryKeys []dao.Row) (int64, error) {
	var out int64
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpBulkDeleteRows, TableName: table, PrimaryKeys: primaryKeys}, &out)
	return out, err
}

func (c *Client) GetRowByPrimaryKey(ctx context.Context, table string, primaryKey dao.Row, settings *dao.TableSettings) (dao.Row, error) {
	var out dao.Row
	err := c.call(ctx, agentproto.Command{
		OperationType: agentproto.OpGetRowByPrimaryKey,
		TableName:     table,
		PrimaryKey:    primaryKey,
		ListQuery:     dao.ListQuery{Settings: settings},
	}, &out)
	return out, err
}

func (c *Client) BulkGetRowsByPrimaryKeys(ctx context.Context, table string, primaryKeys []dao.Row, settings *dao.TableSettings) ([]dao.Row, error) {
	var out []dao.Row
	err := c.call(ctx, agentproto.Command{
		OperationType: agentproto.OpBulkGetRows,
		TableName:     table,
		PrimaryKeys:   primaryKeys,
		ListQuery:     dao.ListQuery{Settings: settings},
	}, &out)
	return out, err
}

func (c *Client) ListRows(ctx context.Context, table string, q dao.ListQuery) (*dao.PaginationResult, error) {
	var out dao.PaginationResult
	if err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpListRows, TableName: table, ListQuery: q}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StreamRows materializes the agent's rows; the wire protocol carries one
// response per command.
func (c *Client) StreamRows(ctx context.Context, table string, q dao.ListQuery) (dao.RowStream, error) {
	var out []dao.Row
	if err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpStreamRows, TableName: table, ListQuery: q}, &out); err != nil {
		return nil, err
	}
	return dao.NewSliceStream(out), nil
}

func (c *Client) GetIdentityColumns(ctx context.Context, table, referencedFieldName, identityColumnName string, fieldValues []any) ([]dao.Row, error) {
	var out []dao.Row
	err := c.call(ctx, agentproto.Command{
		OperationType:       agentproto.OpGetIdentityColumns,
		TableName:           table,
		ReferencedFieldName: referencedFieldName,
		IdentityColumnName:  identityColumnName,
		FieldValues:         fieldValues,
	}, &out)
	return out, err
}

func (c *Client) GetStructure(ctx context.Context, table string) ([]dao.ColumnInfo, error) {
	var out []dao.ColumnInfo
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpGetStructure, TableName: table}, &out)
	return out, err
}

func (c *Client) GetPrimaryKeys(ctx context.Context, table string) ([]dao.PrimaryKeyInfo, error) {
	var out []dao.PrimaryKeyInfo
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpGetPrimaryKeys, TableName: table}, &out)
	return out, err
}

func (c *Client) GetForeignKeys(ctx context.Context, table string) ([]dao.ForeignKeyInfo, error) {
	var out []dao.ForeignKeyInfo
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpGetForeignKeys, TableName: table}, &out)
	return out, err
}

func (c *Client) GetReferencingTables(ctx context.Context, table string) ([]dao.ReferencedTableNamesAndColumns, error) {
	var out []dao.ReferencedTableNamesAndColumns
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpGetReferencing, TableName: table}, &out)
	return out, err
}

func (c *Client) ListTables(ctx context.Context) ([]dao.TableInfo, error) {
	var out []dao.TableInfo
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpListTables}, &out)
	return out, err
}

func (c *Client) IsView(ctx context.Context, table string) (bool, error) {
	var out bool
	err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpIsView, TableName: table}, &out)
	return out, err
}

func (c *Client) ValidateSettings(ctx context.Context, settings dao.TableSettings, table string) ([]string, error) {
	var out []string
	err := c.call(ctx, agentproto.Command{
		OperationType: agentproto.OpValidateSettings,
		TableName:     table,
		ListQuery:     dao.ListQuery{Settings: &settings},
	}, &out)
	return out, err
}

// TestConnect reports agent failures in the result.
func (c *Client) TestConnect(ctx context.Context) dao.TestConnectResult {
	var out dao.TestConnectResult
	if err := c.call(ctx, agentproto.Command{OperationType: agentproto.OpTestConnect}, &out); err != nil {
		c.log.Warn("Connection test failed", "error", err)
		return dao.TestConnectResult{Result: false, Message: dao.Message(err)}
	}
	return out
}

func (c *Client) ImportCSV(ctx context.Context, table string, data []byte) error {
	return c.call(ctx, agentproto.Command{OperationType: agentproto.OpImportCSV, TableName: table, FileData: data}, nil)
}
