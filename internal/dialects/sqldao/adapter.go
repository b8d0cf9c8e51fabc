package sqldao

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/rescache"
)

// Config carries the shared dependencies of an adapter.
type Config struct {
	Cache   *rescache.Cache
	Options dao.Options
	Logger  *slog.Logger
	// Open overrides Dialect.Open. Tests use it to inject sqlmock.
	Open rescache.Opener[*sql.DB]
}

// Adapter implements dao.DataAccessObject over database/sql.
type Adapter struct {
	d      Dialect
	params dao.ConnectionParams
	schema string
	cache  *rescache.Cache
	opts   dao.Options
	log    *slog.Logger
	open   rescache.Opener[*sql.DB]
}

var _ dao.DataAccessObject = (*Adapter)(nil)

// New creates an adapter for params. The driver connection is opened lazily
// through the resource cache on first use.
func New(d Dialect, params dao.ConnectionParams, cfg Config) *Adapter {
	if cfg.Cache == nil {
		cfg.Cache = rescache.New(rescache.Options{Logger: cfg.Logger})
	}
	open := cfg.Open
	if open == nil {
		open = d.Open
	}
	return &Adapter{
		d:      d,
		params: params,
		schema: d.DefaultSchema(params),
		cache:  cfg.Cache,
		opts:   cfg.Options.WithDefaults(),
		log:    logger.OrDiscard(cfg.Logger).With("engine", d.Engine(), "connection", params.Name),
		open:   open,
	}
}

// Dialect returns the engine dialect.
func (a *Adapter) Dialect() Dialect { return a.d }

func (a *Adapter) db(ctx context.Context) (*sql.DB, error) {
	return rescache.Client(ctx, a.cache, a.params, a.open)
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.QueryTimeout)
}

// fail classifies err, evicts the cached client on connectivity errors and
// adds op context. Errors that already carry a kind keep it.
func (a *Adapter) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if dao.KindOf(err) == "" && a.isConnectivity(err) {
		err = dao.Connectivity(op, err)
	}
	err = a.cache.Fail(a.params, err)
	if dao.KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (a *Adapter) isConnectivity(err error) bool {
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if c, ok := a.d.(ErrorClassifier); ok {
		return c.IsConnectivityError(err)
	}
	return false
}

// tableRef resolves "schema.table" or "table" to its parts and the quoted
// qualified reference.
func (a *Adapter) tableRef(name string) (schema, table, ref string, err error) {
	schema, table, err = dao.SplitTableName(name)
	if err != nil {
		return "", "", "", err
	}
	if schema == "" {
		schema = a.schema
	}
	ref = a.d.QuoteIdent(table)
	if schema != "" {
		ref = a.d.QuoteIdent(schema) + "." + ref
	}
	return schema, table, ref, nil
}

// converter returns the dialect's value converter, if any.
func (a *Adapter) converter() ValueConverter {
	c, _ := a.d.(ValueConverter)
	return c
}

func (a *Adapter) query(ctx context.Context, q Querier, structure []dao.ColumnInfo, query string, args ...any) ([]dao.Row, error) {
	a.log.Debug("Query", "sql", query)
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	s, err := newRowScanner(rows, structure, a.converter())
	if err != nil {
		return nil, err
	}
	return s.all(rows)
}

func (a *Adapter) estimate(db Querier, schema, table string) dao.EstimateFunc {
	return func(ctx context.Context) (int64, bool, error) {
		b := a.builder()
		q := a.d.EstimateQuery(b, schema, table)
		if q == "" {
			return 0, false, nil
		}
		var n sql.NullFloat64
		if err := db.QueryRowContext(ctx, q, b.Args()...).Scan(&n); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return 0, false, nil
			}
			return 0, false, err
		}
		// Negative estimates mean the table was never analyzed.
		if !n.Valid || n.Float64 < 0 {
			return 0, false, nil
		}
		return int64(n.Float64), true, nil
	}
}
