// Package redis maps tables onto Redis hashes. Row k of table t is the hash
// stored at "t:k"; the key suffix is exposed as the "key" column and new keys
// come from the counter at "t:__seq".
package redis

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/importer"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/normalize"
	"github.com/rowpane/rowpane/internal/rescache"
)

const (
	// KeyField is the synthetic primary key column.
	KeyField = "key"

	defaultPort = 6379
	seqSuffix   = "__seq"
	scanCount   = 1000
	fetchChunk  = 500
)

// Client is the cached connection pool.
type Client struct {
	*redis.Client
}

// Config carries the shared dependencies of an adapter.
type Config struct {
	Cache   *rescache.Cache
	Options dao.Options
	Logger  *slog.Logger
	// Open overrides the client construction, for tests.
	Open rescache.Opener[*Client]
}

// Adapter implements dao.DataAccessObject for Redis.
type Adapter struct {
	params dao.ConnectionParams
	cache  *rescache.Cache
	opts   dao.Options
	log    *slog.Logger
	open   rescache.Opener[*Client]
}

var _ dao.DataAccessObject = (*Adapter)(nil)

func New(params dao.ConnectionParams, cfg Config) *Adapter {
	if cfg.Cache == nil {
		cfg.Cache = rescache.New(rescache.Options{Logger: cfg.Logger})
	}
	open := cfg.Open
	if open == nil {
		open = Open
	}
	return &Adapter{
		params: params,
		cache:  cfg.Cache,
		opts:   cfg.Options.WithDefaults(),
		log:    logger.OrDiscard(cfg.Logger).With("engine", dao.Redis, "connection", params.Name),
		open:   open,
	}
}

// ClientOptions builds the go-redis options. Database holds the logical
// database number.
func ClientOptions(p dao.ConnectionParams) (*redis.Options, error) {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	db := 0
	if p.Database != "" {
		n, err := strconv.Atoi(p.Database)
		if err != nil || n < 0 {
			return nil, dao.Validationf("redis database must be a non-negative number, got %q", p.Database)
		}
		db = n
	}
	tlsCfg, err := p.TLSConfig()
	if err != nil {
		return nil, err
	}
	return &redis.Options{
		Addr:      net.JoinHostPort(p.Host, strconv.Itoa(port)),
		Username:  p.Username,
		Password:  p.Password,
		DB:        db,
		TLSConfig: tlsCfg,
	}, nil
}

// Open creates a client and pings the server.
func Open(ctx context.Context, p dao.ConnectionParams) (*Client, error) {
	opts, err := ClientOptions(p)
	if err != nil {
		return nil, err
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Client{Client: c}, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.QueryTimeout)
}

func (a *Adapter) client(ctx context.Context) (*redis.Client, error) {
	c, err := rescache.Client(ctx, a.cache, a.params, a.open)
	if err != nil {
		return nil, err
	}
	return c.Client, nil
}

func (a *Adapter) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if dao.KindOf(err) == "" && isConnectivity(err) {
		err = dao.Connectivity(op, err)
	}
	err = a.cache.Fail(a.params, err)
	if dao.KindOf(err) != "" {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConnectivity(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}

func checkTable(table string) error {
	return dao.ValidateIdentifier(table)
}

func rowKey(table, key string) string { return table + ":" + key }

func seqKey(table string) string { return rowKey(table, seqSuffix) }

// keyOf extracts the key suffix from a primary key row.
func keyOf(pk dao.Row) (string, error) {
	v, ok := pk[KeyField]
	if !ok || v == nil || len(pk) != 1 {
		return "", dao.Validationf("primary key must contain exactly %q", KeyField)
	}
	s := fmt.Sprint(v)
	if s == "" {
		return "", dao.Validationf("primary key %q must not be empty", KeyField)
	}
	return s, nil
}

// compareKeys orders numeric keys numerically and the rest lexically.
func compareKeys(a, b string) int {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	switch {
	case aerr == nil && berr == nil:
		return cmp.Compare(ai, bi)
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

// scanKeys returns the row keys of table, sorted.
func scanKeys(ctx context.Context, c *redis.Client, table string) ([]string, error) {
	prefix := table + ":"
	var keys []string
	iter := c.Scan(ctx, 0, prefix+"*", scanCount).Iterator()
	for iter.Next(ctx) {
		k := strings.TrimPrefix(iter.Val(), prefix)
		if k == seqSuffix {
			continue
		}
		keys = append(keys, k)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	slices.SortFunc(keys, compareKeys)
	return keys, nil
}

// fetch reads the hashes of keys in pipelined chunks, keeping those match
// accepts until limit rows are collected. Keys that vanished or hold another
// type are skipped.
func fetch(ctx context.Context, c *redis.Client, table string, keys []string, match func(dao.Row) bool, limit int) ([]dao.Row, error) {
	rows := []dao.Row{}
	for start := 0; start < len(keys) && len(rows) < limit; start += fetchChunk {
		chunk := keys[start:min(start+fetchChunk, len(keys))]
		pipe := c.Pipeline()
		cmds := make([]*redis.MapStringStringCmd, len(chunk))
		for i, k := range chunk {
			cmds[i] = pipe.HGetAll(ctx, rowKey(table, k))
		}
		// Per command errors are inspected below.
		_, _ = pipe.Exec(ctx)
		for i, cmd := range cmds {
			m, err := cmd.Result()
			if isWrongType(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if len(m) == 0 {
				continue
			}
			row := toRow(chunk[i], m)
			if match == nil || match(row) {
				rows = append(rows, row)
				if len(rows) == limit {
					break
				}
			}
		}
	}
	return rows, nil
}

func toRow(key string, m map[string]string) dao.Row {
	row := make(dao.Row, len(m)+1)
	for f, v := range m {
		row[f] = v
	}
	row[KeyField] = key
	return row
}

// encode renders a value as a hash field. Composite values are stored as
// JSON.
func encode(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []byte:
		return string(t), nil
	case bool:
		return strconv.FormatBool(t), nil
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), nil
	case map[string]any, dao.Row, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return "", dao.Validationf("cannot encode value: %v", err)
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

// fields splits row into values to set and fields to delete. The key column
// is never stored.
func fields(row dao.Row) (set map[string]any, del []string, err error) {
	cols, err := dao.RowColumns(row)
	if err != nil {
		return nil, nil, err
	}
	set = make(map[string]any, len(cols))
	for _, c := range cols {
		if c == KeyField {
			continue
		}
		if row[c] == nil {
			del = append(del, c)
			continue
		}
		s, err := encode(row[c])
		if err != nil {
			return nil, nil, err
		}
		set[c] = s
	}
	return set, del, nil
}

// project applies list_fields and excluded_fields. The key always survives.
func project(rows []dao.Row, settings *dao.TableSettings) []dao.Row {
	if settings == nil || (len(settings.ListFields) == 0 && len(settings.ExcludedFields) == 0) {
		return rows
	}
	for _, row := range rows {
		for f := range row {
			if f == KeyField {
				continue
			}
			listed := len(settings.ListFields) == 0 || slices.Contains(settings.ListFields, f)
			if !listed || slices.Contains(settings.ExcludedFields, f) {
				delete(row, f)
			}
		}
	}
	return rows
}

func typer(v any) string {
	if s, ok := v.(string); ok {
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return normalize.TypeNumber
		}
	}
	return ""
}

// GetStructure infers the columns from a sample of rows. The key column is
// always first.
func (a *Adapter) GetStructure(ctx context.Context, table string) ([]dao.ColumnInfo, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindStructure, func(ctx context.Context) ([]dao.ColumnInfo, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		c, err := a.client(ctx)
		if err != nil {
			return nil, err
		}
		keys, err := scanKeys(ctx, c, table)
		if err != nil {
			return nil, a.fail("sample "+table, err)
		}
		rows, err := fetch(ctx, c, table, keys, nil, a.opts.SampleSize)
		if err != nil {
			return nil, a.fail("sample "+table, err)
		}
		docs := make([]map[string]any, len(rows))
		for i, r := range rows {
			// Keys are identifiers; do not let a numeric sample type them.
			delete(r, KeyField)
			docs[i] = r
		}
		def := dao.AutoIncrement
		cols := []dao.ColumnInfo{{ColumnName: KeyField, DataType: normalize.TypeString, ColumnDefault: &def}}
		return append(cols, normalize.InferDocuments(docs, nil, typer)...), nil
	})
}

func (a *Adapter) GetPrimaryKeys(_ context.Context, table string) ([]dao.PrimaryKeyInfo, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return []dao.PrimaryKeyInfo{{ColumnName: KeyField, DataType: normalize.TypeString}}, nil
}

func (a *Adapter) GetForeignKeys(_ context.Context, table string) ([]dao.ForeignKeyInfo, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return []dao.ForeignKeyInfo{}, nil
}

func (a *Adapter) GetReferencingTables(_ context.Context, table string) ([]dao.ReferencedTableNamesAndColumns, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	return []dao.ReferencedTableNamesAndColumns{}, nil
}

// ListTables reports every key prefix that is a valid table name.
func (a *Adapter) ListTables(ctx context.Context) ([]dao.TableInfo, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	iter := c.Scan(ctx, 0, "*:*", scanCount).Iterator()
	for iter.Next(ctx) {
		prefix, _, _ := strings.Cut(iter.Val(), ":")
		if checkTable(prefix) == nil {
			seen[prefix] = true
		}
	}
	if err := iter.Err(); err != nil {
		return nil, a.fail("list tables", err)
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	slices.Sort(names)
	tables := make([]dao.TableInfo, len(names))
	for i, n := range names {
		tables[i] = dao.TableInfo{TableName: n}
	}
	return tables, nil
}

func (a *Adapter) IsView(_ context.Context, table string) (bool, error) {
	return false, checkTable(table)
}

type listPlan struct {
	match    func(dao.Row) bool
	filtered bool
	order    string
	dir      dao.Ordering
	limit    int
}

func (a *Adapter) plan(table string, q dao.ListQuery) (*listPlan, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	p := &listPlan{limit: math.MaxInt}
	if q.Autocomplete != nil && len(q.Autocomplete.Fields) > 0 {
		if err := dao.ValidateIdentifiers(q.Autocomplete.Fields...); err != nil {
			return nil, err
		}
		fields, value := q.Autocomplete.Fields, q.Autocomplete.Value
		p.match = func(r dao.Row) bool { return filter.MatchPrefix(r, fields, value) }
		p.filtered = true
		p.limit = a.opts.AutocompleteLimit
		return p, nil
	}
	filters := dao.KnownFilters(q.Filters)
	for _, f := range filters {
		if err := dao.ValidateIdentifier(f.Field); err != nil {
			return nil, err
		}
	}
	searchFields := dao.ResolveSearchFields(q.Settings, []dao.PrimaryKeyInfo{{ColumnName: KeyField}})
	search := q.SearchValue
	p.filtered = len(filters) > 0 || search != ""
	p.match = func(r dao.Row) bool {
		return filter.MatchAll(r, filters, filter.EmptyMissing) && filter.MatchSearch(r, searchFields, search)
	}
	if q.Settings != nil && q.Settings.OrderingField != "" && q.Settings.OrderingField != KeyField {
		if err := dao.ValidateIdentifier(q.Settings.OrderingField); err != nil {
			return nil, err
		}
		p.order = q.Settings.OrderingField
		p.dir = dao.Asc
		if strings.EqualFold(string(q.Settings.Ordering), string(dao.Desc)) {
			p.dir = dao.Desc
		}
	} else if q.Settings != nil && strings.EqualFold(string(q.Settings.Ordering), string(dao.Desc)) {
		p.order, p.dir = KeyField, dao.Desc
	}
	return p, nil
}

// window resolves one page. Without filters or an explicit ordering only the
// keys of the page are fetched.
func (p *listPlan) window(ctx context.Context, c *redis.Client, table string, keys []string, offset, limit int) (rows []dao.Row, matched int, err error) {
	if !p.filtered && p.order == "" {
		if offset >= len(keys) {
			return []dao.Row{}, len(keys), nil
		}
		rows, err = fetch(ctx, c, table, keys[offset:min(offset+limit, len(keys))], nil, math.MaxInt)
		return rows, len(keys), err
	}
	all, err := fetch(ctx, c, table, keys, p.match, math.MaxInt)
	if err != nil {
		return nil, 0, err
	}
	filter.SortRows(all, p.order, p.dir)
	if offset >= len(all) {
		return []dao.Row{}, len(all), nil
	}
	return all[offset:min(offset+limit, len(all))], len(all), nil
}

func keyEstimate(keys []string) dao.EstimateFunc {
	return func(context.Context) (int64, bool, error) { return int64(len(keys)), true, nil }
}

func (a *Adapter) ListRows(ctx context.Context, table string, q dao.ListQuery) (*dao.PaginationResult, error) {
	p, err := a.plan(table, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := scanKeys(ctx, c, table)
	if err != nil {
		return nil, a.fail("scan "+table, err)
	}
	if p.limit != math.MaxInt {
		rows, err := fetch(ctx, c, table, keys, p.match, p.limit)
		if err != nil {
			return nil, a.fail("autocomplete "+table, err)
		}
		return &dao.PaginationResult{Data: project(rows, q.Settings)}, nil
	}

	page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
	rows, matched, err := p.window(ctx, c, table, keys, dao.Offset(page, perPage), perPage)
	if err != nil {
		return nil, a.fail("list rows of "+table, err)
	}
	count, err := dao.ResolveCount(ctx, a.opts.LargeDatasetThreshold, keyEstimate(keys), func(context.Context) (int64, error) {
		return int64(matched), nil
	})
	if err != nil {
		return nil, err
	}
	return &dao.PaginationResult{
		Data:         project(rows, q.Settings),
		Pagination:   dao.NewPagination(count.Total, page, perPage),
		LargeDataset: count.LargeDataset,
	}, nil
}

// StreamRows pages only when PerPage is set. Unfiltered, unordered streams
// fetch lazily in chunks.
func (a *Adapter) StreamRows(ctx context.Context, table string, q dao.ListQuery) (dao.RowStream, error) {
	q.Autocomplete = nil
	p, err := a.plan(table, q)
	if err != nil {
		return nil, err
	}
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	keys, err := scanKeys(ctx, c, table)
	if err != nil {
		return nil, a.fail("scan "+table, err)
	}
	if err := dao.GuardStream(ctx, a.opts.LargeDatasetThreshold, keyEstimate(keys)); err != nil {
		return nil, err
	}
	if q.PerPage > 0 || p.order != "" {
		offset, limit := 0, math.MaxInt
		if q.PerPage > 0 {
			page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
			offset, limit = dao.Offset(page, perPage), perPage
		}
		rows, _, err := p.window(ctx, c, table, keys, offset, limit)
		if err != nil {
			return nil, a.fail("stream rows of "+table, err)
		}
		return dao.NewSliceStream(project(rows, q.Settings)), nil
	}
	return &keyStream{ctx: ctx, c: c, table: table, keys: keys, match: p.match, settings: q.Settings}, nil
}

type keyStream struct {
	ctx      context.Context
	c        *redis.Client
	table    string
	keys     []string
	match    func(dao.Row) bool
	settings *dao.TableSettings

	buf []dao.Row
	row dao.Row
	err error
}

func (s *keyStream) Next() bool {
	for len(s.buf) == 0 {
		if s.err != nil || len(s.keys) == 0 {
			return false
		}
		n := min(fetchChunk, len(s.keys))
		s.buf, s.err = fetch(s.ctx, s.c, s.table, s.keys[:n], s.match, math.MaxInt)
		s.keys = s.keys[n:]
		if s.err != nil {
			return false
		}
		project(s.buf, s.settings)
	}
	s.row, s.buf = s.buf[0], s.buf[1:]
	return true
}

func (s *keyStream) Row() dao.Row { return s.row }
func (s *keyStream) Err() error   { return s.err }
func (s *keyStream) Close() error { return nil }

func (a *Adapter) GetRowByPrimaryKey(ctx context.Context, table string, primaryKey dao.Row, settings *dao.TableSettings) (dao.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	key, err := keyOf(primaryKey)
	if err != nil {
		return nil, err
	}
	rows, err := a.BulkGetRowsByPrimaryKeys(ctx, table, []dao.Row{{KeyField: key}}, settings)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (a *Adapter) BulkGetRowsByPrimaryKeys(ctx context.Context, table string, primaryKeys []dao.Row, settings *dao.TableSettings) ([]dao.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	keys := make([]string, len(primaryKeys))
	for i, pk := range primaryKeys {
		k, err := keyOf(pk)
		if err != nil {
			return nil, err
		}
		keys[i] = k
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := fetch(ctx, c, table, keys, nil, math.MaxInt)
	if err != nil {
		return nil, a.fail("get rows from "+table, err)
	}
	return project(rows, settings), nil
}

func (a *Adapter) GetIdentityColumns(ctx context.Context, table, referencedFieldName, identityColumnName string, fieldValues []any) ([]dao.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	if err := dao.ValidateIdentifiers(referencedFieldName, identityColumnName); err != nil {
		return nil, err
	}
	if len(fieldValues) == 0 {
		return []dao.Row{}, nil
	}
	wanted := make(map[string]bool, len(fieldValues))
	for _, v := range fieldValues {
		wanted[fmt.Sprint(v)] = true
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	var keys []string
	if referencedFieldName == KeyField {
		for k := range wanted {
			keys = append(keys, k)
		}
		slices.SortFunc(keys, compareKeys)
	} else if keys, err = scanKeys(ctx, c, table); err != nil {
		return nil, a.fail("scan "+table, err)
	}
	rows, err := fetch(ctx, c, table, keys, func(r dao.Row) bool {
		v, ok := r[referencedFieldName]
		return ok && wanted[fmt.Sprint(v)]
	}, math.MaxInt)
	if err != nil {
		return nil, a.fail("get identity columns of "+table, err)
	}
	out := make([]dao.Row, len(rows))
	for i, r := range rows {
		out[i] = dao.Row{referencedFieldName: r[referencedFieldName], identityColumnName: r[identityColumnName]}
	}
	return out, nil
}

var errMissing = errors.New("row does not exist")

// AddRow stores row under its key, or under the next sequence value when the
// key is absent. Existing rows are never overwritten.
func (a *Adapter) AddRow(ctx context.Context, table string, row dao.Row) (dao.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	set, _, err := fields(row)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 {
		return nil, dao.Validationf("no values to insert")
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	var key string
	if v, ok := row[KeyField]; ok && v != nil {
		key = fmt.Sprint(v)
	} else {
		n, err := c.Incr(ctx, seqKey(table)).Result()
		if err != nil {
			return nil, a.fail("next key of "+table, err)
		}
		key = strconv.FormatInt(n, 10)
	}
	k := rowKey(table, key)
	err = c.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, k).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return dao.Validationf("row with key %q already exists", key)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, set)
			return nil
		})
		return err
	}, k)
	if err != nil {
		return nil, a.fail("insert into "+table, err)
	}
	return dao.Row{KeyField: key}, nil
}

// UpdateRow sets the given fields; nil values remove the field. A missing
// row yields nil.
func (a *Adapter) UpdateRow(ctx context.Context, table string, row dao.Row, primaryKey dao.Row) (dao.Row, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	key, err := keyOf(primaryKey)
	if err != nil {
		return nil, err
	}
	set, del, err := fields(row)
	if err != nil {
		return nil, err
	}
	if len(set) == 0 && len(del) == 0 {
		return nil, dao.Validationf("no values to update")
	}
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(tctx)
	if err != nil {
		return nil, err
	}
	k := rowKey(table, key)
	err = c.Watch(tctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(tctx, k).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return errMissing
		}
		_, err = tx.TxPipelined(tctx, func(pipe redis.Pipeliner) error {
			if len(set) > 0 {
				pipe.HSet(tctx, k, set)
			}
			if len(del) > 0 {
				pipe.HDel(tctx, k, del...)
			}
			return nil
		})
		return err
	}, k)
	if errors.Is(err, errMissing) {
		return nil, nil
	}
	if err != nil {
		return nil, a.fail("update "+table, err)
	}
	return a.GetRowByPrimaryKey(ctx, table, dao.Row{KeyField: key}, nil)
}

func (a *Adapter) BulkUpdateRows(ctx context.Context, table string, newValues dao.Row, primaryKeys []dao.Row) ([]dao.Row, error) {
	rows := make([]dao.Row, 0, len(primaryKeys))
	for _, pk := range primaryKeys {
		row, err := a.UpdateRow(ctx, table, newValues, pk)
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// DeleteRow removes the row and returns what it held, or nil when absent.
func (a *Adapter) DeleteRow(ctx context.Context, table string, primaryKey dao.Row) (dao.Row, error) {
	old, err := a.GetRowByPrimaryKey(ctx, table, primaryKey, nil)
	if err != nil || old == nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	n, err := c.Del(ctx, rowKey(table, fmt.Sprint(old[KeyField]))).Result()
	if err != nil {
		return nil, a.fail("delete from "+table, err)
	}
	if n == 0 {
		return nil, nil
	}
	return old, nil
}

func (a *Adapter) BulkDeleteRows(ctx context.Context, table string, primaryKeys []dao.Row) (int64, error) {
	if err := checkTable(table); err != nil {
		return 0, err
	}
	if len(primaryKeys) == 0 {
		return 0, nil
	}
	keys := make([]string, len(primaryKeys))
	for i, pk := range primaryKeys {
		k, err := keyOf(pk)
		if err != nil {
			return 0, err
		}
		keys[i] = rowKey(table, k)
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return 0, err
	}
	n, err := c.Del(ctx, keys...).Result()
	if err != nil {
		return 0, a.fail("bulk delete from "+table, err)
	}
	return n, nil
}

func (a *Adapter) ValidateSettings(ctx context.Context, settings dao.TableSettings, table string) ([]string, error) {
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	pks, _ := a.GetPrimaryKeys(ctx, table)
	return dao.ValidateTableSettings(settings, table, structure, pks), nil
}

func (a *Adapter) TestConnect(ctx context.Context) dao.TestConnectResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err == nil {
		err = a.fail("ping", c.Ping(ctx).Err())
	}
	if err != nil {
		a.log.Warn("Connection test failed", "error", err)
		return dao.TestConnectResult{Result: false, Message: dao.Message(err)}
	}
	return dao.TestConnectResult{Result: true, Message: "Connection established"}
}

// ImportCSV stores every record as a hash. Records without a key draw one
// block of sequence values per batch.
func (a *Adapter) ImportCSV(ctx context.Context, table string, data []byte) error {
	if err := checkTable(table); err != nil {
		return err
	}
	rows, err := importer.ParseCSV(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	records := make([]dao.Row, len(rows))
	for i, row := range rows {
		set, _, err := fields(row)
		if err != nil {
			return err
		}
		if len(set) == 0 {
			return dao.Validationf("row %d: no values to insert", i+1)
		}
		rec := dao.Row(set)
		if v, ok := row[KeyField]; ok && v != nil {
			rec[KeyField] = fmt.Sprint(v)
		}
		records[i] = rec
	}
	c, err := a.client(ctx)
	if err != nil {
		return err
	}
	_, err = importer.Run(ctx, records, a.opts.DocumentBatchSize, a.opts.ImportWorkers, func(ctx context.Context, chunk []dao.Row) error {
		missing := 0
		for _, rec := range chunk {
			if _, ok := rec[KeyField]; !ok {
				missing++
			}
		}
		var next int64
		if missing > 0 {
			end, err := c.IncrBy(ctx, seqKey(table), int64(missing)).Result()
			if err != nil {
				return err
			}
			next = end - int64(missing) + 1
		}
		_, err := c.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, rec := range chunk {
				key, ok := rec[KeyField].(string)
				if !ok {
					key = strconv.FormatInt(next, 10)
					next++
				}
				values := make(map[string]any, len(rec))
				for f, v := range rec {
					if f != KeyField {
						values[f] = v
					}
				}
				pipe.HSet(ctx, rowKey(table, key), values)
			}
			return nil
		})
		return err
	}, a.log)
	return a.fail("import into "+table, err)
}
