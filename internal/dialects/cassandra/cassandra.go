// Package cassandra adapts Cassandra tables to the uniform DAO contract. A
// table lives in the connection's keyspace and its partition and clustering
// columns form the primary key.
package cassandra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"slices"
	"strings"

	"github.com/gocql/gocql"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/importer"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/rescache"
)

const (
	defaultPort     = 9042
	defaultPageSize = 500
)

// Client is the cached session.
type Client struct {
	*gocql.Session
}

func (c *Client) Close() error {
	c.Session.Close()
	return nil
}

// Config carries the shared dependencies of an adapter.
type Config struct {
	Cache   *rescache.Cache
	Options dao.Options
	Logger  *slog.Logger
	// Open overrides the session construction, for tests.
	Open rescache.Opener[*Client]
}

// Adapter implements dao.DataAccessObject for Cassandra.
type Adapter struct {
	params   dao.ConnectionParams
	keyspace string
	cache    *rescache.Cache
	opts     dao.Options
	log      *slog.Logger
	open     rescache.Opener[*Client]
}

var _ dao.DataAccessObject = (*Adapter)(nil)

// New returns a Cassandra adapter for params. Database names the keyspace.
func New(params dao.ConnectionParams, cfg Config) *Adapter {
	if cfg.Cache == nil {
		cfg.Cache = rescache.New(rescache.Options{Logger: cfg.Logger})
	}
	open := cfg.Open
	if open == nil {
		open = Open
	}
	return &Adapter{
		params:   params,
		keyspace: params.Database,
		cache:    cfg.Cache,
		opts:     cfg.Options.WithDefaults(),
		log:      logger.OrDiscard(cfg.Logger).With("engine", dao.Cassandra, "connection", params.Name),
		open:     open,
	}
}

// Cluster builds the cluster configuration. Host may list several contact
// points separated by commas.
func Cluster(p dao.ConnectionParams) (*gocql.ClusterConfig, error) {
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	hosts := strings.Split(p.Host, ",")
	for i := range hosts {
		hosts[i] = strings.TrimSpace(hosts[i])
	}
	cluster := gocql.NewCluster(hosts...)
	cluster.Port = port
	cluster.Keyspace = p.Database
	cluster.ProtoVersion = 4
	if p.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{Username: p.Username, Password: p.Password}
	}
	consistency, err := gocql.ParseConsistencyWrapper(p.Option("consistency", "LOCAL_QUORUM"))
	if err != nil {
		return nil, dao.Validationf("invalid consistency: %v", err)
	}
	cluster.Consistency = consistency
	if dc := p.Option("datacenter", ""); dc != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(dc))
	}
	// Tunneled connections reach one node through a fixed local port, so
	// peers discovered from system.peers are not dialable.
	if p.SSH.Enabled || p.Option("disable_discovery", "") == "true" {
		cluster.DisableInitialHostLookup = true
	}
	tlsCfg, err := p.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		cluster.SslOpts = &gocql.SslOptions{Config: tlsCfg, EnableHostVerification: !tlsCfg.InsecureSkipVerify}
	}
	return cluster, nil
}

// Open creates a session.
func Open(_ context.Context, p dao.ConnectionParams) (*Client, error) {
	cluster, err := Cluster(p)
	if err != nil {
		return nil, err
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to cassandra: %w", err)
	}
	return &Client{Session: s}, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.QueryTimeout)
}

func (a *Adapter) session(ctx context.Context) (*gocql.Session, error) {
	c, err := rescache.Client(ctx, a.cache, a.params, a.open)
	if err != nil {
		return nil, err
	}
	return c.Session, nil
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
	if errors.Is(err, gocql.ErrNoConnections) || errors.Is(err, gocql.ErrSessionClosed) || errors.Is(err, gocql.ErrConnectionClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// tableRef resolves "keyspace.table" or a table of the default keyspace.
func (a *Adapter) tableRef(name string) (keyspace, table, ref string, err error) {
	keyspace, table, err = dao.SplitTableName(name)
	if err != nil {
		return "", "", "", err
	}
	if keyspace == "" {
		keyspace = a.keyspace
	}
	if keyspace == "" {
		return "", "", "", dao.Validationf("no keyspace selected for table %q", name)
	}
	return keyspace, table, cql{}.QuoteIdent(keyspace) + "." + cql{}.QuoteIdent(table), nil
}

func (a *Adapter) schemaColumns(ctx context.Context, table string) ([]schemaColumn, error) {
	keyspace, name, _, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindDescribe, func(ctx context.Context) ([]schemaColumn, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		s, err := a.session(ctx)
		if err != nil {
			return nil, err
		}
		iter := s.Query(`SELECT column_name, type, kind, position FROM system_schema.columns
WHERE keyspace_name = ? AND table_name = ?`, keyspace, name).WithContext(ctx).Iter()
		var (
			cols []schemaColumn
			c    schemaColumn
		)
		for iter.Scan(&c.Name, &c.Type, &c.Kind, &c.Position) {
			cols = append(cols, c)
		}
		if err := iter.Close(); err != nil {
			return nil, a.fail("describe "+table, err)
		}
		return cols, nil
	})
}

func (a *Adapter) GetStructure(ctx context.Context, table string) ([]dao.ColumnInfo, error) {
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	return structure(cols), nil
}

func (a *Adapter) GetPrimaryKeys(ctx context.Context, table string) ([]dao.PrimaryKeyInfo, error) {
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	return keyColumns(cols), nil
}

// GetForeignKeys is empty: CQL has no foreign keys.
func (a *Adapter) GetForeignKeys(_ context.Context, table string) ([]dao.ForeignKeyInfo, error) {
	if _, _, _, err := a.tableRef(table); err != nil {
		return nil, err
	}
	return []dao.ForeignKeyInfo{}, nil
}

func (a *Adapter) GetReferencingTables(_ context.Context, table string) ([]dao.ReferencedTableNamesAndColumns, error) {
	if _, _, _, err := a.tableRef(table); err != nil {
		return nil, err
	}
	return []dao.ReferencedTableNamesAndColumns{}, nil
}

// ListTables lists the tables and materialized views of the keyspace.
func (a *Adapter) ListTables(ctx context.Context) ([]dao.TableInfo, error) {
	if a.keyspace == "" {
		return nil, dao.Validationf("no keyspace selected")
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	tables := []dao.TableInfo{}
	for _, q := range []struct {
		stmt string
		view bool
	}{
		{"SELECT table_name FROM system_schema.tables WHERE keyspace_name = ?", false},
		{"SELECT view_name FROM system_schema.views WHERE keyspace_name = ?", true},
	} {
		iter := s.Query(q.stmt, a.keyspace).WithContext(ctx).Iter()
		var name string
		for iter.Scan(&name) {
			tables = append(tables, dao.TableInfo{TableName: name, IsView: q.view})
		}
		if err := iter.Close(); err != nil {
			return nil, a.fail("list tables", err)
		}
	}
	slices.SortFunc(tables, func(x, y dao.TableInfo) int { return strings.Compare(x.TableName, y.TableName) })
	return tables, nil
}

func (a *Adapter) IsView(ctx context.Context, table string) (bool, error) {
	keyspace, name, _, err := a.tableRef(table)
	if err != nil {
		return false, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return false, err
	}
	var view string
	err = s.Query("SELECT view_name FROM system_schema.views WHERE keyspace_name = ? AND view_name = ?", keyspace, name).
		WithContext(ctx).Scan(&view)
	if errors.Is(err, gocql.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, a.fail("check view "+table, err)
	}
	return true, nil
}

// estimate sums the partition estimates of every token range. Rows per
// partition are unknown, so this undercounts tables with clustering columns.
func (a *Adapter) estimate(s *gocql.Session, keyspace, table string) dao.EstimateFunc {
	return func(ctx context.Context) (int64, bool, error) {
		iter := s.Query("SELECT partitions_count FROM system.size_estimates WHERE keyspace_name = ? AND table_name = ?", keyspace, table).
			WithContext(ctx).Iter()
		var (
			n, total int64
			ranges   int
		)
		for iter.Scan(&n) {
			total += n
			ranges++
		}
		if err := iter.Close(); err != nil {
			return 0, false, err
		}
		return total, ranges > 0, nil
	}
}

// listPlan is the resolved form of a ListQuery.
type listPlan struct {
	keyspace, name, ref string
	list                string
	cqlFilters          []dao.FilterSpec
	// match applies the criteria CQL cannot express.
	match  func(dao.Row) bool
	order  string
	dir    dao.Ordering
	sorted bool
}

func (a *Adapter) plan(ctx context.Context, table string, q dao.ListQuery) (*listPlan, error) {
	keyspace, name, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	st := structure(cols)
	pks := keyColumns(cols)
	selectable := dao.SelectableColumns(q.Settings, st)
	list, err := quoteList(selectable)
	if err != nil {
		return nil, err
	}
	p := &listPlan{keyspace: keyspace, name: name, ref: ref, list: list}

	types := make(map[string]string, len(st))
	for _, c := range st {
		types[c.ColumnName] = c.DataType
	}
	if q.Autocomplete != nil && len(q.Autocomplete.Fields) > 0 {
		if err := dao.ValidateIdentifiers(q.Autocomplete.Fields...); err != nil {
			return nil, err
		}
		fields, value := q.Autocomplete.Fields, q.Autocomplete.Value
		p.match = func(r dao.Row) bool { return filter.MatchPrefix(r, fields, value) }
	} else {
		filters := dao.KnownFilters(q.Filters)
		for _, f := range filters {
			if err := dao.ValidateIdentifier(f.Field); err != nil {
				return nil, err
			}
		}
		var mem []dao.FilterSpec
		p.cqlFilters, mem = splitFilters(filters, types)
		searchFields := dao.ResolveSearchFields(q.Settings, pks)
		search := q.SearchValue
		p.match = func(r dao.Row) bool {
			return filter.MatchAll(r, mem, filter.EmptyNullOrBlank) && filter.MatchSearch(r, searchFields, search)
		}
	}
	if q.Settings != nil && q.Settings.OrderingField != "" {
		p.order, p.dir = dao.ResolveOrdering(q.Settings, selectable)
		p.sorted = p.order == q.Settings.OrderingField
	}
	return p, nil
}

func (p *listPlan) statement(list string) (string, []any, error) {
	b := filter.NewBuilder(cql{})
	if err := b.AndFilters(p.cqlFilters); err != nil {
		return "", nil, err
	}
	return selectStatement(list, p.ref, b, true), b.Args(), nil
}

// scan visits matching rows in token order until visit returns false.
func (a *Adapter) scan(ctx context.Context, s *gocql.Session, p *listPlan, visit func(dao.Row) bool) error {
	stmt, args, err := p.statement(p.list)
	if err != nil {
		return err
	}
	iter := s.Query(stmt, args...).WithContext(ctx).PageSize(defaultPageSize).Iter()
	for {
		m := map[string]any{}
		if !iter.MapScan(m) {
			break
		}
		row := toRow(m)
		if p.match(row) && !visit(row) {
			break
		}
	}
	return iter.Close()
}

func (a *Adapter) window(ctx context.Context, s *gocql.Session, p *listPlan, offset, limit int) ([]dao.Row, error) {
	rows := []dao.Row{}
	if p.sorted {
		var all []dao.Row
		if err := a.scan(ctx, s, p, func(r dao.Row) bool { all = append(all, r); return true }); err != nil {
			return nil, err
		}
		filter.SortRows(all, p.order, p.dir)
		if offset >= len(all) {
			return rows, nil
		}
		return all[offset:min(offset+limit, len(all))], nil
	}
	seen := 0
	err := a.scan(ctx, s, p, func(r dao.Row) bool {
		seen++
		if seen > offset {
			rows = append(rows, r)
		}
		return len(rows) < limit
	})
	return rows, err
}

// count uses COUNT(*) when every criterion is evaluated by CQL, and
// iterates otherwise.
func (a *Adapter) count(s *gocql.Session, p *listPlan, inMemory bool) dao.CountFunc {
	return func(ctx context.Context) (int64, error) {
		if inMemory {
			var n int64
			err := a.scan(ctx, s, p, func(dao.Row) bool { n++; return true })
			return n, err
		}
		stmt, args, err := p.statement("COUNT(*)")
		if err != nil {
			return 0, err
		}
		var n int64
		err = s.Query(stmt, args...).WithContext(ctx).Scan(&n)
		return n, err
	}
}

func (a *Adapter) ListRows(ctx context.Context, table string, q dao.ListQuery) (*dao.PaginationResult, error) {
	p, err := a.plan(ctx, table, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	if q.Autocomplete != nil && len(q.Autocomplete.Fields) > 0 {
		rows, err := a.window(ctx, s, p, 0, a.opts.AutocompleteLimit)
		if err != nil {
			return nil, a.fail("autocomplete "+table, err)
		}
		return &dao.PaginationResult{Data: rows}, nil
	}

	inMemory := q.SearchValue != "" || len(p.cqlFilters) < len(dao.KnownFilters(q.Filters))
	page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
	count, err := dao.ResolveCount(ctx, a.opts.LargeDatasetThreshold, a.estimate(s, p.keyspace, p.name), a.count(s, p, inMemory))
	if err != nil {
		return nil, a.fail("count rows of "+table, err)
	}
	rows, err := a.window(ctx, s, p, dao.Offset(page, perPage), perPage)
	if err != nil {
		return nil, a.fail("list rows of "+table, err)
	}
	return &dao.PaginationResult{
		Data:         rows,
		Pagination:   dao.NewPagination(count.Total, page, perPage),
		LargeDataset: count.LargeDataset,
	}, nil
}

// StreamRows pages through the table. Pagination applies only when
// PerPage is set.
func (a *Adapter) StreamRows(ctx context.Context, table string, q dao.ListQuery) (dao.RowStream, error) {
	q.Autocomplete = nil
	p, err := a.plan(ctx, table, q)
	if err != nil {
		return nil, err
	}
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := dao.GuardStream(ctx, a.opts.LargeDatasetThreshold, a.estimate(s, p.keyspace, p.name)); err != nil {
		return nil, a.fail("estimate "+table, err)
	}
	if q.PerPage > 0 || p.sorted {
		offset, limit := 0, math.MaxInt
		if q.PerPage > 0 {
			page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
			offset, limit = dao.Offset(page, perPage), perPage
		}
		rows, err := a.window(ctx, s, p, offset, limit)
		if err != nil {
			return nil, a.fail("stream rows of "+table, err)
		}
		return dao.NewSliceStream(rows), nil
	}
	stmt, args, err := p.statement(p.list)
	if err != nil {
		return nil, err
	}
	iter := s.Query(stmt, args...).WithContext(ctx).PageSize(defaultPageSize).Iter()
	return &iterStream{
		iter:  iter,
		match: p.match,
		fail:  func(err error) error { return a.fail("stream rows of "+table, err) },
	}, nil
}

// mapIterator is the part of *gocql.Iter a stream reads from. gocql reports
// paging and node failures only from Close.
type mapIterator interface {
	MapScan(m map[string]any) bool
	Close() error
}

type iterStream struct {
	iter   mapIterator
	match  func(dao.Row) bool
	fail   func(error) error
	row    dao.Row
	err    error
	closed bool
}

func (s *iterStream) Next() bool {
	if s.closed {
		return false
	}
	for {
		m := map[string]any{}
		if !s.iter.MapScan(m) {
			s.closed = true
			if err := s.iter.Close(); err != nil {
				s.err = s.fail(err)
			}
			return false
		}
		if row := toRow(m); s.match(row) {
			s.row = row
			return true
		}
	}
}

func (s *iterStream) Row() dao.Row { return s.row }
func (s *iterStream) Err() error   { return s.err }

func (s *iterStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.iter.Close()
}

// keyWhere renders the full primary key predicate of key.
func keyWhere(key dao.Row, pks []dao.PrimaryKeyInfo, types map[string]string) (*filter.Builder, error) {
	if len(pks) == 0 {
		return nil, dao.Validationf("table has no primary key")
	}
	if len(key) != len(pks) {
		return nil, dao.Validationf("primary key must contain exactly %v", dao.KeyNames(pks))
	}
	coerced := make(dao.Row, len(key))
	for _, pk := range pks {
		v, ok := key[pk.ColumnName]
		if !ok || v == nil {
			return nil, dao.Validationf("primary key column %q is missing", pk.ColumnName)
		}
		coerced[pk.ColumnName] = filter.Coerce(v, types[pk.ColumnName])
	}
	b := filter.NewBuilder(cql{})
	return b, b.AndEquals(coerced)
}

func columnTypes(cols []schemaColumn) map[string]string {
	types := make(map[string]string, len(cols))
	for _, c := range cols {
		types[c.Name] = c.Type
	}
	return types
}

func (a *Adapter) GetRowByPrimaryKey(ctx context.Context, table string, primaryKey dao.Row, settings *dao.TableSettings) (dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	b, err := keyWhere(primaryKey, keyColumns(cols), columnTypes(cols))
	if err != nil {
		return nil, err
	}
	list, err := quoteList(dao.SelectableColumns(settings, structure(cols)))
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	m := map[string]any{}
	err = s.Query(selectStatement(list, ref, b, false), b.Args()...).WithContext(ctx).MapScan(m)
	if errors.Is(err, gocql.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, a.fail("get row from "+table, err)
	}
	return toRow(m), nil
}

// BulkGetRowsByPrimaryKeys reads key by key; IN over composite keys is not
// portable across Cassandra versions.
func (a *Adapter) BulkGetRowsByPrimaryKeys(ctx context.Context, table string, primaryKeys []dao.Row, settings *dao.TableSettings) ([]dao.Row, error) {
	rows := make([]dao.Row, 0, len(primaryKeys))
	for _, k := range primaryKeys {
		row, err := a.GetRowByPrimaryKey(ctx, table, k, settings)
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

// GetIdentityColumns uses IN when the referenced column is the sole
// partition key and filters in memory otherwise.
func (a *Adapter) GetIdentityColumns(ctx context.Context, table, referencedFieldName, identityColumnName string, fieldValues []any) ([]dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	if err := dao.ValidateIdentifiers(referencedFieldName, identityColumnName); err != nil {
		return nil, err
	}
	if len(fieldValues) == 0 {
		return []dao.Row{}, nil
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	dataType := columnTypes(cols)[referencedFieldName]
	values := make([]any, len(fieldValues))
	wanted := make(map[string]bool, len(fieldValues))
	for i, v := range fieldValues {
		values[i] = filter.Coerce(v, dataType)
		wanted[fmt.Sprint(values[i])] = true
	}
	list, err := quoteList(slices.Compact([]string{referencedFieldName, identityColumnName}))
	if err != nil {
		return nil, err
	}

	b := filter.NewBuilder(cql{})
	partition := 0
	for _, c := range cols {
		if c.Kind == kindPartition {
			partition++
		}
	}
	pks := keyColumns(cols)
	byIn := partition == 1 && pks[0].ColumnName == referencedFieldName
	if byIn {
		if err := b.In(referencedFieldName, values); err != nil {
			return nil, err
		}
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	iter := s.Query(selectStatement(list, ref, b, false), b.Args()...).WithContext(ctx).PageSize(defaultPageSize).Iter()
	rows := []dao.Row{}
	for {
		m := map[string]any{}
		if !iter.MapScan(m) {
			break
		}
		row := toRow(m)
		if byIn || wanted[fmt.Sprint(row[referencedFieldName])] {
			rows = append(rows, row)
		}
	}
	return rows, a.fail("get identity columns of "+table, iter.Close())
}

func insertStatement(ref string, row dao.Row, types map[string]string) (string, []any, error) {
	cols, err := dao.RowColumns(row)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, dao.Validationf("no values to insert")
	}
	list, _ := quoteList(cols)
	marks := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		marks[i] = "?"
		args[i] = filter.Coerce(row[c], types[c])
	}
	return "INSERT INTO " + ref + " (" + list + ") VALUES (" + strings.Join(marks, ", ") + ")", args, nil
}

// AddRow inserts row. Every primary key column is required; Cassandra has
// no generated keys.
func (a *Adapter) AddRow(ctx context.Context, table string, row dao.Row) (dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	types := columnTypes(cols)
	key := dao.Row{}
	for _, pk := range keyColumns(cols) {
		v, ok := row[pk.ColumnName]
		if !ok || v == nil {
			return nil, dao.Validationf("primary key column %q is required", pk.ColumnName)
		}
		key[pk.ColumnName] = filter.Coerce(v, types[pk.ColumnName])
	}
	stmt, args, err := insertStatement(ref, row, types)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.Query(stmt, args...).WithContext(ctx).Exec(); err != nil {
		return nil, a.fail("insert into "+table, err)
	}
	return key, nil
}

// updateStatement sets the non-key columns of row. Key columns cannot be
// updated in CQL and are skipped.
func updateStatement(ref string, row, key dao.Row, pks []dao.PrimaryKeyInfo, types map[string]string, lwt bool) (string, []any, error) {
	cols, err := dao.RowColumns(row)
	if err != nil {
		return "", nil, err
	}
	var (
		sets []string
		args []any
	)
	for _, c := range cols {
		if slices.Contains(dao.KeyNames(pks), c) {
			continue
		}
		sets = append(sets, cql{}.QuoteIdent(c)+" = ?")
		args = append(args, filter.Coerce(row[c], types[c]))
	}
	if len(sets) == 0 {
		return "", nil, dao.Validationf("no values to update")
	}
	b, err := keyWhere(key, pks, types)
	if err != nil {
		return "", nil, err
	}
	stmt := "UPDATE " + ref + " SET " + strings.Join(sets, ", ") + b.Where()
	if lwt {
		stmt += " IF EXISTS"
	}
	return stmt, append(args, b.Args()...), nil
}

// UpdateRow updates one row with a lightweight transaction so a missing row
// is not upserted.
func (a *Adapter) UpdateRow(ctx context.Context, table string, row dao.Row, primaryKey dao.Row) (dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	stmt, args, err := updateStatement(ref, row, primaryKey, keyColumns(cols), columnTypes(cols), true)
	if err != nil {
		return nil, err
	}
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(tctx)
	if err != nil {
		return nil, err
	}
	applied, err := s.Query(stmt, args...).WithContext(tctx).MapScanCAS(map[string]any{})
	if err != nil {
		return nil, a.fail("update "+table, err)
	}
	if !applied {
		return nil, nil
	}
	return a.GetRowByPrimaryKey(ctx, table, primaryKey, nil)
}

// BulkUpdateRows runs the updates in one unlogged batch.
func (a *Adapter) BulkUpdateRows(ctx context.Context, table string, newValues dao.Row, primaryKeys []dao.Row) ([]dao.Row, error) {
	if len(primaryKeys) == 0 {
		return []dao.Row{}, nil
	}
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	pks, types := keyColumns(cols), columnTypes(cols)
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(tctx)
	if err != nil {
		return nil, err
	}
	batch := s.NewBatch(gocql.UnloggedBatch).WithContext(tctx)
	for _, k := range primaryKeys {
		stmt, args, err := updateStatement(ref, newValues, k, pks, types, false)
		if err != nil {
			return nil, err
		}
		batch.Query(stmt, args...)
	}
	if err := s.ExecuteBatch(batch); err != nil {
		return nil, a.fail("bulk update "+table, err)
	}
	return a.BulkGetRowsByPrimaryKeys(ctx, table, primaryKeys, nil)
}

func (a *Adapter) DeleteRow(ctx context.Context, table string, primaryKey dao.Row) (dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	b, err := keyWhere(primaryKey, keyColumns(cols), columnTypes(cols))
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	applied, err := s.Query("DELETE FROM "+ref+b.Where()+" IF EXISTS", b.Args()...).WithContext(ctx).MapScanCAS(map[string]any{})
	if err != nil {
		return nil, a.fail("delete from "+table, err)
	}
	if !applied {
		return nil, nil
	}
	return primaryKey, nil
}

// BulkDeleteRows deletes in one unlogged batch. Cassandra does not report
// affected rows, so the count is the number of keys.
func (a *Adapter) BulkDeleteRows(ctx context.Context, table string, primaryKeys []dao.Row) (int64, error) {
	if len(primaryKeys) == 0 {
		return 0, nil
	}
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return 0, err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return 0, err
	}
	pks, types := keyColumns(cols), columnTypes(cols)
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err != nil {
		return 0, err
	}
	batch := s.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, k := range primaryKeys {
		b, err := keyWhere(k, pks, types)
		if err != nil {
			return 0, err
		}
		batch.Query("DELETE FROM "+ref+b.Where(), b.Args()...)
	}
	if err := s.ExecuteBatch(batch); err != nil {
		return 0, a.fail("bulk delete from "+table, err)
	}
	return int64(len(primaryKeys)), nil
}

func (a *Adapter) ValidateSettings(ctx context.Context, settings dao.TableSettings, table string) ([]string, error) {
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	return dao.ValidateTableSettings(settings, table, structure(cols), keyColumns(cols)), nil
}

func (a *Adapter) TestConnect(ctx context.Context) dao.TestConnectResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	s, err := a.session(ctx)
	if err == nil {
		var version string
		err = a.fail("ping", s.Query("SELECT release_version FROM system.local").WithContext(ctx).Scan(&version))
	}
	if err != nil {
		a.log.Warn("Connection test failed", "error", err)
		return dao.TestConnectResult{Result: false, Message: dao.Message(err)}
	}
	return dao.TestConnectResult{Result: true, Message: "Connection established"}
}

// ImportCSV inserts the records in unlogged batches.
func (a *Adapter) ImportCSV(ctx context.Context, table string, data []byte) error {
	rows, err := importer.ParseCSV(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return err
	}
	cols, err := a.schemaColumns(ctx, table)
	if err != nil {
		return err
	}
	types := columnTypes(cols)
	for i, row := range rows {
		// Empty cells would write tombstones; leave them out.
		for k, v := range row {
			if v == nil {
				delete(row, k)
			}
		}
		if c := unknownColumn(row, types); c != "" {
			return dao.Validationf("row %d: unknown column %q", i+1, c)
		}
	}
	s, err := a.session(ctx)
	if err != nil {
		return err
	}
	_, err = importer.Run(ctx, rows, a.opts.SQLBatchSize, a.opts.ImportWorkers, func(ctx context.Context, chunk []dao.Row) error {
		batch := s.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		for _, row := range chunk {
			stmt, args, err := insertStatement(ref, row, types)
			if err != nil {
				return err
			}
			batch.Query(stmt, args...)
		}
		return s.ExecuteBatch(batch)
	}, a.log)
	return a.fail("import into "+table, err)
}

func unknownColumn(row dao.Row, types map[string]string) string {
	for k := range row {
		if _, ok := types[k]; !ok {
			return k
		}
	}
	return ""
}
