// Package mongodb adapts MongoDB collections to the uniform DAO contract.
// A collection is a table and _id is its primary key.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strconv"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/importer"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/rescache"
)

const defaultPort = 27017

// Client is the cached driver handle.
type Client struct {
	*mongo.Client
	database string
}

// Close disconnects the client.
func (c *Client) Close() error {
	return c.Disconnect(context.Background())
}

// Config carries the shared dependencies of an adapter.
type Config struct {
	Cache   *rescache.Cache
	Options dao.Options
	Logger  *slog.Logger
	// Open overrides the driver connect, for tests.
	Open rescache.Opener[*Client]
}

// Adapter implements dao.DataAccessObject for MongoDB.
type Adapter struct {
	params dao.ConnectionParams
	cache  *rescache.Cache
	opts   dao.Options
	log    *slog.Logger
	open   rescache.Opener[*Client]
	ids    idPolicy
}

var _ dao.DataAccessObject = (*Adapter)(nil)

// New returns a MongoDB adapter for params.
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
		log:    logger.OrDiscard(cfg.Logger).With("engine", dao.MongoDB, "connection", params.Name),
		open:   open,
		ids:    idPolicy{customStrings: params.Option("string_ids", "") == "true"},
	}
}

// URI builds the connection string. An explicit uri option wins, which is
// how SRV and replica set URIs are configured.
func URI(p dao.ConnectionParams) string {
	if uri := p.Option("uri", ""); uri != "" {
		return uri
	}
	port := p.Port
	if port == 0 {
		port = defaultPort
	}
	u := url.URL{Scheme: "mongodb", Host: net.JoinHostPort(p.Host, strconv.Itoa(port)), Path: "/"}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	q := url.Values{}
	if p.Username != "" {
		q.Set("authSource", p.Option("authSource", "admin"))
	}
	if p.SSL {
		q.Set("tls", "true")
	}
	if rs := p.Option("replicaSet", ""); rs != "" {
		q.Set("replicaSet", rs)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects and pings the primary.
func Open(ctx context.Context, p dao.ConnectionParams) (*Client, error) {
	opts := options.Client().ApplyURI(URI(p)).SetAppName("rowpane")
	tlsCfg, err := p.TLSConfig()
	if err != nil {
		return nil, err
	}
	if tlsCfg != nil {
		opts.SetTLSConfig(tlsCfg)
	}
	c, err := mongo.Connect(opts)
	if err != nil {
		return nil, dao.Validationf("invalid mongodb connection settings: %v", err)
	}
	if err := c.Ping(ctx, readpref.Primary()); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}
	return &Client{Client: c, database: p.Database}, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.QueryTimeout)
}

func (a *Adapter) client(ctx context.Context) (*Client, error) {
	return rescache.Client(ctx, a.cache, a.params, a.open)
}

func (a *Adapter) collection(ctx context.Context, table string) (*mongo.Collection, error) {
	if err := dao.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Database(c.database).Collection(table), nil
}

// fail classifies err and evicts the client on connectivity errors.
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
	if mongo.IsNetworkError(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// GetStructure infers the structure from a sample of documents.
func (a *Adapter) GetStructure(ctx context.Context, table string) ([]dao.ColumnInfo, error) {
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindStructure, func(ctx context.Context) ([]dao.ColumnInfo, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		coll, err := a.collection(ctx, table)
		if err != nil {
			return nil, err
		}
		cur, err := coll.Find(ctx, bson.D{}, options.Find().SetLimit(int64(a.opts.SampleSize)))
		if err != nil {
			return nil, a.fail("sample "+table, err)
		}
		var docs []bson.M
		if err := cur.All(ctx, &docs); err != nil {
			return nil, a.fail("sample "+table, err)
		}
		return inferStructure(docs), nil
	})
}

// GetPrimaryKeys is always _id.
func (a *Adapter) GetPrimaryKeys(_ context.Context, table string) ([]dao.PrimaryKeyInfo, error) {
	if err := dao.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return []dao.PrimaryKeyInfo{{ColumnName: filter.MongoIDField, DataType: "objectid"}}, nil
}

// GetForeignKeys is empty: collections have no declared references.
func (a *Adapter) GetForeignKeys(_ context.Context, table string) ([]dao.ForeignKeyInfo, error) {
	if err := dao.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return []dao.ForeignKeyInfo{}, nil
}

// GetReferencingTables is empty for the same reason.
func (a *Adapter) GetReferencingTables(_ context.Context, table string) ([]dao.ReferencedTableNamesAndColumns, error) {
	if err := dao.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return []dao.ReferencedTableNamesAndColumns{}, nil
}

func (a *Adapter) ListTables(ctx context.Context) ([]dao.TableInfo, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err != nil {
		return nil, err
	}
	specs, err := c.Database(c.database).ListCollectionSpecifications(ctx, bson.D{})
	if err != nil {
		return nil, a.fail("list collections", err)
	}
	tables := make([]dao.TableInfo, 0, len(specs))
	for _, s := range specs {
		tables = append(tables, dao.TableInfo{TableName: s.Name, IsView: s.Type == "view"})
	}
	return tables, nil
}

func (a *Adapter) IsView(ctx context.Context, table string) (bool, error) {
	tables, err := a.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t.TableName == table {
			return t.IsView, nil
		}
	}
	return false, nil
}

func (a *Adapter) estimate(coll *mongo.Collection) dao.EstimateFunc {
	return func(ctx context.Context) (int64, bool, error) {
		n, err := coll.EstimatedDocumentCount(ctx)
		if err != nil {
			return 0, false, err
		}
		return n, true, nil
	}
}

// query resolves filters, search and sort of q.
func (a *Adapter) query(ctx context.Context, table string, q dao.ListQuery) (bson.D, bson.D, []dao.ColumnInfo, error) {
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, nil, nil, err
	}
	pks, _ := a.GetPrimaryKeys(ctx, table)
	field, dir := dao.ResolveOrdering(q.Settings, dao.SelectableColumns(q.Settings, structure))
	if field == "" {
		field = filter.MongoIDField
	}
	order := 1
	if dir == dao.Desc {
		order = -1
	}
	sort := bson.D{{Key: field, Value: order}}

	if q.Autocomplete != nil && len(q.Autocomplete.Fields) > 0 {
		return filter.MongoPrefix(q.Autocomplete.Fields, q.Autocomplete.Value), sort, structure, nil
	}
	f, err := filter.MongoQuery(dao.KnownFilters(q.Filters), dao.ResolveSearchFields(q.Settings, pks), q.SearchValue, structureTypes(structure))
	if err != nil {
		return nil, nil, nil, err
	}
	return f, sort, structure, nil
}

func (a *Adapter) ListRows(ctx context.Context, table string, q dao.ListQuery) (*dao.PaginationResult, error) {
	f, sort, structure, err := a.query(ctx, table, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(ctx, table)
	if err != nil {
		return nil, err
	}
	find := options.Find().SetSort(sort)
	if p := projection(q.Settings, structure); p != nil {
		find.SetProjection(p)
	}

	if q.Autocomplete != nil && len(q.Autocomplete.Fields) > 0 {
		rows, err := a.find(ctx, coll, f, find.SetLimit(int64(a.opts.AutocompleteLimit)))
		if err != nil {
			return nil, a.fail("autocomplete "+table, err)
		}
		return &dao.PaginationResult{Data: rows}, nil
	}

	page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
	count, err := dao.ResolveCount(ctx, a.opts.LargeDatasetThreshold, a.estimate(coll), func(ctx context.Context) (int64, error) {
		return coll.CountDocuments(ctx, f)
	})
	if err != nil {
		return nil, a.fail("count documents of "+table, err)
	}
	find.SetSkip(int64(dao.Offset(page, perPage))).SetLimit(int64(perPage))
	rows, err := a.find(ctx, coll, f, find)
	if err != nil {
		return nil, a.fail("list documents of "+table, err)
	}
	return &dao.PaginationResult{
		Data:         rows,
		Pagination:   dao.NewPagination(count.Total, page, perPage),
		LargeDataset: count.LargeDataset,
	}, nil
}

func (a *Adapter) find(ctx context.Context, coll *mongo.Collection, f bson.D, opts *options.FindOptionsBuilder) ([]dao.Row, error) {
	cur, err := coll.Find(ctx, f, opts)
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	rows := make([]dao.Row, len(docs))
	for i, d := range docs {
		rows[i] = toRow(d)
	}
	return rows, nil
}

// StreamRows iterates a cursor. Pagination applies only when PerPage is set.
func (a *Adapter) StreamRows(ctx context.Context, table string, q dao.ListQuery) (dao.RowStream, error) {
	q.Autocomplete = nil
	f, sort, structure, err := a.query(ctx, table, q)
	if err != nil {
		return nil, err
	}
	coll, err := a.collection(ctx, table)
	if err != nil {
		return nil, err
	}
	if err := dao.GuardStream(ctx, a.opts.LargeDatasetThreshold, a.estimate(coll)); err != nil {
		return nil, err
	}
	find := options.Find().SetSort(sort)
	if p := projection(q.Settings, structure); p != nil {
		find.SetProjection(p)
	}
	if q.PerPage > 0 {
		page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
		find.SetSkip(int64(dao.Offset(page, perPage))).SetLimit(int64(perPage))
	}
	cur, err := coll.Find(ctx, f, find)
	if err != nil {
		return nil, a.fail("stream documents of "+table, err)
	}
	return &cursorStream{ctx: ctx, cur: cur}, nil
}

type cursorStream struct {
	ctx context.Context
	cur *mongo.Cursor
	row dao.Row
	err error
}

func (s *cursorStream) Next() bool {
	if s.err != nil || !s.cur.Next(s.ctx) {
		return false
	}
	var doc bson.M
	if err := s.cur.Decode(&doc); err != nil {
		s.err = err
		return false
	}
	s.row = toRow(doc)
	return true
}

func (s *cursorStream) Row() dao.Row { return s.row }

func (s *cursorStream) Err() error {
	if s.err != nil {
		return s.err
	}
	return s.cur.Err()
}

func (s *cursorStream) Close() error { return s.cur.Close(context.Background()) }

func (a *Adapter) GetRowByPrimaryKey(ctx context.Context, table string, primaryKey dao.Row, settings *dao.TableSettings) (dao.Row, error) {
	f, err := a.ids.keyFilter(primaryKey)
	if err != nil {
		return nil, err
	}
	rows, err := a.getRows(ctx, table, f, settings)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (a *Adapter) BulkGetRowsByPrimaryKeys(ctx context.Context, table string, primaryKeys []dao.Row, settings *dao.TableSettings) ([]dao.Row, error) {
	f, err := a.ids.keysFilter(primaryKeys)
	if err != nil {
		return nil, err
	}
	return a.getRows(ctx, table, f, settings)
}

func (a *Adapter) getRows(ctx context.Context, table string, f bson.D, settings *dao.TableSettings) ([]dao.Row, error) {
	find := options.Find()
	if settings != nil {
		structure, err := a.GetStructure(ctx, table)
		if err != nil {
			return nil, err
		}
		if p := projection(settings, structure); p != nil {
			find.SetProjection(p)
		}
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := a.find(ctx, coll, f, find)
	return rows, a.fail("get documents from "+table, err)
}

func (a *Adapter) GetIdentityColumns(ctx context.Context, table, referencedFieldName, identityColumnName string, fieldValues []any) ([]dao.Row, error) {
	if err := dao.ValidateIdentifiers(referencedFieldName, identityColumnName); err != nil {
		return nil, err
	}
	values := make(bson.A, len(fieldValues))
	for i, v := range fieldValues {
		if referencedFieldName == filter.MongoIDField {
			id, err := a.ids.id(v)
			if err != nil {
				return nil, err
			}
			v = id
		}
		values[i] = v
	}
	proj := bson.D{{Key: referencedFieldName, Value: 1}}
	if identityColumnName != referencedFieldName {
		proj = append(proj, bson.E{Key: identityColumnName, Value: 1})
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(ctx, table)
	if err != nil {
		return nil, err
	}
	rows, err := a.find(ctx, coll, bson.D{{Key: referencedFieldName, Value: bson.D{{Key: "$in", Value: values}}}}, options.Find().SetProjection(proj))
	return rows, a.fail("get identity columns of "+table, err)
}

// AddRow inserts row and returns the generated or supplied _id.
func (a *Adapter) AddRow(ctx context.Context, table string, row dao.Row) (dao.Row, error) {
	if _, err := dao.RowColumns(row); err != nil {
		return nil, err
	}
	doc, err := a.ids.toDocument(row)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(ctx, table)
	if err != nil {
		return nil, err
	}
	res, err := coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, a.fail("insert into "+table, err)
	}
	return dao.Row{filter.MongoIDField: native(res.InsertedID)}, nil
}

func setDocument(values dao.Row) (bson.D, error) {
	cols, err := dao.RowColumns(values)
	if err != nil {
		return nil, err
	}
	set := make(bson.D, 0, len(cols))
	for _, c := range cols {
		if c == filter.MongoIDField {
			continue
		}
		set = append(set, bson.E{Key: c, Value: values[c]})
	}
	if len(set) == 0 {
		return nil, dao.Validationf("no values to update")
	}
	return bson.D{{Key: "$set", Value: set}}, nil
}

// UpdateRow sets the given fields. _id is immutable and ignored.
func (a *Adapter) UpdateRow(ctx context.Context, table string, row dao.Row, primaryKey dao.Row) (dao.Row, error) {
	f, err := a.ids.keyFilter(primaryKey)
	if err != nil {
		return nil, err
	}
	update, err := setDocument(row)
	if err != nil {
		return nil, err
	}
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(tctx, table)
	if err != nil {
		return nil, err
	}
	res, err := coll.UpdateOne(tctx, f, update)
	if err != nil {
		return nil, a.fail("update "+table, err)
	}
	if res.MatchedCount == 0 {
		return nil, nil
	}
	return a.GetRowByPrimaryKey(ctx, table, primaryKey, nil)
}

func (a *Adapter) BulkUpdateRows(ctx context.Context, table string, newValues dao.Row, primaryKeys []dao.Row) ([]dao.Row, error) {
	if len(primaryKeys) == 0 {
		return []dao.Row{}, nil
	}
	f, err := a.ids.keysFilter(primaryKeys)
	if err != nil {
		return nil, err
	}
	update, err := setDocument(newValues)
	if err != nil {
		return nil, err
	}
	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(tctx, table)
	if err != nil {
		return nil, err
	}
	if _, err := coll.UpdateMany(tctx, f, update); err != nil {
		return nil, a.fail("bulk update "+table, err)
	}
	return a.BulkGetRowsByPrimaryKeys(ctx, table, primaryKeys, nil)
}

func (a *Adapter) DeleteRow(ctx context.Context, table string, primaryKey dao.Row) (dao.Row, error) {
	f, err := a.ids.keyFilter(primaryKey)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(ctx, table)
	if err != nil {
		return nil, err
	}
	res, err := coll.DeleteOne(ctx, f)
	if err != nil {
		return nil, a.fail("delete from "+table, err)
	}
	if res.DeletedCount == 0 {
		return nil, nil
	}
	return primaryKey, nil
}

func (a *Adapter) BulkDeleteRows(ctx context.Context, table string, primaryKeys []dao.Row) (int64, error) {
	if len(primaryKeys) == 0 {
		return 0, nil
	}
	f, err := a.ids.keysFilter(primaryKeys)
	if err != nil {
		return 0, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	coll, err := a.collection(ctx, table)
	if err != nil {
		return 0, err
	}
	res, err := coll.DeleteMany(ctx, f)
	if err != nil {
		return 0, a.fail("bulk delete from "+table, err)
	}
	return res.DeletedCount, nil
}

func (a *Adapter) ValidateSettings(ctx context.Context, settings dao.TableSettings, table string) ([]string, error) {
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	return dao.ValidateTableSettings(settings, table, structure, pks), nil
}

func (a *Adapter) TestConnect(ctx context.Context) dao.TestConnectResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	c, err := a.client(ctx)
	if err == nil {
		err = a.fail("ping", c.Ping(ctx, readpref.Primary()))
	}
	if err != nil {
		a.log.Warn("Connection test failed", "error", err)
		return dao.TestConnectResult{Result: false, Message: dao.Message(err)}
	}
	return dao.TestConnectResult{Result: true, Message: "Connection established"}
}

// ImportCSV inserts the records in unordered InsertMany batches. Numeric
// strings are coerced for fields sampled as numbers.
func (a *Adapter) ImportCSV(ctx context.Context, table string, data []byte) error {
	rows, err := importer.ParseCSV(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return err
	}
	types := structureTypes(structure)
	coll, err := a.collection(ctx, table)
	if err != nil {
		return err
	}
	_, err = importer.Run(ctx, rows, a.opts.DocumentBatchSize, a.opts.ImportWorkers, func(ctx context.Context, batch []dao.Row) error {
		docs := make([]any, len(batch))
		for i, row := range batch {
			for k, v := range row {
				row[k] = filter.Coerce(v, types[k])
			}
			doc, err := a.ids.toDocument(row)
			if err != nil {
				return err
			}
			docs[i] = doc
		}
		_, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		return err
	}, a.log)
	return a.fail("import into "+table, err)
}
