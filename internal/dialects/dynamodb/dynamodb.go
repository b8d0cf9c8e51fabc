// Package dynamodb adapts DynamoDB tables to the uniform DAO contract. The
// key schema is the primary key and listing pages forward through Scan.
package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"math"
	"net"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/importer"
	"github.com/rowpane/rowpane/internal/logger"
	"github.com/rowpane/rowpane/internal/normalize"
	"github.com/rowpane/rowpane/internal/rescache"
)

const defaultRegion = "us-east-1"

// API is the subset of the DynamoDB client the adapter calls.
type API interface {
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	ListTables(ctx context.Context, in *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, in *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// Client is the cached handle. The SDK client holds no connection of its
// own, so Close is a no-op.
type Client struct {
	API
}

func (Client) Close() error { return nil }

// Config carries the shared dependencies of an adapter.
type Config struct {
	Cache   *rescache.Cache
	Options dao.Options
	Logger  *slog.Logger
	// Open overrides the SDK client construction, for tests.
	Open rescache.Opener[*Client]
}

// Adapter implements dao.DataAccessObject for DynamoDB.
type Adapter struct {
	params dao.ConnectionParams
	cache  *rescache.Cache
	opts   dao.Options
	log    *slog.Logger
	open   rescache.Opener[*Client]
}

var _ dao.DataAccessObject = (*Adapter)(nil)

// New returns a DynamoDB adapter for params.
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
		log:    logger.OrDiscard(cfg.Logger).With("engine", dao.DynamoDB, "connection", params.Name),
		open:   open,
	}
}

// Endpoint returns the custom endpoint URL, or "" for the regional AWS
// endpoint. A host selects a local or tunneled endpoint.
func Endpoint(p dao.ConnectionParams) string {
	if ep := p.Option("endpoint", ""); ep != "" {
		return ep
	}
	if p.Host == "" {
		return ""
	}
	scheme := "http"
	if p.SSL {
		scheme = "https"
	}
	if p.Port == 0 {
		return scheme + "://" + p.Host
	}
	return scheme + "://" + net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// Open builds an SDK client. Username and password are the access key id
// and secret; without them the default credential chain applies.
func Open(ctx context.Context, p dao.ConnectionParams) (*Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(p.Option("region", defaultRegion)),
	}
	if p.Username != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(p.Username, p.Password, p.Option("session_token", "")),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, dao.Validationf("invalid dynamodb connection settings: %v", err)
	}
	endpoint := Endpoint(p)
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{API: client}, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.opts.QueryTimeout)
}

func (a *Adapter) api(ctx context.Context) (API, error) {
	c, err := rescache.Client(ctx, a.cache, a.params, a.open)
	if err != nil {
		return nil, err
	}
	return c.API, nil
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
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// describe returns the table description, cached alongside the structure.
func (a *Adapter) describe(ctx context.Context, table string) (*types.TableDescription, error) {
	if err := dao.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindDescribe, func(ctx context.Context) (*types.TableDescription, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		api, err := a.api(ctx)
		if err != nil {
			return nil, err
		}
		out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err != nil {
			return nil, a.fail("describe "+table, err)
		}
		return out.Table, nil
	})
}

func (a *Adapter) GetPrimaryKeys(ctx context.Context, table string) ([]dao.PrimaryKeyInfo, error) {
	desc, err := a.describe(ctx, table)
	if err != nil {
		return nil, err
	}
	return keySchema(desc), nil
}

// GetStructure lists the key attributes first, then the attributes observed
// in a sample scan.
func (a *Adapter) GetStructure(ctx context.Context, table string) ([]dao.ColumnInfo, error) {
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindStructure, func(ctx context.Context) ([]dao.ColumnInfo, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		api, err := a.api(ctx)
		if err != nil {
			return nil, err
		}
		out, err := api.Scan(ctx, &dynamodb.ScanInput{
			TableName: aws.String(table),
			Limit:     aws.Int32(int32(a.opts.SampleSize)),
		})
		if err != nil {
			return nil, a.fail("sample "+table, err)
		}
		rows, err := toRows(out.Items)
		if err != nil {
			return nil, err
		}
		docs := make([]map[string]any, len(rows))
		for i, r := range rows {
			docs[i] = r
		}
		inferred := normalize.InferDocuments(docs, dao.KeyNames(pks), nil)

		cols := make([]dao.ColumnInfo, 0, len(inferred)+len(pks))
		for _, pk := range pks {
			cols = append(cols, dao.ColumnInfo{ColumnName: pk.ColumnName, DataType: pk.DataType})
		}
		for _, c := range inferred {
			if _, isKey := dao.FindColumn(cols, c.ColumnName); !isKey {
				cols = append(cols, c)
			}
		}
		return cols, nil
	})
}

// GetForeignKeys is empty: DynamoDB has no declared references.
func (a *Adapter) GetForeignKeys(_ context.Context, table string) ([]dao.ForeignKeyInfo, error) {
	if err := dao.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return []dao.ForeignKeyInfo{}, nil
}

func (a *Adapter) GetReferencingTables(_ context.Context, table string) ([]dao.ReferencedTableNamesAndColumns, error) {
	if err := dao.ValidateIdentifier(table); err != nil {
		return nil, err
	}
	return []dao.ReferencedTableNamesAndColumns{}, nil
}

func (a *Adapter) ListTables(ctx context.Context) ([]dao.TableInfo, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	tables := []dao.TableInfo{}
	p := dynamodb.NewListTablesPaginator(api, &dynamodb.ListTablesInput{})
	for p.HasMorePages() {
		out, err := p.NextPage(ctx)
		if err != nil {
			return nil, a.fail("list tables", err)
		}
		for _, name := range out.TableNames {
			tables = append(tables, dao.TableInfo{TableName: name})
		}
	}
	return tables, nil
}

// IsView is always false.
func (a *Adapter) IsView(_ context.Context, table string) (bool, error) {
	return false, dao.ValidateIdentifier(table)
}

func (a *Adapter) estimate(api API, table string) dao.EstimateFunc {
	return func(ctx context.Context) (int64, bool, error) {
		out, err := api.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(table)})
		if err != nil {
			return 0, false, err
		}
		if out.Table == nil || out.Table.ItemCount == nil {
			return 0, false, nil
		}
		return *out.Table.ItemCount, true, nil
	}
}

// scanPlan is the resolved form of a ListQuery.
type scanPlan struct {
	input dynamodb.ScanInput
	// count carries the filter alone; projection names would be unused.
	count    dynamodb.ScanInput
	residual []dao.FilterSpec
	order    string
	dir      dao.Ordering
	// sorted is set for an explicit ordering field, which needs the whole
	// result in memory.
	sorted bool
}

func (a *Adapter) plan(ctx context.Context, table string, q dao.ListQuery) (*scanPlan, error) {
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	p := &scanPlan{
		input: dynamodb.ScanInput{TableName: aws.String(table)},
		count: dynamodb.ScanInput{TableName: aws.String(table), Select: types.SelectCount},
	}

	var (
		cond    expression.ConditionBuilder
		hasCond bool
	)
	if q.Autocomplete != nil && len(q.Autocomplete.Fields) > 0 {
		if err := dao.ValidateIdentifiers(q.Autocomplete.Fields...); err != nil {
			return nil, err
		}
		cond, hasCond = filter.DynamoPrefix(q.Autocomplete.Fields, q.Autocomplete.Value)
	} else {
		filters := dao.KnownFilters(q.Filters)
		for _, f := range filters {
			if err := dao.ValidateIdentifier(f.Field); err != nil {
				return nil, err
			}
		}
		dc := filter.DynamoFilter(filters, dao.ResolveSearchFields(q.Settings, pks), q.SearchValue, structureTypes(structure))
		cond, hasCond, p.residual = dc.Cond, dc.HasCond, dc.Residual
	}
	proj, hasProj := projectionOf(q.Settings, structure)

	if hasCond || hasProj {
		b := expression.NewBuilder()
		if hasCond {
			b = b.WithFilter(cond)
		}
		if hasProj {
			b = b.WithProjection(proj)
		}
		expr, err := b.Build()
		if err != nil {
			return nil, dao.Validationf("invalid filter: %v", err)
		}
		p.input.ExpressionAttributeNames = expr.Names()
		p.input.ExpressionAttributeValues = expr.Values()
		p.input.FilterExpression = expr.Filter()
		p.input.ProjectionExpression = expr.Projection()
	}
	if hasCond {
		expr, err := expression.NewBuilder().WithFilter(cond).Build()
		if err != nil {
			return nil, dao.Validationf("invalid filter: %v", err)
		}
		p.count.ExpressionAttributeNames = expr.Names()
		p.count.ExpressionAttributeValues = expr.Values()
		p.count.FilterExpression = expr.Filter()
	}

	if q.Settings != nil && q.Settings.OrderingField != "" {
		p.order, p.dir = dao.ResolveOrdering(q.Settings, dao.ColumnNames(structure))
		p.sorted = p.order == q.Settings.OrderingField
	}
	return p, nil
}

// scan visits the matching rows in scan order until visit returns false.
func (a *Adapter) scan(ctx context.Context, api API, p *scanPlan, visit func(dao.Row) bool) error {
	in := p.input
	pager := dynamodb.NewScanPaginator(api, &in)
	for pager.HasMorePages() {
		out, err := pager.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, it := range out.Items {
			row, err := toRow(it)
			if err != nil {
				return err
			}
			if !filter.MatchAll(row, p.residual, filter.EmptyMissing) {
				continue
			}
			if !visit(row) {
				return nil
			}
		}
	}
	return nil
}

// window collects the rows of one page.
func (a *Adapter) window(ctx context.Context, api API, p *scanPlan, offset, limit int) ([]dao.Row, error) {
	rows := []dao.Row{}
	if p.sorted {
		var all []dao.Row
		if err := a.scan(ctx, api, p, func(r dao.Row) bool { all = append(all, r); return true }); err != nil {
			return nil, err
		}
		filter.SortRows(all, p.order, p.dir)
		if offset >= len(all) {
			return rows, nil
		}
		return all[offset:min(offset+limit, len(all))], nil
	}
	seen := 0
	err := a.scan(ctx, api, p, func(r dao.Row) bool {
		seen++
		if seen > offset {
			rows = append(rows, r)
		}
		return len(rows) < limit
	})
	return rows, err
}

// count counts the matching rows. Without residual filters DynamoDB counts
// server side.
func (a *Adapter) count(api API, p *scanPlan) dao.CountFunc {
	return func(ctx context.Context) (int64, error) {
		if len(p.residual) > 0 {
			var n int64
			err := a.scan(ctx, api, p, func(dao.Row) bool { n++; return true })
			return n, err
		}
		in := p.count
		var n int64
		pager := dynamodb.NewScanPaginator(api, &in)
		for pager.HasMorePages() {
			out, err := pager.NextPage(ctx)
			if err != nil {
				return 0, err
			}
			n += int64(out.Count)
		}
		return n, nil
	}
}

func (a *Adapter) ListRows(ctx context.Context, table string, q dao.ListQuery) (*dao.PaginationResult, error) {
	p, err := a.plan(ctx, table, q)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}

	if q.Autocomplete != nil && len(q.Autocomplete.Fields) > 0 {
		rows, err := a.window(ctx, api, p, 0, a.opts.AutocompleteLimit)
		if err != nil {
			return nil, a.fail("autocomplete "+table, err)
		}
		return &dao.PaginationResult{Data: rows}, nil
	}

	page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
	count, err := dao.ResolveCount(ctx, a.opts.LargeDatasetThreshold, a.estimate(api, table), a.count(api, p))
	if err != nil {
		return nil, a.fail("count items of "+table, err)
	}
	rows, err := a.window(ctx, api, p, dao.Offset(page, perPage), perPage)
	if err != nil {
		return nil, a.fail("scan "+table, err)
	}
	return &dao.PaginationResult{
		Data:         rows,
		Pagination:   dao.NewPagination(count.Total, page, perPage),
		LargeDataset: count.LargeDataset,
	}, nil
}

// StreamRows scans page by page. Pagination applies only when PerPage is set.
func (a *Adapter) StreamRows(ctx context.Context, table string, q dao.ListQuery) (dao.RowStream, error) {
	q.Autocomplete = nil
	p, err := a.plan(ctx, table, q)
	if err != nil {
		return nil, err
	}
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	if err := dao.GuardStream(ctx, a.opts.LargeDatasetThreshold, a.estimate(api, table)); err != nil {
		return nil, a.fail("estimate "+table, err)
	}
	if q.PerPage > 0 || p.sorted {
		page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
		offset, limit := dao.Offset(page, perPage), perPage
		if q.PerPage <= 0 {
			offset, limit = 0, math.MaxInt
		}
		rows, err := a.window(ctx, api, p, offset, limit)
		if err != nil {
			return nil, a.fail("scan "+table, err)
		}
		return dao.NewSliceStream(rows), nil
	}
	in := p.input
	return &scanStream{ctx: ctx, pager: dynamodb.NewScanPaginator(api, &in), residual: p.residual}, nil
}

type scanStream struct {
	ctx      context.Context
	pager    *dynamodb.ScanPaginator
	residual []dao.FilterSpec
	buf      []Item
	row      dao.Row
	err      error
}

func (s *scanStream) Next() bool {
	for s.err == nil {
		for len(s.buf) > 0 {
			it := s.buf[0]
			s.buf = s.buf[1:]
			row, err := toRow(it)
			if err != nil {
				s.err = err
				return false
			}
			if filter.MatchAll(row, s.residual, filter.EmptyMissing) {
				s.row = row
				return true
			}
		}
		if !s.pager.HasMorePages() {
			return false
		}
		out, err := s.pager.NextPage(s.ctx)
		if err != nil {
			s.err = err
			return false
		}
		s.buf = out.Items
	}
	return false
}

func (s *scanStream) Row() dao.Row { return s.row }
func (s *scanStream) Err() error   { return s.err }
func (s *scanStream) Close() error { return nil }

func (a *Adapter) readProjection(ctx context.Context, table string, settings *dao.TableSettings) (*string, map[string]string, error) {
	if settings == nil {
		return nil, nil, nil
	}
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	proj, ok := projectionOf(settings, structure)
	if !ok {
		return nil, nil, nil
	}
	expr, err := expression.NewBuilder().WithProjection(proj).Build()
	if err != nil {
		return nil, nil, dao.Validationf("invalid projection: %v", err)
	}
	return expr.Projection(), expr.Names(), nil
}

func (a *Adapter) GetRowByPrimaryKey(ctx context.Context, table string, primaryKey dao.Row, settings *dao.TableSettings) (dao.Row, error) {
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	key, err := keyItem(primaryKey, pks)
	if err != nil {
		return nil, err
	}
	proj, names, err := a.readProjection(ctx, table, settings)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	out, err := api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:                aws.String(table),
		Key:                      key,
		ProjectionExpression:     proj,
		ExpressionAttributeNames: names,
	})
	if err != nil {
		return nil, a.fail("get item from "+table, err)
	}
	if len(out.Item) == 0 {
		return nil, nil
	}
	return toRow(out.Item)
}

func (a *Adapter) BulkGetRowsByPrimaryKeys(ctx context.Context, table string, primaryKeys []dao.Row, settings *dao.TableSettings) ([]dao.Row, error) {
	if len(primaryKeys) == 0 {
		return []dao.Row{}, nil
	}
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	keys := make([]Item, len(primaryKeys))
	for i, k := range primaryKeys {
		if keys[i], err = keyItem(k, pks); err != nil {
			return nil, err
		}
	}
	proj, names, err := a.readProjection(ctx, table, settings)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	items, err := batchGet(ctx, api, table, keys, proj, names)
	if err != nil {
		return nil, a.fail("batch get from "+table, err)
	}
	return toRows(items)
}

func (a *Adapter) GetIdentityColumns(ctx context.Context, table, referencedFieldName, identityColumnName string, fieldValues []any) ([]dao.Row, error) {
	if err := dao.ValidateIdentifiers(table, referencedFieldName, identityColumnName); err != nil {
		return nil, err
	}
	if len(fieldValues) == 0 {
		return []dao.Row{}, nil
	}
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	dataType := structureTypes(structure)[referencedFieldName]
	values := make([]expression.OperandBuilder, len(fieldValues))
	for i, v := range fieldValues {
		values[i] = expression.Value(filter.Coerce(v, dataType))
	}
	cond := expression.Name(referencedFieldName).In(values[0], values[1:]...)
	proj := expression.NamesList(expression.Name(referencedFieldName), expression.Name(identityColumnName))
	expr, err := expression.NewBuilder().WithFilter(cond).WithProjection(proj).Build()
	if err != nil {
		return nil, dao.Validationf("invalid identity lookup: %v", err)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	p := &scanPlan{input: dynamodb.ScanInput{
		TableName:                 aws.String(table),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}}
	rows := []dao.Row{}
	err = a.scan(ctx, api, p, func(r dao.Row) bool { rows = append(rows, r); return true })
	return rows, a.fail("get identity columns of "+table, err)
}

// AddRow puts row. A missing string hash key is generated as a UUID; other
// missing key attributes are a validation error.
func (a *Adapter) AddRow(ctx context.Context, table string, row dao.Row) (dao.Row, error) {
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	row = maps.Clone(row)
	key := dao.Row{}
	for i, pk := range pks {
		v, ok := row[pk.ColumnName]
		if !ok || v == nil {
			if i > 0 || pk.DataType != normalize.TypeString {
				return nil, dao.Validationf("key attribute %q is required", pk.ColumnName)
			}
			v = uuid.NewString()
			row[pk.ColumnName] = v
		}
		key[pk.ColumnName] = filter.Coerce(v, pk.DataType)
	}
	item, err := toItem(row, structureTypes(structure))
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := api.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(table), Item: item}); err != nil {
		return nil, a.fail("put item into "+table, err)
	}
	return key, nil
}

// UpdateRow sets the non-key attributes of one existing item. Key attributes
// cannot change in DynamoDB and are ignored.
func (a *Adapter) UpdateRow(ctx context.Context, table string, row dao.Row, primaryKey dao.Row) (dao.Row, error) {
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	key, err := keyItem(primaryKey, pks)
	if err != nil {
		return nil, err
	}
	cols, err := dao.RowColumns(row)
	if err != nil {
		return nil, err
	}
	attrTypes := structureTypes(structure)
	var (
		update expression.UpdateBuilder
		sets   int
	)
	for _, c := range cols {
		if _, isKey := primaryKey[c]; isKey {
			continue
		}
		update = update.Set(expression.Name(c), expression.Value(filter.Coerce(row[c], attrTypes[c])))
		sets++
	}
	if sets == 0 {
		return nil, dao.Validationf("no values to update")
	}
	expr, err := expression.NewBuilder().WithUpdate(update).WithCondition(keyCondition(pks)).Build()
	if err != nil {
		return nil, dao.Validationf("invalid update: %v", err)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	out, err := api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       key,
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              types.ReturnValueAllNew,
	})
	if isConditionFailed(err) {
		return nil, nil
	}
	if err != nil {
		return nil, a.fail("update item of "+table, err)
	}
	return toRow(out.Attributes)
}

// BulkUpdateRows updates items one by one; DynamoDB has no multi-item update.
func (a *Adapter) BulkUpdateRows(ctx context.Context, table string, newValues dao.Row, primaryKeys []dao.Row) ([]dao.Row, error) {
	rows := make([]dao.Row, 0, len(primaryKeys))
	for _, k := range primaryKeys {
		row, err := a.UpdateRow(ctx, table, newValues, k)
		if err != nil {
			return nil, err
		}
		if row != nil {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (a *Adapter) DeleteRow(ctx context.Context, table string, primaryKey dao.Row) (dao.Row, error) {
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	key, err := keyItem(primaryKey, pks)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return nil, err
	}
	out, err := api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(table),
		Key:          key,
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return nil, a.fail("delete item from "+table, err)
	}
	if len(out.Attributes) == 0 {
		return nil, nil
	}
	return primaryKey, nil
}

// BulkDeleteRows deletes through BatchWriteItem, which does not report
// whether an item existed; the count is the number of keys submitted.
func (a *Adapter) BulkDeleteRows(ctx context.Context, table string, primaryKeys []dao.Row) (int64, error) {
	if len(primaryKeys) == 0 {
		return 0, nil
	}
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return 0, err
	}
	reqs := make([]types.WriteRequest, len(primaryKeys))
	for i, k := range primaryKeys {
		key, err := keyItem(k, pks)
		if err != nil {
			return 0, err
		}
		reqs[i] = types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}}
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err != nil {
		return 0, err
	}
	if err := batchWrite(ctx, api, table, reqs); err != nil {
		return 0, a.fail("batch delete from "+table, err)
	}
	return int64(len(reqs)), nil
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

// TestConnect lists one table name.
func (a *Adapter) TestConnect(ctx context.Context) dao.TestConnectResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	api, err := a.api(ctx)
	if err == nil {
		_, err = api.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(1)})
		err = a.fail("list tables", err)
	}
	if err != nil {
		a.log.Warn("Connection test failed", "error", err)
		return dao.TestConnectResult{Result: false, Message: dao.Message(err)}
	}
	return dao.TestConnectResult{Result: true, Message: "Connection established"}
}

// ImportCSV writes the records with BatchWriteItem, 25 items per request.
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
	attrTypes := structureTypes(structure)
	// Empty cells are left out rather than stored as NULL attributes.
	for _, row := range rows {
		for k, v := range row {
			if v == nil {
				delete(row, k)
			}
		}
	}
	api, err := a.api(ctx)
	if err != nil {
		return err
	}
	_, err = importer.Run(ctx, rows, a.opts.DynamoBatchSize, a.opts.ImportWorkers, func(ctx context.Context, batch []dao.Row) error {
		items := make([]types.WriteRequest, len(batch))
		for i, row := range batch {
			item, err := toItem(row, attrTypes)
			if err != nil {
				return err
			}
			items[i] = types.WriteRequest{PutRequest: &types.PutRequest{Item: item}}
		}
		return batchWrite(ctx, api, table, items)
	}, a.log)
	return a.fail("import into "+table, err)
}
