package sqldao

import (
	"context"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
)

// selectList quotes the selectable columns of table.
func (a *Adapter) selectList(settings *dao.TableSettings, structure []dao.ColumnInfo) ([]string, string, error) {
	cols := dao.SelectableColumns(settings, structure)
	if len(cols) == 0 {
		return nil, "", dao.Validationf("table has no readable columns")
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		if err := dao.ValidateIdentifier(c); err != nil {
			return nil, "", err
		}
		quoted[i] = a.d.QuoteIdent(c)
	}
	return cols, strings.Join(quoted, ", "), nil
}

// GetRowByPrimaryKey returns the row matching primaryKey, or nil.
func (a *Adapter) GetRowByPrimaryKey(ctx context.Context, table string, primaryKey dao.Row, settings *dao.TableSettings) (dao.Row, error) {
	rows, err := a.getRows(ctx, table, []dao.Row{primaryKey}, settings)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// BulkGetRowsByPrimaryKeys returns the rows matching any of primaryKeys.
func (a *Adapter) BulkGetRowsByPrimaryKeys(ctx context.Context, table string, primaryKeys []dao.Row, settings *dao.TableSettings) ([]dao.Row, error) {
	return a.getRows(ctx, table, primaryKeys, settings)
}

func (a *Adapter) getRows(ctx context.Context, table string, keys []dao.Row, settings *dao.TableSettings) ([]dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	_, list, err := a.selectList(settings, structure)
	if err != nil {
		return nil, err
	}
	b := a.builder()
	if len(keys) == 1 {
		err = b.AndEquals(keys[0])
	} else {
		err = b.OrKeys(keys)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.query(ctx, db, structure, "SELECT "+list+" FROM "+ref+b.Where(), b.Args()...)
	return rows, a.fail("get rows from "+table, err)
}

// listPlan is the resolved form of a ListQuery.
type listPlan struct {
	schema, name, ref string
	structure         []dao.ColumnInfo
	list              string
	orderBy           string
	where             func() (*filter.Builder, error)
}

func (a *Adapter) plan(ctx context.Context, table string, q dao.ListQuery) (*listPlan, error) {
	schema, name, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	structure, pks, err := a.structureAndKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	cols, list, err := a.selectList(q.Settings, structure)
	if err != nil {
		return nil, err
	}
	field, dir := dao.ResolveOrdering(q.Settings, cols)
	if err := dao.ValidateIdentifier(field); err != nil {
		return nil, err
	}

	searchFields := dao.ResolveSearchFields(q.Settings, pks)
	filters := dao.KnownFilters(q.Filters)
	p := &listPlan{
		schema:    schema,
		name:      name,
		ref:       ref,
		structure: structure,
		list:      list,
		orderBy:   " ORDER BY " + a.d.QuoteIdent(field) + " " + string(dir),
	}
	// Count and page queries are separate statements with their own
	// placeholder numbering, so the predicate is rebuilt for each.
	p.where = func() (*filter.Builder, error) {
		b := a.builder()
		if q.Autocomplete != nil {
			return b, b.OrPrefix(q.Autocomplete.Fields, q.Autocomplete.Value)
		}
		if err := b.OrSearch(searchFields, q.SearchValue); err != nil {
			return nil, err
		}
		return b, b.AndFilters(filters)
	}
	return p, nil
}

// ListRows returns one page of rows. Autocomplete requests return up to the
// autocomplete limit with empty pagination.
func (a *Adapter) ListRows(ctx context.Context, table string, q dao.ListQuery) (*dao.PaginationResult, error) {
	if q.Autocomplete != nil && len(q.Autocomplete.Fields) == 0 {
		q.Autocomplete = nil
	}
	p, err := a.plan(ctx, table, q)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}

	if q.Autocomplete != nil {
		b, err := p.where()
		if err != nil {
			return nil, err
		}
		query := "SELECT " + p.list + " FROM " + p.ref + b.Where() + p.orderBy + " " + a.d.Paginate(a.opts.AutocompleteLimit, 0)
		rows, err := a.query(ctx, db, p.structure, query, b.Args()...)
		if err != nil {
			return nil, a.fail("autocomplete "+table, err)
		}
		return &dao.PaginationResult{Data: rows}, nil
	}

	page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
	count, err := dao.ResolveCount(ctx, a.opts.LargeDatasetThreshold, a.estimate(db, p.schema, p.name), func(ctx context.Context) (int64, error) {
		b, err := p.where()
		if err != nil {
			return 0, err
		}
		var n int64
		err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+p.ref+b.Where(), b.Args()...).Scan(&n)
		return n, err
	})
	if err != nil {
		return nil, a.fail("count rows of "+table, err)
	}

	b, err := p.where()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + p.list + " FROM " + p.ref + b.Where() + p.orderBy + " " + a.d.Paginate(perPage, dao.Offset(page, perPage))
	rows, err := a.query(ctx, db, p.structure, query, b.Args()...)
	if err != nil {
		return nil, a.fail("list rows of "+table, err)
	}
	return &dao.PaginationResult{
		Data:         rows,
		Pagination:   dao.NewPagination(count.Total, page, perPage),
		LargeDataset: count.LargeDataset,
	}, nil
}

// StreamRows yields the filtered rows of table without materializing them.
// Pagination applies only when PerPage is set. Tables whose estimate meets
// the large dataset threshold are refused.
func (a *Adapter) StreamRows(ctx context.Context, table string, q dao.ListQuery) (dao.RowStream, error) {
	q.Autocomplete = nil
	p, err := a.plan(ctx, table, q)
	if err != nil {
		return nil, err
	}
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	if err := dao.GuardStream(ctx, a.opts.LargeDatasetThreshold, a.estimate(db, p.schema, p.name)); err != nil {
		return nil, err
	}

	b, err := p.where()
	if err != nil {
		return nil, err
	}
	query := "SELECT " + p.list + " FROM " + p.ref + b.Where() + p.orderBy
	if q.PerPage > 0 {
		page, perPage := dao.ResolvePage(q, a.opts.DefaultPerPage)
		query += " " + a.d.Paginate(perPage, dao.Offset(page, perPage))
	}

	sctx, cancel := context.WithCancel(ctx)
	a.log.Debug("Stream", "sql", query)
	rows, err := db.QueryContext(sctx, query, b.Args()...)
	if err != nil {
		cancel()
		return nil, a.fail("stream rows of "+table, err)
	}
	scanner, err := newRowScanner(rows, p.structure, a.converter())
	if err != nil {
		rows.Close()
		cancel()
		return nil, a.fail("stream rows of "+table, err)
	}
	return &rowStream{
		rows:    rows,
		scanner: scanner,
		cancel:  cancel,
		fail:    func(err error) error { return a.fail("stream rows of "+table, err) },
	}, nil
}

// GetIdentityColumns returns {referencedFieldName, identityColumnName}
// projections of the rows whose referencedFieldName is in fieldValues.
func (a *Adapter) GetIdentityColumns(ctx context.Context, table, referencedFieldName, identityColumnName string, fieldValues []any) ([]dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	if err := dao.ValidateIdentifiers(referencedFieldName, identityColumnName); err != nil {
		return nil, err
	}
	b := a.builder()
	if err := b.In(referencedFieldName, fieldValues); err != nil {
		return nil, err
	}
	list := a.d.QuoteIdent(referencedFieldName)
	if identityColumnName != referencedFieldName {
		list += ", " + a.d.QuoteIdent(identityColumnName)
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.query(ctx, db, nil, "SELECT "+list+" FROM "+ref+b.Where(), b.Args()...)
	return rows, a.fail("get identity columns of "+table, err)
}
