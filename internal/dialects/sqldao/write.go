package sqldao

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/importer"
)

// AddRow inserts row. Tables with a primary key return the (possibly
// generated) key; keyless tables echo the inserted values.
func (a *Adapter) AddRow(ctx context.Context, table string, row dao.Row) (dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	structure, pks, err := a.structureAndKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	values, err := dao.PrepareJSONValues(row, structure)
	if err != nil {
		return nil, err
	}
	s, err := newInsert(a.d, ref, values, pks)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	if len(pks) == 0 {
		if _, err := db.ExecContext(ctx, s.SQL(), s.Args...); err != nil {
			return nil, a.fail("insert into "+table, err)
		}
		return row, nil
	}
	key, err := a.d.Insert(ctx, db, s)
	if err != nil {
		return nil, a.fail("insert into "+table, err)
	}
	return key, nil
}

// updateStatement renders UPDATE ref SET ... WHERE key.
func (a *Adapter) updateStatement(ref string, values, key dao.Row) (string, []any, error) {
	cols, err := dao.RowColumns(values)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, dao.Validationf("no values to update")
	}
	b := a.builder()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = a.d.QuoteIdent(c) + " = " + b.Arg(values[c])
	}
	if err := b.AndEquals(key); err != nil {
		return "", nil, err
	}
	return "UPDATE " + ref + " SET " + strings.Join(sets, ", ") + b.Where(), b.Args(), nil
}

// nextKey applies updated key columns to the old key.
func nextKey(key, values dao.Row) dao.Row {
	out := make(dao.Row, len(key))
	for k, v := range key {
		if nv, ok := values[k]; ok {
			v = nv
		}
		out[k] = v
	}
	return out
}

// UpdateRow updates the row matching primaryKey and returns it re-read.
// Nil is returned when no row matches.
func (a *Adapter) UpdateRow(ctx context.Context, table string, row dao.Row, primaryKey dao.Row) (dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	values, err := dao.PrepareJSONValues(row, structure)
	if err != nil {
		return nil, err
	}
	query, args, err := a.updateStatement(ref, values, primaryKey)
	if err != nil {
		return nil, err
	}

	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(tctx)
	if err != nil {
		return nil, err
	}
	res, err := db.ExecContext(tctx, query, args...)
	if err != nil {
		return nil, a.fail("update "+table, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, nil
	}
	return a.GetRowByPrimaryKey(ctx, table, nextKey(primaryKey, row), nil)
}

// BulkUpdateRows applies newValues to every key in one transaction and
// returns the updated rows.
func (a *Adapter) BulkUpdateRows(ctx context.Context, table string, newValues dao.Row, primaryKeys []dao.Row) ([]dao.Row, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	if len(primaryKeys) == 0 {
		return []dao.Row{}, nil
	}
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, err
	}
	values, err := dao.PrepareJSONValues(newValues, structure)
	if err != nil {
		return nil, err
	}

	tctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(tctx)
	if err != nil {
		return nil, err
	}
	err = a.inTx(tctx, db, func(tx *sql.Tx) error {
		for _, key := range primaryKeys {
			query, args, err := a.updateStatement(ref, values, key)
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(tctx, query, args...); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, a.fail("bulk update "+table, err)
	}

	keys := make([]dao.Row, len(primaryKeys))
	for i, k := range primaryKeys {
		keys[i] = nextKey(k, newValues)
	}
	return a.BulkGetRowsByPrimaryKeys(ctx, table, keys, nil)
}

// DeleteRow deletes the row matching primaryKey and echoes the key.
func (a *Adapter) DeleteRow(ctx context.Context, table string, primaryKey dao.Row) (dao.Row, error) {
	n, err := a.deleteKeys(ctx, table, []dao.Row{primaryKey})
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}
	return primaryKey, nil
}

// BulkDeleteRows deletes every listed key and returns the number of rows removed.
func (a *Adapter) BulkDeleteRows(ctx context.Context, table string, primaryKeys []dao.Row) (int64, error) {
	if len(primaryKeys) == 0 {
		return 0, nil
	}
	return a.deleteKeys(ctx, table, primaryKeys)
}

func (a *Adapter) deleteKeys(ctx context.Context, table string, keys []dao.Row) (int64, error) {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return 0, err
	}
	b := a.builder()
	if len(keys) == 1 {
		err = b.AndEquals(keys[0])
	} else {
		err = b.OrKeys(keys)
	}
	if err != nil {
		return 0, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(ctx)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, "DELETE FROM "+ref+b.Where(), b.Args()...)
	if err != nil {
		return 0, a.fail("delete from "+table, err)
	}
	n, err := res.RowsAffected()
	return n, a.fail("delete from "+table, err)
}

// ImportCSV inserts every record of data. Batches run in their own
// transaction with bounded concurrency.
func (a *Adapter) ImportCSV(ctx context.Context, table string, data []byte) error {
	_, _, ref, err := a.tableRef(table)
	if err != nil {
		return err
	}
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
	for col := range rows[0] {
		if _, ok := dao.FindColumn(structure, col); !ok {
			return dao.Validationf("column %q does not exist in table %q", col, table)
		}
	}
	db, err := a.db(ctx)
	if err != nil {
		return err
	}

	_, err = importer.Run(ctx, rows, a.opts.SQLBatchSize, a.opts.ImportWorkers, func(ctx context.Context, batch []dao.Row) error {
		return a.inTx(ctx, db, func(tx *sql.Tx) error {
			for _, row := range batch {
				values, err := dao.PrepareJSONValues(row, structure)
				if err != nil {
					return err
				}
				s, err := newInsert(a.d, ref, values, nil)
				if err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, s.SQL(), s.Args...); err != nil {
					return err
				}
			}
			return nil
		})
	}, a.log)
	return a.fail("import into "+table, err)
}

func (a *Adapter) inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
