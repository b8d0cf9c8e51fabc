package sqldao

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
	"github.com/rowpane/rowpane/internal/filter"
	"github.com/rowpane/rowpane/internal/normalize"
	"github.com/rowpane/rowpane/internal/rescache"
)

func (a *Adapter) builder() *filter.Builder { return filter.NewBuilder(a.d) }

// GetStructure returns the normalized columns of table. A missing table has
// an empty structure.
func (a *Adapter) GetStructure(ctx context.Context, table string) ([]dao.ColumnInfo, error) {
	schema, name, _, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindStructure, func(ctx context.Context) ([]dao.ColumnInfo, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		db, err := a.db(ctx)
		if err != nil {
			return nil, err
		}
		cols, err := a.loadStructure(ctx, db, schema, name)
		return cols, a.fail("get structure of "+table, err)
	})
}

func (a *Adapter) loadStructure(ctx context.Context, db Querier, schema, table string) ([]dao.ColumnInfo, error) {
	b := a.builder()
	rows, err := db.QueryContext(ctx, a.d.ColumnsQuery(b, schema, table), b.Args()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var raw []normalize.RawColumn
	for rows.Next() {
		var (
			name, dataType                   string
			udt, nullable, def, ident, extra sql.NullString
			maxLen                           sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &udt, &nullable, &def, &maxLen, &ident, &extra); err != nil {
			return nil, err
		}
		rc := normalize.RawColumn{
			Name:     name,
			DataType: dataType,
			UDTName:  udt.String,
			Nullable: nullable.String,
			Identity: ident.String,
			Extra:    extra.String,
		}
		if def.Valid {
			d := def.String
			rc.Default = &d
		}
		if maxLen.Valid {
			n := maxLen.Int64
			rc.MaxLength = &n
		}
		raw = append(raw, rc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	cols := normalize.Columns(raw)
	if x, ok := a.d.(StructureExpander); ok && len(cols) > 0 {
		return x.ExpandStructure(ctx, db, schema, table, cols)
	}
	return cols, nil
}

// GetPrimaryKeys returns the primary key columns of table in key order.
func (a *Adapter) GetPrimaryKeys(ctx context.Context, table string) ([]dao.PrimaryKeyInfo, error) {
	schema, name, _, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindPrimaryKeys, func(ctx context.Context) ([]dao.PrimaryKeyInfo, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		db, err := a.db(ctx)
		if err != nil {
			return nil, err
		}
		b := a.builder()
		rows, err := db.QueryContext(ctx, a.d.PrimaryKeysQuery(b, schema, name), b.Args()...)
		if err != nil {
			return nil, a.fail("get primary keys of "+table, err)
		}
		defer rows.Close()
		pks := []dao.PrimaryKeyInfo{}
		for rows.Next() {
			var pk dao.PrimaryKeyInfo
			var dataType sql.NullString
			if err := rows.Scan(&pk.ColumnName, &dataType); err != nil {
				return nil, a.fail("get primary keys of "+table, err)
			}
			pk.DataType = strings.ToLower(dataType.String)
			pks = append(pks, pk)
		}
		return pks, a.fail("get primary keys of "+table, rows.Err())
	})
}

// GetForeignKeys returns the outgoing references of table.
func (a *Adapter) GetForeignKeys(ctx context.Context, table string) ([]dao.ForeignKeyInfo, error) {
	schema, name, _, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindForeignKeys, func(ctx context.Context) ([]dao.ForeignKeyInfo, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		db, err := a.db(ctx)
		if err != nil {
			return nil, err
		}
		b := a.builder()
		rows, err := db.QueryContext(ctx, a.d.ForeignKeysQuery(b, schema, name), b.Args()...)
		if err != nil {
			return nil, a.fail("get foreign keys of "+table, err)
		}
		defer rows.Close()
		fks := []dao.ForeignKeyInfo{}
		for rows.Next() {
			var fk dao.ForeignKeyInfo
			var constraint sql.NullString
			if err := rows.Scan(&fk.ColumnName, &fk.ReferencedTableName, &fk.ReferencedColumnName, &constraint); err != nil {
				return nil, a.fail("get foreign keys of "+table, err)
			}
			fk.ConstraintName = constraint.String
			fks = append(fks, fk)
		}
		return fks, a.fail("get foreign keys of "+table, rows.Err())
	})
}

// GetReferencingTables lists, per primary key column, the table columns
// whose foreign keys point at it.
func (a *Adapter) GetReferencingTables(ctx context.Context, table string) ([]dao.ReferencedTableNamesAndColumns, error) {
	schema, name, _, err := a.tableRef(table)
	if err != nil {
		return nil, err
	}
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	return rescache.Metadata(ctx, a.cache, a.params, table, rescache.KindReferencing, func(ctx context.Context) ([]dao.ReferencedTableNamesAndColumns, error) {
		ctx, cancel := a.withTimeout(ctx)
		defer cancel()
		db, err := a.db(ctx)
		if err != nil {
			return nil, err
		}
		b := a.builder()
		rows, err := db.QueryContext(ctx, a.d.ReferencingQuery(b, schema, name), b.Args()...)
		if err != nil {
			return nil, a.fail("get referencing tables of "+table, err)
		}
		defer rows.Close()

		byColumn := make(map[string][]dao.ReferencedBy)
		for rows.Next() {
			var refCol string
			var ref dao.ReferencedBy
			if err := rows.Scan(&refCol, &ref.TableName, &ref.ColumnName); err != nil {
				return nil, a.fail("get referencing tables of "+table, err)
			}
			byColumn[refCol] = append(byColumn[refCol], ref)
		}
		if err := rows.Err(); err != nil {
			return nil, a.fail("get referencing tables of "+table, err)
		}
		return GroupReferences(pks, byColumn), nil
	})
}

// GroupReferences builds one entry per primary key column, in key order.
func GroupReferences(pks []dao.PrimaryKeyInfo, byColumn map[string][]dao.ReferencedBy) []dao.ReferencedTableNamesAndColumns {
	out := make([]dao.ReferencedTableNamesAndColumns, 0, len(pks))
	for _, pk := range pks {
		refs := byColumn[pk.ColumnName]
		if refs == nil {
			refs = []dao.ReferencedBy{}
		}
		out = append(out, dao.ReferencedTableNamesAndColumns{
			ReferencedOnColumnName: pk.ColumnName,
			ReferencedBy:           refs,
		})
	}
	return out
}

// ListTables lists the tables and views of the connection's schema.
func (a *Adapter) ListTables(ctx context.Context) ([]dao.TableInfo, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(ctx)
	if err != nil {
		return nil, err
	}
	b := a.builder()
	rows, err := db.QueryContext(ctx, a.d.TablesQuery(b, a.schema), b.Args()...)
	if err != nil {
		return nil, a.fail("list tables", err)
	}
	defer rows.Close()

	tables := []dao.TableInfo{}
	for rows.Next() {
		var t dao.TableInfo
		var view sql.NullString
		if err := rows.Scan(&t.TableName, &view); err != nil {
			return nil, a.fail("list tables", err)
		}
		t.IsView = truthy(view.String)
		tables = append(tables, t)
	}
	return tables, a.fail("list tables", rows.Err())
}

func truthy(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "Y", "YES", "TRUE", "VIEW":
		return true
	}
	return false
}

// IsView reports whether table is a view. Unknown tables are not views.
func (a *Adapter) IsView(ctx context.Context, table string) (bool, error) {
	_, name, _, err := a.tableRef(table)
	if err != nil {
		return false, err
	}
	tables, err := a.ListTables(ctx)
	if err != nil {
		return false, err
	}
	for _, t := range tables {
		if t.TableName == name || t.TableName == table {
			return t.IsView, nil
		}
	}
	return false, nil
}

// ValidateSettings cross-checks settings against the structure and keys.
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

// TestConnect opens (or reuses) the connection and pings it.
func (a *Adapter) TestConnect(ctx context.Context) dao.TestConnectResult {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	db, err := a.db(ctx)
	if err == nil {
		err = a.fail("ping", db.PingContext(ctx))
	}
	if err != nil {
		a.log.Warn("Connection test failed", "error", err)
		return dao.TestConnectResult{Result: false, Message: dao.Message(err)}
	}
	return dao.TestConnectResult{Result: true, Message: "Connection established"}
}

// structureAndKeys loads both through the cache.
func (a *Adapter) structureAndKeys(ctx context.Context, table string) ([]dao.ColumnInfo, []dao.PrimaryKeyInfo, error) {
	structure, err := a.GetStructure(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	pks, err := a.GetPrimaryKeys(ctx, table)
	if err != nil {
		return nil, nil, err
	}
	return structure, pks, nil
}
