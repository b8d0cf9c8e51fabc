package dao

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// TableDescription bundles the introspection results of one table together
// with the structure of every table it references.
type TableDescription struct {
	Table            string                           `json:"table"`
	Structure        []ColumnInfo                     `json:"structure"`
	PrimaryKeys      []PrimaryKeyInfo                 `json:"primaryColumns"`
	ForeignKeys      []ForeignKeyInfo                 `json:"foreignKeys"`
	ReferencedBy     []ReferencedTableNamesAndColumns `json:"referencedTableNamesAndColumns"`
	ReferencedTables map[string][]ColumnInfo          `json:"referencedTables"`
	IsView           bool                             `json:"isView"`
}

// DescribeTable issues the read-only introspection calls concurrently, then
// expands the structure of each referenced table, one unit per table.
func DescribeTable(ctx context.Context, d DataAccessObject, table string) (*TableDescription, error) {
	desc := &TableDescription{Table: table}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		desc.Structure, err = d.GetStructure(gctx, table)
		return err
	})
	g.Go(func() (err error) {
		desc.PrimaryKeys, err = d.GetPrimaryKeys(gctx, table)
		return err
	})
	g.Go(func() (err error) {
		desc.ForeignKeys, err = d.GetForeignKeys(gctx, table)
		return err
	})
	g.Go(func() (err error) {
		desc.ReferencedBy, err = d.GetReferencingTables(gctx, table)
		return err
	})
	g.Go(func() (err error) {
		desc.IsView, err = d.IsView(gctx, table)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	refs, err := ExpandForeignKeys(ctx, d, desc.ForeignKeys)
	if err != nil {
		return nil, err
	}
	desc.ReferencedTables = refs
	return desc, nil
}

// ExpandForeignKeys loads the structure of every distinct referenced table concurrently.
func ExpandForeignKeys(ctx context.Context, d DataAccessObject, fks []ForeignKeyInfo) (map[string][]ColumnInfo, error) {
	out := make(map[string][]ColumnInfo)
	var mu sync.Mutex

	seen := make(map[string]struct{})
	g, gctx := errgroup.WithContext(ctx)
	for _, fk := range fks {
		ref := fk.ReferencedTableName
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		g.Go(func() error {
			cols, err := d.GetStructure(gctx, ref)
			if err != nil {
				return fmt.Errorf("structure of referenced table %s: %w", ref, err)
			}
			mu.Lock()
			out[ref] = cols
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
