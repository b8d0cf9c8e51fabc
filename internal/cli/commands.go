package cli

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/xlab/treeprint"

	"github.com/rowpane/rowpane/internal/dao"
)

// ErrTestFailed is returned by `rowpane test` when the connection is down.
var ErrTestFailed = errors.New("connection test failed")

func (a *app) newTestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Test the selected connection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, c, err := a.dao()
			if err != nil {
				return err
			}
			res := d.TestConnect(cmd.Context())
			w := cmd.OutOrStdout()
			if a.output != FormatTable {
				if err := render(w, a.output, res); err != nil {
					return err
				}
			} else if res.Result {
				fmt.Fprintf(w, "%s %s (%s): %s\n", color.GreenString("OK"), c.Name, c.Type, res.Message)
			} else {
				fmt.Fprintf(w, "%s %s (%s): %s\n", color.RedString("FAIL"), c.Name, c.Type, res.Message)
			}
			if !res.Result {
				return ErrTestFailed
			}
			return nil
		},
	}
}

func (a *app) newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables and views",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := a.dao()
			if err != nil {
				return err
			}
			tables, err := d.ListTables(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.output != FormatTable {
				return render(w, a.output, tables)
			}
			t := newTable(w)
			t.AppendHeader(table.Row{"table", "view"})
			for _, ti := range tables {
				view := ""
				if ti.IsView {
					view = "yes"
				}
				t.AppendRow(table.Row{ti.TableName, view})
			}
			t.Render()
			return nil
		},
	}
}

func (a *app) newDescribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "describe TABLE",
		Short: "Show the structure, keys and references of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := a.dao()
			if err != nil {
				return err
			}
			desc, err := dao.DescribeTable(cmd.Context(), d, args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.output != FormatTable {
				return render(w, a.output, desc)
			}

			pks := map[string]bool{}
			for _, pk := range desc.PrimaryKeys {
				pks[pk.ColumnName] = true
			}
			t := newTable(w)
			t.SetTitle(desc.Table)
			t.AppendHeader(table.Row{"column", "type", "null", "default", "key"})
			for _, c := range desc.Structure {
				null, def, key := "", "", ""
				if c.AllowNull {
					null = "yes"
				}
				if c.ColumnDefault != nil {
					def = *c.ColumnDefault
				}
				if pks[c.ColumnName] {
					key = "PK"
				}
				typ := c.DataType
				if c.CharacterMaximumLength != nil {
					typ += "(" + strconv.FormatInt(*c.CharacterMaximumLength, 10) + ")"
				}
				t.AppendRow(table.Row{c.ColumnName, typ, null, def, key})
			}
			t.Render()
			if desc.IsView {
				fmt.Fprintln(w, "(view)")
			}
			return nil
		},
	}
}

func (a *app) newRefsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refs TABLE",
		Short: "Show a tree of the foreign keys around a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := a.dao()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			name := args[0]
			fks, err := d.GetForeignKeys(ctx, name)
			if err != nil {
				return err
			}
			refs, err := d.GetReferencingTables(ctx, name)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.output != FormatTable {
				return render(w, a.output, map[string]any{"foreignKeys": fks, "referencedBy": refs})
			}
			fmt.Fprint(w, refTree(name, fks, refs).String())
			return nil
		},
	}
}

func refTree(name string, fks []dao.ForeignKeyInfo, refs []dao.ReferencedTableNamesAndColumns) treeprint.Tree {
	tree := treeprint.New()
	tree.SetValue(name)

	out := tree.AddBranch("references")
	for _, fk := range fks {
		out.AddNode(fmt.Sprintf("%s -> %s.%s", fk.ColumnName, fk.ReferencedTableName, fk.ReferencedColumnName))
	}
	in := tree.AddBranch("referenced by")
	for _, r := range refs {
		col := in.AddBranch(r.ReferencedOnColumnName)
		for _, by := range r.ReferencedBy {
			col.AddNode(by.TableName + "." + by.ColumnName)
		}
	}
	return tree
}

func (a *app) newRowsCmd() *cobra.Command {
	var (
		page, perPage int
		search        string
		filters       []string
	)
	cmd := &cobra.Command{
		Use:   "rows TABLE",
		Short: "List one page of rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, c, err := a.dao()
			if err != nil {
				return err
			}
			q := dao.ListQuery{
				Settings:    c.TableSettings(args[0]),
				Page:        page,
				PerPage:     perPage,
				SearchValue: search,
			}
			for _, f := range filters {
				spec, err := parseFilter(f)
				if err != nil {
					return err
				}
				q.Filters = append(q.Filters, spec)
			}
			res, err := d.ListRows(cmd.Context(), args[0], q)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.output != FormatTable {
				return render(w, a.output, res)
			}
			var preferred []string
			if q.Settings != nil {
				preferred = q.Settings.ListFields
			}
			renderRowTable(w, res.Data, preferred)
			fmt.Fprintln(w, formatPagination(res.Pagination, res.LargeDataset))
			return nil
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&perPage, "per-page", 0, "rows per page (default from table settings)")
	cmd.Flags().StringVar(&search, "search", "", "search value over the search fields")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as field:criteria:value (repeatable)")
	return cmd
}

func (a *app) newGetCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "get TABLE --key JSON",
		Short: "Fetch rows by primary key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, c, err := a.dao()
			if err != nil {
				return err
			}
			keys, err := parseKeys(key)
			if err != nil {
				return err
			}
			settings := c.TableSettings(args[0])
			var rows []dao.Row
			if len(keys) == 1 {
				row, err := d.GetRowByPrimaryKey(cmd.Context(), args[0], keys[0], settings)
				if err != nil {
					return err
				}
				if row != nil {
					rows = []dao.Row{row}
				}
			} else if rows, err = d.BulkGetRowsByPrimaryKeys(cmd.Context(), args[0], keys, settings); err != nil {
				return err
			}
			if rows == nil {
				rows = []dao.Row{}
			}
			w := cmd.OutOrStdout()
			if a.output != FormatTable {
				return render(w, a.output, rows)
			}
			renderRowTable(w, rows, nil)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", `primary key, e.g. '{"id": 1}', or an array of keys`)
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func (a *app) newInsertCmd() *cobra.Command {
	var data string
	cmd := &cobra.Command{
		Use:   "insert TABLE --data JSON",
		Short: "Insert a row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := a.dao()
			if err != nil {
				return err
			}
			row, err := parseRow("data", data)
			if err != nil {
				return err
			}
			key, err := d.AddRow(cmd.Context(), args[0], row)
			if err != nil {
				return err
			}
			return a.printRows(cmd, []dao.Row{key})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "row values as a JSON object")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (a *app) newUpdateCmd() *cobra.Command {
	var key, data string
	cmd := &cobra.Command{
		Use:   "update TABLE --key JSON --data JSON",
		Short: "Update rows by primary key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := a.dao()
			if err != nil {
				return err
			}
			keys, err := parseKeys(key)
			if err != nil {
				return err
			}
			row, err := parseRow("data", data)
			if err != nil {
				return err
			}
			var rows []dao.Row
			if len(keys) == 1 {
				updated, err := d.UpdateRow(cmd.Context(), args[0], row, keys[0])
				if err != nil {
					return err
				}
				if updated != nil {
					rows = []dao.Row{updated}
				}
			} else if rows, err = d.BulkUpdateRows(cmd.Context(), args[0], row, keys); err != nil {
				return err
			}
			return a.printRows(cmd, rows)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "primary key object or array of keys")
	cmd.Flags().StringVar(&data, "data", "", "new values as a JSON object")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("data")
	return cmd
}

func (a *app) newDeleteCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "delete TABLE --key JSON",
		Short: "Delete rows by primary key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := a.dao()
			if err != nil {
				return err
			}
			keys, err := parseKeys(key)
			if err != nil {
				return err
			}
			if len(keys) == 1 {
				old, err := d.DeleteRow(cmd.Context(), args[0], keys[0])
				if err != nil {
					return err
				}
				var rows []dao.Row
				if old != nil {
					rows = []dao.Row{old}
				}
				return a.printRows(cmd, rows)
			}
			n, err := d.BulkDeleteRows(cmd.Context(), args[0], keys)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if a.output != FormatTable {
				return render(w, a.output, map[string]int64{"deleted": n})
			}
			fmt.Fprintf(w, "deleted %d rows\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "primary key object or array of keys")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func (a *app) printRows(cmd *cobra.Command, rows []dao.Row) error {
	if rows == nil {
		rows = []dao.Row{}
	}
	w := cmd.OutOrStdout()
	if a.output != FormatTable {
		return render(w, a.output, rows)
	}
	renderRowTable(w, rows, nil)
	return nil
}
