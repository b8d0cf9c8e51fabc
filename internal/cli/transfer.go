package cli

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rowpane/rowpane/internal/dao"
)

func (a *app) newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import TABLE FILE",
		Short: "Import a CSV file into a table",
		Long: `Import a CSV file. The header row names the columns; the file is
validated and inserted by the adapter in batches.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, _, err := a.dao()
			if err != nil {
				return err
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if err := d.ImportCSV(cmd.Context(), args[0], data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %s into %s\n", humanize.Bytes(uint64(len(data))), args[0])
			return nil
		},
	}
}

func (a *app) newExportCmd() *cobra.Command {
	var (
		file    string
		search  string
		filters []string
	)
	cmd := &cobra.Command{
		Use:   "export TABLE",
		Short: "Stream a table as CSV",
		Long: `Stream every matching row as CSV. Tables above the large dataset
threshold are refused unless filters narrow them down.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, c, err := a.dao()
			if err != nil {
				return err
			}
			q := dao.ListQuery{Settings: c.TableSettings(args[0]), SearchValue: search}
			for _, f := range filters {
				spec, err := parseFilter(f)
				if err != nil {
					return err
				}
				q.Filters = append(q.Filters, spec)
			}

			ctx := cmd.Context()
			structure, err := d.GetStructure(ctx, args[0])
			if err != nil {
				return err
			}
			stream, err := d.StreamRows(ctx, args[0], q)
			if err != nil {
				return err
			}
			defer stream.Close()

			w := cmd.OutOrStdout()
			if file != "" && file != "-" {
				f, err := os.Create(file)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := writeCSV(w, exportColumns(structure, q.Settings), stream)
			if err != nil {
				return err
			}
			if file != "" && file != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %s rows to %s\n", humanize.Comma(n), file)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "output file (default stdout)")
	cmd.Flags().StringVar(&search, "search", "", "search value over the search fields")
	cmd.Flags().StringArrayVarP(&filters, "filter", "f", nil, "filter as field:criteria:value (repeatable)")
	return cmd
}

// exportColumns is the structure order, narrowed by list_fields and
// excluded_fields.
func exportColumns(structure []dao.ColumnInfo, settings *dao.TableSettings) []string {
	cols := dao.ColumnNames(structure)
	if settings == nil {
		return cols
	}
	listed := map[string]bool{}
	for _, f := range settings.ListFields {
		listed[f] = true
	}
	excluded := map[string]bool{}
	for _, f := range settings.ExcludedFields {
		excluded[f] = true
	}
	out := cols[:0:0]
	for _, c := range cols {
		if (len(listed) > 0 && !listed[c]) || excluded[c] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// writeCSV drains stream into w and returns the number of rows written.
func writeCSV(w io.Writer, cols []string, stream dao.RowStream) (int64, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(cols); err != nil {
		return 0, err
	}
	var n int64
	record := make([]string, len(cols))
	for stream.Next() {
		row := stream.Row()
		for i, c := range cols {
			record[i] = csvValue(row[c])
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	if err := stream.Err(); err != nil {
		return n, err
	}
	cw.Flush()
	return n, cw.Error()
}
