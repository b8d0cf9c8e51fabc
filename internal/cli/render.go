package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/rowpane/rowpane/internal/dao"
)

// render writes v as JSON or YAML. Table output is handled per command.
func render(w io.Writer, format string, v any) error {
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toPlain(v)); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}

// toPlain round-trips v through JSON so YAML output uses the JSON field
// names.
func toPlain(v any) any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

// rowColumns orders columns by first appearance, the way adapters return
// them, with keys of later rows appended sorted.
func rowColumns(rows []dao.Row, preferred []string) []string {
	seen := map[string]bool{}
	var cols []string
	for _, c := range preferred {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	for _, r := range rows {
		var extra []string
		for k := range r {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
		slices.Sort(extra)
		cols = append(cols, extra...)
	}
	return cols
}

func renderRowTable(w io.Writer, rows []dao.Row, preferred []string) {
	if len(rows) == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}
	cols := rowColumns(rows, preferred)
	t := newTable(w)
	header := make(table.Row, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	t.AppendHeader(header)
	for _, r := range rows {
		line := make(table.Row, len(cols))
		for i, c := range cols {
			v, ok := r[c]
			if !ok {
				line[i] = ""
				continue
			}
			line[i] = formatValue(v)
		}
		t.AppendRow(line)
	}
	t.Render()
}

func formatPagination(p dao.Pagination, largeDataset bool) string {
	total := humanize.Comma(p.Total)
	if largeDataset {
		total = "~" + total
	}
	return fmt.Sprintf("page %d of %d, %s rows", p.CurrentPage, max(p.LastPage, 1), total)
}

// formatValue renders one cell. Composite values print as JSON.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339Nano)
	case map[string]any, []any, dao.Row:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}

// csvValue is formatValue with NULL rendered as an empty field.
func csvValue(v any) string {
	if v == nil {
		return ""
	}
	return formatValue(v)
}
