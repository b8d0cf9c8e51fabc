// Package importer parses delimited files into rows and writes them through
// an adapter in bounded-concurrency batches. It also renders row streams
// back to CSV and JSON for export.
package importer

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ParseCSV reads a header line followed by records. Empty cells become nil so
// nullable columns of any type accept them. Every record must have as many
// fields as the header.
func ParseCSV(data []byte) ([]dao.Row, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, dao.Validationf("csv file is empty")
	}
	if err != nil {
		return nil, dao.Validationf("csv header: %v", err)
	}

	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if err := dao.ValidateIdentifier(h); err != nil {
			return nil, dao.Validationf("csv header column %d: %v", i+1, dao.Message(err))
		}
		if _, dup := seen[h]; dup {
			return nil, dao.Validationf("csv header: duplicate column %q", h)
		}
		seen[h] = struct{}{}
		header[i] = h
	}

	var rows []dao.Row
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, dao.Validationf("csv: %v", err)
		}
		row := make(dao.Row, len(header))
		for i, v := range record {
			if v == "" {
				row[header[i]] = nil
				continue
			}
			row[header[i]] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// WriteCSV drains stream into w. The header is columns when given, otherwise
// the sorted keys of the first row. Nil values are written as empty cells.
func WriteCSV(w io.Writer, stream dao.RowStream, columns []string) (int, error) {
	defer stream.Close()
	cw := csv.NewWriter(w)

	n := 0
	headerDone := false
	for stream.Next() {
		row := stream.Row()
		if !headerDone {
			if len(columns) == 0 {
				cols, err := dao.RowColumns(row)
				if err != nil {
					return n, err
				}
				columns = cols
			}
			if err := cw.Write(columns); err != nil {
				return n, fmt.Errorf("failed to write header: %w", err)
			}
			headerDone = true
		}
		record := make([]string, len(columns))
		for i, c := range columns {
			record[i] = cell(row[c])
		}
		if err := cw.Write(record); err != nil {
			return n, fmt.Errorf("failed to write row: %w", err)
		}
		n++
	}
	if err := stream.Err(); err != nil {
		return n, err
	}
	if !headerDone && len(columns) > 0 {
		if err := cw.Write(columns); err != nil {
			return n, fmt.Errorf("failed to write header: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, fmt.Errorf("csv write error: %w", err)
	}
	return n, nil
}

// WriteJSON drains stream into w as a JSON array of objects.
func WriteJSON(w io.Writer, stream dao.RowStream) (int, error) {
	rows, err := dao.Collect(stream)
	if err != nil {
		return 0, err
	}
	if rows == nil {
		rows = []dao.Row{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		return 0, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return len(rows), nil
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
	return fmt.Sprint(v)
}
