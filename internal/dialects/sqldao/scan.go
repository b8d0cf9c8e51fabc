package sqldao

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
)

// normalizeValue turns driver byte slices into strings.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// rowScanner converts *sql.Rows into dao.Row values.
type rowScanner struct {
	names   []string
	dbTypes []string
	json    []bool
	conv    ValueConverter
}

func newRowScanner(rows *sql.Rows, structure []dao.ColumnInfo, conv ValueConverter) (*rowScanner, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	s := &rowScanner{
		names:   make([]string, len(types)),
		dbTypes: make([]string, len(types)),
		json:    make([]bool, len(types)),
		conv:    conv,
	}
	for i, t := range types {
		s.names[i] = t.Name()
		s.dbTypes[i] = strings.ToUpper(t.DatabaseTypeName())
		if dao.IsJSONType(s.dbTypes[i]) {
			s.json[i] = true
		} else if col, ok := dao.FindColumn(structure, t.Name()); ok && dao.IsJSONType(col.DataType) {
			s.json[i] = true
		}
	}
	return s, nil
}

func (s *rowScanner) scan(rows *sql.Rows) (dao.Row, error) {
	vals := make([]any, len(s.names))
	ptrs := make([]any, len(s.names))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	row := make(dao.Row, len(s.names))
	for i, name := range s.names {
		v := vals[i]
		if s.conv != nil {
			v = s.conv.ConvertValue(s.dbTypes[i], v)
		}
		if s.json[i] && v != nil {
			v = dao.DecodeJSONValue(v)
		} else {
			v = normalizeValue(v)
		}
		row[name] = v
	}
	return row, nil
}

func (s *rowScanner) all(rows *sql.Rows) ([]dao.Row, error) {
	out := []dao.Row{}
	for rows.Next() {
		row, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// rowStream adapts *sql.Rows to dao.RowStream.
type rowStream struct {
	rows    *sql.Rows
	scanner *rowScanner
	cancel  context.CancelFunc
	fail    func(error) error

	cur dao.Row
	err error
}

func (s *rowStream) Next() bool {
	if s.err != nil {
		return false
	}
	if !s.rows.Next() {
		if err := s.rows.Err(); err != nil {
			s.err = s.fail(err)
		}
		return false
	}
	row, err := s.scanner.scan(s.rows)
	if err != nil {
		s.err = s.fail(err)
		return false
	}
	s.cur = row
	return true
}

func (s *rowStream) Row() dao.Row { return s.cur }
func (s *rowStream) Err() error   { return s.err }

func (s *rowStream) Close() error {
	err := s.rows.Close()
	if s.cancel != nil {
		s.cancel()
	}
	return err
}
