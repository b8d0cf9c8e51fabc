// Package normalize converts engine catalog metadata into dao.ColumnInfo.
package normalize

import (
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
)

// RawColumn is one catalog row as read by an adapter, before normalization.
type RawColumn struct {
	Name      string
	DataType  string
	UDTName   string
	Nullable  string
	Default   *string
	MaxLength *int64
	// Identity carries the engine's identity marker (YES, Y, 1, true, a, d).
	Identity string
	// Extra carries engine specific hints such as MySQL's auto_increment.
	Extra string
}

// Nullable resolves an engine nullability token to a boolean. Unknown tokens
// are treated as nullable.
func Nullable(token string) bool {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "NO", "N", "NOT NULL", "FALSE", "0":
		return false
	case "YES", "Y", "NULL", "TRUE", "1", "":
		return true
	}
	return true
}

// identityTokens are catalog markers for engine generated columns. Postgres
// attidentity uses 'a' (always) and 'd' (by default).
var identityTokens = map[string]bool{
	"YES": true, "Y": true, "1": true, "TRUE": true, "A": true, "D": true, "ALWAYS": true, "BY DEFAULT": true,
}

// IsIdentity reports whether the raw column is generated by the engine.
func IsIdentity(c RawColumn) bool {
	if identityTokens[strings.ToUpper(strings.TrimSpace(c.Identity))] {
		return true
	}
	if strings.Contains(strings.ToLower(c.Extra), "auto_increment") {
		return true
	}
	if c.Default != nil {
		d := strings.ToLower(*c.Default)
		switch {
		case strings.HasPrefix(d, "nextval("):
			return true
		case strings.Contains(d, ".nextval"):
			return true
		case strings.Contains(d, "iseq$$"):
			return true
		case d == "autoincrement" || d == "auto_increment":
			return true
		}
	}
	return false
}

// Column normalizes one raw column.
func Column(c RawColumn) dao.ColumnInfo {
	col := dao.ColumnInfo{
		ColumnName:             c.Name,
		DataType:               strings.ToLower(strings.TrimSpace(c.DataType)),
		AllowNull:              Nullable(c.Nullable),
		CharacterMaximumLength: c.MaxLength,
		UDTName:                c.UDTName,
	}
	switch {
	case IsIdentity(c):
		def := dao.AutoIncrement
		col.ColumnDefault = &def
	case c.Default != nil:
		def := cleanDefault(*c.Default)
		col.ColumnDefault = &def
	}
	return col
}

// Columns normalizes raw catalog rows in order.
func Columns(raw []RawColumn) []dao.ColumnInfo {
	out := make([]dao.ColumnInfo, 0, len(raw))
	for _, c := range raw {
		out = append(out, Column(c))
	}
	return out
}

// cleanDefault strips wrapping that some catalogs add around defaults:
// MSSQL stores ((0)) and ('abc'), Oracle pads with trailing whitespace.
func cleanDefault(d string) string {
	d = strings.TrimSpace(d)
	for len(d) >= 2 && d[0] == '(' && d[len(d)-1] == ')' && balanced(d[1:len(d)-1]) {
		d = strings.TrimSpace(d[1 : len(d)-1])
	}
	return d
}

func balanced(s string) bool {
	depth := 0
	for _, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}
