package dao

import (
	"regexp"
	"slices"
	"strings"
)

// identifierRegex is the allow-list for table and column names that end up
// inside query text. Letters, digits, underscore, dollar, hash, space and
// hyphen are accepted. Quotes, semicolons, slashes and brackets
// are rejected.
var identifierRegex = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}_$# \-]*$`)

const maxIdentifierLength = 128

// ValidateIdentifier checks one identifier against the allow-list.
func ValidateIdentifier(name string) error {
	if name == "" {
		return Validationf("identifier must not be empty")
	}
	if len(name) > maxIdentifierLength {
		return Validationf("identifier %q is longer than %d characters", name, maxIdentifierLength)
	}
	if !identifierRegex.MatchString(name) {
		return Validationf("identifier %q contains disallowed characters", name)
	}
	return nil
}

// ValidateIdentifiers checks every name and returns the first violation.
func ValidateIdentifiers(names ...string) error {
	for _, n := range names {
		if err := ValidateIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}

// SplitTableName separates an optional "schema.table" qualifier. Both parts
// are validated.
func SplitTableName(name string) (schema, table string, err error) {
	schema, table, found := strings.Cut(name, ".")
	if !found {
		schema, table = "", name
	}
	if schema != "" {
		if err := ValidateIdentifier(schema); err != nil {
			return "", "", err
		}
	}
	if err := ValidateIdentifier(table); err != nil {
		return "", "", err
	}
	return schema, table, nil
}

// RowColumns validates and returns the keys of row in sorted order.
func RowColumns(row Row) ([]string, error) {
	cols := make([]string, 0, len(row))
	for k := range row {
		if err := ValidateIdentifier(k); err != nil {
			return nil, err
		}
		cols = append(cols, k)
	}
	slices.Sort(cols)
	return cols, nil
}
