package dao

import (
	"fmt"
	"slices"
	"strings"
)

// ValidateTableSettings cross-checks every configured field list against the
// actual table structure and returns one message per violation.
func ValidateTableSettings(settings TableSettings, table string, structure []ColumnInfo, pks []PrimaryKeyInfo) []string {
	known := make(map[string]struct{}, len(structure))
	for _, c := range structure {
		known[c.ColumnName] = struct{}{}
	}

	var errs []string
	check := func(setting string, fields []string) {
		var missing []string
		for _, f := range fields {
			if _, ok := known[f]; !ok {
				missing = append(missing, f)
			}
		}
		if len(missing) > 0 {
			errs = append(errs, fmt.Sprintf("%s: there are no such fields: %s in the table %q", setting, strings.Join(missing, ", "), table))
		}
	}

	check("list_fields", settings.ListFields)
	check("excluded_fields", settings.ExcludedFields)
	check("search_fields", settings.SearchFields)
	check("readonly_fields", settings.ReadonlyFields)
	check("sortable_by", settings.SortableBy)
	check("autocomplete_columns", settings.AutocompleteColumns)
	if settings.OrderingField != "" {
		check("ordering_field", []string{settings.OrderingField})
	}
	if settings.IdentityColumn != "" {
		check("identity_column", []string{settings.IdentityColumn})
	}

	if settings.Ordering != "" {
		o := Ordering(strings.ToUpper(string(settings.Ordering)))
		if o != Asc && o != Desc {
			errs = append(errs, fmt.Sprintf("ordering: %q must be ASC or DESC", settings.Ordering))
		}
	}
	if settings.ListPerPage < 0 {
		errs = append(errs, "list_per_page: must be a positive number")
	}

	for _, pk := range pks {
		if slices.Contains(settings.ExcludedFields, pk.ColumnName) {
			errs = append(errs, fmt.Sprintf("excluded_fields: primary key column %q cannot be excluded", pk.ColumnName))
		}
	}
	return errs
}

// SelectableColumns resolves the column allow-list. An explicit list_fields
// wins; otherwise every column minus excluded_fields is returned.
func SelectableColumns(settings *TableSettings, structure []ColumnInfo) []string {
	if settings != nil && len(settings.ListFields) > 0 {
		out := make([]string, 0, len(settings.ListFields))
		for _, f := range settings.ListFields {
			if _, ok := FindColumn(structure, f); ok {
				out = append(out, f)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	out := make([]string, 0, len(structure))
	for _, c := range structure {
		if settings != nil && slices.Contains(settings.ExcludedFields, c.ColumnName) {
			continue
		}
		out = append(out, c.ColumnName)
	}
	return out
}

// ResolveOrdering returns the ordering column and direction. Without an
// explicit ordering_field the first available field is used ascending, so
// offset paging is stable on every engine.
func ResolveOrdering(settings *TableSettings, columns []string) (string, Ordering) {
	field := ""
	dir := Asc
	if settings != nil {
		if settings.OrderingField != "" && slices.Contains(columns, settings.OrderingField) {
			field = settings.OrderingField
		}
		if strings.EqualFold(string(settings.Ordering), string(Desc)) && field != "" {
			dir = Desc
		}
	}
	if field == "" && len(columns) > 0 {
		field = columns[0]
	}
	return field, dir
}

// ResolveSearchFields returns the fields a free-text search applies to:
// configured search_fields, or the primary key columns when none are set.
func ResolveSearchFields(settings *TableSettings, pks []PrimaryKeyInfo) []string {
	if settings != nil && len(settings.SearchFields) > 0 {
		return settings.SearchFields
	}
	return KeyNames(pks)
}

// ResolvePage normalizes page and perPage against settings and defaults.
func ResolvePage(q ListQuery, defaultPerPage int) (page, perPage int) {
	page, perPage = q.Page, q.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		if q.Settings != nil && q.Settings.ListPerPage > 0 {
			perPage = q.Settings.ListPerPage
		} else {
			perPage = defaultPerPage
		}
	}
	return page, perPage
}
