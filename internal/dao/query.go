package dao

import (
	"encoding/json"
	"strings"
)

// Criteria is one filter predicate kind. The set is closed; unknown values
// are ignored by every translator.
type Criteria string

const (
	Eq         Criteria = "eq"
	StartsWith Criteria = "startswith"
	EndsWith   Criteria = "endswith"
	Gt         Criteria = "gt"
	Lt         Criteria = "lt"
	Lte        Criteria = "lte"
	Gte        Criteria = "gte"
	Contains   Criteria = "contains"
	// IContains means "does not contain".
	IContains Criteria = "icontains"
	Empty     Criteria = "empty"
)

var criteriaSet = map[Criteria]struct{}{
	Eq: {}, StartsWith: {}, EndsWith: {}, Gt: {}, Lt: {}, Lte: {}, Gte: {},
	Contains: {}, IContains: {}, Empty: {},
}

// Known reports whether c belongs to the criteria vocabulary.
func (c Criteria) Known() bool {
	_, ok := criteriaSet[Criteria(strings.ToLower(string(c)))]
	return ok
}

// Normalize lower-cases c.
func (c Criteria) Normalize() Criteria {
	return Criteria(strings.ToLower(string(c)))
}

// FilterSpec is one predicate over a field.
type FilterSpec struct {
	Field    string   `json:"field"`
	Criteria Criteria `json:"criteria"`
	Value    any      `json:"value"`
}

// KnownFilters drops filters whose criteria are not in the vocabulary.
func KnownFilters(filters []FilterSpec) []FilterSpec {
	out := make([]FilterSpec, 0, len(filters))
	for _, f := range filters {
		if !f.Criteria.Known() {
			continue
		}
		f.Criteria = f.Criteria.Normalize()
		out = append(out, f)
	}
	return out
}

// Ordering is the sort direction of a listing.
type Ordering string

const (
	Asc  Ordering = "ASC"
	Desc Ordering = "DESC"
)

// TableSettings is the per-table display configuration owned by the settings store.
type TableSettings struct {
	ListFields          []string `json:"list_fields,omitempty" mapstructure:"list_fields" yaml:"list_fields,omitempty"`
	ExcludedFields      []string `json:"excluded_fields,omitempty" mapstructure:"excluded_fields" yaml:"excluded_fields,omitempty"`
	SearchFields        []string `json:"search_fields,omitempty" mapstructure:"search_fields" yaml:"search_fields,omitempty"`
	ReadonlyFields      []string `json:"readonly_fields,omitempty" mapstructure:"readonly_fields" yaml:"readonly_fields,omitempty"`
	SortableBy          []string `json:"sortable_by,omitempty" mapstructure:"sortable_by" yaml:"sortable_by,omitempty"`
	AutocompleteColumns []string `json:"autocomplete_columns,omitempty" mapstructure:"autocomplete_columns" yaml:"autocomplete_columns,omitempty"`
	OrderingField       string   `json:"ordering_field,omitempty" mapstructure:"ordering_field" yaml:"ordering_field,omitempty"`
	Ordering            Ordering `json:"ordering,omitempty" mapstructure:"ordering" yaml:"ordering,omitempty"`
	IdentityColumn      string   `json:"identity_column,omitempty" mapstructure:"identity_column" yaml:"identity_column,omitempty"`
	ListPerPage         int      `json:"list_per_page,omitempty" mapstructure:"list_per_page" yaml:"list_per_page,omitempty"`
}

// AutocompleteQuery asks for a bounded prefix match over fields.
type AutocompleteQuery struct {
	Fields []string `json:"fields"`
	Value  string   `json:"value"`
}

// ListQuery carries the listing parameters shared by ListRows and StreamRows.
type ListQuery struct {
	Settings     *TableSettings     `json:"settings,omitempty"`
	Page         int                `json:"page"`
	PerPage      int                `json:"perPage"`
	SearchValue  string             `json:"searchedFieldValue,omitempty"`
	Filters      []FilterSpec       `json:"filteringFields,omitempty"`
	Autocomplete *AutocompleteQuery `json:"autocompleteFields,omitempty"`
}

// Pagination is the metadata block of a PaginationResult. It is the zero
// value for autocomplete results.
type Pagination struct {
	Total       int64 `json:"total"`
	LastPage    int   `json:"lastPage"`
	PerPage     int   `json:"perPage"`
	CurrentPage int   `json:"currentPage"`
}

// PaginationResult is one page of rows plus metadata. When LargeDataset is
// true the total is an estimate.
type PaginationResult struct {
	Data         []Row      `json:"data"`
	Pagination   Pagination `json:"pagination"`
	LargeDataset bool       `json:"large_dataset"`
}

// MarshalJSON keeps data a JSON array when there are no rows.
func (r PaginationResult) MarshalJSON() ([]byte, error) {
	type alias PaginationResult
	if r.Data == nil {
		r.Data = []Row{}
	}
	return json.Marshal(alias(r))
}
