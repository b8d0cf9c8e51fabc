// Package filter translates the generic filter vocabulary, free-text search
// and autocomplete requests into each engine's native predicate form.
package filter

import (
	"fmt"
	"strings"

	"github.com/rowpane/rowpane/internal/dao"
)

// Dialect is the part of a SQL dialect the predicate builder needs.
type Dialect interface {
	// QuoteIdent quotes a validated identifier.
	QuoteIdent(name string) string
	// Placeholder returns the bind marker for the n-th argument (1-based).
	Placeholder(n int) string
	// TextExpr casts a quoted column to text so LIKE works on any type.
	TextExpr(quoted string) string
}

// WildcardDialect is implemented by dialects whose LIKE knows wildcards
// beyond % and _.
type WildcardDialect interface {
	LikeWildcards() string
}

// likeEscape is the escape character of every pattern the builder renders.
// A backslash would need doubling inside MySQL string literals.
const likeEscape = "!"

// escapeLike makes s match itself literally inside a LIKE pattern.
func (b *Builder) escapeLike(s string) string {
	specials := likeEscape + "%_"
	if w, ok := b.d.(WildcardDialect); ok {
		specials += w.LikeWildcards()
	}
	var sb strings.Builder
	for _, r := range s {
		if strings.ContainsRune(specials, r) {
			sb.WriteString(likeEscape)
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// like binds pattern and renders "expr LIKE ? ESCAPE '!'".
func (b *Builder) like(expr, op, pattern string) string {
	return expr + " " + op + " " + b.Arg(pattern) + " ESCAPE '" + likeEscape + "'"
}

// Builder accumulates SQL predicates and their bind arguments. Placeholders
// are numbered across everything added to one builder, so a builder must be
// used for exactly one statement.
type Builder struct {
	d       Dialect
	args    []any
	clauses []string
}

// NewBuilder returns an empty builder for d.
func NewBuilder(d Dialect) *Builder {
	return &Builder{d: d}
}

// Arg binds v and returns its placeholder.
func (b *Builder) Arg(v any) string {
	b.args = append(b.args, v)
	return b.d.Placeholder(len(b.args))
}

// Args returns the bound arguments in placeholder order.
func (b *Builder) Args() []any { return b.args }

// Quote validates and quotes an identifier.
func (b *Builder) Quote(name string) (string, error) {
	if err := dao.ValidateIdentifier(name); err != nil {
		return "", err
	}
	return b.d.QuoteIdent(name), nil
}

// Predicate translates one filter. ok is false for criteria outside the
// vocabulary, which are ignored.
func (b *Builder) Predicate(f dao.FilterSpec) (expr string, ok bool, err error) {
	col, err := b.Quote(f.Field)
	if err != nil {
		return "", false, err
	}
	text := b.d.TextExpr(col)

	switch f.Criteria.Normalize() {
	case dao.Eq:
		if f.Value == nil {
			return col + " IS NULL", true, nil
		}
		return col + " = " + b.Arg(f.Value), true, nil
	case dao.StartsWith:
		return b.like(text, "LIKE", b.escapeLike(toText(f.Value))+"%"), true, nil
	case dao.EndsWith:
		return b.like(text, "LIKE", "%"+b.escapeLike(toText(f.Value))), true, nil
	case dao.Contains:
		return b.like(text, "LIKE", "%"+b.escapeLike(toText(f.Value))+"%"), true, nil
	case dao.IContains:
		// NULL rows never match LIKE, so they belong to the "does not contain" side.
		return "(" + col + " IS NULL OR " + b.like(text, "NOT LIKE", "%"+b.escapeLike(toText(f.Value))+"%") + ")", true, nil
	case dao.Gt:
		return col + " > " + b.Arg(f.Value), true, nil
	case dao.Lt:
		return col + " < " + b.Arg(f.Value), true, nil
	case dao.Gte:
		return col + " >= " + b.Arg(f.Value), true, nil
	case dao.Lte:
		return col + " <= " + b.Arg(f.Value), true, nil
	case dao.Empty:
		return "(" + col + " IS NULL OR " + text + " = '')", true, nil
	}
	return "", false, nil
}

// AndFilters adds every known filter combined with AND.
func (b *Builder) AndFilters(filters []dao.FilterSpec) error {
	for _, f := range filters {
		expr, ok, err := b.Predicate(f)
		if err != nil {
			return err
		}
		if ok {
			b.clauses = append(b.clauses, expr)
		}
	}
	return nil
}

// OrSearch adds a case-insensitive substring match of value over fields,
// combined with OR. An empty value or field list adds nothing.
func (b *Builder) OrSearch(fields []string, value string) error {
	if value == "" || len(fields) == 0 {
		return nil
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		col, err := b.Quote(f)
		if err != nil {
			return err
		}
		parts = append(parts, b.like("LOWER("+b.d.TextExpr(col)+")", "LIKE", "%"+b.escapeLike(strings.ToLower(value))+"%"))
	}
	b.clauses = append(b.clauses, "("+strings.Join(parts, " OR ")+")")
	return nil
}

// OrPrefix adds a prefix match of value over fields combined with OR. It is
// the autocomplete predicate.
func (b *Builder) OrPrefix(fields []string, value string) error {
	if len(fields) == 0 {
		return nil
	}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		col, err := b.Quote(f)
		if err != nil {
			return err
		}
		parts = append(parts, b.like(b.d.TextExpr(col), "LIKE", b.escapeLike(value)+"%"))
	}
	b.clauses = append(b.clauses, "("+strings.Join(parts, " OR ")+")")
	return nil
}

// AndEquals adds column = value for every entry of key, in sorted column
// order. Nil values compare with IS NULL so whole-row keys of keyless tables
// match rows holding NULLs.
func (b *Builder) AndEquals(key dao.Row) error {
	if len(key) == 0 {
		return dao.Validationf("primary key must not be empty")
	}
	cols, err := dao.RowColumns(key)
	if err != nil {
		return err
	}
	for _, c := range cols {
		q := b.d.QuoteIdent(c)
		if key[c] == nil {
			b.clauses = append(b.clauses, q+" IS NULL")
			continue
		}
		b.clauses = append(b.clauses, q+" = "+b.Arg(key[c]))
	}
	return nil
}

// OrKeys adds (k1 AND k2) OR (k1 AND k2) for a batch of keys.
func (b *Builder) OrKeys(keys []dao.Row) error {
	if len(keys) == 0 {
		return dao.Validationf("at least one primary key is required")
	}
	groups := make([]string, 0, len(keys))
	for _, key := range keys {
		sub := &Builder{d: b.d, args: b.args}
		if err := sub.AndEquals(key); err != nil {
			return err
		}
		b.args = sub.args
		groups = append(groups, "("+strings.Join(sub.clauses, " AND ")+")")
	}
	b.clauses = append(b.clauses, "("+strings.Join(groups, " OR ")+")")
	return nil
}

// In adds column IN (...) for values.
func (b *Builder) In(column string, values []any) error {
	col, err := b.Quote(column)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		b.clauses = append(b.clauses, "1 = 0")
		return nil
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = b.Arg(v)
	}
	b.clauses = append(b.clauses, col+" IN ("+strings.Join(marks, ", ")+")")
	return nil
}

// Empty reports whether nothing was added.
func (b *Builder) Empty() bool { return len(b.clauses) == 0 }

// Where renders " WHERE ..." or "" when no predicate was added.
func (b *Builder) Where() string {
	if len(b.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.clauses, " AND ")
}

func toText(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
