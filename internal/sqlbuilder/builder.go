// Package sqlbuilder assembles parameterized SQL statements with positional
// placeholders. Values never end up in the statement text: every literal is
// appended to the argument list and referenced as $N, where N continues from
// however many arguments the builder has already collected. That numbering
// rule is what makes chains such as Select().Where().Limit() or
// Update().Where() produce correctly numbered parameters.
//
// Column names, operators, and sort directions are spliced verbatim. They are
// trusted input: call sites must supply them from fixed package-level
// constants, never from request data.
package sqlbuilder

import (
	"fmt"
	"strconv"
	"strings"
)

// Cond is one WHERE predicate: column <op> value.
type Cond struct {
	Column string
	Op     string
	Value  any
}

// Field is one column/value pair for INSERT and UPDATE statements.
type Field struct {
	Column string
	Value  any
}

// Builder accumulates one statement against a single table. Methods mutate
// the receiver and return it to permit chaining. A Builder is single-use;
// create a fresh one per statement.
type Builder struct {
	table string
	sql   string
	args  []any
}

func New(table string) *Builder {
	return &Builder{table: table}
}

// Select starts a SELECT statement. No fields means SELECT *.
func (b *Builder) Select(fields ...string) *Builder {
	cols := "*"
	if len(fields) > 0 {
		cols = strings.Join(fields, ", ")
	}
	b.sql = fmt.Sprintf("SELECT %s FROM %s", cols, b.table)
	return b
}

// Delete starts a DELETE statement with no conditions. Callers are expected
// to chain Where; an unconditioned delete is almost never what they want.
func (b *Builder) Delete() *Builder {
	b.sql = "DELETE FROM " + b.table
	return b
}

// Where appends a WHERE clause joining the conditions with AND. Placeholder
// numbering continues from the arguments already collected, so Where may
// follow Select, Update, or a previous Where-bearing clause.
func (b *Builder) Where(conds []Cond) *Builder {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		b.args = append(b.args, c.Value)
		parts = append(parts, fmt.Sprintf("%s %s $%d", c.Column, c.Op, len(b.args)))
	}
	b.sql = b.sql + " WHERE " + strings.Join(parts, " AND ")
	return b
}

// Limit appends LIMIT with the next free placeholder.
func (b *Builder) Limit(n int) *Builder {
	b.args = append(b.args, n)
	b.sql = b.sql + " LIMIT $" + strconv.Itoa(len(b.args))
	return b
}

// OrderBy appends ORDER BY verbatim. Column and direction cannot be
// parameterized in SQL and must come from a fixed whitelist.
func (b *Builder) OrderBy(column, direction string) *Builder {
	b.sql = fmt.Sprintf("%s ORDER BY %s %s", b.sql, column, direction)
	return b
}

// GroupBy appends GROUP BY verbatim, same trust boundary as OrderBy.
func (b *Builder) GroupBy(columns ...string) *Builder {
	b.sql = b.sql + " GROUP BY " + strings.Join(columns, ", ")
	return b
}

// Update starts an UPDATE statement. The argument list is replaced with the
// field values, not appended: a chained Where numbers its placeholders after
// the SET values.
func (b *Builder) Update(fields []Field) *Builder {
	parts := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, f := range fields {
		args = append(args, f.Value)
		parts = append(parts, fmt.Sprintf("%s = $%d", f.Column, i+1))
	}
	b.sql = fmt.Sprintf("UPDATE %s SET %s", b.table, strings.Join(parts, ", "))
	b.args = args
	return b
}

// Insert starts an INSERT statement, replacing any accumulated arguments
// with the field values in order.
func (b *Builder) Insert(fields []Field) *Builder {
	cols := make([]string, 0, len(fields))
	marks := make([]string, 0, len(fields))
	args := make([]any, 0, len(fields))
	for i, f := range fields {
		cols = append(cols, f.Column)
		marks = append(marks, "$"+strconv.Itoa(i+1))
		args = append(args, f.Value)
	}
	b.sql = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.table, strings.Join(cols, ", "), strings.Join(marks, ", "))
	b.args = args
	return b
}

// OnConflict appends conflict resolution to an INSERT. With no update fields
// the insert becomes a no-op on conflict; otherwise each named field is set
// from EXCLUDED.
func (b *Builder) OnConflict(column string, updateFields ...string) *Builder {
	if len(updateFields) == 0 {
		b.sql = fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", b.sql, column)
		return b
	}
	sets := make([]string, 0, len(updateFields))
	for _, f := range updateFields {
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", f, f))
	}
	b.sql = fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", b.sql, column, strings.Join(sets, ", "))
	return b
}

// Build returns the accumulated statement and its arguments.
func (b *Builder) Build() (string, []any) {
	return b.sql, b.args
}
