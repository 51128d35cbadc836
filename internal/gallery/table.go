package gallery

import (
	"fmt"
	"slices"
)

// Table is an ordered set of equal-length string columns bound to a schema.
type Table struct {
	schema  []string
	columns []string
	data    map[string][]string
	rows    int
}

// NewTable returns an empty table holding every schema column.
func NewTable(schema []string) *Table {
	t := &Table{
		schema:  slices.Clone(schema),
		columns: slices.Clone(schema),
		data:    make(map[string][]string, len(schema)),
	}
	for _, c := range schema {
		t.data[c] = []string{}
	}
	return t
}

// Rows returns the row count.
func (t *Table) Rows() int { return t.rows }

// Columns returns the column names in table order.
func (t *Table) Columns() []string { return slices.Clone(t.columns) }

// Column returns a copy of one column.
func (t *Table) Column(name string) ([]string, bool) {
	v, ok := t.data[name]
	if !ok {
		return nil, false
	}
	return slices.Clone(v), true
}

// Set replaces a whole column. On an empty table the first column set
// fixes the row count and the other columns are padded with empty cells;
// afterwards values must match the row count.
func (t *Table) Set(name string, values []string) error {
	if !slices.Contains(t.schema, name) {
		return fmt.Errorf("%q: %w", name, ErrColumnNotInSchema)
	}
	if t.rows > 0 && len(values) != t.rows {
		return fmt.Errorf("%q has %d values for %d rows: %w", name, len(values), t.rows, ErrLengthMismatch)
	}

	if _, ok := t.data[name]; !ok {
		t.columns = append(t.columns, name)
	}
	if t.rows == 0 && len(values) > 0 {
		t.rows = len(values)
		for _, c := range t.columns {
			if len(t.data[c]) == 0 {
				t.data[c] = make([]string, t.rows)
			}
		}
	}
	t.data[name] = slices.Clone(values)
	return nil
}

// Row returns the cells of row i in column order.
func (t *Table) Row(i int) []string {
	row := make([]string, len(t.columns))
	for j, c := range t.columns {
		row[j] = t.data[c][i]
	}
	return row
}

// NonEmpty counts the non-empty cells of every column.
func (t *Table) NonEmpty() map[string]int {
	out := make(map[string]int, len(t.columns))
	for _, c := range t.columns {
		n := 0
		for _, v := range t.data[c] {
			if v != "" {
				n++
			}
		}
		out[c] = n
	}
	return out
}

// fromRows builds a table from a header and rows. Every header column must
// belong to schema.
func fromRows(schema, header []string, rows [][]string) (*Table, error) {
	t := &Table{
		schema: slices.Clone(schema),
		data:   make(map[string][]string, len(header)),
		rows:   len(rows),
	}
	for j, c := range header {
		if !slices.Contains(schema, c) {
			return nil, fmt.Errorf("%q: %w", c, ErrColumnNotInSchema)
		}
		if _, dup := t.data[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		col := make([]string, len(rows))
		for i, r := range rows {
			col[i] = r[j]
		}
		t.columns = append(t.columns, c)
		t.data[c] = col
	}
	return t, nil
}
