package chunk

import "fmt"

// Row is one table row. Cell i belongs to column i of the owning table; a row
// shorter than the column list has its trailing cells missing.
type Row []Value

// Cell returns the value for column index i, or Empty when the row is short.
func (r Row) Cell(i int) Value {
	if i < 0 || i >= len(r) {
		return Empty()
	}
	return r[i]
}

// Table is an ordered set of rows over named columns. Column order is fixed
// and names are unique. Row order is significant.
type Table struct {
	// Name is the sheet or table name, used for headers and identifiers.
	Name    string
	Columns []string
	Rows    []Row
}

// Record returns row i as a column name -> value mapping.
func (t Table) Record(i int) map[string]Value {
	rec := make(map[string]Value, len(t.Columns))
	row := t.Rows[i]
	for c, name := range t.Columns {
		rec[name] = row.Cell(c)
	}
	return rec
}

// ColumnIndex returns the position of the named column, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// CheckColumns reports duplicate column names. Readers call it before
// handing a table to Chunk.
func (t Table) CheckColumns() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate column %q in table %q", ErrInvalidConfiguration, c, t.Name)
		}
		seen[c] = struct{}{}
	}
	return nil
}
