// Package chunk splits a table into Markdown text chunks that each fit a byte
// budget.
//
// Rows are packed greedily in table order. A row joins the current chunk when
// the chunk's header plus its re-rendered body, with the row included, still
// fits in the budget; otherwise the current chunk is closed and the row starts
// the next one. A single row that is larger than the budget on its own cannot
// be split and is emitted as a chunk by itself.
//
// Chunk is a pure function: it does no I/O, holds no state between calls and
// may run concurrently for different tables.
package chunk

import (
	"errors"
	"fmt"
)

// DefaultMaxBytes is the budget used when the caller configures none.
const DefaultMaxBytes = 2_000_000

// ErrInvalidConfiguration is returned for a non-positive budget or a table
// without columns.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// HeaderFunc returns the header text placed before the body of part n
// (1-based). Its bytes count toward the part's budget.
type HeaderFunc func(part int) string

// Part is one rendered chunk of a table.
type Part struct {
	Part int
	// Start and End delimit the table rows in this part: Rows[Start:End].
	Start int
	End   int

	Header string
	Body   string

	// Oversized is set when the part is a single row whose rendering alone
	// does not fit the budget.
	Oversized bool
}

// Text returns the full chunk content, header then body.
func (c Part) Text() string {
	return c.Header + c.Body
}

// Size returns the UTF-8 encoded length of Text.
func (c Part) Size() int {
	return len(c.Header) + len(c.Body)
}

// Len returns the number of rows in the chunk.
func (c Part) Len() int {
	return c.End - c.Start
}

// Chunk partitions t into parts whose rendered size is at most maxBytes.
//
// Concatenating the row ranges of the returned parts, in order, yields t.Rows
// exactly. A table with no rows yields no parts and no error.
func Chunk(t Table, maxBytes int, header HeaderFunc) ([]Part, error) {
	if maxBytes <= 0 {
		return nil, fmt.Errorf("%w: max bytes must be positive, got %d", ErrInvalidConfiguration, maxBytes)
	}
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("%w: table %q has no columns", ErrInvalidConfiguration, t.Name)
	}
	if len(t.Rows) == 0 {
		return nil, nil
	}
	if header == nil {
		header = func(int) string { return "" }
	}

	n := len(t.Columns)
	columns := make([]string, n)
	for i, c := range t.Columns {
		columns[i] = cellText(c)
	}

	var (
		out   []Part
		part  = 1
		start = 0
		head  = header(part)
		acc   = newLayout(columns)
	)

	for i, row := range t.Rows {
		cells := rowCells(row, n)
		candidate := acc.sizeWith(cells)

		if acc.rows > 0 && candidate+len(head) > maxBytes {
			out = append(out, build(t, start, i, part, head, maxBytes))
			part++
			head = header(part)
			start = i
			acc = newLayout(columns)
		}
		acc.add(cells)
	}
	out = append(out, build(t, start, len(t.Rows), part, head, maxBytes))

	return out, nil
}

func build(t Table, start, end, part int, head string, maxBytes int) Part {
	body := Render(t.Columns, t.Rows[start:end])
	return Part{
		Part:      part,
		Start:     start,
		End:       end,
		Header:    head,
		Body:      body,
		Oversized: len(head)+len(body) > maxBytes,
	}
}
