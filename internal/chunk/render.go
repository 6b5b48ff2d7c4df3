package chunk

// render.go turns a run of rows into a Markdown pipe table:
//
//	| Name   |   Qty |
//	|:-------|------:|
//	| apple  |     3 |
//
// Every column is padded to the widest cell (header included), so the size of
// a rendering is not the sum of per-row sizes. layout tracks the quantities the
// size depends on and answers "how big would this be with one more row"
// exactly, without building the string.

import (
	"strings"
	"unicode/utf8"
)

var cellEscaper = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "|", `\|`)

// cellText is the single-line form of a cell as written into the table.
func cellText(s string) string {
	if !strings.ContainsAny(s, "\r\n|") {
		return s
	}
	return cellEscaper.Replace(s)
}

// rowCells returns the rendered text for each of n columns.
func rowCells(r Row, n int) []string {
	cells := make([]string, n)
	for i := range cells {
		cells[i] = cellText(r.Cell(i).String())
	}
	return cells
}

// layout is the size model of a rendered table.
type layout struct {
	widths []int // display width per column, in runes
	extra  int   // sum over every cell of (bytes - runes)
	rows   int   // data rows
}

func newLayout(header []string) *layout {
	l := &layout{widths: make([]int, len(header))}
	for i, h := range header {
		n := utf8.RuneCountInString(h)
		l.widths[i] = max(n, 1)
		l.extra += len(h) - n
	}
	return l
}

func (l *layout) add(cells []string) {
	for i, c := range cells {
		n := utf8.RuneCountInString(c)
		l.widths[i] = max(l.widths[i], n)
		l.extra += len(c) - n
	}
	l.rows++
}

// size returns the byte length of the rendering.
func (l *layout) size() int {
	sum := 0
	for _, w := range l.widths {
		sum += w
	}
	return tableSize(len(l.widths), l.rows, sum, l.extra)
}

// sizeWith returns the byte length the rendering would have with cells
// appended as one more row. l is not modified.
func (l *layout) sizeWith(cells []string) int {
	sum, extra := 0, l.extra
	for i, c := range cells {
		n := utf8.RuneCountInString(c)
		sum += max(l.widths[i], n)
		extra += len(c) - n
	}
	return tableSize(len(l.widths), l.rows+1, sum, extra)
}

// tableSize is the byte length of a table with n columns, rows data rows,
// total column width sumW and multi-byte surplus extra.
//
// A content line is "| " + cells joined by " | " + " |", each cell padded
// to its column width: 3n+1 bytes of framing plus sumW plus the cells'
// multi-byte surplus. The separator line is "|" + n segments of width+2 +
// n pipes: sumW+3n+1 bytes. Lines are joined by '\n'.
func tableSize(n, rows, sumW, extra int) int {
	lines := rows + 1 // header and data lines
	return lines*(3*n+1) + (lines+1)*sumW + extra + 3*n + 1 + lines
}

// Render returns the Markdown table for rows under columns. The result has
// no trailing newline.
func Render(columns []string, rows []Row) string {
	n := len(columns)
	header := make([]string, n)
	for i, c := range columns {
		header[i] = cellText(c)
	}
	l := newLayout(header)

	body := make([][]string, len(rows))
	for i, r := range rows {
		body[i] = rowCells(r, n)
		l.add(body[i])
	}
	right := numericColumns(rows, n)

	var b strings.Builder
	b.Grow(l.size())

	writeLine(&b, header, l.widths, right)
	b.WriteByte('\n')
	b.WriteByte('|')
	for i, w := range l.widths {
		if right[i] {
			b.WriteString(strings.Repeat("-", w+1))
			b.WriteByte(':')
		} else {
			b.WriteByte(':')
			b.WriteString(strings.Repeat("-", w+1))
		}
		b.WriteByte('|')
	}
	for _, cells := range body {
		b.WriteByte('\n')
		writeLine(&b, cells, l.widths, right)
	}
	return b.String()
}

func writeLine(b *strings.Builder, cells []string, widths []int, right []bool) {
	b.WriteString("| ")
	for i, c := range cells {
		if i > 0 {
			b.WriteString(" | ")
		}
		pad := strings.Repeat(" ", widths[i]-utf8.RuneCountInString(c))
		if right[i] {
			b.WriteString(pad)
			b.WriteString(c)
		} else {
			b.WriteString(c)
			b.WriteString(pad)
		}
	}
	b.WriteString(" |")
}

// numericColumns marks columns whose non-empty cells are all numbers (and
// that have at least one). Those are right-aligned.
func numericColumns(rows []Row, n int) []bool {
	right := make([]bool, n)
	for c := 0; c < n; c++ {
		seen := false
		numeric := true
		for _, r := range rows {
			v := r.Cell(c)
			if v.IsEmpty() || (v.Kind() == KindString && v.String() == "") {
				continue
			}
			seen = true
			if !v.IsNumber() {
				numeric = false
				break
			}
		}
		right[c] = seen && numeric
	}
	return right
}
