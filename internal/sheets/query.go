package sheets

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
)

// ErrUnknownColumn is returned when a filter names a column the sheet lacks.
var ErrUnknownColumn = errors.New("unknown column")

// Filter keeps rows whose Column contains Value, ignoring case.
type Filter struct {
	Column string
	Value  string
}

// Record is one row in column order. It encodes as a JSON object whose keys
// keep the sheet's column order.
type Record struct {
	columns []string
	values  []chunk.Value
}

// Get returns the value of the named column.
func (r Record) Get(column string) chunk.Value {
	for i, c := range r.columns {
		if c == column {
			return r.values[i]
		}
	}
	return chunk.Empty()
}

// MarshalJSON writes the record as an ordered JSON object.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Query returns the rows of t matching every filter, in table order.
// Filters with an empty value are ignored. Missing cells never match.
func Query(t chunk.Table, filters []Filter) ([]Record, error) {
	type match struct {
		col    int
		needle string
	}
	var matches []match
	for _, f := range filters {
		if f.Value == "" {
			continue
		}
		idx := t.ColumnIndex(f.Column)
		if idx < 0 {
			return nil, fmt.Errorf("%w %q in sheet %q", ErrUnknownColumn, f.Column, t.Name)
		}
		matches = append(matches, match{col: idx, needle: strings.ToLower(f.Value)})
	}

	out := make([]Record, 0, len(t.Rows))
rows:
	for _, row := range t.Rows {
		for _, m := range matches {
			v := row.Cell(m.col)
			if v.IsEmpty() || !strings.Contains(strings.ToLower(v.String()), m.needle) {
				continue rows
			}
		}
		rec := Record{columns: t.Columns, values: make([]chunk.Value, len(t.Columns))}
		for i := range t.Columns {
			rec.values[i] = row.Cell(i)
		}
		out = append(out, rec)
	}
	return out, nil
}
