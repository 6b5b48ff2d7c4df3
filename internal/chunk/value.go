package chunk

import (
	"encoding/json"
	"math"
	"strconv"
)

// Kind identifies the scalar type held by a Value.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindString
	KindNumber
)

// Value is a single table cell: a string, a number, or the empty/missing marker.
// The zero Value is empty.
type Value struct {
	kind Kind
	text string
	num  float64
}

// Empty returns the missing-value marker.
func Empty() Value {
	return Value{}
}

// String returns a string cell. The empty string is still a string cell;
// it renders the same as a missing value.
func String(s string) Value {
	return Value{kind: KindString, text: s}
}

// Int returns an integer cell.
func Int(i int64) Value {
	return Value{kind: KindNumber, text: strconv.FormatInt(i, 10), num: float64(i)}
}

// Float returns a numeric cell. NaN is treated as missing, matching how
// spreadsheet readers report blank numeric cells.
func Float(f float64) Value {
	if math.IsNaN(f) {
		return Empty()
	}
	return Value{kind: KindNumber, text: formatFloat(f), num: f}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) {
		if f > 0 {
			return "inf"
		}
		return "-inf"
	}
	if abs := math.Abs(f); abs == 0 || (abs >= 1e-4 && abs < 1e15) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// Kind reports the scalar type of v.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is the missing marker.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// IsNumber reports whether v holds a number.
func (v Value) IsNumber() bool { return v.kind == KindNumber }

// String returns the cell's text form. Missing values are "".
func (v Value) String() string { return v.text }

// Float returns the numeric value and true for number cells.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Interface returns v as a plain Go value: nil, string, int64 or float64.
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.text
	case KindNumber:
		if v.num == math.Trunc(v.num) && math.Abs(v.num) < 1<<53 {
			return int64(v.num)
		}
		if math.IsInf(v.num, 0) {
			return v.text
		}
		return v.num
	default:
		return nil
	}
}

// MarshalJSON encodes v as null, a JSON string or a JSON number.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}
