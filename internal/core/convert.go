package core

// convert.go turns raw spreadsheet text into typed chunk tables.
//
// Spreadsheet exports are messy:
//   - headers may be blank or repeated
//   - numbers arrive with currency symbols, thousands separators or in
//     accounting format "(1,234.50)"
//   - Excel formula prefixes (="value") wrap plain values
//
// Text that parses as a number becomes a number cell so numeric columns
// render right-aligned; everything else stays text.

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
)

// numericRegex validates that a string is a valid numeric format after cleanup.
// Matches integers, decimals, and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// thousandsRegex accepts "1,234" and "1,234,567.89" but not "1,2" or "12,34".
var thousandsRegex = regexp.MustCompile(`^[+-]?\d{1,3}(,\d{3})+(\.\d*)?$`)

// CleanCell removes common export artifacts from a cell value:
// - Trims whitespace
// - Removes Excel formula prefix (="...")
func CleanCell(s string) string {
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = s[2 : len(s)-1]
	}
	return s
}

// ParseNumber parses numeric-looking text. Currency symbols, thousands
// separators and accounting negatives are accepted. Values with leading
// zeros ("00123", zip codes, FIPS codes) or more than 15 digits are not
// numbers.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	// Detect negative accounting format "(123.45)"
	isNegative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		isNegative = true
		s = strings.TrimSpace(s[1 : len(s)-1])
	}

	// Remove common currency symbols
	for _, sym := range []string{"$", "€", "£"} {
		s = strings.Replace(s, sym, "", 1)
	}
	s = strings.TrimSpace(s)

	if strings.Contains(s, ",") {
		if !thousandsRegex.MatchString(s) {
			return 0, false
		}
		s = strings.ReplaceAll(s, ",", "")
	}

	if !numericRegex.MatchString(s) || hasLeadingZero(s) || digitCount(s) > maxDigits {
		return 0, false
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if isNegative {
		f = -f
	}
	return f, true
}

// maxDigits is the most digits a float64 holds exactly; longer values are
// identifiers and stay text.
const maxDigits = 15

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r == 'e' || r == 'E' {
			break
		}
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func hasLeadingZero(s string) bool {
	s = strings.TrimLeft(s, "+-")
	return len(s) > 1 && s[0] == '0' && s[1] != '.'
}

// CellValue converts raw cell text to a table value.
func CellValue(raw string) chunk.Value {
	s := CleanCell(raw)
	if s == "" {
		return chunk.Empty()
	}
	if f, ok := ParseNumber(s); ok {
		if f == float64(int64(f)) && !strings.ContainsAny(s, ".eE") {
			return chunk.Int(int64(f))
		}
		return chunk.Float(f)
	}
	return chunk.String(s)
}

// CleanHeaders makes column names usable as unique keys. Blank names become
// "Unnamed_Column_<i>" (i is the column position) and repeats get a
// "_<n>" suffix counting earlier occurrences.
func CleanHeaders(raw []string) []string {
	out := make([]string, len(raw))
	taken := make(map[string]bool, len(raw))
	counts := make(map[string]int, len(raw))

	for i, h := range raw {
		h = CleanCell(h)
		if h == "" {
			h = fmt.Sprintf("Unnamed_Column_%d", i)
		}
		name := h
		for n := counts[h]; taken[name]; n++ {
			name = fmt.Sprintf("%s_%d", h, n)
		}
		counts[h]++
		taken[name] = true
		out[i] = name
	}
	return out
}

// BuildTable builds a table from raw records whose header is on the 1-based
// row headerRow. Rows above the header are ignored, blank data rows are
// dropped and cells beyond the header width are discarded.
//
// ok is false when there is no header row at all, which callers treat as an
// empty sheet to skip.
func BuildTable(name string, records [][]string, headerRow int) (t chunk.Table, ok bool) {
	if headerRow < 1 {
		headerRow = 1
	}
	if len(records) < headerRow || isEmptyRow(records[headerRow-1]) {
		return chunk.Table{Name: name}, false
	}

	header := records[headerRow-1]
	// Trailing blank header cells with no data under them are layout noise.
	width := len(header)
	for width > 0 && CleanCell(header[width-1]) == "" && !columnHasData(records[headerRow:], width-1) {
		width--
	}

	t = chunk.Table{Name: name, Columns: CleanHeaders(header[:width])}
	for _, rec := range records[headerRow:] {
		if isEmptyRow(rec) {
			continue
		}
		row := make(chunk.Row, width)
		for i := 0; i < width && i < len(rec); i++ {
			row[i] = CellValue(rec[i])
		}
		t.Rows = append(t.Rows, row)
	}
	return t, true
}

func columnHasData(records [][]string, col int) bool {
	for _, rec := range records {
		if col < len(rec) && CleanCell(rec[col]) != "" {
			return true
		}
	}
	return false
}

func isEmptyRow(row []string) bool {
	for _, cell := range row {
		if CleanCell(cell) != "" {
			return false
		}
	}
	return true
}
