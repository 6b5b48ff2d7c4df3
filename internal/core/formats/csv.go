package formats

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
	"github.com/JonMunkholm/sheetchunk/internal/core"
)

func init() {
	registerDelimited("csv", "Comma-separated values", ".csv", ',')
	registerDelimited("tsv", "Tab-separated values", ".tsv", '\t')
}

func registerDelimited(key, label, ext string, comma rune) {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{Key: key, Label: label, Exts: []string{ext}},
		Read: func(r io.Reader, name string, opts core.ReadOptions) ([]chunk.Table, error) {
			return readDelimited(r, name, comma, opts)
		},
	})
}

// readDelimited reads a single-table text source. The table is named after
// the source, so header row overrides use the file's stem as sheet name.
func readDelimited(r io.Reader, name string, comma rune, opts core.ReadOptions) ([]chunk.Table, error) {
	reader := csv.NewReader(core.WrapForText(r))
	reader.Comma = comma
	reader.FieldsPerRecord = -1 // allow ragged rows
	reader.LazyQuotes = true    // exports often carry stray quotes

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}

	t, ok := core.BuildTable(name, records, opts.HeaderRow(name))
	if !ok {
		return nil, nil
	}
	return []chunk.Table{t}, nil
}
