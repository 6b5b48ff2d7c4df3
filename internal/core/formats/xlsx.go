package formats

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
	"github.com/JonMunkholm/sheetchunk/internal/core"
)

func init() {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{
			Key:   "xlsx",
			Label: "Excel workbook",
			Exts:  []string{".xlsx", ".xlsm"},
		},
		Read: readWorkbook,
	})
}

// readWorkbook reads every worksheet of a workbook, in workbook order.
// Cells are read as displayed, so "1,234" and "12%" arrive as the user sees
// them. Sheets without a header row are skipped.
func readWorkbook(r io.Reader, name string, opts core.ReadOptions) ([]chunk.Table, error) {
	// The zip directory sits at the end of the file, so excelize buffers it.
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", name, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var tables []chunk.Table
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
		}

		t, ok := core.BuildTable(sheet, rows, opts.HeaderRow(sheet))
		if !ok {
			slog.Debug("sheet has no header row, skipping", "source", name, "sheet", sheet)
			continue
		}
		tables = append(tables, t)
	}
	return tables, nil
}
