package formats

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/extrame/xls"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
	"github.com/JonMunkholm/sheetchunk/internal/core"
)

func init() {
	core.Register(core.FormatDefinition{
		Info: core.FormatInfo{
			Key:   "xls",
			Label: "Excel 97-2003 workbook",
			Exts:  []string{".xls"},
		},
		Read: readLegacyWorkbook,
	})

	// OpenDocument spreadsheets are recognised so they are reported rather
	// than ignored, but nothing reads them.
	core.Register(core.FormatDefinition{
		Info:        core.FormatInfo{Key: "ods", Label: "OpenDocument spreadsheet", Exts: []string{".ods"}},
		Unsupported: true,
	})
}

// readLegacyWorkbook reads every worksheet of a BIFF (.xls) workbook, in
// workbook order. Sheets without a header row are skipped.
func readLegacyWorkbook(r io.Reader, name string, opts core.ReadOptions) (tables []chunk.Table, err error) {
	// The compound file is navigated by offset, so it is held in memory.
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	// The BIFF parser panics on some malformed records.
	defer func() {
		if p := recover(); p != nil {
			tables, err = nil, fmt.Errorf("open workbook %s: malformed file: %v", name, p)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", name, err)
	}
	if wb == nil {
		return nil, fmt.Errorf("open workbook %s: no workbook stream", name)
	}

	for i := 0; i < wb.NumSheets(); i++ {
		sheet := wb.GetSheet(i)
		if sheet == nil {
			continue
		}

		t, ok := core.BuildTable(sheet.Name, sheetRecords(sheet), opts.HeaderRow(sheet.Name))
		if !ok {
			slog.Debug("sheet has no header row, skipping", "source", name, "sheet", sheet.Name)
			continue
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// sheetRecords flattens a worksheet into rows of display strings. Missing
// rows come back empty and BuildTable drops them.
func sheetRecords(sheet *xls.WorkSheet) [][]string {
	records := make([][]string, 0, int(sheet.MaxRow)+1)
	for i := 0; i <= int(sheet.MaxRow); i++ {
		row := sheet.Row(i)
		if row == nil {
			records = append(records, nil)
			continue
		}
		// LastCol is exclusive for ROW records and inclusive for bare cells;
		// the extra trailing cell is blank and dropped with its column.
		cells := make([]string, 0, row.LastCol()+1)
		for c := 0; c <= row.LastCol(); c++ {
			cells = append(cells, row.Col(c))
		}
		records = append(records, cells)
	}
	return records
}
