package formats

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
	"github.com/JonMunkholm/sheetchunk/internal/core"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadDelimited(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		content     string
		opts        core.ReadOptions
		wantColumns []string
		wantRows    int
	}{
		{
			name:        "csv with BOM",
			file:        "sales.csv",
			content:     "\xEF\xBB\xBFregion,total\nnorth,12\n",
			wantColumns: []string{"region", "total"},
			wantRows:    1,
		},
		{
			name:        "tsv",
			file:        "sales.tsv",
			content:     "region\ttotal\nnorth\t12\nsouth\t7\n",
			wantColumns: []string{"region", "total"},
			wantRows:    2,
		},
		{
			name:        "ragged rows and stray quotes",
			file:        "r.csv",
			content:     "a,b,c\n1\n2,x\"y,3,4\n",
			wantColumns: []string{"a", "b", "c"},
			wantRows:    2,
		},
		{
			name:        "header override by stem",
			file:        "census.csv",
			content:     "Table 1 title\nstate,count\nAK,3\n",
			opts:        core.ReadOptions{HeaderRows: map[string]int{"census": 2}},
			wantColumns: []string{"state", "count"},
			wantRows:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, tt.file, []byte(tt.content))
			tables, _, err := core.ReadSource(path, 0, tt.opts)
			if err != nil {
				t.Fatalf("ReadSource() error = %v", err)
			}
			if len(tables) != 1 {
				t.Fatalf("got %d tables, want 1", len(tables))
			}
			if !reflect.DeepEqual(tables[0].Columns, tt.wantColumns) {
				t.Errorf("columns = %q, want %q", tables[0].Columns, tt.wantColumns)
			}
			if len(tables[0].Rows) != tt.wantRows {
				t.Errorf("rows = %d, want %d", len(tables[0].Rows), tt.wantRows)
			}
		})
	}
}

func TestReadDelimited_EmptyFile(t *testing.T) {
	path := writeFile(t, "empty.csv", nil)
	tables, _, err := core.ReadSource(path, 0, core.ReadOptions{})
	if err != nil || len(tables) != 0 {
		t.Errorf("ReadSource(empty) = %d tables, %v", len(tables), err)
	}
}

func TestReadSource_Gzip(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte("k,v\na,1\nb,2\n"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "FY14.csv.gz", buf.Bytes())

	tables, n, err := core.ReadSource(path, 0, core.ReadOptions{})
	if err != nil {
		t.Fatalf("ReadSource() error = %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("bytes read = %d, want %d", n, buf.Len())
	}
	if len(tables) != 1 || tables[0].Name != "FY14" || len(tables[0].Rows) != 2 {
		t.Errorf("tables = %+v", tables)
	}
}

func TestReadSource_DecompressedLimit(t *testing.T) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write([]byte("k\n" + strings.Repeat("1\n", 10000)))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, "bomb.csv.gz", buf.Bytes())

	// The compressed file fits the limit, its content does not.
	limit := int64(buf.Len()) + 10
	if _, _, err := core.ReadSource(path, limit, core.ReadOptions{}); !errors.Is(err, core.ErrFileTooLarge) {
		t.Errorf("ReadSource() error = %v, want ErrFileTooLarge", err)
	}
}

func workbook(t *testing.T) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetRow("Sheet1", "A1", &[]any{"name", "amount"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]any{"alpha", 1200}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Sheet1", "A4", &[]any{"beta", 3.5}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.NewSheet("Veterans"); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Veterans", "A1", &[]any{"Table 3. Veterans"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Veterans", "A2", &[]any{"state", "", "state"}); err != nil {
		t.Fatal(err)
	}
	if err := f.SetSheetRow("Veterans", "A3", &[]any{"AK", "x", "AL"}); err != nil {
		t.Fatal(err)
	}

	if _, err := f.NewSheet("Blank"); err != nil {
		t.Fatal(err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestReadWorkbook(t *testing.T) {
	path := writeFile(t, "census.xlsx", workbook(t))
	opts := core.ReadOptions{HeaderRows: map[string]int{"Veterans": 2}}

	tables, _, err := core.ReadSource(path, 0, opts)
	if err != nil {
		t.Fatalf("ReadSource() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2 (blank sheet skipped)", len(tables))
	}

	first := tables[0]
	if first.Name != "Sheet1" || len(first.Rows) != 2 {
		t.Errorf("Sheet1 = %+v", first)
	}
	if got := first.Rows[0].Cell(1); got != chunk.Int(1200) {
		t.Errorf("amount = %#v, want 1200", got)
	}

	vets := tables[1]
	if want := []string{"state", "Unnamed_Column_1", "state_1"}; !reflect.DeepEqual(vets.Columns, want) {
		t.Errorf("Veterans columns = %q, want %q", vets.Columns, want)
	}
	if err := vets.CheckColumns(); err != nil {
		t.Errorf("CheckColumns() = %v", err)
	}
}

func TestReadWorkbook_Corrupt(t *testing.T) {
	path := writeFile(t, "broken.xlsx", []byte("not a zip"))
	if _, _, err := core.ReadSource(path, 0, core.ReadOptions{}); !errors.Is(err, core.ErrSourceRead) {
		t.Errorf("ReadSource() error = %v, want ErrSourceRead", err)
	}
}

func TestReadLegacyWorkbook(t *testing.T) {
	opts := core.ReadOptions{HeaderRows: map[string]int{"Veterans": 2}}

	tables, _, err := core.ReadSource(filepath.Join("testdata", "census.xls"), 0, opts)
	if err != nil {
		t.Fatalf("ReadSource() error = %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("got %d tables, want 2 (blank sheet skipped)", len(tables))
	}

	first := tables[0]
	if want := []string{"name", "amount", "note"}; first.Name != "Sheet1" || !reflect.DeepEqual(first.Columns, want) {
		t.Fatalf("Sheet1 = %q %q", first.Name, first.Columns)
	}
	if len(first.Rows) != 2 {
		t.Fatalf("Sheet1 rows = %d, want 2", len(first.Rows))
	}
	if got := first.Rows[0].Cell(1); got != chunk.Int(1200) {
		t.Errorf("amount = %#v, want 1200", got)
	}
	if got := first.Rows[1].Cell(1); got != chunk.Int(1300) {
		t.Errorf("amount with separator = %#v, want 1300", got)
	}
	if got := first.Rows[1].Cell(2); !got.IsEmpty() {
		t.Errorf("missing note = %#v, want empty", got)
	}

	vets := tables[1]
	if want := []string{"state", "Unnamed_Column_1", "state_1"}; !reflect.DeepEqual(vets.Columns, want) {
		t.Errorf("Veterans columns = %q, want %q", vets.Columns, want)
	}
	if len(vets.Rows) != 1 || vets.Rows[0].Cell(0) != chunk.String("OH") {
		t.Errorf("Veterans rows = %+v", vets.Rows)
	}
}

func TestReadLegacyWorkbook_Corrupt(t *testing.T) {
	path := writeFile(t, "old.xls", []byte{0xD0, 0xCF, 0x11, 0xE0})
	if _, _, err := core.ReadSource(path, 0, core.ReadOptions{}); !errors.Is(err, core.ErrSourceRead) {
		t.Errorf("ReadSource() error = %v, want ErrSourceRead", err)
	}
}

func TestOpenDocumentUnsupported(t *testing.T) {
	path := writeFile(t, "budget.ods", []byte("PK"))
	_, _, err := core.ReadSource(path, 0, core.ReadOptions{})
	if !errors.Is(err, core.ErrUnsupportedFormat) {
		t.Errorf("ReadSource(.ods) error = %v, want ErrUnsupportedFormat", err)
	}
	if got := core.MapError(err).Code; got != "CFG002" {
		t.Errorf("MapError code = %q", got)
	}
}

func TestRegisteredExtensions(t *testing.T) {
	want := []string{".csv", ".ods", ".tsv", ".xls", ".xlsm", ".xlsx"}
	if got := core.Extensions(); !reflect.DeepEqual(got, want) {
		t.Errorf("Extensions() = %v, want %v", got, want)
	}
}
