package core

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
	"github.com/JonMunkholm/sheetchunk/internal/ledger"
)

var (
	// ErrSourceRead wraps failures reading or parsing a source.
	ErrSourceRead = errors.New("source read failed")

	// ErrSinkWrite wraps failures storing a chunk.
	ErrSinkWrite = errors.New("sink write failed")

	// ErrUnsupportedFormat is returned for files no registered format reads.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrFileTooLarge is returned for sources over the configured size limit.
	ErrFileTooLarge = errors.New("file too large")
)

// Sink stores finished chunks under an identifier (the part's file name).
type Sink interface {
	Put(ctx context.Context, id string, content []byte) error
}

// targeter is implemented by sinks that can name their destination. The
// name is stored in the ledger; sinks without one share the empty target.
type targeter interface {
	Target() string
}

// Ledger remembers which sources were already converted.
type Ledger interface {
	Lookup(ctx context.Context, path string) (ledger.Entry, bool, error)
	Record(ctx context.Context, e ledger.Entry) error
}

// ReadOptions tune how a format turns bytes into tables.
type ReadOptions struct {
	// HeaderRows maps a sheet name to its 1-based header row. Sheets not
	// listed use row 1.
	HeaderRows map[string]int
}

// HeaderRow returns the header row for sheet.
func (o ReadOptions) HeaderRow(sheet string) int {
	if r, ok := o.HeaderRows[sheet]; ok && r > 0 {
		return r
	}
	return 1
}

// ReadFunc reads every table in a source. name is the source's base name,
// used for single-table formats that have no sheet names of their own.
type ReadFunc func(r io.Reader, name string, opts ReadOptions) ([]chunk.Table, error)

// FormatInfo describes a registered source format.
type FormatInfo struct {
	Key   string   // "csv", "xlsx"
	Label string   // "Comma-separated values"
	Exts  []string // lower-case, with dot: ".csv"
}

// FormatDefinition contains everything needed to read one source format.
type FormatDefinition struct {
	Info FormatInfo
	Read ReadFunc

	// Unsupported marks extensions that are recognised only to be rejected
	// with ErrUnsupportedFormat.
	Unsupported bool
}

// TableResult is the outcome of converting one table.
type TableResult struct {
	Source    string `json:"source"`
	Table     string `json:"table"`
	Rows      int    `json:"rows"`
	Parts     int    `json:"parts"`
	Oversized int    `json:"oversized"`
	Bytes     int64  `json:"bytes"`
	Error     string `json:"error,omitempty"`
}

// Failure records a source or table that could not be converted.
type Failure struct {
	Source string `json:"source"`
	Table  string `json:"table,omitempty"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// Summary aggregates one conversion run.
type Summary struct {
	RunID string `json:"run_id"`

	FilesConverted int `json:"files_converted"`
	FilesFailed    int `json:"files_failed"`
	FilesSkipped   int `json:"files_skipped"`

	// SourceBytes counts bytes read from source files, before decompression.
	SourceBytes int64 `json:"source_bytes"`

	TablesConverted int `json:"tables_converted"`
	TablesFailed    int `json:"tables_failed"`
	TablesEmpty     int `json:"tables_empty"`

	Parts          int   `json:"parts"`
	OversizedParts int   `json:"oversized_parts"`
	Bytes          int64 `json:"bytes"`

	Failures []Failure    `json:"failures,omitempty"`
	Duration time.Duration `json:"duration"`
}

// OK reports whether nothing failed.
func (s Summary) OK() bool {
	return s.FilesFailed == 0 && s.TablesFailed == 0
}

// Merge adds the counters of o into s.
func (s *Summary) Merge(o Summary) {
	s.FilesConverted += o.FilesConverted
	s.FilesFailed += o.FilesFailed
	s.FilesSkipped += o.FilesSkipped
	s.SourceBytes += o.SourceBytes
	s.TablesConverted += o.TablesConverted
	s.TablesFailed += o.TablesFailed
	s.TablesEmpty += o.TablesEmpty
	s.Parts += o.Parts
	s.OversizedParts += o.OversizedParts
	s.Bytes += o.Bytes
	s.Failures = append(s.Failures, o.Failures...)
}

func (s *Summary) addTable(r TableResult) {
	switch {
	case r.Error != "":
		s.TablesFailed++
	case r.Rows == 0:
		s.TablesEmpty++
	default:
		s.TablesConverted++
	}
	s.Parts += r.Parts
	s.OversizedParts += r.Oversized
	s.Bytes += r.Bytes
}

func (s *Summary) fail(source, table string, err error) {
	s.Failures = append(s.Failures, Failure{
		Source: source,
		Table:  table,
		Error:  err.Error(),
		Code:   MapError(err).Code,
	})
}
