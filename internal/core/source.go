package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
)

// ReadSource opens the file at path, undoes any compression and reads all
// of its tables with the registered format. maxSize bounds both the file
// and its decompressed content; zero disables the check.
//
// Also returns the number of bytes read from disk.
func ReadSource(path string, maxSize int64, opts ReadOptions) ([]chunk.Table, int64, error) {
	def, err := Lookup(path)
	if err != nil {
		return nil, 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrSourceRead, err)
	}
	if maxSize > 0 && info.Size() > maxSize {
		return nil, 0, fmt.Errorf("%w: %s is %d bytes, limit %d",
			ErrFileTooLarge, filepath.Base(path), info.Size(), maxSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrSourceRead, err)
	}
	defer f.Close()

	counter := NewStreamingCountingReader(f, info.Size())
	stem, _, compression := SplitExt(path)

	r, closeFn, err := Decompress(counter, compression)
	if err != nil {
		return nil, counter.BytesRead, err
	}
	defer closeFn()
	if compression != "" && maxSize > 0 {
		r = &limitReader{r: r, left: maxSize}
	}

	tables, err := def.Read(r, stem, opts)
	if err != nil {
		if errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrSourceRead) {
			return nil, counter.BytesRead, err
		}
		return nil, counter.BytesRead, fmt.Errorf("%w: %s: %w", ErrSourceRead, filepath.Base(path), err)
	}
	return tables, counter.BytesRead, nil
}

// SourceStem returns the name used in part identifiers: the base name
// without a registered extension (and compression). Other names, such as
// spreadsheet titles, are returned unchanged.
func SourceStem(name string) string {
	base := filepath.Base(name)
	if !IsSource(base) {
		return base
	}
	stem, _, _ := SplitExt(base)
	return strings.TrimSpace(stem)
}
