package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
	"github.com/JonMunkholm/sheetchunk/internal/config"
	"github.com/JonMunkholm/sheetchunk/internal/ledger"
	"github.com/JonMunkholm/sheetchunk/internal/logging"
)

// Options control a Service.
type Options struct {
	// MaxBytes is the per-part budget, header included.
	MaxBytes int

	// Workers bounds how many tables of one source are chunked and written
	// at the same time.
	Workers int

	// RemoveSource deletes a source after all of its tables converted.
	RemoveSource bool

	// MaxFileSize rejects larger sources; zero disables the check.
	MaxFileSize int64

	// Force converts sources even when the ledger shows them unchanged.
	Force bool

	Read ReadOptions
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	headerRows, err := cfg.Sheets.HeaderRowMap()
	if err != nil {
		return Options{}, err
	}
	return Options{
		MaxBytes:     cfg.Chunk.MaxBytes,
		Workers:      cfg.Chunk.Workers,
		RemoveSource: cfg.Chunk.RemoveSource,
		MaxFileSize:  cfg.Chunk.MaxFileSize,
		Read:         ReadOptions{HeaderRows: headerRows},
	}, nil
}

// Service converts spreadsheet sources into size-bounded text parts.
//
// Every table is chunked on its own; parts of one table are written to the
// sink in order, one at a time, while different tables of the same source
// may be written concurrently. The sink must therefore be safe for
// concurrent use.
type Service struct {
	opts    Options
	sink    Sink
	target  string
	ledger  Ledger
	limiter *Limiter

	runMu sync.Mutex // serializes ConvertDir runs over the same service
}

// NewService creates a Service. A nil ledger keeps the ledger in memory and
// a nil limiter allows DefaultMaxConcurrent conversions.
func NewService(sink Sink, l Ledger, limiter *Limiter, opts Options) (*Service, error) {
	if sink == nil {
		return nil, errors.New("core: sink is required")
	}
	if opts.MaxBytes <= 0 {
		return nil, fmt.Errorf("%w: max bytes must be positive, got %d", chunk.ErrInvalidConfiguration, opts.MaxBytes)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if l == nil {
		l = ledger.NewMemory()
	}
	if limiter == nil {
		limiter = NewLimiter(DefaultMaxConcurrent, DefaultMaxWaitTime)
	}
	var target string
	if t, ok := sink.(targeter); ok {
		target = t.Target()
	}
	return &Service{
		opts:    opts,
		sink:    sink,
		target:  target,
		ledger:  l,
		limiter: limiter,
	}, nil
}

// LimiterStatus returns the current conversion slot usage.
func (s *Service) LimiterStatus() LimiterStatus {
	return s.limiter.Status()
}

// WaitForConversions blocks until running conversions finish or ctx ends.
func (s *Service) WaitForConversions(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// ConvertDir converts every source file directly inside dir, in name
// order. Failures of single files or tables are logged, counted in the
// summary and skipped; the returned error is reserved for problems that stop
// the whole run (unreadable dir, cancelled context).
func (s *Service) ConvertDir(ctx context.Context, dir string) (Summary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, sum.RunID)
	log := logging.FromContext(ctx)

	paths, err := listSources(dir)
	if err != nil {
		return sum, fmt.Errorf("list %s: %w", dir, err)
	}
	log.Info("conversion started", "dir", dir, "sources", len(paths), "max_bytes", s.opts.MaxBytes)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			sum.Duration = time.Since(start)
			return sum, err
		}
		s.convertPath(ctx, sum.RunID, path, &sum)
	}

	sum.Duration = time.Since(start)
	log.Info("conversion finished",
		"files_converted", sum.FilesConverted,
		"files_failed", sum.FilesFailed,
		"files_skipped", sum.FilesSkipped,
		"parts", sum.Parts,
		"oversized_parts", sum.OversizedParts,
		"duration_ms", sum.Duration.Milliseconds(),
	)
	return sum, nil
}

// ConvertFile converts a single source file.
func (s *Service) ConvertFile(ctx context.Context, path string) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, sum.RunID)

	if _, err := os.Stat(path); err != nil {
		return sum, err
	}
	s.convertPath(ctx, sum.RunID, path, &sum)
	sum.Duration = time.Since(start)
	return sum, ctx.Err()
}

// ConvertTables chunks and writes tables that did not come from a file,
// such as worksheets read from the Sheets API. source names the origin in
// part headers and identifiers.
func (s *Service) ConvertTables(ctx context.Context, source string, tables []chunk.Table) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	ctx = logging.WithRunID(ctx, sum.RunID)

	if err := s.limiter.Acquire(ctx); err != nil {
		return sum, err
	}
	defer s.limiter.Release()

	for _, r := range s.convertTables(ctx, source, tables) {
		sum.addTable(r.TableResult)
		if r.Error != "" {
			sum.Failures = append(sum.Failures, Failure{Source: source, Table: r.Table, Error: r.Error, Code: r.code})
		}
	}
	sum.Duration = time.Since(start)
	return sum, ctx.Err()
}

func (s *Service) convertPath(ctx context.Context, runID, path string, sum *Summary) {
	name := filepath.Base(path)
	log := logging.WithFields(ctx, "source", name)

	failFile := func(err error) {
		sum.FilesFailed++
		sum.fail(name, "", err)
		log.Warn("source failed", "error", err, "code", MapError(err).Code)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		failFile(err)
		return
	}
	defer s.limiter.Release()

	digest, size, err := ledger.HashFile(path)
	if err != nil {
		failFile(fmt.Errorf("%w: %w", ErrSourceRead, err))
		return
	}
	if s.opts.Force {
		log.Debug("forced conversion, ledger not consulted")
	} else if prev, ok, err := s.ledger.Lookup(ctx, path); err != nil {
		log.Warn("ledger lookup failed, converting anyway", "error", err)
	} else if ok && prev.Matches(digest, s.opts.MaxBytes, s.target) {
		sum.FilesSkipped++
		log.Debug("source unchanged since last run, skipping", "previous_run", prev.RunID)
		return
	}

	tables, read, err := ReadSource(path, s.opts.MaxFileSize, s.opts.Read)
	sum.SourceBytes += read
	if err != nil {
		failFile(err)
		return
	}

	results := s.convertTables(ctx, name, tables)
	entry := ledger.Entry{
		Path:     path,
		SHA256:   digest,
		Size:     size,
		Tables:   len(results),
		MaxBytes: s.opts.MaxBytes,
		Target:   s.target,
	}
	failed := 0
	for _, r := range results {
		sum.addTable(r.TableResult)
		entry.Parts += r.Parts
		if r.Error != "" {
			failed++
			sum.Failures = append(sum.Failures, Failure{Source: name, Table: r.Table, Error: r.Error, Code: r.code})
		}
	}
	if failed > 0 {
		sum.FilesFailed++
		log.Warn("source converted with failures", "tables", len(results), "failed_tables", failed)
		return
	}
	sum.FilesConverted++

	if id, err := uuid.Parse(runID); err == nil {
		entry.RunID = id
	}
	entry.ProcessedAt = time.Now().UTC()
	if err := s.ledger.Record(ctx, entry); err != nil {
		log.Warn("ledger record failed", "error", err)
	}

	if s.opts.RemoveSource {
		if err := os.Remove(path); err != nil {
			log.Warn("could not remove source", "error", err)
		} else {
			log.Info("source removed")
		}
	}
	log.Info("source converted", "tables", len(results), "parts", entry.Parts)
}

// tableOutcome extends TableResult with the mapped error code.
type tableOutcome struct {
	TableResult
	code string
}

func (s *Service) convertTables(ctx context.Context, source string, tables []chunk.Table) []tableOutcome {
	results := make([]tableOutcome, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for i := range tables {
		i := i
		g.Go(func() error {
			results[i] = s.convertTable(gctx, source, tables[i])
			return nil
		})
	}
	_ = g.Wait() // per-table errors live in results

	return results
}

func (s *Service) convertTable(ctx context.Context, source string, t chunk.Table) tableOutcome {
	res := tableOutcome{TableResult: TableResult{Source: source, Table: t.Name, Rows: len(t.Rows)}}
	log := logging.WithFields(ctx, "source", source, "sheet", t.Name)

	fail := func(err error) tableOutcome {
		res.Error = err.Error()
		res.code = MapError(err).Code
		log.Warn("table failed", "error", err, "code", res.code)
		return res
	}

	if err := t.CheckColumns(); err != nil {
		return fail(err)
	}
	chunks, err := chunk.Chunk(t, s.opts.MaxBytes, chunk.DefaultHeader(source, t.Name))
	if err != nil {
		return fail(err)
	}
	if len(chunks) == 0 {
		log.Debug("table has no rows, nothing written")
		return res
	}

	stem := SourceStem(source)
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		id := chunk.FileName(stem, t.Name, c.Part)
		if c.Oversized {
			log.Debug("single row exceeds the budget, written alone",
				"part", c.Part, "row", c.Start, "bytes", c.Size(), "max_bytes", s.opts.MaxBytes)
			res.Oversized++
		}
		if err := s.sink.Put(ctx, id, []byte(c.Text())); err != nil {
			return fail(fmt.Errorf("%w: %s: %w", ErrSinkWrite, id, err))
		}
		res.Parts++
		res.Bytes += int64(c.Size())
	}

	log.Info("table converted", "rows", res.Rows, "parts", res.Parts)
	return res
}

// Clean removes generated .txt parts directly inside dir and returns how
// many were removed.
func Clean(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".txt") {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		slog.Info("removed generated parts", "dir", dir, "count", removed)
	}
	return removed, errors.Join(errs...)
}

// listSources returns source files directly inside dir, sorted by name.
// Office lock files ("~$report.xlsx") and hidden files are ignored.
func listSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, "~$") || strings.HasPrefix(name, ".") {
			continue
		}
		if !IsSource(name) {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}
