// Package fetch downloads yearly zip archives and unpacks them into the
// input folder, ready for conversion.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"

	"github.com/JonMunkholm/sheetchunk/internal/config"
	"github.com/JonMunkholm/sheetchunk/internal/logging"
)

// YearPlaceholder is replaced by the year in URL templates.
const YearPlaceholder = "{year}"

// DefaultMaxArchiveSize bounds a single download held in memory.
const DefaultMaxArchiveSize = 512 << 20

// ErrArchiveNotFound is returned when the server answers 404 for a year.
var ErrArchiveNotFound = errors.New("archive not found")

// Options configure a Fetcher.
type Options struct {
	URLTemplate string
	StartYear   int // newest year, tried first
	EndYear     int // oldest year
	Dest        string

	// MaxArchiveSize rejects larger downloads; zero means DefaultMaxArchiveSize.
	MaxArchiveSize int64
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg config.FetchConfig) Options {
	return Options{
		URLTemplate: cfg.URLTemplate,
		StartYear:   cfg.StartYear,
		EndYear:     cfg.EndYear,
		Dest:        cfg.Dest,
	}
}

// Result is the outcome for one year.
type Result struct {
	Year    int    `json:"year"`
	URL     string `json:"url"`
	Files   int    `json:"files"`
	Skipped bool   `json:"skipped,omitempty"` // 404
	Error   string `json:"error,omitempty"`
}

// Summary aggregates a Run.
type Summary struct {
	Downloaded int      `json:"downloaded"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Files      int      `json:"files"`
	Results    []Result `json:"results"`
}

// Fetcher downloads archives over HTTP.
type Fetcher struct {
	client *http.Client
	opts   Options
}

// NewHTTPClient returns a client with the given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 60 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// New validates opts and returns a Fetcher. A nil client uses
// NewHTTPClient with a two minute timeout.
func New(opts Options, client *http.Client) (*Fetcher, error) {
	if !strings.Contains(opts.URLTemplate, YearPlaceholder) {
		return nil, fmt.Errorf("url template %q has no %s placeholder", opts.URLTemplate, YearPlaceholder)
	}
	if opts.StartYear < opts.EndYear {
		return nil, fmt.Errorf("start year %d is before end year %d", opts.StartYear, opts.EndYear)
	}
	if opts.Dest == "" {
		return nil, errors.New("destination folder is required")
	}
	if opts.MaxArchiveSize <= 0 {
		opts.MaxArchiveSize = DefaultMaxArchiveSize
	}
	if client == nil {
		client = NewHTTPClient(2 * time.Minute)
	}
	return &Fetcher{client: client, opts: opts}, nil
}

// URL returns the archive URL for year.
func URL(template string, year int) string {
	return strings.ReplaceAll(template, YearPlaceholder, strconv.Itoa(year))
}

// Run downloads every year from StartYear down to EndYear. Missing years are
// skipped with a warning and other failures are counted; only a cancelled
// context stops the run early.
func (f *Fetcher) Run(ctx context.Context) (Summary, error) {
	log := logging.FromContext(ctx)
	if err := os.MkdirAll(f.opts.Dest, 0o755); err != nil {
		return Summary{}, fmt.Errorf("create %s: %w", f.opts.Dest, err)
	}

	var sum Summary
	total := f.opts.StartYear - f.opts.EndYear + 1
	for year := f.opts.StartYear; year >= f.opts.EndYear; year-- {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		url := URL(f.opts.URLTemplate, year)
		log.Info("downloading archive", "year", year, "n", f.opts.StartYear-year+1, "of", total)

		res := Result{Year: year, URL: url}
		files, err := f.FetchYear(ctx, year)
		switch {
		case errors.Is(err, ErrArchiveNotFound):
			res.Skipped = true
			sum.Skipped++
			log.Warn("archive not found, skipping", "year", year, "url", url)
		case err != nil:
			res.Error = err.Error()
			sum.Failed++
			log.Error("archive failed", "year", year, "error", err)
		default:
			res.Files = files
			sum.Downloaded++
			sum.Files += files
			log.Info("archive extracted", "year", year, "files", files)
		}
		sum.Results = append(sum.Results, res)
	}

	log.Info("fetch finished",
		"downloaded", sum.Downloaded,
		"skipped", sum.Skipped,
		"failed", sum.Failed,
		"files", sum.Files,
		"dest", f.opts.Dest,
	)
	return sum, nil
}

// FetchYear downloads one archive and extracts it into Dest, returning the
// number of files written.
func (f *Fetcher) FetchYear(ctx context.Context, year int) (int, error) {
	url := URL(f.opts.URLTemplate, year)
	data, err := f.download(ctx, url)
	if err != nil {
		return 0, err
	}
	return Extract(data, f.opts.Dest)
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, url)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("download %s: status %s", url, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxArchiveSize+1))
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", url, err)
	}
	if int64(len(data)) > f.opts.MaxArchiveSize {
		return nil, fmt.Errorf("download %s: archive exceeds %d bytes", url, f.opts.MaxArchiveSize)
	}
	return data, nil
}

// Extract unpacks a zip archive held in memory into dest. Entries that would
// land outside dest are refused.
func Extract(data []byte, dest string) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("not a valid zip archive: %w", err)
	}

	root, err := filepath.Abs(dest)
	if err != nil {
		return 0, err
	}

	files := 0
	for _, zf := range zr.File {
		target, err := safeJoin(root, zf.Name)
		if err != nil {
			return files, err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, err
			}
			continue
		}
		if err := extractFile(zf, target); err != nil {
			return files, fmt.Errorf("extract %s: %w", zf.Name, err)
		}
		files++
	}
	return files, nil
}

func extractFile(zf *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	rc, err := zf.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, rc); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// safeJoin resolves name under root and fails if it escapes root.
func safeJoin(root, name string) (string, error) {
	clean := filepath.FromSlash(name)
	if filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", fmt.Errorf("zip entry %q: absolute path", name)
	}
	target := filepath.Join(root, clean)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("zip entry %q escapes the destination", name)
	}
	return target, nil
}
