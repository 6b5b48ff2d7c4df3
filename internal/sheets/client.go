// Package sheets reads worksheets from a Google spreadsheet and keeps them in
// an explicit, injectable cache for the query API.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
	"github.com/JonMunkholm/sheetchunk/internal/config"
	"github.com/JonMunkholm/sheetchunk/internal/core"
)

const spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"

// Sheet is one worksheet as raw cell text, before header cleanup.
type Sheet struct {
	Name      string     `json:"name"`
	HeaderRow int        `json:"header_row"`
	Values    [][]string `json:"values"`
}

// Snapshot is everything read from the spreadsheet in one fetch.
type Snapshot struct {
	SpreadsheetID string    `json:"spreadsheet_id"`
	Title         string    `json:"title"`
	Sheets        []Sheet   `json:"sheets"`
	Missing       []string  `json:"missing,omitempty"` // configured worksheets that do not exist
	FetchedAt     time.Time `json:"fetched_at"`
}

// Tables builds a table per worksheet. Sheets without a header row are
// left out.
func (s Snapshot) Tables() []chunk.Table {
	tables := make([]chunk.Table, 0, len(s.Sheets))
	for _, sh := range s.Sheets {
		t, ok := core.BuildTable(sh.Name, sh.Values, sh.HeaderRow)
		if !ok {
			continue
		}
		tables = append(tables, t)
	}
	return tables
}

// Client reads a spreadsheet through the Sheets v4 API. A spreadsheet given
// by title is located with the Drive v3 API.
type Client struct {
	sheets     *sheets.Service
	drive      *drive.Service
	cfg        config.SheetsConfig
	headerRows map[string]int
}

// NewClient creates API clients authenticated with the service account key
// in cfg.CredentialsFile (application default credentials when empty).
func NewClient(ctx context.Context, cfg config.SheetsConfig) (*Client, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	sheetsSvc, err := sheets.NewService(ctx, append(opts, option.WithScopes(sheets.SpreadsheetsReadonlyScope))...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	driveSvc, err := drive.NewService(ctx, append(opts, option.WithScopes(drive.DriveMetadataReadonlyScope))...)
	if err != nil {
		return nil, fmt.Errorf("create drive service: %w", err)
	}
	return NewClientWithServices(sheetsSvc, driveSvc, cfg)
}

// NewClientWithServices wraps already configured API services.
func NewClientWithServices(s *sheets.Service, d *drive.Service, cfg config.SheetsConfig) (*Client, error) {
	if cfg.SpreadsheetID == "" && cfg.SpreadsheetTitle == "" {
		return nil, fmt.Errorf("spreadsheet id or title is required")
	}
	headerRows, err := cfg.HeaderRowMap()
	if err != nil {
		return nil, err
	}
	return &Client{sheets: s, drive: d, cfg: cfg, headerRows: headerRows}, nil
}

// Fetch reads the configured worksheets, or every worksheet when none are
// configured. Configured worksheets that do not exist are logged and listed
// in Snapshot.Missing; only failures to reach the spreadsheet itself are
// returned as errors.
func (c *Client) Fetch(ctx context.Context) (Snapshot, error) {
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	id, err := c.spreadsheetID(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	meta, err := c.sheets.Spreadsheets.Get(id).
		Fields("spreadsheetId,properties.title,sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open spreadsheet %s: %w", id, err)
	}

	snap := Snapshot{SpreadsheetID: id, FetchedAt: time.Now().UTC()}
	if meta.Properties != nil {
		snap.Title = meta.Properties.Title
	}

	existing := make(map[string]bool, len(meta.Sheets))
	var all []string
	for _, s := range meta.Sheets {
		if s.Properties == nil {
			continue
		}
		existing[s.Properties.Title] = true
		all = append(all, s.Properties.Title)
	}

	wanted := c.cfg.Worksheets
	if len(wanted) == 0 {
		wanted = all
	}
	var names []string
	for _, name := range wanted {
		if !existing[name] {
			slog.Warn("worksheet not found in spreadsheet, skipping", "worksheet", name, "spreadsheet", snap.Title)
			snap.Missing = append(snap.Missing, name)
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return snap, nil
	}

	ranges := make([]string, len(names))
	for i, name := range names {
		ranges[i] = quoteSheet(name)
	}
	resp, err := c.sheets.Spreadsheets.Values.BatchGet(id).Ranges(ranges...).Context(ctx).Do()
	if err != nil {
		return Snapshot{}, fmt.Errorf("read spreadsheet values: %w", err)
	}
	if len(resp.ValueRanges) != len(names) {
		return Snapshot{}, fmt.Errorf("read spreadsheet values: got %d ranges, asked for %d", len(resp.ValueRanges), len(names))
	}

	for i, vr := range resp.ValueRanges {
		sh := Sheet{
			Name:      names[i],
			HeaderRow: c.headerRow(names[i]),
			Values:    toStrings(vr.Values),
		}
		slog.Debug("worksheet read", "worksheet", sh.Name, "rows", len(sh.Values))
		snap.Sheets = append(snap.Sheets, sh)
	}
	return snap, nil
}

func (c *Client) headerRow(sheet string) int {
	if r, ok := c.headerRows[sheet]; ok {
		return r
	}
	return 1
}

// spreadsheetID returns the configured id, or looks the title up in Drive.
func (c *Client) spreadsheetID(ctx context.Context) (string, error) {
	if c.cfg.SpreadsheetID != "" {
		return c.cfg.SpreadsheetID, nil
	}
	if c.drive == nil {
		return "", fmt.Errorf("spreadsheet %q: no drive client to look up the title", c.cfg.SpreadsheetTitle)
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		escapeQuery(c.cfg.SpreadsheetTitle), spreadsheetMimeType)
	res, err := c.drive.Files.List().
		Q(q).
		Fields("files(id,name)").
		PageSize(10).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("look up spreadsheet %q: %w", c.cfg.SpreadsheetTitle, err)
	}
	if len(res.Files) == 0 {
		return "", fmt.Errorf("spreadsheet %q not found or not shared with the service account", c.cfg.SpreadsheetTitle)
	}
	if len(res.Files) > 1 {
		slog.Warn("several spreadsheets share the title, using the first",
			"title", c.cfg.SpreadsheetTitle, "count", len(res.Files), "id", res.Files[0].Id)
	}
	return res.Files[0].Id, nil
}

// quoteSheet returns an A1 range covering the whole sheet.
func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func toStrings(values [][]interface{}) [][]string {
	out := make([][]string, len(values))
	for i, row := range values {
		out[i] = make([]string, len(row))
		for j, v := range row {
			if v == nil {
				continue
			}
			out[i][j] = fmt.Sprint(v)
		}
	}
	return out
}
