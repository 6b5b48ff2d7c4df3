package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/sheetchunk/internal/chunk"
)

// Fetcher loads a fresh snapshot. *Client is the production Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context) (Snapshot, error)
}

// Mirror is a shared second-level store for snapshots, so several server
// instances do not each call the Sheets API.
type Mirror interface {
	Load(ctx context.Context) (Snapshot, bool, error)
	Store(ctx context.Context, s Snapshot) error
	Clear(ctx context.Context) error
}

// ErrUnknownSheet is returned for a worksheet that is not in the cache.
var ErrUnknownSheet = errors.New("sheet not found in cache")

// Data is a loaded snapshot with its tables built.
type Data struct {
	Snapshot Snapshot
	tables   map[string]chunk.Table
	names    []string
}

func newData(s Snapshot) *Data {
	d := &Data{Snapshot: s, tables: make(map[string]chunk.Table)}
	for _, t := range s.Tables() {
		d.tables[t.Name] = t
		d.names = append(d.names, t.Name)
	}
	return d
}

// Names returns the worksheet names in spreadsheet order.
func (d *Data) Names() []string {
	return append([]string(nil), d.names...)
}

// Table returns the named worksheet.
func (d *Data) Table(name string) (chunk.Table, error) {
	t, ok := d.tables[name]
	if !ok {
		return chunk.Table{}, fmt.Errorf("%w: %q", ErrUnknownSheet, name)
	}
	return t, nil
}

// Tables returns every worksheet, in spreadsheet order.
func (d *Data) Tables() []chunk.Table {
	out := make([]chunk.Table, 0, len(d.names))
	for _, n := range d.names {
		out = append(out, d.tables[n])
	}
	return out
}

// Cache holds spreadsheet data for the query API. It is populated on first
// access and kept until Invalidate. Concurrent first calls share a single
// load, and a failed load is not kept, so the next call tries again.
type Cache struct {
	fetcher Fetcher
	mirror  Mirror

	mu       sync.Mutex
	data     *Data
	loadedAt time.Time
	origin   string
}

// NewCache creates an empty cache. mirror may be nil.
func NewCache(f Fetcher, mirror Mirror) *Cache {
	return &Cache{fetcher: f, mirror: mirror}
}

// Get returns the cached data, loading it on first use.
func (c *Cache) Get(ctx context.Context) (*Data, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data != nil {
		return c.data, nil
	}

	if c.mirror != nil {
		snap, ok, err := c.mirror.Load(ctx)
		switch {
		case err != nil:
			slog.Warn("sheet cache mirror read failed", "error", err)
		case ok:
			c.set(snap, "mirror")
			slog.Info("sheet data loaded from mirror", "sheets", len(c.data.names))
			return c.data, nil
		}
	}

	start := time.Now()
	snap, err := c.fetcher.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("load spreadsheet data: %w", err)
	}
	c.set(snap, "api")
	slog.Info("sheet data loaded",
		"spreadsheet", snap.Title,
		"sheets", len(c.data.names),
		"missing", len(snap.Missing),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if c.mirror != nil {
		if err := c.mirror.Store(ctx, snap); err != nil {
			slog.Warn("sheet cache mirror write failed", "error", err)
		}
	}
	return c.data, nil
}

func (c *Cache) set(s Snapshot, origin string) {
	c.data = newData(s)
	c.loadedAt = time.Now()
	c.origin = origin
}

// Invalidate drops the cached data (and the mirror copy); the next Get
// reloads from the API.
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = nil
	c.loadedAt = time.Time{}
	c.origin = ""
	if c.mirror != nil {
		if err := c.mirror.Clear(ctx); err != nil {
			return fmt.Errorf("clear sheet cache mirror: %w", err)
		}
	}
	return nil
}

// CacheStatus describes the cache for health output.
type CacheStatus struct {
	Loaded   bool      `json:"loaded"`
	Origin   string    `json:"origin,omitempty"` // "api" or "mirror"
	LoadedAt time.Time `json:"loaded_at,omitempty"`
	Sheets   []string  `json:"sheets,omitempty"`
}

// Status reports whether data is loaded, without loading it.
func (c *Cache) Status() CacheStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.data == nil {
		return CacheStatus{}
	}
	names := c.data.Names()
	sort.Strings(names)
	return CacheStatus{Loaded: true, Origin: c.origin, LoadedAt: c.loadedAt, Sheets: names}
}
