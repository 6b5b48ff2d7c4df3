// Package ledger records which spreadsheet sources were converted, so a
// rerun over the same input folder skips files that have not changed.
//
// Postgres keeps the ledger across runs and machines; Memory is used when no
// database is configured and in tests.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/sheetchunk/internal/config"
)

// Entry is one converted source.
type Entry struct {
	RunID       uuid.UUID `json:"run_id"`
	Path        string    `json:"path"`
	SHA256      string    `json:"sha256"`
	Size        int64     `json:"size"`
	Tables      int       `json:"tables"`
	Parts       int       `json:"parts"`

	// MaxBytes and Target record how the parts were produced: the budget
	// and the sink they were written to.
	MaxBytes int    `json:"max_bytes"`
	Target   string `json:"target"`

	ProcessedAt time.Time `json:"processed_at"`
}

// Matches reports whether e describes content with the given digest that
// was converted at the same budget into the same target.
func (e Entry) Matches(sum string, maxBytes int, target string) bool {
	return e.SHA256 != "" && e.SHA256 == sum && e.MaxBytes == maxBytes && e.Target == target
}

// HashFile returns the hex SHA-256 of the file at path and its size.
func HashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// Memory is an in-process ledger. The zero value is ready to use.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory returns an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{}
}

// Lookup returns the entry recorded for path.
func (m *Memory) Lookup(_ context.Context, path string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[path]
	return e, ok, nil
}

// Record stores e, replacing any earlier entry for the same path.
func (m *Memory) Record(_ context.Context, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]Entry)
	}
	m.entries[e.Path] = e
	return nil
}

// Forget drops every entry recorded for target and returns how many were
// dropped.
func (m *Memory) Forget(_ context.Context, target string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for path, e := range m.entries {
		if e.Target == target {
			delete(m.entries, path)
			n++
		}
	}
	return n, nil
}

// Len returns the number of recorded sources.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// DBTX is the interface for database operations.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

const schema = `
CREATE TABLE IF NOT EXISTS chunk_sources (
    path         TEXT PRIMARY KEY,
    run_id       UUID NOT NULL,
    sha256       TEXT NOT NULL,
    size_bytes   BIGINT NOT NULL,
    tables       INTEGER NOT NULL,
    parts        INTEGER NOT NULL,
    max_bytes    INTEGER NOT NULL DEFAULT 0,
    target       TEXT NOT NULL DEFAULT '',
    processed_at TIMESTAMPTZ NOT NULL
);
ALTER TABLE chunk_sources ADD COLUMN IF NOT EXISTS max_bytes INTEGER NOT NULL DEFAULT 0;
ALTER TABLE chunk_sources ADD COLUMN IF NOT EXISTS target TEXT NOT NULL DEFAULT ''`

const lookupQuery = `
SELECT run_id, path, sha256, size_bytes, tables, parts, max_bytes, target, processed_at
FROM chunk_sources
WHERE path = $1`

const recordQuery = `
INSERT INTO chunk_sources (path, run_id, sha256, size_bytes, tables, parts, max_bytes, target, processed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (path) DO UPDATE SET
    run_id = EXCLUDED.run_id,
    sha256 = EXCLUDED.sha256,
    size_bytes = EXCLUDED.size_bytes,
    tables = EXCLUDED.tables,
    parts = EXCLUDED.parts,
    max_bytes = EXCLUDED.max_bytes,
    target = EXCLUDED.target,
    processed_at = EXCLUDED.processed_at`

const forgetQuery = `DELETE FROM chunk_sources WHERE target = $1`

// Postgres stores the ledger in the chunk_sources table.
type Postgres struct {
	db DBTX
}

// NewPostgres returns a ledger backed by db. Call Migrate once before use.
func NewPostgres(db DBTX) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the chunk_sources table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}
	return nil
}

// Lookup returns the entry recorded for path.
func (p *Postgres) Lookup(ctx context.Context, path string) (Entry, bool, error) {
	var (
		e        Entry
		runID    pgtype.UUID
		size     int64
		tbls     int32
		parts    int32
		maxBytes int32
	)
	err := p.db.QueryRow(ctx, lookupQuery, path).Scan(
		&runID, &e.Path, &e.SHA256, &size, &tbls, &parts, &maxBytes, &e.Target, &e.ProcessedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("lookup %s: %w", path, err)
	}
	if runID.Valid {
		e.RunID = uuid.UUID(runID.Bytes)
	}
	e.Size = size
	e.Tables = int(tbls)
	e.Parts = int(parts)
	e.MaxBytes = int(maxBytes)
	return e, true, nil
}

// Record upserts e.
func (p *Postgres) Record(ctx context.Context, e Entry) error {
	if e.ProcessedAt.IsZero() {
		e.ProcessedAt = time.Now().UTC()
	}
	_, err := p.db.Exec(ctx, recordQuery,
		e.Path,
		pgtype.UUID{Bytes: e.RunID, Valid: true},
		e.SHA256,
		e.Size,
		int32(e.Tables),
		int32(e.Parts),
		int32(e.MaxBytes),
		e.Target,
		e.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", e.Path, err)
	}
	return nil
}

// Forget deletes every entry recorded for target.
func (p *Postgres) Forget(ctx context.Context, target string) (int64, error) {
	tag, err := p.db.Exec(ctx, forgetQuery, target)
	if err != nil {
		return 0, fmt.Errorf("forget %s: %w", target, err)
	}
	return tag.RowsAffected(), nil
}

// Store is implemented by Memory and Postgres.
type Store interface {
	Lookup(ctx context.Context, path string) (Entry, bool, error)
	Record(ctx context.Context, e Entry) error
	Forget(ctx context.Context, target string) (int64, error)
}

// Open returns the ledger described by cfg: Postgres (migrated) when a
// database URL is set, otherwise an empty Memory ledger. The returned func
// releases the connection pool.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, func(), error) {
	if cfg.URL == "" {
		slog.Info("no database configured, ledger kept in memory")
		return NewMemory(), func() {}, nil
	}

	pool, err := Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	pg := NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("ledger connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pg, pool.Close, nil
}

// Connect opens and pings a pool configured from cfg.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
