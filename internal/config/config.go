// Package config provides centralized configuration management for the application.
// It loads configuration from environment variables with sensible defaults and
// validates all settings on startup to fail fast on misconfiguration.
package config

import "time"

// Config holds all application configuration.
// All settings can be configured via environment variables.
type Config struct {
	Server   ServerConfig
	Chunk    ChunkConfig
	Database DatabaseConfig
	Cache    CacheConfig
	Sheets   SheetsConfig
	Storage  StorageConfig
	Mongo    MongoConfig
	Sink     SinkConfig
	Fetch    FetchConfig
	Rate     RateLimitConfig
	Security SecurityConfig
	Logging  LoggingConfig
	Schedule ScheduleConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the interface to bind to (default: 0.0.0.0)
	Host string `env:"SERVER_HOST" default:"0.0.0.0"`

	// Port is the port to listen on (default: 8080)
	Port int `env:"SERVER_PORT" envAlt:"PORT" default:"8080"`

	// ReadTimeout is the maximum duration for reading request body (default: 15s)
	ReadTimeout time.Duration `env:"SERVER_READ_TIMEOUT" default:"15s"`

	// WriteTimeout is the maximum duration for writing response (default: 30s)
	WriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" default:"30s"`

	// IdleTimeout is the keep-alive timeout (default: 60s)
	IdleTimeout time.Duration `env:"SERVER_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`

	// RequestTimeout is the middleware timeout for requests (default: 60s)
	RequestTimeout time.Duration `env:"SERVER_REQUEST_TIMEOUT" default:"60s"`
}

// ChunkConfig holds conversion settings.
type ChunkConfig struct {
	// MaxBytes is the per-part byte budget, header included (default: 2000000)
	MaxBytes int `env:"CHUNK_MAX_BYTES" default:"2000000"`

	// InputDir is scanned for spreadsheets to convert
	InputDir string `env:"INPUT_DIR" envAlt:"INPUT_FOLDER" default:"input"`

	// OutputDir receives the text parts when the file sink is used
	OutputDir string `env:"OUTPUT_DIR" envAlt:"OUTPUT_FOLDER" default:"output"`

	// Workers bounds how many tables of one source are chunked in parallel (default: 4)
	Workers int `env:"CHUNK_WORKERS" default:"4"`

	// MaxConcurrent caps sources converting at the same time (default: 2)
	MaxConcurrent int `env:"CHUNK_MAX_CONCURRENT" default:"2"`

	// MaxWaitTime is how long a source waits for a conversion slot (default: 30s)
	MaxWaitTime time.Duration `env:"CHUNK_MAX_WAIT_TIME" default:"30s"`

	// RemoveSource deletes a source file once all of its tables converted (default: false)
	RemoveSource bool `env:"CHUNK_REMOVE_SOURCE" default:"false"`

	// MaxFileSize rejects larger source files before reading them (default: 512MB)
	MaxFileSize int64 `env:"CHUNK_MAX_FILE_SIZE" default:"536870912"`
}

// DatabaseConfig holds the optional processed-source ledger connection.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Empty keeps the ledger in memory.
	// Supports both DATABASE_URL and DB_URL env vars for compatibility
	URL string `env:"DATABASE_URL" envAlt:"DB_URL"`

	// MaxConns is the maximum number of connections in the pool (default: 5)
	MaxConns int `env:"DB_MAX_CONNS" default:"5"`

	// MinConns is the minimum number of connections to keep open (default: 1)
	MinConns int `env:"DB_MIN_CONNS" default:"1"`

	// MaxConnLifetime is the maximum lifetime of a connection (default: 1h)
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`

	// MaxConnIdleTime is the maximum idle time before a connection is closed (default: 30m)
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// CacheConfig holds the optional Redis mirror of the sheet cache.
type CacheConfig struct {
	// RedisAddr enables the mirror when set (host:port)
	RedisAddr string `env:"REDIS_ADDR" envAlt:"VALKEY_ADDR"`

	RedisPassword string `env:"REDIS_PASSWORD"`

	RedisDB int `env:"REDIS_DB" default:"0"`

	// TTL is how long a mirrored snapshot stays valid (default: 1h)
	TTL time.Duration `env:"CACHE_TTL" default:"1h"`

	// Key is the Redis key holding the snapshot
	Key string `env:"CACHE_KEY" default:"sheetchunk:sheets"`
}

// SheetsConfig holds Google Sheets access settings.
type SheetsConfig struct {
	// CredentialsFile is a service-account JSON key
	CredentialsFile string `env:"GOOGLE_CREDENTIALS_FILE" envAlt:"GOOGLE_APPLICATION_CREDENTIALS"`

	// SpreadsheetID takes precedence over SpreadsheetTitle
	SpreadsheetID string `env:"SPREADSHEET_ID"`

	// SpreadsheetTitle is resolved to an ID through Drive
	SpreadsheetTitle string `env:"SPREADSHEET_TITLE"`

	// Worksheets lists the tabs to load; empty loads every tab
	Worksheets []string `env:"WORKSHEETS"`

	// HeaderRows maps worksheet to its 1-based header row, e.g. "Veterans:2,Census:2"
	HeaderRows []string `env:"WORKSHEET_HEADER_ROWS"`

	// Timeout bounds a full load of every worksheet (default: 60s)
	Timeout time.Duration `env:"SHEETS_TIMEOUT" default:"60s"`
}

// StorageConfig holds Google Cloud Storage sink settings.
type StorageConfig struct {
	Bucket string `env:"GCS_BUCKET"`

	// Prefix is prepended to every object name
	Prefix string `env:"GCS_PREFIX"`
}

// MongoConfig holds MongoDB sink settings.
type MongoConfig struct {
	URI string `env:"MONGO_URI"`

	Database string `env:"MONGO_DATABASE" default:"sheetchunk"`

	Collection string `env:"MONGO_COLLECTION" default:"chunks"`
}

// SinkConfig selects where converted parts are written.
type SinkConfig struct {
	// Kind is one of: file, gcs, mongo (default: file)
	Kind string `env:"SINK" default:"file"`
}

// FetchConfig holds archive download settings.
type FetchConfig struct {
	// URLTemplate contains a {year} placeholder
	URLTemplate string `env:"FETCH_URL_TEMPLATE"`

	// StartYear is the newest year tried (default: 2023)
	StartYear int `env:"FETCH_START_YEAR" default:"2023"`

	// EndYear is the oldest year tried (default: 2013)
	EndYear int `env:"FETCH_END_YEAR" default:"2013"`

	// Timeout bounds each download (default: 2m)
	Timeout time.Duration `env:"FETCH_TIMEOUT" default:"2m"`

	// Dest is where archives are extracted
	Dest string `env:"FETCH_DEST" default:"input"`
}

// RateLimitConfig holds rate limiting settings per time window.
type RateLimitConfig struct {
	// Enabled controls whether rate limiting is active (default: true)
	Enabled bool `env:"RATE_LIMIT_ENABLED" default:"true"`

	// RequestsPerMinute is the default rate limit per IP (default: 100)
	RequestsPerMinute int `env:"RATE_LIMIT_REQUESTS_PER_MINUTE" default:"100"`

	// AdminLimit is requests per minute for cache administration (default: 10)
	AdminLimit int `env:"RATE_LIMIT_ADMIN" default:"10"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// TrustedProxies is a comma-separated list of trusted proxy CIDRs
	TrustedProxies []string `env:"TRUSTED_PROXIES"`

	// APIKeys protect administrative endpoints; empty leaves them open
	APIKeys []string `env:"API_KEYS"`

	// RequireAPIKey refuses to start without API keys (default: false)
	RequireAPIKey bool `env:"REQUIRE_API_KEY" default:"false"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// ScheduleConfig holds the periodic conversion settings for the server.
type ScheduleConfig struct {
	// Enabled runs a conversion of Chunk.InputDir on every tick (default: false)
	Enabled bool `env:"SCHEDULE_ENABLED" default:"false"`

	// Interval between runs (default: 15m)
	Interval time.Duration `env:"SCHEDULE_INTERVAL" default:"15m"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	if c.Host == "" {
		return ":" + itoa(c.Port)
	}
	return c.Host + ":" + itoa(c.Port)
}

// itoa converts an int to string without importing strconv in this file.
func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	var b [20]byte
	n := len(b)
	neg := i < 0
	if neg {
		i = -i
	}
	for i > 0 {
		n--
		b[n] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		n--
		b[n] = '-'
	}
	return string(b[n:])
}
