package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Load reads configuration from environment variables.
// It applies defaults for unset values and validates the result.
// Returns an error if required values are missing or validation fails.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := loadStruct(reflect.ValueOf(cfg).Elem()); err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration and panics on error.
// Use this only in main() where early termination is desired.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// loadStruct recursively populates struct fields from environment variables.
func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fieldVal := v.Field(i)

		// Skip unexported fields
		if !fieldVal.CanSet() {
			continue
		}

		// Recurse into nested structs
		if field.Type.Kind() == reflect.Struct && field.Type != reflect.TypeOf(time.Time{}) {
			if err := loadStruct(fieldVal); err != nil {
				return err
			}
			continue
		}

		// Get tags
		envName := field.Tag.Get("env")
		envAlt := field.Tag.Get("envAlt")
		defaultVal := field.Tag.Get("default")
		required := field.Tag.Get("required") == "true"

		if envName == "" {
			continue
		}

		// Try primary env var, then alternate
		value := os.Getenv(envName)
		if value == "" && envAlt != "" {
			value = os.Getenv(envAlt)
		}

		// Apply default if not set
		if value == "" {
			if required {
				return fmt.Errorf("required environment variable %s is not set", envName)
			}
			value = defaultVal
		}

		if value == "" {
			continue
		}

		// Set the field value
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s=%q: %w", envName, value, err)
		}
	}

	return nil
}

// setField sets a reflect.Value from a string based on its type.
func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int64:
		// Handle time.Duration specially
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			field.Set(reflect.ValueOf(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer: %w", err)
			}
			field.SetInt(i)
		}

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean: %w", err)
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			// Split comma-separated values, trim whitespace
			parts := strings.Split(value, ",")
			result := make([]string, 0, len(parts))
			for _, p := range parts {
				p = strings.TrimSpace(p)
				if p != "" {
					result = append(result, p)
				}
			}
			field.Set(reflect.ValueOf(result))
		} else {
			return fmt.Errorf("unsupported slice type: %s", field.Type().Elem().Kind())
		}

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}

	return nil
}

// Validate checks that the configuration is valid.
// Returns an error describing all validation failures.
func (c *Config) Validate() error {
	var errs []string

	// Chunk validation
	if c.Chunk.MaxBytes <= 0 {
		errs = append(errs, fmt.Sprintf("CHUNK_MAX_BYTES (%d) must be positive", c.Chunk.MaxBytes))
	}
	if c.Chunk.Workers <= 0 {
		errs = append(errs, "CHUNK_WORKERS must be positive")
	}
	if c.Chunk.MaxConcurrent <= 0 {
		errs = append(errs, "CHUNK_MAX_CONCURRENT must be positive")
	}
	if c.Chunk.MaxWaitTime <= 0 {
		errs = append(errs, "CHUNK_MAX_WAIT_TIME must be positive")
	}
	if c.Chunk.MaxFileSize <= 0 {
		errs = append(errs, "CHUNK_MAX_FILE_SIZE must be positive")
	}

	// Database validation, only when a ledger database is configured
	if c.Database.URL != "" {
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, fmt.Sprintf("DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)",
				c.Database.MaxConns, c.Database.MinConns))
		}
		if c.Database.MaxConns <= 0 {
			errs = append(errs, "DB_MAX_CONNS must be positive")
		}
		if c.Database.MinConns < 0 {
			errs = append(errs, "DB_MIN_CONNS must be non-negative")
		}
	}

	// Server validation
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("SERVER_PORT (%d) must be 1-65535", c.Server.Port))
	}
	if c.Server.ReadTimeout < 0 {
		errs = append(errs, "SERVER_READ_TIMEOUT must be non-negative")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "SERVER_SHUTDOWN_TIMEOUT must be positive")
	}

	// Sink validation
	switch strings.ToLower(c.Sink.Kind) {
	case "file":
		if c.Chunk.OutputDir == "" {
			errs = append(errs, "OUTPUT_DIR is required for the file sink")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, "GCS_BUCKET is required when SINK=gcs")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			errs = append(errs, "MONGO_URI is required when SINK=mongo")
		}
	default:
		errs = append(errs, fmt.Sprintf("SINK (%q) must be one of: file, gcs, mongo", c.Sink.Kind))
	}

	// Sheets validation
	if _, err := c.Sheets.HeaderRowMap(); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Sheets.Timeout <= 0 {
		errs = append(errs, "SHEETS_TIMEOUT must be positive")
	}

	if c.Cache.RedisAddr != "" && c.Cache.TTL <= 0 {
		errs = append(errs, "CACHE_TTL must be positive when REDIS_ADDR is set")
	}

	// Fetch validation
	if c.Fetch.URLTemplate != "" && !strings.Contains(c.Fetch.URLTemplate, "{year}") {
		errs = append(errs, "FETCH_URL_TEMPLATE must contain a {year} placeholder")
	}
	if c.Fetch.StartYear < c.Fetch.EndYear {
		errs = append(errs, fmt.Sprintf("FETCH_START_YEAR (%d) must be >= FETCH_END_YEAR (%d)",
			c.Fetch.StartYear, c.Fetch.EndYear))
	}

	// Rate limit validation
	if c.Rate.Enabled && c.Rate.RequestsPerMinute <= 0 {
		errs = append(errs, "RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")
	}

	// Security validation
	if c.Security.RequireAPIKey && len(c.Security.APIKeys) == 0 {
		errs = append(errs, "REQUIRE_API_KEY is true but API_KEYS is empty; configure at least one API key or disable auth")
	}

	if c.Schedule.Enabled && c.Schedule.Interval <= 0 {
		errs = append(errs, "SCHEDULE_INTERVAL must be positive when scheduling is enabled")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Sprintf("LOG_LEVEL (%q) must be one of: debug, info, warn, error", c.Logging.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Sprintf("LOG_FORMAT (%q) must be one of: text, json", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// HeaderRowMap parses WORKSHEET_HEADER_ROWS entries of the form "Sheet:Row".
func (c *SheetsConfig) HeaderRowMap() (map[string]int, error) {
	out := make(map[string]int, len(c.HeaderRows))
	for _, entry := range c.HeaderRows {
		i := strings.LastIndex(entry, ":")
		if i <= 0 {
			return nil, fmt.Errorf("WORKSHEET_HEADER_ROWS entry %q must be Sheet:Row", entry)
		}
		row, err := strconv.Atoi(strings.TrimSpace(entry[i+1:]))
		if err != nil || row < 1 {
			return nil, fmt.Errorf("WORKSHEET_HEADER_ROWS entry %q needs a row number >= 1", entry)
		}
		out[strings.TrimSpace(entry[:i])] = row
	}
	return out, nil
}

// String returns a safe string representation of the config for logging.
// Sensitive values like database URLs are masked.
func (c *Config) String() string {
	var b strings.Builder
	b.WriteString("Config{")
	b.WriteString(fmt.Sprintf("Server: {Host: %q, Port: %d}, ", c.Server.Host, c.Server.Port))
	b.WriteString(fmt.Sprintf("Chunk: {MaxBytes: %d, Workers: %d, MaxConcurrent: %d, InputDir: %q, OutputDir: %q}, ",
		c.Chunk.MaxBytes, c.Chunk.Workers, c.Chunk.MaxConcurrent, c.Chunk.InputDir, c.Chunk.OutputDir))
	b.WriteString(fmt.Sprintf("Database: {URL: %s, MaxConns: %d, MinConns: %d}, ",
		mask(c.Database.URL), c.Database.MaxConns, c.Database.MinConns))
	b.WriteString(fmt.Sprintf("Cache: {RedisAddr: %q, Password: %s, TTL: %s}, ",
		c.Cache.RedisAddr, mask(c.Cache.RedisPassword), c.Cache.TTL))
	b.WriteString(fmt.Sprintf("Sink: {Kind: %q, Bucket: %q, Mongo: %s}, ",
		c.Sink.Kind, c.Storage.Bucket, mask(c.Mongo.URI)))
	b.WriteString(fmt.Sprintf("Security: {APIKeys: %d configured}, ", len(c.Security.APIKeys)))
	b.WriteString(fmt.Sprintf("Rate: {Enabled: %v, RequestsPerMinute: %d}, ",
		c.Rate.Enabled, c.Rate.RequestsPerMinute))
	b.WriteString(fmt.Sprintf("Logging: {Level: %q, Format: %q}",
		c.Logging.Level, c.Logging.Format))
	b.WriteString("}")
	return b.String()
}

func mask(secret string) string {
	if secret == "" {
		return "[unset]"
	}
	return "[MASKED]"
}
