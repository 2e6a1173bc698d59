// Package config loads pipeline configuration the way the teacher
// reportbot loads its own: a YAML file, overridden field-by-field by
// environment variables, validated with log.Fatalf on anything
// structurally required but missing or out of range.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the pipeline needs at startup: store
// connection/schema, Oracle tuning, pipeline fan-out, and the category
// catalog location.
type Config struct {
	// Store
	DBPath             string `yaml:"db_path"`
	ChattingsTable     string `yaml:"chattings_table"`
	ChattingsPK        string `yaml:"chattings_pk_column"`
	ChattingsText      string `yaml:"chattings_text_column"`
	ChattingsCreatedAt string `yaml:"chattings_created_at_column"`
	KeywordsTable      string `yaml:"keywords_table"`
	PoolSize           int    `yaml:"pool_size"`
	PoolOverflow       int    `yaml:"pool_overflow"`
	ConnMaxLifetimeSec int    `yaml:"conn_max_lifetime_seconds"`

	// Oracle
	AnthropicAPIKey    string  `yaml:"anthropic_api_key"`
	OracleModel        string  `yaml:"oracle_model"`
	RequestsPerMinute  int     `yaml:"oracle_requests_per_minute"`
	MinIntervalSeconds float64 `yaml:"oracle_min_interval_seconds"`
	MaxRetries         int     `yaml:"oracle_max_retries"`
	BaseBackoffSeconds float64 `yaml:"oracle_base_backoff_seconds"`
	RequestTimeoutSec  int     `yaml:"oracle_request_timeout_seconds"`

	// Pipeline
	ChunkSize       int `yaml:"chunk_size"`
	WorkersPerDate  int `yaml:"workers_per_date"`
	ConcurrentDates int `yaml:"concurrent_dates"`
	InsertBatchSize int `yaml:"insert_batch_size"`

	// Category catalog
	CategoryCatalogPath string `yaml:"category_catalog_path"`
}

// defaultExternalHTTPTimeout mirrors the teacher's http_client.go, the
// fallback applied when oracle_request_timeout_seconds is unset.
const defaultExternalHTTPTimeout = 30 * time.Second

// Load reads config.yaml (or $CONFIG_PATH), applies env-var overrides,
// fills in documented defaults, and validates required fields. Any
// structural problem is fatal, matching the teacher's LoadConfig.
func Load() Config {
	var cfg Config

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.ChattingsTable, "CHATTINGS_TABLE")
	envOverride(&cfg.ChattingsPK, "CHATTINGS_PK_COLUMN")
	envOverride(&cfg.ChattingsText, "CHATTINGS_TEXT_COLUMN")
	envOverride(&cfg.ChattingsCreatedAt, "CHATTINGS_CREATED_AT_COLUMN")
	envOverride(&cfg.KeywordsTable, "KEYWORDS_TABLE")
	envOverrideInt(&cfg.PoolSize, "POOL_SIZE")
	envOverrideInt(&cfg.PoolOverflow, "POOL_OVERFLOW")
	envOverrideInt(&cfg.ConnMaxLifetimeSec, "CONN_MAX_LIFETIME_SECONDS")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OracleModel, "ORACLE_MODEL")
	envOverrideInt(&cfg.RequestsPerMinute, "ORACLE_REQUESTS_PER_MINUTE")
	envOverrideFloat(&cfg.MinIntervalSeconds, "ORACLE_MIN_INTERVAL_SECONDS")
	envOverrideInt(&cfg.MaxRetries, "ORACLE_MAX_RETRIES")
	envOverrideFloat(&cfg.BaseBackoffSeconds, "ORACLE_BASE_BACKOFF_SECONDS")
	envOverrideInt(&cfg.RequestTimeoutSec, "ORACLE_REQUEST_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.ChunkSize, "CHUNK_SIZE")
	envOverrideInt(&cfg.WorkersPerDate, "WORKERS_PER_DATE")
	envOverrideInt(&cfg.ConcurrentDates, "CONCURRENT_DATES")
	envOverrideInt(&cfg.InsertBatchSize, "INSERT_BATCH_SIZE")
	envOverride(&cfg.CategoryCatalogPath, "CATEGORY_CATALOG_PATH")

	// Defaults
	if cfg.DBPath == "" {
		cfg.DBPath = "./keywordpipe.db"
	}
	if cfg.ChattingsTable == "" {
		cfg.ChattingsTable = "chattings"
	}
	if cfg.ChattingsPK == "" {
		cfg.ChattingsPK = "id"
	}
	if cfg.ChattingsText == "" {
		cfg.ChattingsText = "input_text"
	}
	if cfg.ChattingsCreatedAt == "" {
		cfg.ChattingsCreatedAt = "created_at"
	}
	if cfg.KeywordsTable == "" {
		cfg.KeywordsTable = "keywords"
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 10
	}
	if cfg.PoolOverflow == 0 {
		cfg.PoolOverflow = 20
	}
	if cfg.ConnMaxLifetimeSec == 0 {
		cfg.ConnMaxLifetimeSec = 3600
	}
	if cfg.OracleModel == "" {
		cfg.OracleModel = "claude-haiku-4-5-20251001"
	}
	if cfg.RequestsPerMinute == 0 {
		cfg.RequestsPerMinute = 30
	}
	if cfg.MinIntervalSeconds == 0 {
		cfg.MinIntervalSeconds = 1.0
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoffSeconds == 0 {
		cfg.BaseBackoffSeconds = 2.0
	}
	if cfg.RequestTimeoutSec == 0 {
		cfg.RequestTimeoutSec = int(defaultExternalHTTPTimeout / time.Second)
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 100
	}
	if cfg.WorkersPerDate == 0 {
		cfg.WorkersPerDate = 4
	}
	if cfg.ConcurrentDates == 0 {
		cfg.ConcurrentDates = 3
	}
	if cfg.InsertBatchSize == 0 {
		cfg.InsertBatchSize = 100
	}
	if cfg.CategoryCatalogPath == "" {
		cfg.CategoryCatalogPath = "./categories.yaml"
	}

	required := map[string]string{
		"anthropic_api_key": cfg.AnthropicAPIKey,
	}
	for name, val := range required {
		if val == "" {
			log.Fatalf("Required config '%s' is not set (via config.yaml or env var)", name)
		}
	}

	if cfg.PoolSize < 1 {
		log.Fatalf("invalid pool_size '%d': must be >= 1", cfg.PoolSize)
	}
	if cfg.PoolOverflow < 0 {
		log.Fatalf("invalid pool_overflow '%d': must be >= 0", cfg.PoolOverflow)
	}
	if cfg.RequestsPerMinute < 1 {
		log.Fatalf("invalid oracle_requests_per_minute '%d': must be >= 1", cfg.RequestsPerMinute)
	}
	if cfg.MaxRetries < 1 {
		log.Fatalf("invalid oracle_max_retries '%d': must be >= 1", cfg.MaxRetries)
	}
	if cfg.ChunkSize < 1 {
		log.Fatalf("invalid chunk_size '%d': must be >= 1", cfg.ChunkSize)
	}
	if cfg.WorkersPerDate < 1 {
		log.Fatalf("invalid workers_per_date '%d': must be >= 1", cfg.WorkersPerDate)
	}
	if cfg.ConcurrentDates < 1 {
		log.Fatalf("invalid concurrent_dates '%d': must be >= 1", cfg.ConcurrentDates)
	}
	if cfg.InsertBatchSize < 1 {
		log.Fatalf("invalid insert_batch_size '%d': must be >= 1", cfg.InsertBatchSize)
	}

	return cfg
}

// RequestTimeout returns the Oracle's per-call HTTP timeout as a
// time.Duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}

// ConnMaxLifetime returns the Store Gateway's connection max-age.
func (c Config) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSec) * time.Second
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

// Validate re-checks the one field that has no documented default,
// exported so tests can construct a Config by hand and validate it
// without going through env/yaml.
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.AnthropicAPIKey) == "" {
		return fmt.Errorf("anthropic_api_key is required")
	}
	return nil
}
