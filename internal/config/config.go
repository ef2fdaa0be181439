// Package config provides unified configuration for the stacdex services.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix for all stacdex environment variables.
const EnvPrefix = "STACDEX_"

// DefaultMaxConcurrency bounds parallel source reads for both the
// indexer and the query engine.
const DefaultMaxConcurrency = 10

// DefaultRetainIndexes is the number of index snapshots kept by retention.
const DefaultRetainIndexes = 3

// Settings holds the unified configuration for the indexer and the API server.
type Settings struct {
	// LogLevel controls log verbosity: debug, info, warn, error.
	LogLevel string

	// TokenJWTSecret signs pagination tokens. Required by the API server.
	TokenJWTSecret string

	// MaxConcurrency bounds concurrent source reads (default 10).
	MaxConcurrency int

	// IndexManifestURI points the API server at the current snapshot manifest.
	IndexManifestURI string

	// DuckDBThreads sets the DuckDB thread count (0 leaves the engine default).
	DuckDBThreads int

	// HTTPAddr is the API server listen address.
	HTTPAddr string

	// S3Endpoint overrides the S3 endpoint (for MinIO and friends).
	S3Endpoint string

	// S3Region is the AWS region for S3 sources.
	S3Region string

	// S3ForcePathStyle enables path-style S3 addressing.
	S3ForcePathStyle bool

	// RootCatalogURI is the default root catalog for indexer runs.
	RootCatalogURI string

	// IndexOutputURI is the directory URI under which snapshots are written.
	IndexOutputURI string

	// RetainIndexes is how many snapshots retention keeps (default 3).
	RetainIndexes int
}

// Default returns the default settings.
func Default() *Settings {
	return &Settings{
		LogLevel:       "info",
		MaxConcurrency: DefaultMaxConcurrency,
		HTTPAddr:       ":8080",
		S3Region:       "us-east-1",
		RetainIndexes:  DefaultRetainIndexes,
	}
}

// Load builds settings from defaults, an optional .env file, and the
// process environment, in that order of precedence.
func Load() *Settings {
	// Missing .env is not an error; explicit environment always wins.
	_ = godotenv.Load()

	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Settings) applyEnv() {
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
	if v := getenv("TOKEN_JWT_SECRET"); v != "" {
		c.TokenJWTSecret = v
	}
	if v := getenv("MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxConcurrency = n
		}
	}
	if v := getenv("INDEX_MANIFEST_URI"); v != "" {
		c.IndexManifestURI = v
	}
	if v := getenv("DUCKDB_THREADS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.DuckDBThreads = n
		}
	}
	if v := getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}
	if v := getenv("S3_ENDPOINT"); v != "" {
		c.S3Endpoint = v
	}
	if v := getenv("S3_REGION"); v != "" {
		c.S3Region = v
	}
	if v := getenv("S3_FORCE_PATH_STYLE"); v != "" {
		c.S3ForcePathStyle = v == "true" || v == "1"
	}
	if v := getenv("ROOT_CATALOG_URI"); v != "" {
		c.RootCatalogURI = v
	}
	if v := getenv("INDEX_OUTPUT_URI"); v != "" {
		c.IndexOutputURI = v
	}
	if v := getenv("RETAIN_INDEXES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			log.Printf("config: refusing retain_indexes=%q, falling back to %d", v, DefaultRetainIndexes)
		} else {
			c.RetainIndexes = n
		}
	}
}

// ValidateServer validates the settings required to run the API server.
func (c *Settings) ValidateServer() error {
	if c.TokenJWTSecret == "" {
		return fmt.Errorf("%sTOKEN_JWT_SECRET is required", EnvPrefix)
	}
	if c.IndexManifestURI == "" {
		return fmt.Errorf("%sINDEX_MANIFEST_URI is required", EnvPrefix)
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	return nil
}

// Debug reports whether debug logging is enabled.
func (c *Settings) Debug() bool {
	return c.LogLevel == "debug"
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}
