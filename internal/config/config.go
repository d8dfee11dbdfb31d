package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the ads-kpi service.
type Config struct {
	Server     ServerConfig
	Warehouse  WarehouseConfig
	Ingest     IngestConfig
	KPI        KPIConfig
	Auth       AuthConfig
	Log        LogConfig
	Metrics    MetricsConfig
	Summarizer SummarizerConfig
}

type ServerConfig struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// WarehouseConfig selects and locates the warehouse backend. The sqlite
// driver treats Path as a database file; the postgres driver uses DSN.
type WarehouseConfig struct {
	Driver string
	Path   string
	DSN    string
	Table  string
}

type IngestConfig struct {
	LandingDir string
}

// KPIConfig carries metric derivation knobs. RevenuePerConversion is the
// synthetic per-conversion revenue used when no revenue feed exists; the
// historical default is 100.
type KPIConfig struct {
	RevenuePerConversion float64
}

type AuthConfig struct {
	Enabled   bool
	APIKey    string
	SkipPaths []string
}

type LogConfig struct {
	Level  string
	Format string
}

// MetricsConfig configures the Prometheus listener. It gets its own address
// because the business API already serves GET /metrics.
type MetricsConfig struct {
	Enabled bool
	Addr    string
}

// SummarizerConfig configures the optional LLM summarizer used by /ask.
// An empty APIKey disables summarization entirely.
type SummarizerConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads configuration from environment variables with the same names
// and defaults the original deployment used. Callers that serve the HTTP
// API should also call Validate; the CLI does not, since it needs neither
// the listener nor the API key.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Addr:            getEnv("ADDR", ":8080"),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Warehouse: WarehouseConfig{
			Driver: getEnv("WAREHOUSE_DRIVER", "sqlite"),
			Path:   getEnv("WAREHOUSE_PATH", "/data/warehouse/lake.db"),
			DSN:    getEnv("WAREHOUSE_DSN", ""),
			Table:  getEnv("ADSSPEND_TABLE", "ads_spend"),
		},
		Ingest: IngestConfig{
			LandingDir: getEnv("LANDING_DIR", "/data/landing"),
		},
		KPI: KPIConfig{
			RevenuePerConversion: getFloatEnv("REVENUE_PER_CONVERSION", 100.0),
		},
		Auth: AuthConfig{
			Enabled:   getBoolEnv("AUTH_ENABLED", true),
			APIKey:    getEnv("API_KEY", ""),
			SkipPaths: getSliceEnv("AUTH_SKIP_PATHS", []string{"/health"}),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getBoolEnv("METRICS_ENABLED", true),
			Addr:    getEnv("METRICS_ADDR", ":9090"),
		},
		Summarizer: SummarizerConfig{
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			Temperature: getFloatEnv("LLM_TEMPERATURE", 0.5),
		},
	}
	return cfg, nil
}

// Validate checks that required configuration is present and safe to use.
func (c *Config) Validate() error {
	switch c.Warehouse.Driver {
	case "sqlite":
	case "postgres":
		if c.Warehouse.DSN == "" {
			return fmt.Errorf("WAREHOUSE_DSN is required when WAREHOUSE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown WAREHOUSE_DRIVER %q (want sqlite or postgres)", c.Warehouse.Driver)
	}
	if !identPattern.MatchString(c.Warehouse.Table) {
		return fmt.Errorf("ADSSPEND_TABLE %q is not a valid identifier", c.Warehouse.Table)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("API_KEY is required when auth is enabled")
	}
	return nil
}

// Helper functions for reading environment variables

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func getFloatEnv(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getSliceEnv(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return def
}
