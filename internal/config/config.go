package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/noah-isme/drone-tax/internal/geo"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string `validate:"required"`
	DatabaseURL string
	RedisURL    string

	DBMaxOpenConns int32 `validate:"gte=1,lte=256"`

	Import ImportConfig
	Obs    ObsConfig

	// OpsAddr enables the health and metrics listener when non-empty.
	OpsAddr string
}

// ImportConfig tunes the batch import pipeline.
type ImportConfig struct {
	ChunkSize         int            `validate:"gte=1,lte=100000"`
	Workers           int            `validate:"gte=1,lte=64"`
	MaxReportedErrors int            `validate:"gte=1,lte=1000"`
	LockTTL           time.Duration  `validate:"gte=1s"`
	TimeZone          *time.Location `validate:"required"`
	ServiceRegion     geo.Envelope
}

// ObsConfig controls logging, metrics and tracing.
type ObsConfig struct {
	LogFormat        string `validate:"oneof=json console text"`
	LogLevel         string
	MetricsNamespace string `validate:"required"`
	EnableTracing    bool
	TracingExporter  string `validate:"oneof=otlp none"`
	OTLPEndpoint     string
	SamplingRatio    float64 `validate:"gte=0,lte=1"`
}

const defaultServiceRegion = "40.49,-79.77,45.02,-71.78"

var validate = validator.New()

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	loc, err := time.LoadLocation(valueOrDefault(k.String("TAX_TIMEZONE"), "America/New_York"))
	if err != nil {
		return nil, fmt.Errorf("TAX_TIMEZONE: %w", err)
	}
	region, err := geo.ParseEnvelope(valueOrDefault(k.String("SERVICE_REGION_BOUNDS"), defaultServiceRegion))
	if err != nil {
		return nil, fmt.Errorf("SERVICE_REGION_BOUNDS: %w", err)
	}

	cfg := &Config{
		AppEnv:         valueOrDefault(k.String("APP_ENV"), "development"),
		DatabaseURL:    strings.TrimSpace(k.String("DATABASE_URL")),
		RedisURL:       strings.TrimSpace(k.String("REDIS_URL")),
		DBMaxOpenConns: int32(parseInt(k.String("DB_MAX_OPEN_CONNS"), 10)),
		Import: ImportConfig{
			ChunkSize:         parseInt(k.String("IMPORT_CHUNK_SIZE"), 500),
			Workers:           parseInt(k.String("IMPORT_WORKERS"), 4),
			MaxReportedErrors: parseInt(k.String("IMPORT_MAX_REPORTED_ERRORS"), 10),
			LockTTL:           parseDuration(k.String("IMPORT_LOCK_TTL"), "10m"),
			TimeZone:          loc,
			ServiceRegion:     region,
		},
		Obs: ObsConfig{
			LogFormat:        strings.ToLower(valueOrDefault(k.String("OBS_LOG_FORMAT"), "json")),
			LogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
			MetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "dronetax"),
			EnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING")),
			TracingExporter:  strings.ToLower(valueOrDefault(k.String("OBS_TRACING_EXPORTER"), "otlp")),
			OTLPEndpoint:     strings.TrimSpace(k.String("OBS_OTLP_ENDPOINT")),
			SamplingRatio:    parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 1),
		},
		OpsAddr: strings.TrimSpace(k.String("OPS_ADDR")),
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ErrDatabaseURLRequired is returned by RequireDatabase when DATABASE_URL is unset.
var ErrDatabaseURLRequired = errors.New("DATABASE_URL is required")

// RequireDatabase reports whether commands that touch Postgres can run.
func (c *Config) RequireDatabase() error {
	if c == nil || c.DatabaseURL == "" {
		return ErrDatabaseURLRequired
	}
	return nil
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
