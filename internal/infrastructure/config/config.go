package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment" validate:"required,oneof=development staging production"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Engine    EngineConfig    `koanf:"engine"`
	Retention RetentionConfig `koanf:"retention"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ServerConfig struct {
	MetricsAddr     string        `koanf:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns" validate:"gt=0"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	CacheTTL time.Duration `koanf:"cache_ttl"`
	Enabled  bool          `koanf:"enabled"`
}

type EngineConfig struct {
	ParallelEvaluation bool          `koanf:"parallel_evaluation"`
	EvaluationTimeout  time.Duration `koanf:"evaluation_timeout" validate:"gt=0"`
	NotifyBuffer       int           `koanf:"notify_buffer"`
}

type RetentionConfig struct {
	// Cron schedule for the sweep, e.g. "0 3 * * *" for daily at 3 AM.
	// Empty disables the scheduler.
	Schedule string `koanf:"schedule"`
	// Per-record action throttle; zero means unthrottled.
	ActionsPerSecond float64 `koanf:"actions_per_second"`
	// Salt for deterministic pseudonym tokens. Must be stable across the
	// process lifetime so downstream joins on pseudonyms stay consistent.
	PseudonymSalt string `koanf:"pseudonym_salt" validate:"required"`
	BatchSize     int    `koanf:"batch_size" validate:"gt=0"`
}

type TelemetryConfig struct {
	Enabled      bool          `koanf:"enabled"`
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	SamplingRate float64       `koanf:"sampling_rate" validate:"gte=0,lte=1"`
	BatchTimeout time.Duration `koanf:"batch_timeout"`
}

// Load reads configuration from defaults, an optional YAML file, and
// CGE_-prefixed environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			MetricsAddr:     ":9091",
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			CacheTTL: 5 * time.Minute,
		},
		Engine: EngineConfig{
			ParallelEvaluation: true,
			EvaluationTimeout:  10 * time.Second,
			NotifyBuffer:       256,
		},
		Retention: RetentionConfig{
			Schedule:         "0 3 * * *",
			ActionsPerSecond: 50,
			PseudonymSalt:    "dev-only-salt",
			BatchSize:        500,
		},
		Telemetry: TelemetryConfig{
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
			BatchTimeout: 5 * time.Second,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	} else if _, err := os.Stat("configs/config.yaml"); err == nil {
		if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading configs/config.yaml: %w", err)
		}
	}

	if err := k.Load(env.Provider("CGE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "CGE_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}
