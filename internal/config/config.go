package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/datasleuth/datasleuth/internal/memory"
)

// Config captures the settings required to boot the datasleuth service.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Model         ModelConfig         `yaml:"model"`
	Investigation InvestigationConfig `yaml:"investigation"`
	Memory        MemoryConfig        `yaml:"memory"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// DatabaseConfig points at the SQLite database under investigation.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// ModelConfig configures access to the language-model service.
type ModelConfig struct {
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// InvestigationConfig bounds autonomous investigation sessions.
type InvestigationConfig struct {
	MaxIterations  int           `yaml:"maxIterations"`
	PacingDelay    time.Duration `yaml:"pacingDelay"`
	EmptyCallDelay time.Duration `yaml:"emptyCallDelay"`
	RateLimitDelay time.Duration `yaml:"rateLimitDelay"`
	MaxRetries     int           `yaml:"maxRetries"`
	MaxRows        int           `yaml:"maxRows"`
}

// MemoryConfig controls conversation memory retention.
type MemoryConfig struct {
	Capacity  int           `yaml:"capacity"`
	SchemaTTL time.Duration `yaml:"schemaTTL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("DATASLEUTH_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "data/analytics.db",
		},
		Model: ModelConfig{
			BaseURL: "https://generativelanguage.googleapis.com",
			Model:   "gemini-2.5-flash",
			Timeout: 60 * time.Second,
		},
		Investigation: InvestigationConfig{
			MaxIterations:  8,
			PacingDelay:    30 * time.Second,
			EmptyCallDelay: time.Second,
			RateLimitDelay: 32 * time.Second,
			MaxRetries:     2,
			MaxRows:        1000,
		},
		Memory: MemoryConfig{
			Capacity:  memory.DefaultCapacity,
			SchemaTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATASLEUTH_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("DATASLEUTH_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("DATASLEUTH_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("DATASLEUTH_MODEL_BASE_URL"); v != "" {
		cfg.Model.BaseURL = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("DATASLEUTH_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("DATASLEUTH_MODEL_NAME"); v != "" {
		cfg.Model.Model = v
	}
	if v := os.Getenv("DATASLEUTH_MODEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Model.Timeout = d
		}
	}
	if v := os.Getenv("DATASLEUTH_MAX_ITERATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Investigation.MaxIterations = n
		}
	}
	if v := os.Getenv("DATASLEUTH_PACING_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Investigation.PacingDelay = d
		}
	}
	if v := os.Getenv("DATASLEUTH_RATE_LIMIT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Investigation.RateLimitDelay = d
		}
	}
	if v := os.Getenv("DATASLEUTH_MAX_ROWS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Investigation.MaxRows = n
		}
	}
	if v := os.Getenv("DATASLEUTH_MEMORY_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Memory.Capacity = n
		}
	}
	if v := os.Getenv("DATASLEUTH_SCHEMA_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Memory.SchemaTTL = d
		}
	}
	if v := os.Getenv("DATASLEUTH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("DATASLEUTH_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}
