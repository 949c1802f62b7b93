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
)

// Config captures the settings required to boot the pipeline service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Anonymizer AnonymizerConfig `yaml:"anonymizer"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Trainer    TrainerConfig    `yaml:"trainer"`
	Registry   RegistryConfig   `yaml:"registry"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Cache      CacheConfig      `yaml:"cache"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// AnonymizerConfig holds privatization defaults. The salt must stay constant
// for a deployment so pseudonyms remain stable across calls.
type AnonymizerConfig struct {
	Salt           string  `yaml:"salt"`
	DefaultEpsilon float64 `yaml:"defaultEpsilon"`
	DefaultK       int     `yaml:"defaultK"`
}

// GeneratorConfig holds synthetic-data defaults.
type GeneratorConfig struct {
	DefaultSampleCount      int     `yaml:"defaultSampleCount"`
	DefaultQualityThreshold float64 `yaml:"defaultQualityThreshold"`
}

// TrainerConfig holds training defaults and reproducibility controls.
type TrainerConfig struct {
	Seed int64 `yaml:"seed"`
}

// RegistryConfig controls durable model-registry persistence.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// TelemetryConfig configures access to the upstream behavioral-record
// collector.
type TelemetryConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	RecordsPath string        `yaml:"recordsPath"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig controls Valkey-backed caching and the cross-process deploy
// lock.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
	TelemetryTTL time.Duration `yaml:"telemetryTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ATTUNE_PIPELINE_CONFIG")
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
			Address:         ":8085",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Anonymizer: AnonymizerConfig{
			Salt:           "attune-pipeline-salt",
			DefaultEpsilon: 1.0,
			DefaultK:       5,
		},
		Generator: GeneratorConfig{
			DefaultSampleCount:      100,
			DefaultQualityThreshold: 0.7,
		},
		Registry: RegistryConfig{Path: "attune-registry.db"},
		Telemetry: TelemetryConfig{
			RecordsPath: "/api/v1/telemetry/records",
			Timeout:     5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
			TelemetryTTL: 2 * time.Minute,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ATTUNE_PIPELINE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ATTUNE_PIPELINE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ATTUNE_PIPELINE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ATTUNE_PIPELINE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("ATTUNE_PIPELINE_SALT"); v != "" {
		cfg.Anonymizer.Salt = v
	}
	if v := os.Getenv("ATTUNE_PIPELINE_DEFAULT_EPSILON"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Anonymizer.DefaultEpsilon = f
		}
	}
	if v := os.Getenv("ATTUNE_PIPELINE_DEFAULT_K"); v != "" {
		if k, err := strconv.Atoi(v); err == nil {
			cfg.Anonymizer.DefaultK = k
		}
	}
	if v := os.Getenv("ATTUNE_PIPELINE_TRAINER_SEED"); v != "" {
		if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Trainer.Seed = seed
		}
	}
	if v := os.Getenv("ATTUNE_PIPELINE_REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv("ATTUNE_TELEMETRY_BASE_URL"); v != "" {
		cfg.Telemetry.BaseURL = v
	}
	if v := os.Getenv("ATTUNE_TELEMETRY_RECORDS_PATH"); v != "" {
		cfg.Telemetry.RecordsPath = v
	}
	if v := os.Getenv("ATTUNE_TELEMETRY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Telemetry.Timeout = d
		}
	}
	if v := os.Getenv("ATTUNE_PIPELINE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("ATTUNE_PIPELINE_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("ATTUNE_PIPELINE_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("ATTUNE_PIPELINE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("ATTUNE_PIPELINE_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("ATTUNE_PIPELINE_CACHE_TLS"); strings.EqualFold(v, "true") || strings.EqualFold(v, "1") {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("ATTUNE_PIPELINE_CACHE_TELEMETRY_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.TelemetryTTL = d
		}
	}
}
