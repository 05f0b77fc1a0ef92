// Package config loads the engine configuration from an optional YAML file
// with SM_* environment overrides.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

// Config holds all engine configuration
type Config struct {
	Database DatabaseConfig `yaml:"db"`
	Index    IndexConfig    `yaml:"index"`
	Queue    QueueConfig    `yaml:"rabbitmq"`
	Server   ServerConfig   `yaml:"server"`
	Search   SearchConfig   `yaml:"search"`
	Storage  StorageConfig  `yaml:"fs"`
	LogLevel string         `yaml:"log_level"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 or postgres
	DSN    string `yaml:"dsn"`
}

// IndexConfig locates the search index.
type IndexConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig configures RabbitMQ. An empty URL runs the engine in local
// mode without a broker.
type QueueConfig struct {
	URL      string `yaml:"url"`
	Prefetch int    `yaml:"prefetch"`
}

// ServerConfig holds REST API settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// SearchConfig tunes the annotation pipeline.
type SearchConfig struct {
	Workers         int     `yaml:"workers"`
	PartitionSize   int     `yaml:"partition_size"`
	NoiseFloor      float64 `yaml:"noise_floor"`
	MaxSkipFraction float64 `yaml:"max_skip_fraction"`
	DecoySampleSize int     `yaml:"decoy_sample_size"`
	Seed            int64   `yaml:"seed"` // 0 seeds each job with its id
}

// StorageConfig controls raw data handling.
type StorageConfig struct {
	DataPath      string `yaml:"data_path"`
	DeleteRawData bool   `yaml:"delete_raw_data"`
}

// Local reports whether no broker is configured.
func (c *Config) Local() bool {
	return c.Queue.URL == ""
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "sm.db"},
		Index:    IndexConfig{Path: "sm-index"},
		Queue:    QueueConfig{Prefetch: 1},
		Server:   ServerConfig{Addr: ":5123"},
		Search: SearchConfig{
			Workers:         runtime.NumCPU(),
			PartitionSize:   512,
			NoiseFloor:      1e-3,
			MaxSkipFraction: 0.01,
			DecoySampleSize: 20,
		},
		Storage:  StorageConfig{DataPath: "data"},
		LogLevel: "info",
	}
}

// Load reads the YAML file at path, if any, over the defaults and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("SM_DB_DRIVER", c.Database.Driver)
	c.Database.DSN = getEnv("SM_DB_DSN", c.Database.DSN)
	c.Index.Path = getEnv("SM_INDEX_PATH", c.Index.Path)
	c.Queue.URL = getEnv("SM_RABBITMQ_URL", c.Queue.URL)
	c.Queue.Prefetch = getEnvAsInt("SM_RABBITMQ_PREFETCH", c.Queue.Prefetch)
	c.Server.Addr = getEnv("SM_SERVER_ADDR", c.Server.Addr)
	c.Search.Workers = getEnvAsInt("SM_WORKERS", c.Search.Workers)
	c.Search.PartitionSize = getEnvAsInt("SM_PARTITION_SIZE", c.Search.PartitionSize)
	c.Search.NoiseFloor = getEnvAsFloat("SM_NOISE_FLOOR", c.Search.NoiseFloor)
	c.Search.MaxSkipFraction = getEnvAsFloat("SM_MAX_SKIP_FRACTION", c.Search.MaxSkipFraction)
	c.Search.DecoySampleSize = getEnvAsInt("SM_DECOY_SAMPLE_SIZE", c.Search.DecoySampleSize)
	c.Search.Seed = int64(getEnvAsInt("SM_SEED", int(c.Search.Seed)))
	c.Storage.DataPath = getEnv("SM_DATA_PATH", c.Storage.DataPath)
	c.Storage.DeleteRawData = getEnvAsBool("SM_DELETE_RAW_DATA", c.Storage.DeleteRawData)
	c.LogLevel = getEnv("SM_LOG_LEVEL", c.LogLevel)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// Validate checks the loaded configuration
func (c *Config) Validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("unsupported db driver %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, "db dsn is required")
	}
	if c.Index.Path == "" {
		errs = append(errs, "index path is required")
	}
	if c.Search.Workers <= 0 {
		errs = append(errs, "search workers must be positive")
	}
	if c.Search.PartitionSize <= 0 {
		errs = append(errs, "search partition size must be positive")
	}
	if c.Search.NoiseFloor < 0 {
		errs = append(errs, "noise floor must be non-negative")
	}
	if c.Search.MaxSkipFraction < 0 || c.Search.MaxSkipFraction > 1 {
		errs = append(errs, "max skip fraction must be within [0, 1]")
	}
	if c.Search.DecoySampleSize <= 0 {
		errs = append(errs, "decoy sample size must be positive")
	}
	if len(errs) > 0 {
		return &core.ValidationError{Field: "Config", Message: strings.Join(errs, "; ")}
	}
	return nil
}
