// Package config loads the pipeline's YAML configuration file and
// applies environment variable overrides and defaults, following the
// Load(path)->(*Config, error) shape used across the teacher's services.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object. Recognized options mirror
// spec.md §6 plus the connection settings for the relational store,
// cache, and LLM provider.
type Config struct {
	Database      DatabaseConfig      `yaml:"database"`
	Cache         CacheConfig         `yaml:"cache"`
	Queue         QueueConfig         `yaml:"queue" validate:"required"`
	LLM           LLMConfig           `yaml:"llm" validate:"required"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	Outbox        OutboxConfig        `yaml:"outbox"`
	Lease         LeaseConfig         `yaml:"lease"`
	GraphBuild    GraphBuildConfig    `yaml:"graph_build"`
	API           APIConfig           `yaml:"api"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notify        NotifyConfig        `yaml:"notify"`
	Scout         ScoutConfig         `yaml:"scout"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"-"`
	ConnMaxLifetimeRaw string     `yaml:"conn_max_lifetime"`
}

type CacheConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QueueConfig struct {
	Addr            string `yaml:"addr"`
	MaxJobRetries   int    `yaml:"max_job_retries" validate:"gte=0"`
	JobBackoffRaw   string `yaml:"job_backoff"`
	JobBackoff      time.Duration `yaml:"-"`
	JobTimeoutRaw   string `yaml:"job_timeout"`
	JobTimeout      time.Duration `yaml:"-"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider" validate:"required,oneof=anthropic bedrock langchain"`
	Model       string  `yaml:"model"`
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	TimeoutRaw  string  `yaml:"timeout"`
	Timeout     time.Duration `yaml:"-"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type ReconciliationConfig struct {
	ConfidenceThreshold float64            `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	Weights             map[string]float64 `yaml:"weights"`
}

type OutboxConfig struct {
	PollIntervalMSRaw int `yaml:"poll_interval_ms"`
	BatchSize         int `yaml:"batch_size"`
	MaxPublishAttempts int `yaml:"max_publish_attempts"`
}

type LeaseConfig struct {
	LeaseMS    int `yaml:"lease_ms"`
	RenewalMS  int `yaml:"renewal_ms"`
}

type GraphBuildConfig struct {
	IngestBatchSize int `yaml:"ingest_batch_size"`
}

type APIConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`
}

// ScoutConfig governs the filesystem walk of spec.md §4.1 step 1.
type ScoutConfig struct {
	IncludeGlobs       []string `yaml:"include_globs"`
	ExcludeGlobs       []string `yaml:"exclude_globs"`
	MaxConcurrentReads int      `yaml:"max_concurrent_reads" validate:"gte=0"`
}

// defaults mirrors spec.md §6's recognized-option defaults.
func defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "triangulate",
			Database:        "triangulate",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Cache: CacheConfig{Addr: "localhost:6379"},
		Queue: QueueConfig{
			Addr:          "localhost:6379",
			MaxJobRetries: 3,
			JobBackoff:    1 * time.Second,
			JobTimeout:    10 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Timeout:     30 * time.Second,
			Temperature: 0.2,
			MaxTokens:   2048,
		},
		Reconciliation: ReconciliationConfig{
			ConfidenceThreshold: 0.85,
			Weights: map[string]float64{
				"file":      1.0,
				"directory": 1.2,
				"global":    1.5,
			},
		},
		Outbox: OutboxConfig{
			PollIntervalMSRaw:  500,
			BatchSize:          100,
			MaxPublishAttempts: 5,
		},
		Lease: LeaseConfig{LeaseMS: 30000, RenewalMS: 10000},
		GraphBuild: GraphBuildConfig{IngestBatchSize: 100},
		API:        APIConfig{Port: "8080", AllowedOrigins: []string{"*"}},
		Logging:    LoggingConfig{Level: "info", Format: "json"},
		Scout: ScoutConfig{
			IncludeGlobs:       []string{"**/*"},
			ExcludeGlobs:       []string{"**/.git/**", "**/node_modules/**", "**/vendor/**", "**/.git"},
			MaxConcurrentReads: 16,
		},
	}
}

var validate = validator.New()

// Load reads the YAML file at path, applies defaults for anything the
// file omits, resolves duration strings, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := resolveDurations(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func resolveDurations(cfg *Config) error {
	if cfg.Database.ConnMaxLifetimeRaw != "" {
		d, err := time.ParseDuration(cfg.Database.ConnMaxLifetimeRaw)
		if err != nil {
			return err
		}
		cfg.Database.ConnMaxLifetime = d
	}
	if cfg.Queue.JobBackoffRaw != "" {
		d, err := time.ParseDuration(cfg.Queue.JobBackoffRaw)
		if err != nil {
			return err
		}
		cfg.Queue.JobBackoff = d
	}
	if cfg.Queue.JobTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Queue.JobTimeoutRaw)
		if err != nil {
			return err
		}
		cfg.Queue.JobTimeout = d
	}
	if cfg.LLM.TimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.LLM.TimeoutRaw)
		if err != nil {
			return err
		}
		cfg.LLM.Timeout = d
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
		cfg.Queue.Addr = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Notify.SlackWebhookURL = v
	}
}
