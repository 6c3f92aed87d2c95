package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pario-ai/chargeback/pkg/models"
	"github.com/pario-ai/chargeback/pkg/tokenizer"
)

// Config holds all chargeback configuration.
type Config struct {
	Listen     string            `yaml:"listen"`
	DBPath     string            `yaml:"db_path"`
	Log        LogConfig         `yaml:"log"`
	Meter      MeterConfig       `yaml:"meter"`
	Tokenizer  tokenizer.Options `yaml:"tokenizer"`
	Queue      QueueConfig       `yaml:"queue"`
	Sinks      SinksConfig       `yaml:"sinks"`
	Spool      SpoolConfig       `yaml:"spool"`
	Budget     BudgetConfig      `yaml:"budget"`
	DeadLetter DeadLetterConfig  `yaml:"dead_letter"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
	Output string `yaml:"output"` // "stdout", "stderr" or a file path
}

// MeterConfig controls batch processing.
type MeterConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// QueueConfig defines the asynq transport.
type QueueConfig struct {
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	Queue         string `yaml:"queue"`
	Concurrency   int    `yaml:"concurrency"`
	MaxRetry      int    `yaml:"max_retry"`
}

// SinksConfig selects where usage records are delivered.
type SinksConfig struct {
	Tracker     bool              `yaml:"tracker"`
	Metrics     bool              `yaml:"metrics"`
	Log         bool              `yaml:"log"`
	RedisStream RedisStreamConfig `yaml:"redis_stream"`
}

// RedisStreamConfig publishes usage events onto a Redis stream.
type RedisStreamConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
	MaxLen   int64  `yaml:"max_len"`
}

// SpoolConfig controls the directory watcher transport.
type SpoolConfig struct {
	Dir        string `yaml:"dir"`
	Pattern    string `yaml:"pattern"`
	DoneSuffix string `yaml:"done_suffix"`
}

// BudgetConfig controls per app key token budgets.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// DeadLetterConfig controls persistence of failed records.
type DeadLetterConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "chargeback.db",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
		Meter: MeterConfig{
			Concurrency:  1,
			BatchTimeout: 5 * time.Minute,
		},
		Tokenizer: tokenizer.Options{
			Encoding:  tokenizer.DefaultEncoding,
			Offline:   true,
			CacheSize: 4096,
		},
		Queue: QueueConfig{
			RedisAddr:   "localhost:6379",
			Queue:       "chargeback",
			Concurrency: 4,
			MaxRetry:    5,
		},
		Sinks: SinksConfig{
			Tracker: true,
			Metrics: true,
			Log:     true,
			RedisStream: RedisStreamConfig{
				Addr:   "localhost:6379",
				Stream: "chargeback:usage",
			},
		},
		Spool: SpoolConfig{
			Dir:        "spool",
			Pattern:    "*.jsonl",
			DoneSuffix: ".done",
		},
		DeadLetter: DeadLetterConfig{
			Enabled:       true,
			DBPath:        "chargeback-deadletter.db",
			RetentionDays: 30,
		},
	}
}

// Load reads a YAML config file and expands environment variables. A .env
// file next to the config, if present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it is set and otherwise returns Default().
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
