// Package config loads the trainer's hyperparameters from a YAML file with
// environment-variable overrides. Validation is fail-fast: a malformed
// configuration stops the process before any training happens.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/snow-ghost/tangram/pkg/logging"
	"github.com/snow-ghost/tangram/pkg/tracing"
	"github.com/snow-ghost/tangram/reward"
	"github.com/snow-ghost/tangram/search"
	"github.com/snow-ghost/tangram/trainer"
)

// Config is the full run configuration.
type Config struct {
	DatasetPath string `yaml:"dataset"`

	Epochs     int   `yaml:"epochs"`
	BatchSize  int   `yaml:"batch_size"`
	Workers    int   `yaml:"workers"`
	Seed       int64 `yaml:"seed"`
	FeatureDim int   `yaml:"feature_dim"`

	CheckpointPath  string `yaml:"checkpoint_path"`
	CheckpointEvery int    `yaml:"checkpoint_every"`
	ResumeFrom      string `yaml:"resume_from"`

	EvalCacheSize int    `yaml:"eval_cache_size"`
	MetricsAddr   string `yaml:"metrics_addr"`

	Search  search.Config  `yaml:"search"`
	Trainer trainer.Config `yaml:"trainer"`
	Reward  reward.Shaping `yaml:"reward"`
	Logging logging.Config `yaml:"logging"`
	Tracing tracing.Config `yaml:"tracing"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Epochs:          10,
		BatchSize:       8,
		Workers:         4,
		Seed:            1,
		FeatureDim:      4096,
		CheckpointPath:  "checkpoints/policy.json",
		CheckpointEvery: 100,
		EvalCacheSize:   4096,
		Search: search.Config{
			BeamWidth:     16,
			MaxProgramLen: 8,
			Epsilon:       0.1,
		},
		Trainer: trainer.Config{
			LearningRate:     0.05,
			BaselineRate:     0.05,
			UseBaseline:      true,
			NormalizeRewards: true,
			RewardClip:       5,
		},
		Reward:  reward.DefaultShaping(),
		Logging: logging.Config{Level: "info", Format: "console"},
		Tracing: tracing.Config{ServiceName: "tangram-trainer"},
	}
}

// Load reads the config file, applies env overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv layers environment overrides over the file values.
func (c *Config) applyEnv() {
	c.DatasetPath = getEnv("TANGRAM_DATASET", c.DatasetPath)
	c.CheckpointPath = getEnv("TANGRAM_CHECKPOINT", c.CheckpointPath)
	c.ResumeFrom = getEnv("TANGRAM_RESUME_FROM", c.ResumeFrom)
	c.MetricsAddr = getEnv("TANGRAM_METRICS_ADDR", c.MetricsAddr)
	c.Logging.Level = getEnv("TANGRAM_LOG_LEVEL", c.Logging.Level)
	c.Tracing.JaegerEndpoint = getEnv("TANGRAM_JAEGER_ENDPOINT", c.Tracing.JaegerEndpoint)
	c.Seed = getEnvInt64("TANGRAM_SEED", c.Seed)
	c.Workers = getEnvInt("TANGRAM_WORKERS", c.Workers)
	c.Search.Seed = c.Seed
}

// Validate checks every section. Violations here are fatal at startup.
func (c Config) Validate() error {
	if c.DatasetPath == "" {
		return fmt.Errorf("dataset path is required")
	}
	if c.Epochs < 1 {
		return fmt.Errorf("epochs %d, must be at least 1", c.Epochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size %d, must be at least 1", c.BatchSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers %d, must be at least 1", c.Workers)
	}
	if c.FeatureDim < 16 {
		return fmt.Errorf("feature dimension %d too small", c.FeatureDim)
	}
	if c.CheckpointPath == "" {
		return fmt.Errorf("checkpoint path is required")
	}
	if c.CheckpointEvery < 1 {
		return fmt.Errorf("checkpoint interval %d, must be at least 1", c.CheckpointEvery)
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.Trainer.Validate(); err != nil {
		return fmt.Errorf("trainer: %w", err)
	}
	if err := c.Reward.Validate(); err != nil {
		return fmt.Errorf("reward: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}
