package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultDBFile is the SQLite file used when sqlite.db_file is unset.
	DefaultDBFile = "bucketspectre.db"
	// DefaultConcurrency bounds parallel snapshot fetches.
	DefaultConcurrency = 8
	// DefaultHighRiskThreshold is the score at which a bucket counts as high risk.
	DefaultHighRiskThreshold = 50
)

// Config holds bucketspectre configuration loaded from .bucketspectre.yaml.
type Config struct {
	Profile           string         `yaml:"profile"`
	Regions           []string       `yaml:"regions"`
	Format            string         `yaml:"format"`
	Timeout           string         `yaml:"timeout"`
	Concurrency       int            `yaml:"concurrency"`
	HighRiskThreshold int            `yaml:"high_risk_threshold"`
	RiskWeights       map[string]any `yaml:"risk_weights"`
	SQLite            SQLite         `yaml:"sqlite"`
	Exclude           Exclude        `yaml:"exclude"`
}

// SQLite names the persistence target.
type SQLite struct {
	DBFile string `yaml:"db_file"`
}

// Exclude defines buckets to skip during scanning.
type Exclude struct {
	Buckets  []string `yaml:"buckets"`
	Prefixes []string `yaml:"prefixes"`
}

// ConfigError reports malformed or missing required configuration.
// It is fatal: no scanning starts once one is returned.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "config: " + e.Reason
	}
	return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
}

// Matches reports whether the bucket name is excluded by name or prefix.
func (e Exclude) Matches(bucket string) bool {
	for _, b := range e.Buckets {
		if b == bucket {
			return true
		}
	}
	for _, p := range e.Prefixes {
		if p != "" && strings.HasPrefix(bucket, p) {
			return true
		}
	}
	return false
}

// TimeoutDuration parses the timeout string as a duration.
func (c Config) TimeoutDuration() time.Duration {
	if c.Timeout == "" {
		return 0
	}
	d, _ := time.ParseDuration(c.Timeout)
	return d
}

// DBFile returns the configured database path or the default.
func (c Config) DBFile() string {
	if c.SQLite.DBFile == "" {
		return DefaultDBFile
	}
	return c.SQLite.DBFile
}

// EffectiveConcurrency returns the worker limit, falling back to the default.
func (c Config) EffectiveConcurrency() int {
	if c.Concurrency <= 0 {
		return DefaultConcurrency
	}
	return c.Concurrency
}

// EffectiveHighRiskThreshold returns the high-risk boundary, falling back to the default.
func (c Config) EffectiveHighRiskThreshold() int {
	if c.HighRiskThreshold <= 0 {
		return DefaultHighRiskThreshold
	}
	return c.HighRiskThreshold
}

// Load searches for .bucketspectre.yaml or .bucketspectre.yml in the given directory
// and returns the parsed config. Returns an empty Config if no file is found.
func Load(dir string) (Config, error) {
	candidates := []string{
		filepath.Join(dir, ".bucketspectre.yaml"),
		filepath.Join(dir, ".bucketspectre.yml"),
	}

	for _, path := range candidates {
		cfg, err := LoadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return Config{}, err
		}
		return cfg, nil
	}

	return Config{}, nil
}

// LoadFile parses an explicit config path. A missing file is returned as an
// os.IsNotExist error so callers can decide whether that is fatal.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, err
		}
		return Config{}, &ConfigError{Key: path, Reason: fmt.Sprintf("read: %v", err)}
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &ConfigError{Key: path, Reason: fmt.Sprintf("parse: %v", err)}
	}
	if cfg.Timeout != "" {
		if _, err := time.ParseDuration(cfg.Timeout); err != nil {
			return Config{}, &ConfigError{Key: "timeout", Reason: fmt.Sprintf("invalid duration %q", cfg.Timeout)}
		}
	}
	if cfg.Concurrency < 0 {
		return Config{}, &ConfigError{Key: "concurrency", Reason: "must not be negative"}
	}
	return cfg, nil
}
