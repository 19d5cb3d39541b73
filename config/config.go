package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the tunable values one run consumes. It is passed
// explicitly into each run invocation rather than held as process-wide
// state, so concurrent runs with different settings never interfere.
type Config struct {
	// MaxConcurrency bounds simultaneously in-flight node executions.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// NodeTimeout is the default per-attempt timeout for nodes that do
	// not declare their own.
	NodeTimeout time.Duration `yaml:"node_timeout" json:"node_timeout"`

	// CacheTTL is the default time-to-live for cache entries.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// ContextTokenBudget caps the total token size of retrieved context.
	ContextTokenBudget int `yaml:"context_token_budget" json:"context_token_budget"`

	// MinSimilarity is the retrieval similarity threshold below which
	// candidates are discarded.
	MinSimilarity float64 `yaml:"min_similarity" json:"min_similarity"`

	// Retry holds the default per-node retry policy.
	Retry RetryConfig `yaml:"retry" json:"retry"`
}

// RetryConfig is the default retry policy applied to nodes without one.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BackoffBase is the initial delay before the first retry.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`

	// BackoffCap caps the exponentially growing delay.
	BackoffCap time.Duration `yaml:"backoff_cap" json:"backoff_cap"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency:     4,
		NodeTimeout:        30 * time.Second,
		CacheTTL:           1 * time.Hour,
		ContextTokenBudget: 2000,
		MinSimilarity:      0.2,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: 500 * time.Millisecond,
			BackoffCap:  10 * time.Second,
		},
	}
}

// Load reads a yaml config file, applying defaults for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UnmarshalYAML merges yaml values over the receiver's current values, so
// fields absent from the file keep their defaults. Durations accept the
// time.ParseDuration syntax ("500ms", "30s"), which yaml cannot decode
// into time.Duration on its own.
func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type raw struct {
		MaxConcurrency     *int     `yaml:"max_concurrency"`
		NodeTimeout        *string  `yaml:"node_timeout"`
		CacheTTL           *string  `yaml:"cache_ttl"`
		ContextTokenBudget *int     `yaml:"context_token_budget"`
		MinSimilarity      *float64 `yaml:"min_similarity"`
		Retry              *struct {
			MaxAttempts *int    `yaml:"max_attempts"`
			BackoffBase *string `yaml:"backoff_base"`
			BackoffCap  *string `yaml:"backoff_cap"`
		} `yaml:"retry"`
	}

	var r raw
	if err := node.Decode(&r); err != nil {
		return err
	}

	if r.MaxConcurrency != nil {
		c.MaxConcurrency = *r.MaxConcurrency
	}
	if r.ContextTokenBudget != nil {
		c.ContextTokenBudget = *r.ContextTokenBudget
	}
	if r.MinSimilarity != nil {
		c.MinSimilarity = *r.MinSimilarity
	}
	if err := setDuration(&c.NodeTimeout, r.NodeTimeout, "node_timeout"); err != nil {
		return err
	}
	if err := setDuration(&c.CacheTTL, r.CacheTTL, "cache_ttl"); err != nil {
		return err
	}
	if r.Retry != nil {
		if r.Retry.MaxAttempts != nil {
			c.Retry.MaxAttempts = *r.Retry.MaxAttempts
		}
		if err := setDuration(&c.Retry.BackoffBase, r.Retry.BackoffBase, "retry.backoff_base"); err != nil {
			return err
		}
		if err := setDuration(&c.Retry.BackoffCap, r.Retry.BackoffCap, "retry.backoff_cap"); err != nil {
			return err
		}
	}
	return nil
}

func setDuration(dst *time.Duration, src *string, field string) error {
	if src == nil {
		return nil
	}
	d, err := time.ParseDuration(*src)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	*dst = d
	return nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be >= 1, got %d", c.MaxConcurrency)
	}
	if c.NodeTimeout <= 0 {
		return fmt.Errorf("node_timeout must be positive, got %s", c.NodeTimeout)
	}
	if c.ContextTokenBudget < 0 {
		return fmt.Errorf("context_token_budget must be >= 0, got %d", c.ContextTokenBudget)
	}
	if c.MinSimilarity < 0 || c.MinSimilarity > 1 {
		return fmt.Errorf("min_similarity must be in [0,1], got %v", c.MinSimilarity)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	return nil
}
