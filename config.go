package modelrouter

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	defaultMaxTokens   = 1000
	defaultCallTimeout = 60 * time.Second
)

// Config is the top-level router configuration.
type Config struct {
	Budget           BudgetConfig      `yaml:"budget" toml:"budget"`
	DefaultMaxTokens int               `yaml:"default_max_tokens" toml:"default_max_tokens"`
	CallTimeout      time.Duration     `yaml:"call_timeout" toml:"call_timeout"`
	FreeModel        string            `yaml:"free_model" toml:"free_model"`
	Models           []ModelDescriptor `yaml:"models" toml:"models"`
	Accounts         []AccountConfig   `yaml:"accounts" toml:"accounts"`
	Scoring          Scoring           `yaml:"scoring" toml:"scoring"`
}

// BudgetConfig sets the spend ceiling for one billing period.
type BudgetConfig struct {
	Total  float64 `yaml:"total" toml:"total"`
	Period Period  `yaml:"period" toml:"period"`
}

// Period is the billing period after which spend resets.
type Period string

const (
	PeriodMonthly Period = "monthly"
	PeriodDaily   Period = "daily"
)

// Start returns the beginning of the period containing t (UTC).
func (p Period) Start(t time.Time) time.Time {
	t = t.UTC()
	if p == PeriodDaily {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// Next returns the beginning of the period after the one containing t.
func (p Period) Next(t time.Time) time.Time {
	start := p.Start(t)
	if p == PeriodDaily {
		return start.AddDate(0, 0, 1)
	}
	return start.AddDate(0, 1, 0)
}

// AccountConfig holds the credentials for one provider.
// An account with an empty API key makes the provider unavailable unless Keyless is set.
type AccountConfig struct {
	Provider string `yaml:"provider" toml:"provider"`
	ID       string `yaml:"id" toml:"id"`
	Auth     Auth   `yaml:"auth" toml:"auth"`
	Keyless  bool   `yaml:"keyless" toml:"keyless"`
}

func (a AccountConfig) usable() bool {
	return a.Keyless || a.Auth.APIKey != ""
}

// LoadConfig reads and parses a YAML or TOML config file (chosen by extension).
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("modelrouter: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return Config{}, fmt.Errorf("modelrouter: parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("modelrouter: parse config: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for required fields and consistency.
func (c Config) Validate() error {
	if c.Budget.Total < 0 {
		return fmt.Errorf("modelrouter: config: budget.total must not be negative")
	}
	switch c.Budget.Period {
	case "", PeriodMonthly, PeriodDaily:
	default:
		return fmt.Errorf("modelrouter: config: invalid budget.period %q", c.Budget.Period)
	}
	if c.DefaultMaxTokens < 0 {
		return fmt.Errorf("modelrouter: config: default_max_tokens must not be negative")
	}
	if c.CallTimeout < 0 {
		return fmt.Errorf("modelrouter: config: call_timeout must not be negative")
	}

	if len(c.Models) == 0 {
		return fmt.Errorf("modelrouter: config: at least one model is required")
	}
	names := make(map[string]ModelDescriptor, len(c.Models))
	for i, m := range c.Models {
		if err := validateDescriptor(m); err != nil {
			return fmt.Errorf("modelrouter: config: models[%d]: %w", i, err)
		}
		if _, dup := names[m.Name]; dup {
			return fmt.Errorf("modelrouter: config: duplicate model %q", m.Name)
		}
		names[m.Name] = m
	}

	if c.FreeModel != "" {
		m, ok := names[c.FreeModel]
		if !ok {
			return fmt.Errorf("modelrouter: config: free_model %q: %w", c.FreeModel, ErrModelNotFound)
		}
		if !m.Free() {
			return fmt.Errorf("modelrouter: config: free_model %q has a non-zero cost", c.FreeModel)
		}
	}

	providers := make(map[string]bool, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.Provider == "" {
			return fmt.Errorf("modelrouter: config: account[%d]: provider is required", i)
		}
		if providers[acc.Provider] {
			return fmt.Errorf("modelrouter: config: duplicate account for provider %q", acc.Provider)
		}
		providers[acc.Provider] = true
	}

	return c.Scoring.validate()
}

func (c Config) withDefaults() Config {
	if c.Budget.Period == "" {
		c.Budget.Period = PeriodMonthly
	}
	if c.DefaultMaxTokens == 0 {
		c.DefaultMaxTokens = defaultMaxTokens
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = defaultCallTimeout
	}
	accounts := make([]AccountConfig, len(c.Accounts))
	for i, acc := range c.Accounts {
		if acc.ID == "" {
			acc.ID = acc.Provider
		}
		accounts[i] = acc
	}
	c.Accounts = accounts
	c.Scoring = c.Scoring.withDefaults()
	return c
}
