package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models workchain.yml.
type Config struct {
	Rewards struct {
		BasePoints            int     `yaml:"base_points"`
		ConsolationPoints     int     `yaml:"consolation_points"`
		TimelinessBonus       float64 `yaml:"timeliness_bonus"`
		TimelinessMarginHours float64 `yaml:"timeliness_margin_hours"`
		MaxQualityScore       float64 `yaml:"max_quality_score"`
	} `yaml:"rewards"`
	Validation struct {
		AllowedFileTypes        []string `yaml:"allowed_file_types"`
		MaxFileSizeBytes        int64    `yaml:"max_file_size_bytes"`
		ForbiddenPhrases        []string `yaml:"forbidden_phrases"`
		DescriptionWarningWords int      `yaml:"description_warning_words"`
	} `yaml:"validation"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Rewards.BasePoints <= 0 {
		return fmt.Errorf("config.rewards.base_points must be positive")
	}
	if c.Rewards.ConsolationPoints < 0 {
		return fmt.Errorf("config.rewards.consolation_points must not be negative")
	}
	if c.Rewards.TimelinessBonus < 1.0 {
		return fmt.Errorf("config.rewards.timeliness_bonus must be at least 1.0")
	}
	if c.Rewards.TimelinessMarginHours <= 0 {
		return fmt.Errorf("config.rewards.timeliness_margin_hours must be positive")
	}
	if c.Rewards.MaxQualityScore <= 0 {
		return fmt.Errorf("config.rewards.max_quality_score must be positive")
	}
	if c.Validation.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("config.validation.max_file_size_bytes must be positive")
	}
	if len(c.Validation.AllowedFileTypes) == 0 {
		return fmt.Errorf("config.validation.allowed_file_types is required")
	}
	for _, phrase := range c.Validation.ForbiddenPhrases {
		if phrase == "" {
			return fmt.Errorf("config.validation.forbidden_phrases contains empty phrase")
		}
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "workchain.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate with wch config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the built-in defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in Config. Its validation constants are the
// reference values: 10 MiB file cap, the fixed forbidden-phrase list, and the
// image/pdf/text allowed types.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `rewards:
  base_points: 100
  consolation_points: 10
  timeliness_bonus: 1.1
  timeliness_margin_hours: 24
  max_quality_score: 2.0

validation:
  max_file_size_bytes: 10485760
  allowed_file_types:
    - image/*
    - application/pdf
    - text/*
  forbidden_phrases:
    - inappropriate content
    - spam
    - malicious
    - hack
    - exploit
    - virus
    - malware
    - phishing
    - scam
    - fraud
  description_warning_words: 10

webhooks: []
`
