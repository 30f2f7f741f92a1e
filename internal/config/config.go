package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"phobos.org.uk/ampprobe/internal/logging"
)

// Config represents the probe configuration
type Config struct {
	LogLevel    string      `yaml:"log_level"`
	HistoryDir  string      `yaml:"history_dir"`  // Directory for stored probe results
	ResultsFile string      `yaml:"results_file"` // JSON file written after a run
	Amp         AmpConfig   `yaml:"amp"`
	Parse       ParseConfig `yaml:"parse"`
	Serve       ServeConfig `yaml:"serve"`
	Prompts     []string    `yaml:"prompts,omitempty"`
}

// AmpConfig holds Amp CLI settings
type AmpConfig struct {
	Bin         string        `yaml:"bin"` // Empty means AMP_BIN or "amp" from PATH
	Timeout     time.Duration `yaml:"timeout"`
	WorkDir     string        `yaml:"work_dir"`
	SampleLimit int           `yaml:"sample_limit"` // Bytes of raw log kept per probe
	ExtraArgs   []string      `yaml:"extra_args,omitempty"`
}

// ParseConfig holds debug log parsing settings.
type ParseConfig struct {
	RepairTruncated bool `yaml:"repair_truncated"`
}

// ServeConfig holds HTTP view settings.
type ServeConfig struct {
	Port int `yaml:"port"`
}

// Defaults
const (
	DefaultLogLevel    = "info"
	DefaultResultsFile = "amp-debug-test-results.json"
	DefaultTimeout     = 2 * time.Minute
	DefaultWorkDir     = "."
	DefaultSampleLimit = 2000
	DefaultPort        = 9400
)

// DefaultPrompts exercise a spread of read-only tools.
func DefaultPrompts() []string {
	return []string{
		"List all Python files in the current directory",
		"Search for the word 'TODO' in all files",
		"Read the README.md file",
		"What is the current directory structure?",
		"Check if there are any TypeScript files",
	}
}

// Parse parses YAML config data
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	cfg.HistoryDir = ""
	cfg.Prompts = nil

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.HistoryDir == "" {
		cfg.HistoryDir = DefaultHistoryPath()
	}
	if len(cfg.Prompts) == 0 {
		cfg.Prompts = DefaultPrompts()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads config from a file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Validate checks config validity
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	if c.Amp.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second, got %v", c.Amp.Timeout)
	}

	if c.Amp.SampleLimit < 0 {
		return fmt.Errorf("sample_limit must not be negative, got %d", c.Amp.SampleLimit)
	}

	if c.Serve.Port < 1 || c.Serve.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Serve.Port)
	}

	for i, p := range c.Prompts {
		if p == "" {
			return fmt.Errorf("prompt %d is empty", i)
		}
	}

	return nil
}

// Level returns the configured log level.
func (c *Config) Level() logging.Level {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return logging.LevelInfo
	}
	return level
}

// Default returns a config with default values
func Default() *Config {
	return &Config{
		LogLevel:    DefaultLogLevel,
		HistoryDir:  DefaultHistoryPath(),
		ResultsFile: DefaultResultsFile,
		Amp: AmpConfig{
			Timeout:     DefaultTimeout,
			WorkDir:     DefaultWorkDir,
			SampleLimit: DefaultSampleLimit,
		},
		Serve:   ServeConfig{Port: DefaultPort},
		Prompts: DefaultPrompts(),
	}
}

// DefaultHistoryPath returns the default history directory.
// Uses AMPPROBE_ROOT env var if set, otherwise ~/.ampprobe/history
func DefaultHistoryPath() string {
	root := os.Getenv("AMPPROBE_ROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		root = filepath.Join(home, ".ampprobe")
	}
	return filepath.Join(root, "history")
}
