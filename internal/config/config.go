// Package config loads engine configuration from YAML with environment
// overrides for credentials.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure parsed from YAML.
type Config struct {
	Server Server `yaml:"server"`
	Repair Repair `yaml:"repair"`
	Git    Git    `yaml:"git"`
	Oracle Oracle `yaml:"oracle"`
}

// Server configures the HTTP API.
type Server struct {
	Addr   string `yaml:"addr"`
	DBPath string `yaml:"db_path"`
}

// Repair bounds the repair loop.
type Repair struct {
	MaxIterations int    `yaml:"max_iterations"`
	TestTimeout   string `yaml:"test_timeout"`
	WorkDir       string `yaml:"work_dir"`
}

// Git configures the publishing side of a run.
type Git struct {
	Token       string `yaml:"token"`
	AuthorName  string `yaml:"author_name"`
	AuthorEmail string `yaml:"author_email"`
	CITimeout   string `yaml:"ci_timeout"`
}

// Oracle configures the fix generation backend.
type Oracle struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Load reads and parses a configuration from the given YAML file path, then
// applies defaults and environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)
	return &cfg, nil
}

// LoadDefault searches for a config in standard locations and loads the
// first one found. Search order: ./mend.yaml, ~/.mend/config.yaml. When no
// file exists, defaults plus environment variables are used.
func LoadDefault() (*Config, error) {
	candidates := []string{"mend.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".mend", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	cfg := &Config{}
	applyDefaults(cfg)
	applyEnv(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Repair.MaxIterations <= 0 {
		cfg.Repair.MaxIterations = 5
	}
	if cfg.Repair.TestTimeout == "" {
		cfg.Repair.TestTimeout = "5m"
	}
	if cfg.Repair.WorkDir == "" {
		cfg.Repair.WorkDir = filepath.Join(os.TempDir(), "mend-workspaces")
	}
	if cfg.Git.AuthorName == "" {
		cfg.Git.AuthorName = "AI Repair Agent"
	}
	if cfg.Git.AuthorEmail == "" {
		cfg.Git.AuthorEmail = "ai-agent@mend.local"
	}
	if cfg.Git.CITimeout == "" {
		cfg.Git.CITimeout = "10m"
	}
	if cfg.Oracle.Model == "" {
		cfg.Oracle.Model = "gpt-4o"
	}
}

// applyEnv lets credentials come from the environment so they never need to
// live in a config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Git.Token = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Oracle.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Oracle.BaseURL = v
	}
	if v := os.Getenv("MEND_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
}

// TestTimeout parses the configured test timeout.
func (c *Config) TestTimeout() time.Duration {
	return parseDuration(c.Repair.TestTimeout, 5*time.Minute)
}

// CITimeout parses the configured CI watch timeout.
func (c *Config) CITimeout() time.Duration {
	return parseDuration(c.Git.CITimeout, 10*time.Minute)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
