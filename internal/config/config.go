package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	LLM     LLMConfig     `yaml:"llm"`
	Storage StorageConfig `yaml:"storage"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Audit   AuditConfig   `yaml:"audit"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Port    int `yaml:"port"`
	MCPPort int `yaml:"mcp_port"`
}

// AuthConfig lists the API tokens the server accepts. Each token resolves
// to a user id; ownership checks hang off that id.
type AuthConfig struct {
	Tokens []TokenEntry `yaml:"tokens"`
}

type TokenEntry struct {
	User  string `yaml:"user"`
	Token string `yaml:"token"`
}

type LLMConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

type FetchConfig struct {
	Timeout   string `yaml:"timeout"`
	UserAgent string `yaml:"user_agent"`
}

// TimeoutDuration parses the fetch timeout, falling back to 20s.
func (f FetchConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(f.Timeout); err == nil && d > 0 {
		return d
	}
	return 20 * time.Second
}

type AuditConfig struct {
	Workers      int    `yaml:"workers"`
	PollInterval string `yaml:"poll_interval"`
	MaxAttempts  int    `yaml:"max_attempts"`
}

// PollIntervalDuration parses the worker poll interval, falling back to 2s.
func (a AuditConfig) PollIntervalDuration() time.Duration {
	if d, err := time.ParseDuration(a.PollInterval); err == nil && d > 0 {
		return d
	}
	return 2 * time.Second
}

type CacheConfig struct {
	TTL        string `yaml:"ttl"`
	MaxEntries int    `yaml:"max_entries"`
}

// TTLDuration parses the analysis cache TTL, falling back to 24h.
func (c CacheConfig) TTLDuration() time.Duration {
	if d, err := time.ParseDuration(c.TTL); err == nil && d > 0 {
		return d
	}
	return 24 * time.Hour
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Fetch: FetchConfig{
			Timeout:   "20s",
			UserAgent: "pagelift/1.0",
		},
		Audit: AuditConfig{
			Workers:      2,
			PollInterval: "2s",
			MaxAttempts:  3,
		},
		Cache: CacheConfig{
			TTL:        "24h",
			MaxEntries: 512,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "pagelift-data"
		}
	}
	return filepath.Join(dir, "pagelift")
}

func configFilePath() string {
	if p := os.Getenv("PAGELIFT_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "pagelift", "config.yaml")
}

// Load reads configuration in three layers: built-in defaults, the YAML
// config file, then PAGELIFT_* environment variables. The file lives at
// $XDG_CONFIG_HOME/pagelift/config.yaml unless PAGELIFT_CONFIG points
// elsewhere; a missing file is not an error.
func Load() (Config, error) {
	return loadFromPath(configFilePath())
}

func loadFromPath(path string) (Config, error) {
	cfg := defaults()

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		return Config{}, fmt.Errorf("missing required config: LLM API key. " +
			"Set llm.api_key in the config file or the PAGELIFT_LLM_API_KEY environment variable")
	}

	return cfg, nil
}
