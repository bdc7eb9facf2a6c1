package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/TobiSchelling/hrnews/internal/registry"
	"github.com/TobiSchelling/hrnews/internal/secrets"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Sources    []Source `yaml:"sources"`
	Cache      Cache    `yaml:"cache"`
	Fetch      Fetch    `yaml:"fetch"`
	Search     Search   `yaml:"search"`
	Enrich     Enrich   `yaml:"enrich"`
	Local      Local    `yaml:"local"`
	Refresh    Refresh  `yaml:"refresh"`
	Server     Server   `yaml:"server"`
	Output     Output   `yaml:"output"`
	SecretsDir string   `yaml:"secrets_dir"`
	Logging    Logging  `yaml:"logging"`
}

type Source struct {
	Key           string   `yaml:"key"`
	Kind          string   `yaml:"kind"`
	Name          string   `yaml:"name"`
	Endpoint      string   `yaml:"endpoint"`
	Category      string   `yaml:"category"`
	Parser        string   `yaml:"parser"`
	Enabled       bool     `yaml:"enabled"`
	CredentialRef string   `yaml:"credential_ref"`
	Queries       []string `yaml:"queries"`
}

type Cache struct {
	TTL        time.Duration `yaml:"ttl"`
	ServeStale bool          `yaml:"serve_stale"`
	RedisAddr  string        `yaml:"redis_addr"`
	Retention  time.Duration `yaml:"retention"`
}

type Fetch struct {
	Timeout      time.Duration `yaml:"timeout"`
	PassTimeout  time.Duration `yaml:"pass_timeout"`
	UserAgent    string        `yaml:"user_agent"`
	MaxItems     int           `yaml:"max_items"`
	SummaryChars int           `yaml:"summary_chars"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

type Search struct {
	WindowDays int    `yaml:"window_days"`
	PageSize   int    `yaml:"page_size"`
	Language   string `yaml:"language"`
}

type Enrich struct {
	Enabled    bool          `yaml:"enabled"`
	MaxPerPass int           `yaml:"max_per_pass"`
	Timeout    time.Duration `yaml:"timeout"`
}

type Local struct {
	Path string `yaml:"path"`
}

type Refresh struct {
	Cron    string   `yaml:"cron"`
	Regions []string `yaml:"regions"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type Logging struct {
	Level string `yaml:"level"`
}

// ConfigDir returns the XDG config directory for hrnews.
func ConfigDir() string {
	return filepath.Join(xdg.ConfigHome, "hrnews")
}

// DataDir returns the XDG data directory for hrnews.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "hrnews")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > $XDG_CONFIG_HOME/hrnews/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'hrnews init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	return parse(DefaultConfigYAML)
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		Cache: Cache{
			TTL:       time.Hour,
			Retention: 24 * time.Hour,
		},
		Fetch: Fetch{
			Timeout:      20 * time.Second,
			PassTimeout:  60 * time.Second,
			UserAgent:    "hrnews/1.0 (harm reduction news aggregator)",
			MaxItems:     20,
			SummaryChars: 300,
			MaxBodyBytes: 5 << 20,
		},
		Search: Search{
			WindowDays: 7,
			PageSize:   20,
			Language:   "en",
		},
		Enrich: Enrich{
			MaxPerPass: 10,
			Timeout:    15 * time.Second,
		},
		Refresh: Refresh{
			Cron:    "@hourly",
			Regions: []string{"All Regions"},
		},
		Server:     Server{Host: "127.0.0.1", Port: 8000},
		SecretsDir: ".secrets",
		Logging:    Logging{Level: "INFO"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	seen := make(map[string]bool)
	for i, s := range cfg.Sources {
		if s.Key == "" {
			return fmt.Errorf("source %d: key is required", i)
		}
		if seen[s.Key] {
			return fmt.Errorf("source %q: duplicate key", s.Key)
		}
		seen[s.Key] = true

		kind := registry.Kind(s.Kind)
		if !kind.Valid() {
			return fmt.Errorf("source %q: unknown kind %q (valid: feed, vendor, search, local)", s.Key, s.Kind)
		}
		if kind == registry.KindLocal {
			continue
		}
		if s.Endpoint == "" {
			return fmt.Errorf("source %q: endpoint is required", s.Key)
		}
		u, err := url.Parse(s.Endpoint)
		if err != nil {
			return fmt.Errorf("source %q: invalid endpoint: %w", s.Key, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("source %q: endpoint scheme must be http or https, got %q", s.Key, u.Scheme)
		}
		if kind == registry.KindSearch && s.CredentialRef == "" {
			return fmt.Errorf("source %q: search sources need a credential_ref", s.Key)
		}
	}
	if cfg.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	return nil
}

// Descriptors converts the configured sources into registry descriptors.
func (c *Config) Descriptors() []registry.Descriptor {
	out := make([]registry.Descriptor, len(c.Sources))
	for i, s := range c.Sources {
		out[i] = registry.Descriptor{
			Key:           s.Key,
			Kind:          registry.Kind(s.Kind),
			Name:          s.Name,
			Endpoint:      s.Endpoint,
			Category:      s.Category,
			Parser:        s.Parser,
			Enabled:       s.Enabled,
			CredentialRef: s.CredentialRef,
			Queries:       s.Queries,
		}
	}
	return out
}

// Credentials returns a resolver over the environment and the secrets
// directory.
func (c *Config) Credentials() (*secrets.Resolver, error) {
	return secrets.NewResolver(c.SecretsDir)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the path of the pass history database.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "hrnews.db")
}
