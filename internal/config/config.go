// Package config loads the multipost configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "MULTIPOST"

// AccountConfig declares one account on one website.
type AccountConfig struct {
	ID      string `mapstructure:"id" yaml:"id"`
	Website string `mapstructure:"website" yaml:"website"`
	Name    string `mapstructure:"name" yaml:"name"`
}

// HTTPConfig tunes the transport.
type HTTPConfig struct {
	Timeout  time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RetryMax int           `mapstructure:"retry_max" yaml:"retry_max"`
}

// PostConfig tunes dispatch.
type PostConfig struct {
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency"`
	Footer      string `mapstructure:"footer" yaml:"footer"`
}

// Config is the top-level configuration.
type Config struct {
	Database string          `mapstructure:"database" yaml:"database"`
	HTTP     HTTPConfig      `mapstructure:"http" yaml:"http"`
	Post     PostConfig      `mapstructure:"post" yaml:"post"`
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
}

// Account returns the account with the given id or name.
func (c *Config) Account(idOrName string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == idOrName || strings.EqualFold(a.Name, idOrName) {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// DefaultDir returns ~/.config/multipost.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "multipost")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), "config.yaml")
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("database", filepath.Join(filepath.Dir(path), "multipost.db"))
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.retry_max", 2)
	v.SetDefault("post.concurrency", 4)
	v.SetDefault("post.footer", "")
	return v
}

// Load reads the config at path. A missing file yields the defaults.
// MULTIPOST_* environment variables override file values.
func Load(path string) (*Config, error) {
	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Post.Concurrency <= 0 {
		cfg.Post.Concurrency = 1
	}
	for i := range cfg.Accounts {
		cfg.Accounts[i].Website = strings.ToLower(strings.TrimSpace(cfg.Accounts[i].Website))
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.Set("database", cfg.Database)
	v.Set("http", map[string]any{
		"timeout":   cfg.HTTP.Timeout.String(),
		"retry_max": cfg.HTTP.RetryMax,
	})
	v.Set("post", map[string]any{"concurrency": cfg.Post.Concurrency, "footer": cfg.Post.Footer})

	accounts := make([]map[string]any, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, map[string]any{"id": a.ID, "website": a.Website, "name": a.Name})
	}
	v.Set("accounts", accounts)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}
