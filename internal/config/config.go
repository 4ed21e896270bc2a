package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Defaults applied when a field is absent from the config file.
const (
	DefaultBadgePollSeconds = 10
	DefaultPageSize         = 10
)

// Config represents the global ~/.remas/config.toml. The backend base URL
// and the live-channel URL are deployment-specific and must never be
// hardcoded in the binary.
type Config struct {
	DefaultSession   string `toml:"default_session"`
	APIBaseURL       string `toml:"api_base_url"`
	ChannelURL       string `toml:"channel_url"`
	BadgePollSeconds int    `toml:"badge_poll_seconds"`
	PageSize         int    `toml:"page_size"`
}

// Load reads config from the given path and applies defaults.
// Returns an error if the file is missing or malformed.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks that the URLs required by the messaging core are present
// and parseable.
func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url is required")
	}
	if _, err := url.Parse(c.APIBaseURL); err != nil {
		return fmt.Errorf("api_base_url: %w", err)
	}
	if c.ChannelURL != "" {
		if _, err := url.Parse(c.ChannelURL); err != nil {
			return fmt.Errorf("channel_url: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.BadgePollSeconds <= 0 {
		c.BadgePollSeconds = DefaultBadgePollSeconds
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
}
