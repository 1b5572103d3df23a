package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatd/config.toml.
type Config struct {
	DefaultInstance string   `toml:"default_instance"`
	Listen          string   `toml:"listen"`
	Webhook         Webhook  `toml:"webhook"`
	Provider        Provider `toml:"provider"`
}

// Webhook configures the provider-facing endpoint.
type Webhook struct {
	VerifyToken string `toml:"verify_token"`
}

// Provider configures provider integration behavior.
type Provider struct {
	// SimulateReceipts makes the daemon generate delivered/read receipts for
	// outbound messages itself. For development without a real provider.
	SimulateReceipts bool `toml:"simulate_receipts"`
}

// Default returns the config used when no file exists.
func Default() *Config {
	return &Config{Listen: ":8085"}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
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
