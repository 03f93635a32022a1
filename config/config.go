package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"loopvault/native/vault"
)

// Config is the daemon-level configuration: engine policy plus the ambient
// concerns (metrics endpoint, logging, telemetry, throttling).
type Config struct {
	MetricsAddress string `toml:"MetricsAddress"`
	LogEnvironment string `toml:"LogEnvironment"`
	// LogFile enables rotated file logging when non-empty.
	LogFile       string `toml:"LogFile"`
	ScenarioFile  string `toml:"ScenarioFile"`
	OTLPEndpoint  string `toml:"OTLPEndpoint"`
	OTLPInsecure  bool   `toml:"OTLPInsecure"`
	TracesEnabled bool   `toml:"TracesEnabled"`

	Vault vault.Config `toml:"vault"`
	Quota QuotaConfig  `toml:"quota"`
}

// QuotaConfig throttles top-level operations per caller.
type QuotaConfig struct {
	MaxOperationsPerEpoch uint32 `toml:"MaxOperationsPerEpoch"`
	MaxWeiPerEpoch        uint64 `toml:"MaxWeiPerEpoch"`
	EpochSeconds          uint32 `toml:"EpochSeconds"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.MetricsAddress) == "" {
		c.MetricsAddress = ":9464"
	}
	if strings.TrimSpace(c.LogEnvironment) == "" {
		c.LogEnvironment = "local"
	}
	c.Vault.EnsureDefaults()
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create config directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create default config: %w", err)
	}
	defer file.Close()

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode default config: %w", err)
	}
	return cfg, nil
}
