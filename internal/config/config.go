// Package config loads and saves the YAML configuration of the htlc tooling.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/klingon-exchange/klingon-htlc/internal/backend"
	"github.com/klingon-exchange/klingon-htlc/internal/chain"
)

// FileName is the default config file name.
const FileName = "config.yaml"

// DefaultDataDir is where the CLI looks for its config.
const DefaultDataDir = "~/.htlcswap"

// Config holds all configuration.
type Config struct {
	Network chain.Network   `yaml:"network"`
	Backend *backend.Config `yaml:"backend"`
	Swap    SwapConfig      `yaml:"swap"`
	Logging LoggingConfig   `yaml:"logging"`
}

// SwapConfig holds contract and transaction defaults.
type SwapConfig struct {
	// MakerTimeoutBlocks is the CSV timeout of the contract funded first.
	MakerTimeoutBlocks uint32 `yaml:"maker_timeout_blocks"`

	// TakerTimeoutBlocks is the CSV timeout of the counter contract.
	// Must be shorter than MakerTimeoutBlocks.
	TakerTimeoutBlocks uint32 `yaml:"taker_timeout_blocks"`

	// TxVersion is the version of built transactions. CSV needs 2 or higher.
	TxVersion int32 `yaml:"tx_version"`

	// AvgBlockTimeSeconds is used for time estimates only.
	AvgBlockTimeSeconds uint32 `yaml:"avg_block_time_seconds"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with defaults for network.
func DefaultConfig(network chain.Network) *Config {
	cfg := &Config{
		Network: network,
		Backend: backend.DefaultConfig(),
		Swap: SwapConfig{
			MakerTimeoutBlocks:  144, // ~24 hours at 10 min/block
			TakerTimeoutBlocks:  72,  // ~12 hours
			TxVersion:           2,
			AvgBlockTimeSeconds: 600,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
	if network == chain.Testnet {
		cfg.Swap.MakerTimeoutBlocks = 72
		cfg.Swap.TakerTimeoutBlocks = 36
	}
	return cfg
}

// Validate checks the configuration for values that would build invalid contracts.
func (c *Config) Validate() error {
	if _, ok := chain.Get(c.Network); !ok {
		return fmt.Errorf("unsupported network: %q", c.Network)
	}
	if c.Backend == nil {
		return fmt.Errorf("backend section is required")
	}
	if c.Backend.URL(c.Network) == "" {
		return fmt.Errorf("backend has no %s endpoint", c.Network)
	}
	if c.Swap.MakerTimeoutBlocks == 0 || c.Swap.MakerTimeoutBlocks > 0xFFFF {
		return fmt.Errorf("maker_timeout_blocks must be in 1..65535, got %d", c.Swap.MakerTimeoutBlocks)
	}
	if c.Swap.TakerTimeoutBlocks == 0 || c.Swap.TakerTimeoutBlocks >= c.Swap.MakerTimeoutBlocks {
		return fmt.Errorf("taker_timeout_blocks (%d) must be positive and below maker_timeout_blocks (%d)",
			c.Swap.TakerTimeoutBlocks, c.Swap.MakerTimeoutBlocks)
	}
	if c.Swap.TxVersion < 2 {
		return fmt.Errorf("tx_version must be at least 2 for relative timelocks, got %d", c.Swap.TxVersion)
	}
	return nil
}

// EstimateDelay estimates how long blocks take to be mined.
func (s SwapConfig) EstimateDelay(blocks uint32) time.Duration {
	return time.Duration(blocks) * time.Duration(s.AvgBlockTimeSeconds) * time.Second
}

// Load loads configuration from dataDir/config.yaml.
// If the file doesn't exist, it creates one with default values for network.
func Load(dataDir string, network chain.Network) (*Config, error) {
	configPath := Path(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig(network)
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig(network)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configPath, err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# htlcswap configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Path returns the full path to the config file for the given data directory.
func Path(dataDir string) string {
	return filepath.Join(expandPath(dataDir), FileName)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
