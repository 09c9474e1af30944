// Package config loads the indexer's TOML configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml"
)

// TokenConfig describes one ledger to index, a [[tokens]] entry.
type TokenConfig struct {
	Symbol     string `toml:"symbol"`
	Name       string `toml:"name"`
	CanisterID string `toml:"canister_id"`
	Decimals   *uint8 `toml:"decimals"`
}

// LogConfig controls the zap-based logger, the [log] config section.
type LogConfig struct {
	Level        string `toml:"level"`
	File         string `toml:"file"`
	ConsoleLevel string `toml:"console_level"`
	FileEnabled  bool   `toml:"file_enabled"`
	MaxSizeMB    int    `toml:"max_size"`
	MaxFiles     int    `toml:"max_files"`
}

// APIServerConfig describes the (externally implemented) read-only query surface.
// The indexer core only needs to know whether it should bind anything at all;
// the actual HTTP handlers are out of scope for this module.
type APIServerConfig struct {
	Enabled     bool `toml:"enabled"`
	Port        int  `toml:"port"`
	CORSEnabled bool `toml:"cors_enabled"`
}

// Config is the top-level application configuration.
// MongoDBURL keeps its historical field name for the document store
// connection string; this indexer's store is ClickHouse, so the value
// is read as the ClickHouse dial address unless overridden by
// CLICKHOUSE_ADDR.
type Config struct {
	MongoDBURL string          `toml:"mongodb_url"`
	Database   string          `toml:"database"`
	ICURL      string          `toml:"ic_url"`
	Tokens     []TokenConfig   `toml:"tokens"`
	Log        LogConfig       `toml:"log"`
	APIServer  APIServerConfig `toml:"api_server"`
}

// Load reads and validates config.toml from the given path. An empty path
// defaults to "config.toml" in the current working directory.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Database) == "" {
		return fmt.Errorf("config: database is required")
	}
	if strings.TrimSpace(c.ICURL) == "" {
		return fmt.Errorf("config: ic_url is required")
	}
	if len(c.Tokens) == 0 {
		return fmt.Errorf("config: at least one [[tokens]] entry is required")
	}

	seen := make(map[string]bool, len(c.Tokens))
	for i, t := range c.Tokens {
		symbol := strings.ToUpper(strings.TrimSpace(t.Symbol))
		if symbol == "" {
			return fmt.Errorf("config: tokens[%d].symbol is required", i)
		}
		if seen[symbol] {
			return fmt.Errorf("config: duplicate token symbol %q", symbol)
		}
		seen[symbol] = true
		if strings.TrimSpace(t.CanisterID) == "" {
			return fmt.Errorf("config: tokens[%d (%s)].canister_id is required", i, symbol)
		}
		c.Tokens[i].Symbol = symbol
	}

	return nil
}
