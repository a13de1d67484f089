package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

const defaultDisplayName = "Anonymous Peer"

// Config is the per-identity settings file stored next to the database.
type Config struct {
	DisplayName string `json:"display_name"`
}

// loadConfig reads the config file at path. A missing or unreadable file
// yields defaults, so a fresh identity starts without ceremony.
func loadConfig(path string) Config {
	cfg := Config{DisplayName: defaultDisplayName}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("failed to read config, using defaults")
		}
		return cfg
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("failed to parse config, using defaults")
		return Config{DisplayName: defaultDisplayName}
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = defaultDisplayName
	}
	return cfg
}

// saveConfig writes the config file at path.
func saveConfig(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	return nil
}
