package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"

	"github.com/dgellow/gamelogin/internal/gameapi"
	"github.com/dgellow/gamelogin/internal/log"
	"github.com/dgellow/gamelogin/internal/urlutil"
)

// LoadFromEnv builds a Config from GAMELOGIN_* variables and their defaults.
func LoadFromEnv() (Config, error) {
	var config Config
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return config, nil
}

// Load reads the environment, overlays the config file at path (if any) and
// validates the result.
func Load(path string) (Config, error) {
	config, err := LoadFromEnv()
	if err != nil {
		return Config{}, err
	}

	if path != "" {
		if err := overlayFile(&config, path); err != nil {
			return Config{}, err
		}
	}

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

func overlayFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, VersionPrefix) {
		return fmt.Errorf("unsupported config version: %s", version)
	}

	if err := json.Unmarshal(data, config); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	return nil
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if config.BaseURL == "" {
		return fmt.Errorf("baseURL is required")
	}
	if _, err := urlutil.ParseBase(config.BaseURL); err != nil {
		return fmt.Errorf("baseURL: %w", err)
	}

	schema, err := gameapi.ParseSchema(string(config.Schema))
	if err != nil {
		return err
	}
	config.Schema = schema

	if config.HTTPTimeout < 0 {
		return fmt.Errorf("httpTimeout cannot be negative")
	}
	if config.Poll.Interval <= 0 {
		return fmt.Errorf("poll.interval must be positive")
	}
	if config.Poll.MaxAttempts < 0 {
		return fmt.Errorf("poll.maxAttempts cannot be negative")
	}
	if config.Poll.Timeout < 0 {
		return fmt.Errorf("poll.timeout cannot be negative")
	}

	if config.Poll.Timeout > 0 && config.Poll.Timeout < config.Poll.Interval {
		log.LogWarn("Poll timeout %s is shorter than the poll interval %s; only one poll will run", config.Poll.Timeout, config.Poll.Interval)
	}
	if config.Poll.Timeout == 0 && config.Poll.MaxAttempts == 0 {
		log.LogWarn("Poll timeout and maxAttempts are both 0 (unlimited) - waiting for login never gives up")
	}

	return nil
}
