package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dgellow/gamelogin/internal/gameapi"
)

// VersionPrefix is the config file version this build understands.
const VersionPrefix = "v0.0.1-DEV_EDITION"

// Config is the resolved client configuration.
type Config struct {
	BaseURL     string         `json:"baseURL" env:"GAMELOGIN_BASE_URL" envDefault:"http://localhost:8080"`
	Schema      gameapi.Schema `json:"schema" env:"GAMELOGIN_SCHEMA" envDefault:"user_id"`
	HTTPTimeout time.Duration  `json:"httpTimeout" env:"GAMELOGIN_HTTP_TIMEOUT" envDefault:"10s"`
	Poll        PollConfig     `json:"poll"`
	// Achievement is granted after login. Empty disables the call.
	Achievement string `json:"achievement" env:"GAMELOGIN_ACHIEVEMENT" envDefault:"first_login"`
	SkipProfile bool   `json:"skipProfile" env:"GAMELOGIN_SKIP_PROFILE"`
}

// PollConfig controls how the login state is polled.
type PollConfig struct {
	Interval    time.Duration `json:"interval" env:"GAMELOGIN_POLL_INTERVAL" envDefault:"5s"`
	MaxAttempts int           `json:"maxAttempts" env:"GAMELOGIN_POLL_MAX_ATTEMPTS" envDefault:"0"`
	// Timeout bounds the whole wait. Zero means no bound.
	Timeout time.Duration `json:"timeout" env:"GAMELOGIN_POLL_TIMEOUT" envDefault:"5m"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference.
func ParseConfigValue(raw json.RawMessage) (string, error) {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// parseDuration accepts a duration string ("5s") or a reference to one.
func parseDuration(raw json.RawMessage) (time.Duration, error) {
	value, err := ParseConfigValue(raw)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return d, nil
}

// parseInt accepts a JSON number or a string / reference holding one.
func parseInt(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	value, err := ParseConfigValue(raw)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal([]byte(value), &n); err != nil {
		return 0, fmt.Errorf("invalid integer %q", value)
	}
	return n, nil
}

// UnmarshalJSON overlays the fields present in data onto c, resolving $env
// references immediately. Absent fields keep their current value.
func (c *Config) UnmarshalJSON(data []byte) error {
	type rawConfig struct {
		BaseURL     json.RawMessage `json:"baseURL"`
		Schema      json.RawMessage `json:"schema"`
		HTTPTimeout json.RawMessage `json:"httpTimeout"`
		Poll        *PollConfig     `json:"poll"`
		Achievement json.RawMessage `json:"achievement"`
		SkipProfile *bool           `json:"skipProfile"`
	}

	raw := rawConfig{Poll: &c.Poll}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.BaseURL != nil {
		value, err := ParseConfigValue(raw.BaseURL)
		if err != nil {
			return fmt.Errorf("parsing baseURL: %w", err)
		}
		c.BaseURL = value
	}
	if raw.Schema != nil {
		value, err := ParseConfigValue(raw.Schema)
		if err != nil {
			return fmt.Errorf("parsing schema: %w", err)
		}
		c.Schema = gameapi.Schema(value)
	}
	if raw.HTTPTimeout != nil {
		d, err := parseDuration(raw.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("parsing httpTimeout: %w", err)
		}
		c.HTTPTimeout = d
	}
	if raw.Achievement != nil {
		value, err := ParseConfigValue(raw.Achievement)
		if err != nil {
			return fmt.Errorf("parsing achievement: %w", err)
		}
		c.Achievement = value
	}
	if raw.SkipProfile != nil {
		c.SkipProfile = *raw.SkipProfile
	}
	return nil
}

// UnmarshalJSON overlays the poll fields present in data onto p.
func (p *PollConfig) UnmarshalJSON(data []byte) error {
	type rawPoll struct {
		Interval    json.RawMessage `json:"interval"`
		MaxAttempts json.RawMessage `json:"maxAttempts"`
		Timeout     json.RawMessage `json:"timeout"`
	}

	var raw rawPoll
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if raw.Interval != nil {
		d, err := parseDuration(raw.Interval)
		if err != nil {
			return fmt.Errorf("parsing poll.interval: %w", err)
		}
		p.Interval = d
	}
	if raw.MaxAttempts != nil {
		n, err := parseInt(raw.MaxAttempts)
		if err != nil {
			return fmt.Errorf("parsing poll.maxAttempts: %w", err)
		}
		p.MaxAttempts = n
	}
	if raw.Timeout != nil {
		d, err := parseDuration(raw.Timeout)
		if err != nil {
			return fmt.Errorf("parsing poll.timeout: %w", err)
		}
		p.Timeout = d
	}
	return nil
}
