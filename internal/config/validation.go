package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/dgellow/gamelogin/internal/gameapi"
	"github.com/dgellow/gamelogin/internal/urlutil"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

var (
	topLevelKeys = map[string]bool{
		"version": true, "baseURL": true, "schema": true, "httpTimeout": true,
		"poll": true, "achievement": true, "skipProfile": true,
	}
	pollKeys = map[string]bool{"interval": true, "maxAttempts": true, "timeout": true}
)

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": %q", VersionPrefix)
	} else if !strings.HasPrefix(version, VersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, VersionPrefix, VersionPrefix)
	}

	checkUnknownKeys(rawConfig, "", topLevelKeys, result)

	if v, ok := rawConfig["baseURL"]; ok {
		if s, plain := checkStringValue(v, "baseURL", result); plain {
			if _, err := urlutil.ParseBase(s); err != nil {
				result.addError("baseURL", "%v. Example: \"http://localhost:8080\"", err)
			}
		}
	}
	if v, ok := rawConfig["schema"]; ok {
		if s, plain := checkStringValue(v, "schema", result); plain {
			if _, err := gameapi.ParseSchema(s); err != nil {
				result.addError("schema", "%v", err)
			}
		}
	}
	if v, ok := rawConfig["httpTimeout"]; ok {
		checkDurationValue(v, "httpTimeout", false, result)
	}
	if v, ok := rawConfig["achievement"]; ok {
		checkStringValue(v, "achievement", result)
	}
	if v, ok := rawConfig["skipProfile"]; ok {
		if _, isBool := v.(bool); !isBool {
			result.addError("skipProfile", "skipProfile must be a boolean")
		}
	}

	validatePollStructure(rawConfig, result)

	return result, nil
}

func validatePollStructure(rawConfig map[string]any, result *ValidationResult) {
	raw, ok := rawConfig["poll"]
	if !ok {
		return
	}
	poll, ok := raw.(map[string]any)
	if !ok {
		result.addError("poll", "poll must be an object")
		return
	}

	checkUnknownKeys(poll, "poll", pollKeys, result)

	var interval, timeout time.Duration
	if v, ok := poll["interval"]; ok {
		interval = checkDurationValue(v, "poll.interval", true, result)
	}
	if v, ok := poll["timeout"]; ok {
		timeout = checkDurationValue(v, "poll.timeout", false, result)
	}
	if v, ok := poll["maxAttempts"]; ok {
		switch n := v.(type) {
		case float64:
			if n < 0 || n != float64(int(n)) {
				result.addError("poll.maxAttempts", "maxAttempts must be a non-negative integer (0 = unlimited)")
			}
		default:
			checkStringValue(v, "poll.maxAttempts", result)
		}
	}

	if interval > 0 && timeout > 0 && timeout < interval {
		result.addWarning("poll", "timeout (%s) is shorter than interval (%s). Only one poll will run.", timeout, interval)
	}
}

// checkStringValue reports whether v is a plain string (returning it) and
// records an error when it is neither a string nor an $env reference.
func checkStringValue(v any, path string, result *ValidationResult) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case map[string]any:
		ref, hasEnv := val["$env"]
		if !hasEnv {
			result.addError(path, "reference object must use {\"$env\": \"VAR_NAME\"} format")
			return "", false
		}
		if _, isString := ref.(string); !isString {
			result.addError(path, "$env must name an environment variable")
		}
	default:
		result.addError(path, "must be a string or {\"$env\": \"VAR_NAME\"} reference")
	}
	return "", false
}

// checkDurationValue validates a plain duration string and returns it.
// References are resolved at load time and return zero here.
func checkDurationValue(v any, path string, positive bool, result *ValidationResult) time.Duration {
	s, plain := checkStringValue(v, path, result)
	if !plain {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration %q. Example: \"5s\" or \"5m\"", s)
		return 0
	}
	switch {
	case d < 0:
		result.addError(path, "duration cannot be negative")
	case positive && d == 0:
		result.addError(path, "duration must be positive")
	}
	return d
}

func checkUnknownKeys(obj map[string]any, path string, known map[string]bool, result *ValidationResult) {
	var unknown []string
	for key := range obj {
		if !known[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		keyPath := key
		if path != "" {
			keyPath = path + "." + key
		}
		result.addWarning(keyPath, "unknown field '%s' is ignored", key)
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	bashStyleRegex := regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}
