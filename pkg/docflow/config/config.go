// Package config loads docflow configuration.
//
// A Config is a flat map of dotted keys ("retry.max_attempts") with typed
// accessors that fall back to a default when a key is missing or has the
// wrong type. Nested YAML/JSON documents are flattened on load, and
// DOCFLOW_* environment variables override file values. Settings derives the
// typed, defaulted configuration the CLI wires into the orchestrator.
package config

import (
	"strconv"
	"strings"
	"time"
)

// Config wraps a flattened map[string]any for type-safe value extraction.
type Config struct {
	data map[string]any
}

// New creates a Config from the given map. Nested maps are flattened into
// dotted keys. If data is nil, an empty Config is returned.
func New(data map[string]any) Config {
	flat := make(map[string]any)
	flatten("", data, flat)
	return Config{data: flat}
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Set returns a copy of c with key set to value.
func (c Config) Set(key string, value any) Config {
	next := make(map[string]any, len(c.data)+1)
	for k, v := range c.data {
		next[k] = v
	}
	next[key] = value
	return Config{data: next}
}

// WithEnv returns a copy of c where every variable named
// <prefix>_<KEY> overrides key, with dots and dashes in the key mapped to
// underscores ("retry.max_attempts" -> DOCFLOW_RETRY_MAX_ATTEMPTS). Only
// keys in known are considered. lookup is usually os.LookupEnv.
func (c Config) WithEnv(prefix string, known []string, lookup func(string) (string, bool)) Config {
	out := c
	for _, key := range known {
		name := prefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
		if v, ok := lookup(name); ok {
			out = out.Set(key, v)
		}
	}
	return out
}

// String returns the string value for key, or defaultVal if missing or not a string.
func (c Config) String(key, defaultVal string) string {
	if s, ok := c.data[key].(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration value for key, or defaultVal if missing or invalid.
//
// Accepts:
//   - string: parsed with time.ParseDuration
//   - int, int64, float64: interpreted as seconds
//   - time.Duration: used directly
func (c Config) Duration(key string, defaultVal time.Duration) time.Duration {
	switch val := c.data[key].(type) {
	case string:
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	case float64:
		return time.Duration(val * float64(time.Second))
	case int:
		return time.Duration(val) * time.Second
	case int64:
		return time.Duration(val) * time.Second
	case time.Duration:
		return val
	}
	return defaultVal
}

// Bool returns the boolean value for key, or defaultVal if missing or invalid.
// Strings are parsed with strconv.ParseBool so environment overrides work.
func (c Config) Bool(key string, defaultVal bool) bool {
	switch val := c.data[key].(type) {
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// Int returns the integer value for key, or defaultVal if missing or not convertible.
// Floats convert only when they have no fractional part.
func (c Config) Int(key string, defaultVal int) int {
	switch val := c.data[key].(type) {
	case int:
		return val
	case int64:
		return int(val)
	case float64:
		if val == float64(int(val)) {
			return int(val)
		}
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// Float returns the float64 value for key, or defaultVal if missing or not convertible.
func (c Config) Float(key string, defaultVal float64) float64 {
	switch val := c.data[key].(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

// StringSlice returns the string slice for key, or defaultVal if missing or
// not convertible. A comma-separated string is split.
func (c Config) StringSlice(key string, defaultVal []string) []string {
	switch val := c.data[key].(type) {
	case []string:
		return val
	case []any:
		result := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return defaultVal
			}
			result = append(result, s)
		}
		return result
	case string:
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultVal
}

// Has returns true if the key exists in the config.
func (c Config) Has(key string) bool {
	_, ok := c.data[key]
	return ok
}

// Raw returns the underlying flattened map.
// The returned map should not be modified.
func (c Config) Raw() map[string]any {
	return c.data
}
