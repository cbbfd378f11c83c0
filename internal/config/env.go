// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vodub/vodub/internal/log"
)

// ParseString reads a string from environment variable or returns default value.
// Sensitive values (keys, tokens) are never logged.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if value, exists := os.LookupEnv(key); exists {
		if value == "" {
			return defaultValue
		}
		lowerKey := strings.ToLower(key)
		if strings.Contains(lowerKey, "key") || strings.Contains(lowerKey, "token") {
			logger.Debug().Str("key", key).Bool("sensitive", true).Msg("using environment variable")
		} else {
			logger.Debug().Str("key", key).Str("value", value).Msg("using environment variable")
		}
		return value
	}
	return defaultValue
}

// ParseInt reads an integer from environment variable or returns default value.
// It validates the input and falls back to default on parse errors.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
		logger.Warn().Str("key", key).Str("value", v).Int("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseInt64 reads an int64 from environment variable or returns default value.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
		logger.Warn().Str("key", key).Str("value", v).Int64("default", defaultValue).
			Msg("invalid integer in environment variable, using default")
	}
	return defaultValue
}

// ParseFloat reads a float64 from environment variable or returns default value.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		logger.Warn().Str("key", key).Str("value", v).Float64("default", defaultValue).
			Msg("invalid float in environment variable, using default")
	}
	return defaultValue
}

// ParseDuration reads a duration in Go duration format (e.g. "5s").
// It falls back to default on parse errors or empty variables.
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		logger.Warn().Str("key", key).Str("value", v).Dur("default", defaultValue).
			Msg("invalid duration in environment variable, using default")
	}
	return defaultValue
}

// ParseBool reads a boolean from environment variable or returns default value.
// It accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
		logger.Warn().Str("key", key).Str("value", v).Bool("default", defaultValue).
			Msg("invalid boolean in environment variable, using default")
	}
	return defaultValue
}

// ParseCSV reads a comma-separated list, trimming whitespace and dropping
// empty entries. Returns defaultValue when the variable is unset or empty.
func ParseCSV(key string, defaultValue []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return defaultValue
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
