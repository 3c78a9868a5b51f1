package appconfig

import (
	"os"
	"strconv"
	"strings"
)

// String reads an environment variable, returning fallback when unset or empty.
func String(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Int reads an integer environment variable, returning fallback when unset or unparsable.
func Int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// Bool reads a boolean environment variable ("true"/"1"/"yes" are truthy).
func Bool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// Duration reads a second-granularity duration environment variable.
func Duration(key string, fallbackSeconds int) int {
	return Int(key, fallbackSeconds)
}
