// Package config is the shared configuration surface for every cmd
// binary: an env-var loading helper (firstNonEmpty across a preferred
// name and one or more legacy aliases) factored out once instead of
// duplicated per service.
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// FirstNonEmpty returns the first non-blank value among values, trimmed.
// Call sites list their preferred env var first and any legacy aliases
// after, so renaming a variable never breaks an existing deployment.
func FirstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// Env looks up name (and any legacy aliases) directly from the process
// environment, for the common case of not needing the intermediate values.
func Env(names ...string) string {
	vals := make([]string, len(names))
	for i, n := range names {
		vals[i] = os.Getenv(n)
	}
	return FirstNonEmpty(vals...)
}

// DurationSeconds parses an integer-seconds env var, falling back to def and
// logging a warning on an unparseable or negative value rather than
// failing startup over a malformed config.
func DurationSeconds(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		log.Printf("config: invalid duration value %q, using default %v", value, def)
		return def
	}
	return time.Duration(seconds) * time.Second
}

// Bool parses a loosely-typed boolean env var ("1", "true", "yes", "on"
// are true; anything else, including unset, is false).
func Bool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Uint64 parses an env var as a base-10 uint64, falling back to def.
func Uint64(value string, def uint64) uint64 {
	if value == "" {
		return def
	}
	n, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		log.Printf("config: invalid integer value %q, using default %d", value, def)
		return def
	}
	return n
}
