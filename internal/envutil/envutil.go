// Package envutil reads configuration overrides from the process
// environment with typed defaults.
package envutil

import (
	"os"
	"strconv"
)

// String returns the value of key, or def if unset or empty.
func String(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// Int returns the value of key parsed as an int, or def if unset,
// empty, non-numeric, or not positive.
func Int(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
