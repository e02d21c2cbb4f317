package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// env returns the trimmed value of key.
func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// envBool accepts 1/true/yes and 0/false/no in any case; anything else
// yields def.
func envBool(key string, def bool) bool {
	switch strings.ToLower(env(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return def
	}
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(env(key)); err == nil {
		return n
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if f, err := strconv.ParseFloat(env(key), 64); err == nil {
		return f
	}
	return def
}

// envMillis reads a whole number of milliseconds.
func envMillis(key string, def time.Duration) time.Duration {
	if n, err := strconv.Atoi(env(key)); err == nil {
		return time.Duration(n) * time.Millisecond
	}
	return def
}
