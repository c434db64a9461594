// Package tools provides the diagnosis and remediation tool catalog,
// binding each tool to its cluster, Helm, Loki or Prometheus backend.
package tools

import (
	"strconv"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Argument maps arrive schema-validated, so required keys exist with the
// declared JSON types. The helpers here only fill defaults for optional
// parameters and absorb the float64 encoding JSON numbers arrive in.

func strArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func strArgOr(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func boolArgOr(args map[string]any, key string, def bool) bool {
	if v, ok := args[key].(bool); ok {
		return v
	}
	return def
}

func intArgOr(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func floatArgOr(args map[string]any, key string, def float64) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

func objArg(args map[string]any, key string) map[string]any {
	v, _ := args[key].(map[string]any)
	return v
}

// parseWindow parses a trailing-window expression. On top of Go duration
// syntax it accepts a day suffix, so "24h", "90m" and "7d" all work.
func parseWindow(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, goerr.New("invalid day window", goerr.V("window", s))
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, goerr.New("invalid time window", goerr.V("window", s))
	}
	return d, nil
}
