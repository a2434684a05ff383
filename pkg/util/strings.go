package util

import (
	"strconv"
	"strings"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return v
}

// ParseIntInRange is ParseIntDefault that also falls back to def outside [lo, hi].
func ParseIntInRange(s string, def, lo, hi int) int {
	v := ParseIntDefault(s, def)
	if v < lo || v > hi {
		return def
	}
	return v
}

// NormalizeSymbol trims and uppercases a ticker symbol.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// NormalizeSymbols normalizes every symbol and drops empty ones.
func NormalizeSymbols(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = NormalizeSymbol(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
