package config

import "fmt"

// OptString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func OptString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}

// OptInt extracts an integer value from a provider Options map, returning def
// when the key is absent or not a number.
func OptInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// OptFloat extracts a float value from a provider Options map, returning def
// when the key is absent or not a number.
func OptFloat(opts map[string]any, key string, def float64) float64 {
	switch v := opts[key].(type) {
	case int:
		return float64(v)
	case float64:
		return v
	}
	return def
}

func fmtAny(v any) string { return fmt.Sprintf("%#v", v) }
