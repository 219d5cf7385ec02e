package registry

import "time"

// Option accessors for the loosely typed factory configuration maps. Values
// may arrive as their natural Go types or as YAML/JSON decoding artifacts
// (float64 for numbers, string for durations).

// StringOption returns the string at key, or def when absent.
func StringOption(config map[string]interface{}, key, def string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return def
}

// IntOption returns the integer at key, or def when absent.
func IntOption(config map[string]interface{}, key string, def int) int {
	switch v := config[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// FloatOption returns the float at key, or def when absent.
func FloatOption(config map[string]interface{}, key string, def float64) float64 {
	switch v := config[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// DurationOption returns the duration at key, accepting either a
// time.Duration, a duration string ("5s"), or a number of seconds.
func DurationOption(config map[string]interface{}, key string, def time.Duration) time.Duration {
	switch v := config[key].(type) {
	case time.Duration:
		return v
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case int64:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return def
}

// StringsOption returns the string slice at key, or def when absent.
func StringsOption(config map[string]interface{}, key string, def []string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
