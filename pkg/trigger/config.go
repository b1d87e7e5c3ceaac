package trigger

import (
	"strconv"
	"strings"
)

func stringValue(config map[string]any, key string) string {
	switch v := config[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// intValue reads numbers decoded from JSON (float64), Go ints or numeric strings.
func intValue(config map[string]any, key string, fallback int) int {
	switch v := config[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil {
			return n
		}
	}

	return fallback
}

func int64Value(config map[string]any, key string) (int64, bool) {
	switch v := config[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func mapValue(config map[string]any, key string) map[string]any {
	m, _ := config[key].(map[string]any)

	return m
}

func stringMap(config map[string]any, key string) map[string]string {
	out := make(map[string]string)

	switch v := config[key].(type) {
	case map[string]any:
		for k, raw := range v {
			if s, ok := raw.(string); ok {
				out[k] = s
			}
		}
	case map[string]string:
		for k, s := range v {
			out[k] = s
		}
	}

	return out
}

// listValue accepts a JSON array, a []string or a comma separated string.
func listValue(config map[string]any, key string) []string {
	switch v := config[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, raw := range v {
			switch item := raw.(type) {
			case string:
				out = append(out, item)
			case float64:
				out = append(out, strconv.Itoa(int(item)))
			case int:
				out = append(out, strconv.Itoa(item))
			}
		}

		return out
	case string:
		if v == "" {
			return nil
		}

		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}

		return parts
	default:
		return nil
	}
}
