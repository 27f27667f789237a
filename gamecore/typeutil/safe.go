// Package typeutil provides safe type assertion helpers for dynamic values,
// using the comma-ok idiom so failed casts never panic.
//
// These are used where the engine handles loosely-typed data, primarily
// configuration maps decoded from YAML.
package typeutil

import (
	"strings"
)

// SafeString safely asserts value to string.
func SafeString(value any) (string, bool) {
	if value == nil {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

// SafeStringDefault returns the string value, or defaultVal if the
// assertion fails.
func SafeStringDefault(value any, defaultVal string) string {
	if s, ok := SafeString(value); ok {
		return s
	}
	return defaultVal
}

// SafeInt safely asserts value to int. Float values (common from decoded
// YAML and JSON) are converted.
func SafeInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case int32:
		return int(v), true
	case float64:
		return int(v), true
	case float32:
		return int(v), true
	default:
		return 0, false
	}
}

// SafeIntDefault returns the int value, or defaultVal if the assertion
// fails.
func SafeIntDefault(value any, defaultVal int) int {
	if i, ok := SafeInt(value); ok {
		return i
	}
	return defaultVal
}

// SafeBool safely asserts value to bool.
func SafeBool(value any) (bool, bool) {
	if value == nil {
		return false, false
	}
	b, ok := value.(bool)
	return b, ok
}

// SafeBoolDefault returns the bool value, or defaultVal if the assertion
// fails.
func SafeBoolDefault(value any, defaultVal bool) bool {
	if b, ok := SafeBool(value); ok {
		return b
	}
	return defaultVal
}

// SafeMap safely asserts value to map[string]any.
func SafeMap(value any) (map[string]any, bool) {
	if value == nil {
		return nil, false
	}
	m, ok := value.(map[string]any)
	return m, ok
}

// GetNested gets a nested value from a map using a dot-separated path, e.g.
// GetNested(data, "log.level").
func GetNested(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	current := any(data)
	for _, key := range strings.Split(path, ".") {
		if key == "" {
			continue
		}
		m, ok := SafeMap(current)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// GetNestedString gets a nested string value from a map.
func GetNestedString(data map[string]any, path string) (string, bool) {
	value, ok := GetNested(data, path)
	if !ok {
		return "", false
	}
	return SafeString(value)
}

// GetNestedBool gets a nested bool value from a map.
func GetNestedBool(data map[string]any, path string) (bool, bool) {
	value, ok := GetNested(data, path)
	if !ok {
		return false, false
	}
	return SafeBool(value)
}
