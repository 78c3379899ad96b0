package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"splendid-controller/internal/splendid"
)

// IntParam reads an integer payload value. JSON numbers arrive as float64;
// ints and numeric strings are accepted too. ok is false when the key is absent.
func IntParam(payload map[string]interface{}, key string) (v int, ok bool, err error) {
	raw, found := payload[key]
	if !found || raw == nil {
		return 0, false, nil
	}
	switch n := raw.(type) {
	case float64:
		if n != math.Trunc(n) {
			return 0, true, fmt.Errorf("%w: %s must be an integer, got %v", splendid.ErrInvalidParameter, key, n)
		}
		return int(n), true, nil
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, true, fmt.Errorf("%w: %s must be an integer, got %q", splendid.ErrInvalidParameter, key, n)
		}
		return i, true, nil
	}
	return 0, true, fmt.Errorf("%w: %s has unsupported type %T", splendid.ErrInvalidParameter, key, raw)
}

// RequireInt is IntParam for mandatory values.
func RequireInt(payload map[string]interface{}, key string) (int, error) {
	v, ok, err := IntParam(payload, key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", splendid.ErrInvalidParameter, key)
	}
	return v, nil
}

// StringParam reads a string payload value.
func StringParam(payload map[string]interface{}, key string) (string, error) {
	s, ok := payload[key].(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("%w: missing %s", splendid.ErrInvalidParameter, key)
	}
	return s, nil
}

// BoolParam reads a boolean payload value.
func BoolParam(payload map[string]interface{}, key string) (bool, error) {
	switch b := payload[key].(type) {
	case bool:
		return b, nil
	case string:
		switch strings.ToLower(b) {
		case "on", "true", "1":
			return true, nil
		case "off", "false", "0":
			return false, nil
		}
	}
	return false, fmt.Errorf("%w: %s must be a boolean", splendid.ErrInvalidParameter, key)
}
