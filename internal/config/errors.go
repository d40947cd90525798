package config

import (
	"errors"
	"fmt"
)

var (
	// ErrSettingNotFound indicates the setting path has no value in any layer.
	ErrSettingNotFound = errors.New("setting not found")

	// ErrNoWorkspace indicates a workspace-scoped write with no folder open.
	ErrNoWorkspace = errors.New("no workspace folder is open")

	// ErrTypeMismatch indicates a value of the wrong type for a known setting.
	ErrTypeMismatch = errors.New("type mismatch")
)

// TypeError describes a value whose type does not match the setting.
type TypeError struct {
	Path     string
	Expected string
	Actual   string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("setting %s: expected %s, got %s", e.Path, e.Expected, e.Actual)
}

func (e *TypeError) Unwrap() error {
	return ErrTypeMismatch
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int64:
		return "int"
	case float64:
		return "float"
	case []any:
		return "array"
	case map[string]any:
		return "table"
	default:
		return fmt.Sprintf("%T", v)
	}
}
