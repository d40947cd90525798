// Package layer provides prioritised settings layers.
//
// Each layer holds a nested map of settings. Higher priority layers override
// lower ones when merged; maps merge recursively, everything else replaces.
package layer

// Source indicates where a layer came from.
type Source uint8

const (
	// SourceBuiltin holds built-in defaults.
	SourceBuiltin Source = iota
	// SourceUser holds user settings (global scope).
	SourceUser
	// SourceWorkspace holds settings of the open workspace.
	SourceWorkspace
	// SourceEnv holds environment variable overrides.
	SourceEnv
)

// String returns a human-readable name for the source.
func (s Source) String() string {
	switch s {
	case SourceBuiltin:
		return "builtin"
	case SourceUser:
		return "user"
	case SourceWorkspace:
		return "workspace"
	case SourceEnv:
		return "environment"
	default:
		return "unknown"
	}
}

// Priority returns the merge priority of the source. Higher wins.
func (s Source) Priority() int {
	switch s {
	case SourceUser:
		return 100
	case SourceWorkspace:
		return 200
	case SourceEnv:
		return 500
	default:
		return 0
	}
}

// Layer is a single settings layer.
type Layer struct {
	// Name identifies the layer (e.g. "user", "workspace").
	Name string

	// Source indicates where the layer was loaded from.
	Source Source

	// Path is the backing file, empty for layers without one.
	Path string

	// Data holds the settings as a nested map.
	Data map[string]any

	// ReadOnly prevents Set and Replace.
	ReadOnly bool
}

// New creates a layer. A nil data map is replaced by an empty one.
func New(name string, source Source, data map[string]any) *Layer {
	if data == nil {
		data = make(map[string]any)
	}
	return &Layer{Name: name, Source: source, Data: data}
}

// Clone returns a deep copy of the layer.
func (l *Layer) Clone() *Layer {
	c := *l
	c.Data = CloneMap(l.Data)
	return &c
}

// CloneMap returns a deep copy of a nested map.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = CloneValue(v)
	}
	return dst
}

// CloneValue deep-copies maps and slices; other values are returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	default:
		return v
	}
}
