package layer

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
)

// Manager holds layers and serves merged reads.
type Manager struct {
	mu     sync.RWMutex
	layers []*Layer // ascending priority
	merged map[string]any
	dirty  bool
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{dirty: true}
}

// Put adds a layer, replacing any existing layer with the same name.
func (m *Manager) Put(l *Layer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, existing := range m.layers {
		if existing.Name == l.Name {
			m.layers = append(m.layers[:i], m.layers[i+1:]...)
			break
		}
	}
	m.layers = append(m.layers, l)
	sort.SliceStable(m.layers, func(i, j int) bool {
		return m.layers[i].Source.Priority() < m.layers[j].Source.Priority()
	})
	m.dirty = true
}

// Layer returns a copy of the named layer.
func (m *Manager) Layer(name string) (*Layer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if l := m.find(name); l != nil {
		return l.Clone(), true
	}
	return nil, false
}

// Names returns layer names in ascending priority.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, len(m.layers))
	for i, l := range m.layers {
		names[i] = l.Name
	}
	return names
}

// Merge returns a deep copy of all layers merged by priority.
func (m *Manager) Merge() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return CloneMap(m.mergedLocked())
}

// Get returns the effective value for a dot-separated path and the name of
// the highest layer defining it. Map values are merged across layers.
func (m *Manager) Get(path string) (any, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := GetByPath(m.mergedLocked(), path)
	if !ok {
		return nil, "", false
	}
	for i := len(m.layers) - 1; i >= 0; i-- {
		if _, found := GetByPath(m.layers[i].Data, path); found {
			return CloneValue(val), m.layers[i].Name, true
		}
	}
	return CloneValue(val), "", true
}

// Set writes a value into the named layer.
func (m *Manager) Set(name, path string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.find(name)
	if l == nil {
		return fmt.Errorf("layer not found: %s", name)
	}
	if l.ReadOnly {
		return fmt.Errorf("layer is read-only: %s", name)
	}
	if err := SetByPath(l.Data, path, Normalize(value)); err != nil {
		return err
	}
	m.dirty = true
	return nil
}

// Replace swaps the data of the named layer and returns the previous data.
func (m *Manager) Replace(name string, data map[string]any) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.find(name)
	if l == nil {
		return nil, fmt.Errorf("layer not found: %s", name)
	}
	if l.ReadOnly {
		return nil, fmt.Errorf("layer is read-only: %s", name)
	}
	old := l.Data
	if data == nil {
		data = make(map[string]any)
	}
	l.Data = CloneMap(data)
	m.dirty = true
	return old, nil
}

func (m *Manager) find(name string) *Layer {
	for _, l := range m.layers {
		if l.Name == name {
			return l
		}
	}
	return nil
}

func (m *Manager) mergedLocked() map[string]any {
	if !m.dirty && m.merged != nil {
		return m.merged
	}
	result := make(map[string]any)
	for _, l := range m.layers {
		result = DeepMerge(result, l.Data)
	}
	m.merged = result
	m.dirty = false
	return result
}

// DeepMerge merges src into dst and returns dst.
func DeepMerge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any)
	}
	for k, sv := range src {
		sm, srcIsMap := sv.(map[string]any)
		dm, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = DeepMerge(dm, sm)
			continue
		}
		dst[k] = CloneValue(sv)
	}
	return dst
}

// GetByPath reads a dot-separated path from a nested map.
func GetByPath(data map[string]any, path string) (any, bool) {
	if data == nil || path == "" {
		return nil, false
	}
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// SetByPath writes a dot-separated path, creating intermediate maps. It
// fails if a path segment names a non-map value.
func SetByPath(data map[string]any, path string, value any) error {
	if path == "" || strings.HasPrefix(path, ".") || strings.HasSuffix(path, ".") || strings.Contains(path, "..") {
		return fmt.Errorf("invalid setting path %q", path)
	}
	parts := strings.Split(path, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, exists := cur[part]
		if !exists {
			m := make(map[string]any)
			cur[part] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("invalid setting path %q: %s is not a table", path, part)
		}
		cur = m
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

// Diff returns the leaf paths whose values differ between two maps, sorted.
func Diff(old, new map[string]any) []string {
	of := flatten(old, "", map[string]any{})
	nf := flatten(new, "", map[string]any{})

	var paths []string
	for p, nv := range nf {
		if ov, ok := of[p]; !ok || !Equal(ov, nv) {
			paths = append(paths, p)
		}
	}
	for p := range of {
		if _, ok := nf[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

func flatten(data map[string]any, prefix string, out map[string]any) map[string]any {
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok && len(nested) > 0 {
			flatten(nested, key, out)
		} else {
			out[key] = v
		}
	}
	return out
}

// Equal compares two settings values structurally. Integer widths are
// folded so values read back from TOML (int64) equal values set from Go (int).
func Equal(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if w, ok := bv[k]; !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(widen(a), widen(b))
	}
}

// Normalize converts Go values into the shapes a TOML decode produces:
// string-keyed maps become map[string]any, slices become []any and
// integers become int64.
func Normalize(v any) any {
	switch val := v.(type) {
	case nil, string, bool, int64, float64:
		return v
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = Normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = Normalize(item)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return int64(rv.Uint())
	case reflect.Float32:
		return rv.Float()
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return v
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = Normalize(iter.Value().Interface())
		}
		return out
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Normalize(rv.Index(i).Interface())
		}
		return out
	default:
		return v
	}
}

func widen(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		return v
	}
}
