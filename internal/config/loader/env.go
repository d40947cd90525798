package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Kind says how an environment value is decoded.
type Kind uint8

const (
	KindString Kind = iota
	KindBool
	KindJSON
)

// EnvVar maps one environment variable to a settings path.
type EnvVar struct {
	Name string
	Path string
	Kind Kind
}

// DefaultEnvVars are the overrides read by the binary.
func DefaultEnvVars() []EnvVar {
	return []EnvVar{
		{Name: "ANSIBLE_ANALYZER_ENABLED", Path: "ansibleAnalyzer.enabled", Kind: KindBool},
		{Name: "ANSIBLE_ANALYZER_JAVA_HOME", Path: "ansibleAnalyzer.java.home", Kind: KindString},
		{Name: "ANSIBLE_ANALYZER_RULES", Path: "ansibleAnalyzer.rules", Kind: KindJSON},
		{Name: "ANSIBLE_ANALYZER_RULES_REPLACE_DEFAULTS", Path: "ansibleAnalyzer.rulesReplaceDefaults", Kind: KindBool},
		{Name: "ANSIBLE_ANALYZER_LOG_LEVEL", Path: "logging.level", Kind: KindString},
	}
}

// EnvLoader reads mapped environment variables into a settings map.
type EnvLoader struct {
	vars   []EnvVar
	lookup func(string) (string, bool)
}

// NewEnvLoader creates a loader for the given variables using os.LookupEnv.
func NewEnvLoader(vars []EnvVar) *EnvLoader {
	return &EnvLoader{vars: vars, lookup: os.LookupEnv}
}

// WithLookup replaces the environment lookup, for tests.
func (l *EnvLoader) WithLookup(lookup func(string) (string, bool)) *EnvLoader {
	l.lookup = lookup
	return l
}

// Load returns the settings for every variable that is set. Variables that
// fail to decode are skipped and reported together in the error.
func (l *EnvLoader) Load() (map[string]any, error) {
	settings := make(map[string]any)
	var errs []error

	vars := append([]EnvVar(nil), l.vars...)
	sort.Slice(vars, func(i, j int) bool { return vars[i].Path < vars[j].Path })

	for _, v := range vars {
		raw, ok := l.lookup(v.Name)
		if !ok {
			continue
		}
		val, err := decode(v.Kind, raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", v.Name, err))
			continue
		}
		setPath(settings, v.Path, val)
	}
	return settings, errors.Join(errs...)
}

func decode(kind Kind, raw string) (any, error) {
	switch kind {
	case KindBool:
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "yes", "on":
			return true, nil
		case "no", "off":
			return false, nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid boolean %q", raw)
		}
		return b, nil
	case KindJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		return v, nil
	default:
		return raw, nil
	}
}

func setPath(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}
