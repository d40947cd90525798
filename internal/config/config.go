// Package config is the settings store: built-in defaults overlaid by user
// settings, workspace settings and environment overrides.
//
// User and workspace settings live in TOML files. Update writes through to
// the file of the chosen scope; edits made on disk are picked up by a file
// watcher. Both paths notify subscribers with the leaf paths that changed.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/qualimetry/ansible-analyzer/internal/config/layer"
	"github.com/qualimetry/ansible-analyzer/internal/config/loader"
	"github.com/qualimetry/ansible-analyzer/internal/config/notify"
	"github.com/qualimetry/ansible-analyzer/internal/config/watcher"
	"github.com/qualimetry/ansible-analyzer/internal/logging"
)

// Section is the settings section owned by the extension.
const Section = "ansibleAnalyzer"

// Setting keys relative to Section.
const (
	KeyEnabled              = "enabled"
	KeyJavaHome             = "java.home"
	KeyRules                = "rules"
	KeyRulesReplaceDefaults = "rulesReplaceDefaults"
)

const (
	layerDefaults  = "defaults"
	layerUser      = "user"
	layerWorkspace = "workspace"
	layerEnv       = "environment"

	settingsFileName     = "settings.toml"
	workspaceSettingsDir = ".ansible-analyzer"
)

// Target selects the scope a setting is written to.
type Target int

const (
	// TargetGlobal writes user settings.
	TargetGlobal Target = iota
	// TargetWorkspace writes settings of the first workspace folder.
	TargetWorkspace
)

// String returns the scope name as shown to users.
func (t Target) String() string {
	switch t {
	case TargetGlobal:
		return "user"
	case TargetWorkspace:
		return "workspace"
	default:
		return "unknown"
	}
}

// ExtensionConfig is a snapshot of the extension's section.
type ExtensionConfig struct {
	Enabled              bool
	JavaHome             string
	Rules                map[string]any
	RulesReplaceDefaults bool
}

// Config is the layered settings store.
type Config struct {
	mu sync.Mutex // serialises writes and reloads

	layers   *layer.Manager
	notifier *notify.Notifier
	watcher  *watcher.Watcher
	log      *logging.Logger

	userConfigDir string
	folders       []string
	envVars       []loader.EnvVar
	envLookup     func(string) (string, bool)
	enableWatcher bool
}

// Option configures a Config.
type Option func(*Config)

// WithUserConfigDir sets the directory holding user settings.
func WithUserConfigDir(dir string) Option {
	return func(c *Config) {
		c.userConfigDir = dir
	}
}

// WithWorkspaceFolders sets the open workspace folders. Workspace settings
// are read from and written to the first one.
func WithWorkspaceFolders(folders ...string) Option {
	return func(c *Config) {
		c.folders = append([]string(nil), folders...)
	}
}

// WithWatcher enables live reload of settings files.
func WithWatcher(enable bool) Option {
	return func(c *Config) {
		c.enableWatcher = enable
	}
}

// WithLogger sets the logger for reload diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Config) {
		c.log = l
	}
}

// WithEnvLookup replaces os.LookupEnv for environment overrides.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(c *Config) {
		c.envLookup = fn
	}
}

// New creates a store. Call Load before reading.
func New(opts ...Option) *Config {
	c := &Config{
		layers:        layer.NewManager(),
		notifier:      notify.New(),
		envVars:       loader.DefaultEnvVars(),
		envLookup:     os.LookupEnv,
		enableWatcher: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.userConfigDir == "" {
		c.userConfigDir = DefaultUserConfigDir()
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	return c
}

// Load reads every layer and starts the file watcher.
func (c *Config) Load(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	defaults := layer.New(layerDefaults, layer.SourceBuiltin, defaultSettings())
	defaults.ReadOnly = true
	c.layers.Put(defaults)

	if err := c.loadFileLayer(layerUser, layer.SourceUser, c.userSettingsPath()); err != nil {
		return err
	}
	if c.HasWorkspace() {
		if err := c.loadFileLayer(layerWorkspace, layer.SourceWorkspace, c.workspaceSettingsPath()); err != nil {
			return err
		}
	}

	env, err := loader.NewEnvLoader(c.envVars).WithLookup(c.envLookup).Load()
	if err != nil {
		c.log.Warn("ignoring invalid environment settings: %v", err)
	}
	envLayer := layer.New(layerEnv, layer.SourceEnv, env)
	envLayer.ReadOnly = true
	c.layers.Put(envLayer)

	if c.enableWatcher && c.watcher == nil {
		w, err := watcher.New(c.handleFileChange, watcher.WithErrorHandler(func(err error) {
			c.log.Warn("settings watcher: %v", err)
		}))
		if err != nil {
			c.log.Warn("settings will not reload automatically: %v", err)
		} else {
			c.watcher = w
			c.watchLocked(c.userSettingsPath())
			if c.HasWorkspace() {
				c.watchLocked(c.workspaceSettingsPath())
			}
		}
	}
	return nil
}

func (c *Config) loadFileLayer(name string, source layer.Source, path string) error {
	data, err := loader.NewTOMLFile(path).Load()
	if err != nil {
		return fmt.Errorf("loading %s settings: %w", source, err)
	}
	l := layer.New(name, source, data)
	l.Path = path
	c.layers.Put(l)
	return nil
}

// watchLocked watches path when its directory exists; a directory created
// later by Update is watched then.
func (c *Config) watchLocked(path string) {
	if c.watcher == nil {
		return
	}
	if err := c.watcher.Watch(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.log.Debug("not watching %s: %v", path, err)
	}
}

// Close stops the watcher and drops subscriptions.
func (c *Config) Close() {
	c.mu.Lock()
	w := c.watcher
	c.watcher = nil
	c.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
	c.notifier.Close()
}

// Get returns the effective value at a dot-separated path.
func (c *Config) Get(path string) (any, bool) {
	v, _, ok := c.layers.Get(path)
	return v, ok
}

// GetString returns a string setting.
func (c *Config) GetString(path string) (string, error) {
	v, ok := c.Get(path)
	if !ok {
		return "", ErrSettingNotFound
	}
	s, ok := v.(string)
	if !ok {
		return "", &TypeError{Path: path, Expected: "string", Actual: typeName(v)}
	}
	return s, nil
}

// GetBool returns a boolean setting.
func (c *Config) GetBool(path string) (bool, error) {
	v, ok := c.Get(path)
	if !ok {
		return false, ErrSettingNotFound
	}
	b, ok := v.(bool)
	if !ok {
		return false, &TypeError{Path: path, Expected: "bool", Actual: typeName(v)}
	}
	return b, nil
}

// Section returns a copy of a whole settings section, empty if unset.
func (c *Config) Section(name string) map[string]any {
	if v, ok := c.Get(name); ok {
		if m, ok := v.(map[string]any); ok {
			return m
		}
	}
	return map[string]any{}
}

// Merged returns the fully merged settings.
func (c *Config) Merged() map[string]any {
	return c.layers.Merge()
}

// Extension returns a snapshot of the extension's section. Values of the
// wrong type fall back to their defaults.
func (c *Config) Extension() ExtensionConfig {
	ext := ExtensionConfig{Enabled: true, Rules: map[string]any{}}
	if b, err := c.GetBool(Section + "." + KeyEnabled); err == nil {
		ext.Enabled = b
	}
	if s, err := c.GetString(Section + "." + KeyJavaHome); err == nil {
		ext.JavaHome = s
	}
	if b, err := c.GetBool(Section + "." + KeyRulesReplaceDefaults); err == nil {
		ext.RulesReplaceDefaults = b
	}
	if v, ok := c.Get(Section + "." + KeyRules); ok {
		if m, ok := v.(map[string]any); ok {
			ext.Rules = m
		}
	}
	return ext
}

// HasWorkspace reports whether at least one workspace folder is open.
func (c *Config) HasWorkspace() bool {
	return len(c.folders) > 0
}

// WorkspaceFolders returns the open workspace folders.
func (c *Config) WorkspaceFolders() []string {
	return append([]string(nil), c.folders...)
}

// SettingsFile returns the file backing a scope.
func (c *Config) SettingsFile(target Target) (string, error) {
	switch target {
	case TargetGlobal:
		return c.userSettingsPath(), nil
	case TargetWorkspace:
		if !c.HasWorkspace() {
			return "", ErrNoWorkspace
		}
		return c.workspaceSettingsPath(), nil
	default:
		return "", fmt.Errorf("unknown settings target %d", target)
	}
}

// Update writes a value at path into the target scope and persists the
// scope's file. Subscribers are notified after the file is written.
func (c *Config) Update(path string, value any, target Target) error {
	if err := validate(path, value); err != nil {
		return err
	}
	file, err := c.SettingsFile(target)
	if err != nil {
		return err
	}
	name := layerUser
	if target == TargetWorkspace {
		name = layerWorkspace
	}

	c.mu.Lock()
	prev, ok := c.layers.Layer(name)
	if !ok {
		// Update before Load, or a workspace layer that was never loaded.
		src := layer.SourceUser
		if target == TargetWorkspace {
			src = layer.SourceWorkspace
		}
		l := layer.New(name, src, nil)
		l.Path = file
		c.layers.Put(l)
		prev = l.Clone()
	}

	before := c.layers.Merge()
	if err := c.layers.Set(name, path, value); err != nil {
		c.mu.Unlock()
		return err
	}
	updated, _ := c.layers.Layer(name)
	if err := loader.NewTOMLFile(file).Save(updated.Data); err != nil {
		_, _ = c.layers.Replace(name, prev.Data)
		c.mu.Unlock()
		return fmt.Errorf("saving %s settings: %w", target, err)
	}
	changed := layer.Diff(before, c.layers.Merge())
	c.watchLocked(file)
	c.mu.Unlock()

	c.notifier.Notify(notify.Change{Type: notify.ChangeUpdate, Paths: changed, Source: target.String()})
	return nil
}

// Subscribe registers an observer for every change.
func (c *Config) Subscribe(observer notify.Observer) *notify.Subscription {
	return c.notifier.Subscribe(observer)
}

// SubscribeSection registers an observer for changes affecting section.
func (c *Config) SubscribeSection(section string, observer notify.Observer) *notify.Subscription {
	return c.notifier.SubscribeSection(section, observer)
}

func (c *Config) handleFileChange(ev watcher.Event) {
	c.mu.Lock()

	var name string
	switch ev.Path {
	case c.userSettingsPath():
		name = layerUser
	case c.workspaceSettingsPath():
		name = layerWorkspace
	default:
		c.mu.Unlock()
		return
	}

	var data map[string]any
	if ev.Op == watcher.OpWrite {
		loaded, err := loader.NewTOMLFile(ev.Path).Load()
		if err != nil {
			c.mu.Unlock()
			c.log.Warn("keeping previous settings: %v", err)
			return
		}
		data = loaded
	}

	before := c.layers.Merge()
	if _, err := c.layers.Replace(name, data); err != nil {
		c.mu.Unlock()
		return
	}
	changed := layer.Diff(before, c.layers.Merge())
	c.mu.Unlock()

	if len(changed) > 0 {
		c.log.Info("settings reloaded from %s", ev.Path)
		c.notifier.Notify(notify.Change{Type: notify.ChangeReload, Paths: changed, Source: ev.Path})
	}
}

func (c *Config) userSettingsPath() string {
	return filepath.Join(c.userConfigDir, settingsFileName)
}

func (c *Config) workspaceSettingsPath() string {
	if !c.HasWorkspace() {
		return ""
	}
	return filepath.Join(c.folders[0], workspaceSettingsDir, settingsFileName)
}

// DefaultUserConfigDir returns the directory holding user settings.
func DefaultUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ansible-analyzer")
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "ansible-analyzer")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "ansible-analyzer")
}

func defaultSettings() map[string]any {
	return map[string]any{
		Section: map[string]any{
			KeyEnabled:              true,
			"java":                  map[string]any{"home": ""},
			KeyRules:                map[string]any{},
			KeyRulesReplaceDefaults: false,
		},
		"logging": map[string]any{
			"level": "info",
		},
	}
}

// validate checks the type of known extension settings.
func validate(path string, value any) error {
	expected := ""
	switch path {
	case Section + "." + KeyEnabled, Section + "." + KeyRulesReplaceDefaults:
		if _, ok := value.(bool); !ok {
			expected = "bool"
		}
	case Section + "." + KeyJavaHome:
		if _, ok := value.(string); !ok {
			expected = "string"
		}
	case Section + "." + KeyRules:
		if _, ok := layer.Normalize(value).(map[string]any); !ok {
			expected = "table"
		}
	}
	if expected != "" {
		return &TypeError{Path: path, Expected: expected, Actual: typeName(value)}
	}
	return nil
}
