package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualimetry/ansible-analyzer/internal/config/loader"
	"github.com/qualimetry/ansible-analyzer/internal/config/notify"
)

func noEnv(string) (string, bool) { return "", false }

func writeSettings(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newTestConfig(t *testing.T, opts ...Option) (*Config, string, string) {
	t.Helper()
	userDir := t.TempDir()
	folder := t.TempDir()
	base := []Option{
		WithUserConfigDir(userDir),
		WithWorkspaceFolders(folder),
		WithWatcher(false),
		WithEnvLookup(noEnv),
	}
	c := New(append(base, opts...)...)
	t.Cleanup(c.Close)
	return c, userDir, folder
}

func TestConfig_Defaults(t *testing.T) {
	c, _, _ := newTestConfig(t)
	require.NoError(t, c.Load(context.Background()))

	ext := c.Extension()
	assert.True(t, ext.Enabled)
	assert.Empty(t, ext.JavaHome)
	assert.False(t, ext.RulesReplaceDefaults)
	assert.Empty(t, ext.Rules)

	lvl, err := c.GetString("logging.level")
	require.NoError(t, err)
	assert.Equal(t, "info", lvl)
}

func TestConfig_LayerPrecedence(t *testing.T) {
	c, userDir, folder := newTestConfig(t, WithEnvLookup(func(k string) (string, bool) {
		if k == "ANSIBLE_ANALYZER_RULES_REPLACE_DEFAULTS" {
			return "true", true
		}
		return "", false
	}))
	writeSettings(t, filepath.Join(userDir, "settings.toml"), `
[ansibleAnalyzer]
enabled = false
java.home = "/opt/user-jdk"
`)
	writeSettings(t, filepath.Join(folder, ".ansible-analyzer", "settings.toml"), `
[ansibleAnalyzer.java]
home = "/opt/workspace-jdk"
`)

	require.NoError(t, c.Load(context.Background()))

	ext := c.Extension()
	assert.False(t, ext.Enabled, "user layer should disable the extension")
	assert.Equal(t, "/opt/workspace-jdk", ext.JavaHome)
	assert.True(t, ext.RulesReplaceDefaults, "environment override not applied")
}

func TestConfig_LoadParseError(t *testing.T) {
	c, userDir, _ := newTestConfig(t)
	writeSettings(t, filepath.Join(userDir, "settings.toml"), "[ansibleAnalyzer\n")

	var perr *loader.ParseError
	assert.ErrorAs(t, c.Load(context.Background()), &perr)
}

func TestConfig_GetTyped(t *testing.T) {
	c, _, _ := newTestConfig(t)
	require.NoError(t, c.Load(context.Background()))

	_, err := c.GetString("missing.key")
	assert.ErrorIs(t, err, ErrSettingNotFound)

	_, err = c.GetBool("logging.level")
	assert.ErrorIs(t, err, ErrTypeMismatch)

	s := c.Section("nope")
	require.NotNil(t, s)
	assert.Empty(t, s)
}

func TestConfig_UpdateWorkspace(t *testing.T) {
	c, _, folder := newTestConfig(t)
	require.NoError(t, c.Load(context.Background()))

	var changes []notify.Change
	c.SubscribeSection(Section, func(ch notify.Change) { changes = append(changes, ch) })

	rules := map[string]any{"yaml-trailing-spaces": map[string]any{"severity": "major"}}
	require.NoError(t, c.Update(Section+"."+KeyRules, rules, TargetWorkspace))
	require.NoError(t, c.Update(Section+"."+KeyRulesReplaceDefaults, true, TargetWorkspace))

	ext := c.Extension()
	assert.True(t, ext.RulesReplaceDefaults)
	assert.Len(t, ext.Rules, 1)

	path := filepath.Join(folder, ".ansible-analyzer", "settings.toml")
	saved, err := loader.NewTOMLFile(path).Load()
	require.NoError(t, err)
	section, _ := saved[Section].(map[string]any)
	assert.Equal(t, true, section[KeyRulesReplaceDefaults])

	require.Len(t, changes, 2)
	assert.Equal(t, "workspace", changes[0].Source)
	assert.Equal(t, notify.ChangeUpdate, changes[0].Type)
	assert.Equal(t, []string{"ansibleAnalyzer.rulesReplaceDefaults"}, changes[1].Paths)
}

func TestConfig_UpdateUnchangedValueNotifiesNothing(t *testing.T) {
	c, _, _ := newTestConfig(t)
	require.NoError(t, c.Load(context.Background()))
	calls := 0
	c.Subscribe(func(notify.Change) { calls++ })

	require.NoError(t, c.Update(Section+"."+KeyEnabled, true, TargetGlobal))
	assert.Zero(t, calls, "writing the effective value produced notifications")
}

func TestConfig_UpdateWithoutWorkspace(t *testing.T) {
	c := New(WithUserConfigDir(t.TempDir()), WithWatcher(false), WithEnvLookup(noEnv))
	defer c.Close()
	require.NoError(t, c.Load(context.Background()))

	require.False(t, c.HasWorkspace())
	assert.ErrorIs(t, c.Update(Section+"."+KeyRules, map[string]any{}, TargetWorkspace), ErrNoWorkspace)
	assert.NoError(t, c.Update(Section+"."+KeyRules, map[string]any{}, TargetGlobal))
}

func TestConfig_UpdateTypeMismatch(t *testing.T) {
	c, _, _ := newTestConfig(t)
	require.NoError(t, c.Load(context.Background()))

	err := c.Update(Section+"."+KeyRulesReplaceDefaults, "yes", TargetGlobal)
	var terr *TypeError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "bool", terr.Expected)
}

func TestConfig_SettingsFile(t *testing.T) {
	c, userDir, folder := newTestConfig(t)

	global, _ := c.SettingsFile(TargetGlobal)
	assert.Equal(t, filepath.Join(userDir, "settings.toml"), global)
	workspace, _ := c.SettingsFile(TargetWorkspace)
	assert.Equal(t, filepath.Join(folder, ".ansible-analyzer", "settings.toml"), workspace)
}

func TestConfig_ReloadOnFileChange(t *testing.T) {
	c, userDir, _ := newTestConfig(t, WithWatcher(true))
	path := filepath.Join(userDir, "settings.toml")
	writeSettings(t, path, "[ansibleAnalyzer]\nenabled = true\n")
	require.NoError(t, c.Load(context.Background()))

	changes := make(chan notify.Change, 4)
	c.Subscribe(func(ch notify.Change) { changes <- ch })

	writeSettings(t, path, "[ansibleAnalyzer]\nenabled = false\n")

	select {
	case ch := <-changes:
		assert.Equal(t, notify.ChangeReload, ch.Type)
		assert.True(t, ch.Affects("ansibleAnalyzer.enabled"))
	case <-time.After(3 * time.Second):
		t.Fatal("no reload notification")
	}
	assert.False(t, c.Extension().Enabled, "reloaded settings not applied")
}

func TestTarget_String(t *testing.T) {
	assert.Equal(t, "user", TargetGlobal.String())
	assert.Equal(t, "workspace", TargetWorkspace.String())
	assert.Equal(t, "unknown", Target(7).String())
}
