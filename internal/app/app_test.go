package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qualimetry/ansible-analyzer/internal/activation"
	"github.com/qualimetry/ansible-analyzer/internal/config"
	"github.com/qualimetry/ansible-analyzer/internal/globalstate"
	"github.com/qualimetry/ansible-analyzer/internal/importer"
	"github.com/qualimetry/ansible-analyzer/internal/jvm"
	"github.com/qualimetry/ansible-analyzer/internal/logging"
	"github.com/qualimetry/ansible-analyzer/internal/lsp"
	"github.com/qualimetry/ansible-analyzer/internal/sonar"
)

type fakeLocator struct {
	path    string
	version int
}

func (l fakeLocator) Locate(context.Context, string) (jvm.Candidate, bool) {
	if l.path == "" {
		return jvm.Candidate{}, false
	}
	return jvm.Candidate{Path: l.path}, true
}

func (l fakeLocator) Version(context.Context, string) (int, bool) {
	return l.version, l.version > 0
}

type fakeClient struct {
	mu      sync.Mutex
	state   lsp.State
	exe     lsp.Executable
	opts    lsp.ClientOptions
	handler func(lsp.PublishDiagnosticsParams)
	opened  []string
	exited  chan struct{}
	stopped int
}

func (c *fakeClient) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = lsp.StateRunning
	return nil
}

func (c *fakeClient) Stop(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = lsp.StateStopped
	c.stopped++
	return nil
}

func (c *fakeClient) State() lsp.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeClient) DidChangeConfiguration(context.Context) error { return nil }

func (c *fakeClient) Exited() <-chan struct{} { return c.exited }

func (c *fakeClient) OnDiagnostics(h func(lsp.PublishDiagnosticsParams)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *fakeClient) OpenDocument(_ context.Context, path, _ string) error {
	if !strings.HasSuffix(path, ".yml") {
		return lsp.ErrNotSelected
	}
	c.mu.Lock()
	c.opened = append(c.opened, path)
	h := c.handler
	c.mu.Unlock()
	if strings.Contains(path, "silent") {
		return nil
	}
	h(lsp.PublishDiagnosticsParams{
		URI: lsp.FilePathToURI(path),
		Diagnostics: []lsp.Diagnostic{
			{Range: lsp.Range{Start: lsp.Position{Line: 4, Character: 2}}, Severity: lsp.DiagnosticSeverityWarning, Message: "use fully qualified module names"},
			{Range: lsp.Range{Start: lsp.Position{Line: 0, Character: 0}}, Severity: lsp.DiagnosticSeverityError, Message: "missing play name"},
		},
	})
	return nil
}

func (c *fakeClient) CloseDocument(context.Context, string) error { return nil }

type fakeCatalog struct{}

func (fakeCatalog) FetchProfiles(context.Context, sonar.Config) ([]sonar.Profile, error) {
	return []sonar.Profile{{Key: "strict", Name: "Strict"}}, nil
}

func (fakeCatalog) FetchRules(context.Context, sonar.Config, string) (map[string]any, error) {
	return map[string]any{"no-tabs": map[string]any{"enabled": true, "severity": "MAJOR"}}, nil
}

type harness struct {
	app    *Application
	client *fakeClient
	out    *bytes.Buffer
	ext    string
	user   string
}

type harnessOption func(*Options)

func newHarness(t *testing.T, in string, opts ...harnessOption) *harness {
	t.Helper()

	ext := t.TempDir()
	jar := activation.ArtifactPath(ext)
	require.NoError(t, os.MkdirAll(filepath.Dir(jar), 0o755))
	require.NoError(t, os.WriteFile(jar, []byte("PK"), 0o644))

	h := &harness{
		client: &fakeClient{exited: make(chan struct{})},
		out:    &bytes.Buffer{},
		ext:    ext,
		user:   t.TempDir(),
	}
	o := Options{
		ExtensionPath: ext,
		UserConfigDir: h.user,
		StateDB:       filepath.Join(t.TempDir(), "state.db"),
		Version:       "test",
		In:            strings.NewReader(in),
		Out:           h.out,
		Locator:       fakeLocator{path: "/opt/jdk-21/bin/java", version: 21},
		NewClient: func(exe lsp.Executable, co lsp.ClientOptions) activation.LanguageClient {
			h.client.exe, h.client.opts = exe, co
			return h.client
		},
		Catalog: fakeCatalog{},
	}
	for _, fn := range opts {
		fn(&o)
	}

	a, err := New(context.Background(), o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown() })
	h.app = a
	return h
}

func TestNew_RegistersImportCommand(t *testing.T) {
	h := newHarness(t, "")

	cmds := h.app.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, importer.CommandID, cmds[0].ID)
}

func TestNew_ConfigFailureIsInitError(t *testing.T) {
	user := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(user, "settings.toml"), []byte("not = [toml"), 0o644))

	_, err := New(context.Background(), Options{
		UserConfigDir: user,
		StateDB:       filepath.Join(t.TempDir(), "state.db"),
		Out:           &bytes.Buffer{},
	})

	var ie *InitError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "config", ie.Component)
}

func TestActivate_StartsClientWithJar(t *testing.T) {
	h := newHarness(t, "")

	assert.Equal(t, activation.StateRunning, h.app.Activate(context.Background()))
	assert.Equal(t, "/opt/jdk-21/bin/java", h.client.exe.Command)
	assert.Equal(t, []string{"-jar", activation.ArtifactPath(h.ext)}, h.client.exe.Args)
	assert.Contains(t, h.out.String(), "[Ansible Analyzer] Ansible Analyzer is active")
}

func TestServe_ReturnsWhenContextDone(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.app.Serve(ctx, "") }()

	require.Eventually(t, func() bool { return h.app.Controller().State() == activation.StateRunning }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestServe_ServerExit(t *testing.T) {
	h := newHarness(t, "")
	close(h.client.exited)

	err := h.app.Serve(context.Background(), "")
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestServe_FailedActivationReturnsDiagnostic(t *testing.T) {
	h := newHarness(t, "", func(o *Options) { o.Locator = fakeLocator{path: "/usr/bin/java", version: 11} })

	err := h.app.Serve(context.Background(), "")

	var ae *activation.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, activation.VersionTooLow, ae.Kind)
}

func TestServe_DisabledReturnsNil(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.app.Config().Update("ansibleAnalyzer.enabled", false, config.TargetGlobal))

	assert.NoError(t, h.app.Serve(context.Background(), ""))
	assert.Equal(t, activation.StateIdle, h.app.Controller().State())
}

func TestLint_PrintsSortedDiagnostics(t *testing.T) {
	h := newHarness(t, "")
	dir := t.TempDir()
	play := filepath.Join(dir, "site.yml")
	notes := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(play, []byte("- hosts: all\n"), 0o644))
	require.NoError(t, os.WriteFile(notes, []byte("hello"), 0o644))

	var out bytes.Buffer
	report, err := h.app.Lint(context.Background(), []string{play, notes}, &out, time.Second)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Problems())
	assert.Equal(t, LintProblems, report.ExitCode())
	assert.Equal(t, []string{notes}, report.Skipped)
	assert.Equal(t,
		play+":1:1: error: missing play name\n"+play+":5:3: warning: use fully qualified module names\n",
		out.String())
}

func TestLint_TimesOut(t *testing.T) {
	h := newHarness(t, "")
	play := filepath.Join(t.TempDir(), "silent.yml")
	require.NoError(t, os.WriteFile(play, []byte("---\n"), 0o644))

	report, err := h.app.Lint(context.Background(), []string{play}, &bytes.Buffer{}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{play}, report.TimedOut)
	assert.Equal(t, 0, report.Problems())
	assert.Equal(t, LintIncomplete, report.ExitCode())
}

func TestLintReport_ExitCode(t *testing.T) {
	diags := map[string][]lsp.Diagnostic{"site.yml": {{Message: "missing play name"}}}

	tests := []struct {
		name   string
		report LintReport
		want   int
	}{
		{"clean", LintReport{Files: map[string][]lsp.Diagnostic{"site.yml": nil}}, LintClean},
		{"skipped only", LintReport{Skipped: []string{"notes.txt"}}, LintClean},
		{"problems", LintReport{Files: diags}, LintProblems},
		{"timed out", LintReport{TimedOut: []string{"slow.yml"}}, LintIncomplete},
		{"timed out with problems", LintReport{Files: diags, TimedOut: []string{"slow.yml"}}, LintIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.ExitCode())
		})
	}
}

func TestLint_MissingFile(t *testing.T) {
	h := newHarness(t, "")

	_, err := h.app.Lint(context.Background(), []string{filepath.Join(t.TempDir(), "gone.yml")}, &bytes.Buffer{}, time.Second)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestExecuteCommand_ImportWritesUserSettings(t *testing.T) {
	h := newHarness(t, "https://sonar.example.com\nStrict\n\n")

	require.NoError(t, h.app.ExecuteCommand(context.Background(), importer.CommandID))

	replace, err := h.app.Config().GetBool("ansibleAnalyzer.rulesReplaceDefaults")
	require.NoError(t, err)
	assert.True(t, replace)
	assert.FileExists(t, filepath.Join(h.user, "settings.toml"))
	assert.Contains(t, h.out.String(), "Imported 1 rule from SonarQube into user settings (global settings.toml).")
}

func TestExecuteCommand_ImportRemembersAnswers(t *testing.T) {
	h := newHarness(t, "https://sonar.example.com\nStrict\n")

	// Input ends before the token prompt, which dismisses it.
	require.NoError(t, h.app.ExecuteCommand(context.Background(), importer.CommandID))

	v, ok, err := h.app.state.Get(context.Background(), globalstate.KeyLastProfile)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Strict", v)
}

func TestExecuteCommand_Unknown(t *testing.T) {
	h := newHarness(t, "")

	err := h.app.ExecuteCommand(context.Background(), "ansible.nope")
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestShutdown_StopsClientOnce(t *testing.T) {
	h := newHarness(t, "")
	require.Equal(t, activation.StateRunning, h.app.Activate(context.Background()))

	require.NoError(t, h.app.Shutdown())
	require.NoError(t, h.app.Shutdown())
	assert.Equal(t, 1, h.client.stopped)
	assert.Equal(t, activation.StateStopped, h.app.Controller().State())
}

func TestLogLevelFollowsSettings(t *testing.T) {
	h := newHarness(t, "")
	log := h.app.Logger()
	require.False(t, log.Enabled(logging.LevelDebug))

	require.NoError(t, h.app.Config().Update("logging.level", "debug", config.TargetGlobal))
	assert.True(t, log.Enabled(logging.LevelDebug))
}

func TestExecuteCommand_WrapsFailure(t *testing.T) {
	h := newHarness(t, "")
	boom := errors.New("boom")
	h.app.RegisterCommand(Command{ID: "ansible.fail", Run: func(context.Context) error { return boom }})

	err := h.app.ExecuteCommand(context.Background(), "ansible.fail")

	var ce *CommandError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "ansible.fail", ce.ID)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "command ansible.fail: boom", err.Error())
}
