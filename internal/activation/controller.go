// Package activation starts the Ansible language server once its
// preconditions hold and owns the single client connected to it.
//
// Activation walks Idle → LocatingRuntime → ValidatingVersion →
// LocatingArtifact → Starting → Running. Any failed precondition ends in
// Failed after one log line and one error notification; nothing is retried.
package activation

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/qualimetry/ansible-analyzer/internal/config"
	"github.com/qualimetry/ansible-analyzer/internal/config/notify"
	"github.com/qualimetry/ansible-analyzer/internal/jvm"
	"github.com/qualimetry/ansible-analyzer/internal/logging"
	"github.com/qualimetry/ansible-analyzer/internal/lsp"
	"github.com/qualimetry/ansible-analyzer/internal/metrics"
	"github.com/qualimetry/ansible-analyzer/internal/ui"
)

const (
	// MinJavaVersion is the lowest Java major version the server runs on.
	MinJavaVersion = 17

	// ClientID and ClientName identify the language client.
	ClientID   = "ansibleAnalyzer"
	ClientName = "Ansible Analyzer"

	// StatusText is shown by the status item while the server is up.
	StatusText    = "$(checklist) Ansible Analyzer"
	statusTooltip = "Ansible Analyzer is active"
)

// ArtifactPath returns the server JAR location inside an install directory.
func ArtifactPath(extensionPath string) string {
	return filepath.Join(extensionPath, "server", "ansible-lsp-server.jar")
}

// Selector is the set of documents the server analyses.
func Selector() lsp.DocumentSelector {
	return lsp.DocumentSelector{
		{Scheme: "file", Language: "ansible"},
		{Scheme: "file", Language: "yaml"},
		{Scheme: "file", Pattern: "**/*.yml"},
		{Scheme: "file", Pattern: "**/*.yaml"},
	}
}

// LanguageClient is the connection to the language server.
type LanguageClient interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	State() lsp.State
	DidChangeConfiguration(ctx context.Context) error
}

// ClientFactory builds the client for a validated launch command.
type ClientFactory func(exe lsp.Executable, opts lsp.ClientOptions) LanguageClient

// Locator finds a Java runtime.
type Locator interface {
	Locate(ctx context.Context, configuredPath string) (jvm.Candidate, bool)
	Version(ctx context.Context, exe string) (int, bool)
}

// Settings is the configuration the controller reads and follows.
type Settings interface {
	Extension() config.ExtensionConfig
	Section(name string) map[string]any
	SubscribeSection(section string, observer notify.Observer) *notify.Subscription
}

// StatusItem is the persistent indicator shown while activated.
type StatusItem interface {
	Show()
	Dispose()
}

// Options wires the controller to its collaborators.
type Options struct {
	// ExtensionPath is the install directory holding server/.
	ExtensionPath string

	// WorkspaceFolders are announced to the server.
	WorkspaceFolders []string

	Settings      Settings
	Locator       Locator
	Notifier      ui.Notifier
	NewStatusItem func(text, tooltip string) StatusItem
	NewClient     ClientFactory
	Logger        *logging.Logger
	Metrics       *metrics.Metrics
	ClientVersion string

	// Stat checks the artifact; defaults to os.Stat.
	Stat func(name string) (fs.FileInfo, error)
}

// Controller drives activation and teardown of the language client.
type Controller struct {
	mu sync.Mutex

	opts Options
	log  *logging.Logger

	state     State
	activated bool
	client    LanguageClient
	status    StatusItem
	failure   *Error
	sub       *notify.Subscription
}

// New creates an idle controller.
func New(opts Options) *Controller {
	if opts.Stat == nil {
		opts.Stat = os.Stat
	}
	if opts.NewClient == nil {
		opts.NewClient = func(exe lsp.Executable, o lsp.ClientOptions) LanguageClient {
			return lsp.NewClient(ClientID, ClientName, exe, o)
		}
	}
	if opts.NewStatusItem == nil {
		opts.NewStatusItem = func(string, string) StatusItem { return nopStatus{} }
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{opts: opts, log: log}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Failure returns the diagnostic of a failed activation, or nil.
func (c *Controller) Failure() *Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failure
}

// Client returns the live client handle, or nil.
func (c *Controller) Client() LanguageClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

// Activate runs the activation sequence once and returns the state it
// ended in. Later calls return the current state without doing anything.
func (c *Controller) Activate(ctx context.Context) State {
	c.mu.Lock()
	if c.activated {
		s := c.state
		c.mu.Unlock()
		return s
	}
	c.activated = true
	c.mu.Unlock()

	c.log.Info("Ansible Analyzer: activating...")

	ext := c.opts.Settings.Extension()
	if !ext.Enabled {
		c.log.Info("Ansible Analyzer is disabled via settings.")
		c.opts.Metrics.ObserveActivation(StateIdle.String(), ConfigDisabled.String())
		return StateIdle
	}

	c.setState(StateLocatingRuntime)
	c.log.Info("Looking for Java...")
	cand, ok := c.opts.Locator.Locate(ctx, ext.JavaHome)
	if !ok {
		return c.fail(runtimeNotFound())
	}
	c.log.Info("Java: %s", cand.Path)

	c.setState(StateValidatingVersion)
	version, ok := c.opts.Locator.Version(ctx, cand.Path)
	if !ok {
		c.log.Info("Java version: unknown")
		return c.fail(versionUndetectable(cand.Path))
	}
	c.log.Info("Java version: %d", version)
	if version < MinJavaVersion {
		return c.fail(versionTooLow(cand.Path, version))
	}

	c.setState(StateLocatingArtifact)
	jar := ArtifactPath(c.opts.ExtensionPath)
	if info, err := c.opts.Stat(jar); err != nil || info.IsDir() {
		return c.fail(artifactMissing(jar))
	}
	c.log.Info("Server JAR: %s", jar)

	return c.start(ctx, cand.Path, jar)
}

func (c *Controller) start(ctx context.Context, javaPath, jar string) State {
	exe := lsp.Executable{
		Command: javaPath,
		Args:    []string{"-jar", jar},
	}
	folders := make([]lsp.WorkspaceFolder, 0, len(c.opts.WorkspaceFolders))
	for _, f := range c.opts.WorkspaceFolders {
		folders = append(folders, lsp.NewWorkspaceFolder(f))
	}
	if len(c.opts.WorkspaceFolders) > 0 {
		exe.Dir = c.opts.WorkspaceFolders[0]
	}
	client := c.opts.NewClient(exe, lsp.ClientOptions{
		DocumentSelector:     Selector(),
		ConfigurationSection: config.Section,
		Settings:             func(section string) any { return c.opts.Settings.Section(section) },
		WorkspaceFolders:     folders,
		Logger:               c.log.WithComponent("server"),
		ClientVersion:        c.opts.ClientVersion,
	})
	status := c.opts.NewStatusItem(StatusText, statusTooltip)

	c.mu.Lock()
	c.client = client
	c.status = status
	c.setStateLocked(StateStarting)
	c.mu.Unlock()

	status.Show()
	c.log.Info("Starting Ansible language server...")

	if err := client.Start(ctx); err != nil {
		c.log.Error("Failed to start: %v", err)
		return c.fail(startFailure(err))
	}

	c.mu.Lock()
	if c.client != client {
		// Deactivated while the handshake was in flight.
		c.setStateLocked(StateStopping)
		c.mu.Unlock()
		c.log.Info("Language server started after deactivation; stopping it.")
		_ = client.Stop(context.WithoutCancel(ctx))
		c.setState(StateStopped)
		return StateStopped
	}
	c.setStateLocked(StateRunning)
	c.sub = c.opts.Settings.SubscribeSection(config.Section, func(notify.Change) {
		c.pushSettings(client)
	})
	c.mu.Unlock()

	c.log.Info("Language server started successfully.")
	c.opts.Metrics.ObserveActivation(StateRunning.String(), "")
	return StateRunning
}

// pushSettings forwards a settings change to a running server.
func (c *Controller) pushSettings(client LanguageClient) {
	if client.State() != lsp.StateRunning {
		return
	}
	if err := client.DidChangeConfiguration(context.Background()); err != nil {
		c.log.Warn("could not send settings to the language server: %v", err)
	}
}

// fail records a terminal failure. The start-failure log line is written by
// the caller since its text differs from the notification.
func (c *Controller) fail(e *Error) State {
	if e.Kind != ClientStartFailure {
		c.log.Error("%s", e.Message)
	}
	c.opts.Notifier.Error(e.Message)

	c.mu.Lock()
	c.failure = e
	c.setStateLocked(StateFailed)
	c.mu.Unlock()

	c.opts.Metrics.ObserveActivation(StateFailed.String(), e.Kind.String())
	return StateFailed
}

// Deactivate tears the client down. The handle is cleared before this
// returns so a second call finds nothing to stop; the stop itself runs in
// the background and its errors are dropped. The returned channel closes
// when teardown is complete.
func (c *Controller) Deactivate(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	c.mu.Lock()
	client := c.client
	status := c.status
	sub := c.sub
	c.client = nil
	c.status = nil
	c.sub = nil

	running := client != nil && c.state == StateRunning && client.State() == lsp.StateRunning
	if running {
		c.setStateLocked(StateStopping)
	}
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	if status != nil {
		status.Dispose()
	}
	if !running {
		close(done)
		return done
	}

	go func() {
		defer close(done)
		if err := client.Stop(context.WithoutCancel(ctx)); err != nil {
			c.log.Debug("stopping language server: %v", err)
		}
		c.mu.Lock()
		c.setStateLocked(StateStopped)
		c.mu.Unlock()
	}()
	return done
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.opts.Metrics.SetState(s.String())
}

type nopStatus struct{}

func (nopStatus) Show()    {}
func (nopStatus) Dispose() {}

type nopNotifier struct{}

func (nopNotifier) Info(string)  {}
func (nopNotifier) Error(string) {}
