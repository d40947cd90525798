package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qualimetry/ansible-analyzer/internal/logging"
)

// State is the lifecycle state of a language client.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Executable describes how to launch the server process.
type Executable struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env replaces the inherited environment when non-nil.
	Env []string

	// Dir is the working directory (defaults to the first workspace folder).
	Dir string
}

// ClientOptions configure the client side of the connection.
type ClientOptions struct {
	// DocumentSelector limits which documents are synchronised.
	DocumentSelector DocumentSelector

	// ConfigurationSection is the settings section the server is interested in.
	ConfigurationSection string

	// Settings returns the current value of a settings section. It answers
	// workspace/configuration and feeds didChangeConfiguration.
	Settings func(section string) any

	// WorkspaceFolders are announced during initialize.
	WorkspaceFolders []WorkspaceFolder

	// Logger receives server stderr and window/logMessage output.
	Logger *logging.Logger

	// ClientVersion is reported in clientInfo.
	ClientVersion string

	// RequestTimeout bounds the initialize handshake (default: 30s).
	RequestTimeout time.Duration

	// ShutdownTimeout bounds the shutdown handshake (default: 5s).
	ShutdownTimeout time.Duration
}

// Client owns a language server process and the connection to it.
type Client struct {
	mu sync.Mutex

	id   string
	name string
	exe  Executable
	opts ClientOptions
	log  *logging.Logger

	state atomic.Int32

	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.WriteCloser
	transport *Transport
	cancel    context.CancelFunc
	exited    chan struct{}

	exitMu  sync.Mutex
	exitErr error

	serverInfo   *ServerInfo
	capabilities ServerCapabilities

	docsMu    sync.Mutex
	documents map[DocumentURI]int

	diagMu      sync.RWMutex
	diagnostics map[DocumentURI][]Diagnostic
	diagHandler func(PublishDiagnosticsParams)
}

// NewClient creates a client that is not yet started.
func NewClient(id, name string, exe Executable, opts ClientOptions) *Client {
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 5 * time.Second
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	c := &Client{
		id:          id,
		name:        name,
		exe:         exe,
		opts:        opts,
		log:         log,
		documents:   make(map[DocumentURI]int),
		diagnostics: make(map[DocumentURI][]Diagnostic),
	}
	c.state.Store(int32(StateStopped))
	return c
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

// Name returns the display name of the client.
func (c *Client) Name() string { return c.name }

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// DocumentSelector returns the selector this client synchronises.
func (c *Client) DocumentSelector() DocumentSelector {
	return c.opts.DocumentSelector
}

// ServerInfo returns what the server reported during initialize.
func (c *Client) ServerInfo() *ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverInfo
}

// Exited is closed when the server process terminates. It is nil before
// the first Start.
func (c *Client) Exited() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exited
}

// Start launches the server process and performs the initialize handshake.
// ctx bounds the handshake only; the process outlives it.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != StateStopped {
		return ErrAlreadyStarted
	}
	c.state.Store(int32(StateStarting))

	procCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := c.startProcess(procCtx); err != nil {
		cancel()
		c.state.Store(int32(StateStopped))
		return &ServerError{Op: "start", Err: err}
	}

	c.transport = NewTransport(c.stdout, c.stdin, c.stdin)
	c.registerHandlers()
	c.transport.Start(procCtx)

	c.exited = make(chan struct{})
	go c.monitorProcess(c.cmd, c.transport, c.stderr, c.exited)

	if err := c.initialize(ctx); err != nil {
		c.stopProcess()
		c.state.Store(int32(StateStopped))
		return &ServerError{Op: "initialize", Err: err}
	}

	c.state.Store(int32(StateRunning))
	select {
	case <-c.exited:
		// Died right after the handshake.
		c.markExited()
	default:
		c.log.Debug("%s connected to %s", c.name, c.describeServer())
	}
	return nil
}

func (c *Client) startProcess(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, c.exe.Command, c.exe.Args...)

	if c.exe.Env != nil {
		cmd.Env = c.exe.Env
	} else {
		cmd.Env = os.Environ()
	}

	if c.exe.Dir != "" {
		cmd.Dir = c.exe.Dir
	} else if len(c.opts.WorkspaceFolders) > 0 {
		cmd.Dir = URIToFilePath(c.opts.WorkspaceFolders[0].URI)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr := c.log.LineWriter(logging.LevelInfo)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.stdout = stdout
	c.stderr = stderr
	return nil
}

// monitorProcess waits for the process and tears the connection down.
func (c *Client) monitorProcess(cmd *exec.Cmd, t *Transport, stderr io.Closer, exited chan struct{}) {
	err := cmd.Wait()
	stderr.Close()
	t.Close()

	c.exitMu.Lock()
	c.exitErr = err
	c.exitMu.Unlock()

	c.markExited()
	close(exited)
}

// markExited moves a running client to stopped after its process died.
func (c *Client) markExited() {
	if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopped)) {
		return
	}
	if err := c.ExitError(); err != nil {
		c.log.Error("%s server exited unexpectedly: %v", c.name, err)
	} else {
		c.log.Warn("%s server exited", c.name)
	}
}

// stopProcess kills the process; callers hold c.mu.
func (c *Client) stopProcess() {
	if c.transport != nil {
		c.transport.Close()
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.exited != nil {
		<-c.exited
	}
}

func (c *Client) initialize(ctx context.Context) error {
	var rootURI DocumentURI
	if len(c.opts.WorkspaceFolders) > 0 {
		rootURI = c.opts.WorkspaceFolders[0].URI
	}

	params := InitializeParams{
		ProcessID:        os.Getpid(),
		ClientInfo:       &ClientInfo{Name: c.name, Version: c.opts.ClientVersion},
		RootURI:          rootURI,
		Capabilities:     DefaultClientCapabilities(),
		WorkspaceFolders: c.opts.WorkspaceFolders,
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	var result InitializeResult
	if err := c.transport.Call(ctx, "initialize", params, &result); err != nil {
		if errors.Is(err, ErrShutdown) {
			return ErrServerExited
		}
		return fmt.Errorf("initialize request: %w", err)
	}

	c.capabilities = result.Capabilities
	c.serverInfo = result.ServerInfo

	if err := c.transport.Notify(ctx, "initialized", InitializedParams{}); err != nil {
		return fmt.Errorf("initialized notification: %w", err)
	}
	return nil
}

func (c *Client) registerHandlers() {
	t := c.transport

	t.OnRequest("workspace/configuration", func(ctx context.Context, params json.RawMessage) (any, error) {
		var p ConfigurationParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		out := make([]any, len(p.Items))
		for i, item := range p.Items {
			out[i] = c.settings(item.Section)
		}
		return out, nil
	})
	t.OnRequest("workspace/workspaceFolders", func(ctx context.Context, params json.RawMessage) (any, error) {
		return c.opts.WorkspaceFolders, nil
	})
	accept := func(ctx context.Context, params json.RawMessage) (any, error) { return nil, nil }
	t.OnRequest("client/registerCapability", accept)
	t.OnRequest("client/unregisterCapability", accept)
	t.OnRequest("window/workDoneProgress/create", accept)
	t.OnRequest("window/showMessageRequest", func(ctx context.Context, params json.RawMessage) (any, error) {
		c.logServerMessage(params)
		return nil, nil
	})

	t.OnNotification("textDocument/publishDiagnostics", func(method string, params json.RawMessage) {
		var p PublishDiagnosticsParams
		if err := json.Unmarshal(params, &p); err != nil {
			return
		}
		c.diagMu.Lock()
		if len(p.Diagnostics) == 0 {
			delete(c.diagnostics, p.URI)
		} else {
			c.diagnostics[p.URI] = p.Diagnostics
		}
		handler := c.diagHandler
		c.diagMu.Unlock()

		if handler != nil {
			handler(p)
		}
	})
	t.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		c.logServerMessage(params)
	})
	t.OnNotification("window/showMessage", func(method string, params json.RawMessage) {
		c.logServerMessage(params)
	})
	// $/progress, telemetry/event and friends.
	t.OnNotification("*", func(method string, params json.RawMessage) {})
}

func (c *Client) settings(section string) any {
	if c.opts.Settings == nil {
		return nil
	}
	return c.opts.Settings(section)
}

func (c *Client) logServerMessage(params json.RawMessage) {
	var p LogMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return
	}
	switch p.Type {
	case MessageTypeError:
		c.log.Error("%s", p.Message)
	case MessageTypeWarning:
		c.log.Warn("%s", p.Message)
	case MessageTypeInfo:
		c.log.Info("%s", p.Message)
	default:
		c.log.Debug("%s", p.Message)
	}
}

func (c *Client) describeServer() string {
	if c.serverInfo == nil || c.serverInfo.Name == "" {
		return c.exe.Command
	}
	if c.serverInfo.Version == "" {
		return c.serverInfo.Name
	}
	return c.serverInfo.Name + " " + c.serverInfo.Version
}

// Stop performs the shutdown handshake and terminates the process. It is a
// no-op on a stopped client.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateStopped && c.exited == nil {
		return nil
	}

	var shutdownErr error
	if c.transport != nil && !c.transport.IsClosed() {
		sctx, cancel := context.WithTimeout(ctx, c.opts.ShutdownTimeout)
		shutdownErr = c.transport.Call(sctx, "shutdown", nil, nil)
		_ = c.transport.Notify(sctx, "exit", nil)
		cancel()

		select {
		case <-c.exited:
		case <-time.After(c.opts.ShutdownTimeout):
		case <-ctx.Done():
		}
	}

	c.stopProcess()
	c.state.Store(int32(StateStopped))
	c.exited = nil

	c.docsMu.Lock()
	clear(c.documents)
	c.docsMu.Unlock()

	if shutdownErr != nil && !errors.Is(shutdownErr, ErrShutdown) {
		return &ServerError{Op: "shutdown", Err: shutdownErr}
	}
	return nil
}

// ExitError returns how the last server process ended.
func (c *Client) ExitError() error {
	c.exitMu.Lock()
	defer c.exitMu.Unlock()
	return c.exitErr
}

// --- Documents ---

// OpenDocument sends didOpen for a file the selector accepts.
func (c *Client) OpenDocument(ctx context.Context, path, content string) error {
	if c.State() != StateRunning {
		return ErrNotRunning
	}

	uri := FilePathToURI(path)
	languageID := LanguageIDForPath(path)
	if len(c.opts.DocumentSelector) > 0 && !c.opts.DocumentSelector.Matches(uri, languageID) {
		return ErrNotSelected
	}

	c.docsMu.Lock()
	if _, open := c.documents[uri]; open {
		c.docsMu.Unlock()
		return ErrDocumentAlreadyOpen
	}
	c.documents[uri] = 1
	c.docsMu.Unlock()

	return c.transport.Notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        uri,
			LanguageID: languageID,
			Version:    1,
			Text:       content,
		},
	})
}

// CloseDocument sends didClose for an open document.
func (c *Client) CloseDocument(ctx context.Context, path string) error {
	if c.State() != StateRunning {
		return ErrNotRunning
	}

	uri := FilePathToURI(path)
	c.docsMu.Lock()
	if _, open := c.documents[uri]; !open {
		c.docsMu.Unlock()
		return ErrDocumentNotOpen
	}
	delete(c.documents, uri)
	c.docsMu.Unlock()

	return c.transport.Notify(ctx, "textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
	})
}

// DidChangeConfiguration pushes the current settings section to the server.
func (c *Client) DidChangeConfiguration(ctx context.Context) error {
	if c.State() != StateRunning {
		return ErrNotRunning
	}
	section := c.opts.ConfigurationSection
	settings := map[string]any{section: c.settings(section)}
	return c.transport.Notify(ctx, "workspace/didChangeConfiguration", DidChangeConfigurationParams{Settings: settings})
}

// --- Diagnostics ---

// OnDiagnostics registers a handler for published diagnostics.
func (c *Client) OnDiagnostics(handler func(PublishDiagnosticsParams)) {
	c.diagMu.Lock()
	c.diagHandler = handler
	c.diagMu.Unlock()
}

// Diagnostics returns the latest diagnostics for a file.
func (c *Client) Diagnostics(path string) []Diagnostic {
	c.diagMu.RLock()
	defer c.diagMu.RUnlock()
	return c.diagnostics[FilePathToURI(path)]
}
