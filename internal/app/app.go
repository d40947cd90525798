// Package app hosts the Ansible Analyzer extension: it wires settings,
// persisted state, the activation controller and the import command
// together and manages their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qualimetry/ansible-analyzer/internal/activation"
	"github.com/qualimetry/ansible-analyzer/internal/config"
	"github.com/qualimetry/ansible-analyzer/internal/config/notify"
	"github.com/qualimetry/ansible-analyzer/internal/globalstate"
	"github.com/qualimetry/ansible-analyzer/internal/importer"
	"github.com/qualimetry/ansible-analyzer/internal/jvm"
	"github.com/qualimetry/ansible-analyzer/internal/logging"
	"github.com/qualimetry/ansible-analyzer/internal/metrics"
	"github.com/qualimetry/ansible-analyzer/internal/sonar"
	"github.com/qualimetry/ansible-analyzer/internal/ui"
)

// Options configures the application.
type Options struct {
	// WorkspaceFolders are the open project folders.
	WorkspaceFolders []string

	// ExtensionPath is the install directory holding server/.
	ExtensionPath string

	// UserConfigDir overrides the user settings directory.
	UserConfigDir string

	// StateDB overrides the persisted state database path.
	StateDB string

	// LogLevel overrides the logging.level setting when non-empty.
	LogLevel string

	// WatchSettings reloads settings files when they change on disk.
	WatchSettings bool

	// Version is reported to the language server.
	Version string

	// In and Out are the console streams (default: stdin and stderr).
	In  io.Reader
	Out io.Writer

	// Locator and NewClient replace the real runtime lookup and language
	// client, mainly for tests.
	Locator   activation.Locator
	NewClient activation.ClientFactory

	// Catalog replaces the SonarQube client.
	Catalog importer.Catalog
}

// Application is the extension host.
type Application struct {
	opts Options
	log  *logging.Logger

	config     *config.Config
	state      *globalstate.Store
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	console    *ui.Console
	controller *activation.Controller
	importer   *importer.Orchestrator

	commands map[string]Command
	logSub   *notify.Subscription

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates the application and initializes every component.
func New(ctx context.Context, opts Options) (*Application, error) {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stderr
	}

	cfg := logging.DefaultConfig()
	cfg.Output = opts.Out
	if opts.LogLevel != "" {
		cfg.Level = logging.ParseLevel(opts.LogLevel)
	}

	app := &Application{
		opts:     opts,
		log:      logging.New(cfg),
		commands: make(map[string]Command),
	}
	b := newBootstrapper(app)
	if err := b.bootstrap(ctx); err != nil {
		b.cleanup()
		return nil, err
	}
	return app, nil
}

// Logger returns the application log, the "Ansible Analyzer" output.
func (app *Application) Logger() *logging.Logger { return app.log }

// Config returns the settings store.
func (app *Application) Config() *config.Config { return app.config }

// Controller returns the activation controller.
func (app *Application) Controller() *activation.Controller { return app.controller }

// Registry returns the metrics registry.
func (app *Application) Registry() *prometheus.Registry { return app.registry }

// Activate runs server activation once.
func (app *Application) Activate(ctx context.Context) activation.State {
	return app.controller.Activate(ctx)
}

// Shutdown deactivates the server and releases every component. It is
// safe to call more than once.
func (app *Application) Shutdown() error {
	app.shutdownOnce.Do(func() {
		var errs []error

		if app.controller != nil {
			<-app.controller.Deactivate(context.Background())
		}
		if app.logSub != nil {
			app.logSub.Unsubscribe()
		}
		if app.config != nil {
			app.config.Close()
		}
		if app.state != nil {
			if err := app.state.Close(); err != nil {
				errs = append(errs, fmt.Errorf("closing state store: %w", err))
			}
		}
		app.shutdownErr = errors.Join(errs...)
	})
	return app.shutdownErr
}

// bootstrapper initializes components in dependency order.
type bootstrapper struct {
	app *Application
}

func newBootstrapper(app *Application) *bootstrapper {
	return &bootstrapper{app: app}
}

func (b *bootstrapper) bootstrap(ctx context.Context) error {
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"config", b.initConfig},
		{"state", b.initState},
		{"metrics", b.initMetrics},
		{"activation", b.initActivation},
		{"importer", b.initImporter},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return &InitError{Component: step.name, Err: err}
		}
	}
	return nil
}

func (b *bootstrapper) initConfig(ctx context.Context) error {
	app := b.app
	opts := []config.Option{
		config.WithWorkspaceFolders(app.opts.WorkspaceFolders...),
		config.WithWatcher(app.opts.WatchSettings),
		config.WithLogger(app.log.WithComponent("config")),
	}
	if app.opts.UserConfigDir != "" {
		opts = append(opts, config.WithUserConfigDir(app.opts.UserConfigDir))
	}
	app.config = config.New(opts...)
	if err := app.config.Load(ctx); err != nil {
		return err
	}

	if app.opts.LogLevel == "" {
		app.applyLogLevel()
		app.logSub = app.config.SubscribeSection("logging", func(notify.Change) {
			app.applyLogLevel()
		})
	}
	return nil
}

func (app *Application) applyLogLevel() {
	lvl, err := app.config.GetString("logging.level")
	if err != nil {
		return
	}
	if !logging.ValidLevel(lvl) {
		app.log.Warn("ignoring invalid logging.level %q", lvl)
		return
	}
	app.log.SetLevel(logging.ParseLevel(lvl))
}

func (b *bootstrapper) initState(ctx context.Context) error {
	s, err := globalstate.Open(ctx, b.app.opts.StateDB)
	if err != nil {
		return err
	}
	b.app.state = s
	return nil
}

func (b *bootstrapper) initMetrics(context.Context) error {
	b.app.registry = prometheus.NewRegistry()
	b.app.metrics = metrics.New(b.app.registry)
	return nil
}

func (b *bootstrapper) initActivation(context.Context) error {
	app := b.app
	app.console = ui.NewConsole(app.opts.In, app.opts.Out)

	locator := app.opts.Locator
	if locator == nil {
		locator = jvm.New()
	}
	app.controller = activation.New(activation.Options{
		ExtensionPath:    app.opts.ExtensionPath,
		WorkspaceFolders: app.opts.WorkspaceFolders,
		Settings:         app.config,
		Locator:          locator,
		Notifier:         app.console,
		NewStatusItem: func(text, tooltip string) activation.StatusItem {
			return ui.NewStatusItem(app.opts.Out, text, tooltip)
		},
		NewClient:     app.opts.NewClient,
		Logger:        app.log,
		Metrics:       app.metrics,
		ClientVersion: app.opts.Version,
	})
	return nil
}

func (b *bootstrapper) initImporter(context.Context) error {
	app := b.app
	catalog := app.opts.Catalog
	if catalog == nil {
		catalog = sonar.New(sonar.WithLogger(app.log.WithComponent("sonar")))
	}
	app.importer = importer.New(importer.Options{
		Prompter: app.console,
		Catalog:  catalog,
		Config:   app.config,
		Memory:   app.state,
		Notifier: app.console,
		Progress: ui.NewProgress(app.opts.Out),
		Logger:   app.log.WithComponent("import"),
		Metrics:  app.metrics,
	})

	app.RegisterCommand(Command{
		ID:    importer.CommandID,
		Title: "Ansible: Import rules from SonarQube",
		Run: func(ctx context.Context) error {
			if res := app.importer.Run(ctx); res.Err != nil {
				return res.Err
			}
			return nil
		},
	})
	return nil
}

// cleanup releases whatever bootstrap managed to create.
func (b *bootstrapper) cleanup() {
	_ = b.app.Shutdown()
}

// Command is a user-invocable command.
type Command struct {
	ID    string
	Title string
	Run   func(ctx context.Context) error
}

// RegisterCommand adds or replaces a command.
func (app *Application) RegisterCommand(cmd Command) {
	app.commands[cmd.ID] = cmd
}

// Commands lists registered commands sorted by id.
func (app *Application) Commands() []Command {
	out := make([]Command, 0, len(app.commands))
	for _, c := range app.commands {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExecuteCommand runs a registered command.
func (app *Application) ExecuteCommand(ctx context.Context, id string) error {
	cmd, ok := app.commands[id]
	if !ok {
		return &CommandError{ID: id, Err: ErrUnknownCommand}
	}
	if err := cmd.Run(ctx); err != nil {
		return &CommandError{ID: id, Err: err}
	}
	return nil
}
