// Package main is the entry point for Ansible Analyzer.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/qualimetry/ansible-analyzer/internal/activation"
	"github.com/qualimetry/ansible-analyzer/internal/app"
	"github.com/qualimetry/ansible-analyzer/internal/importer"
	"github.com/qualimetry/ansible-analyzer/internal/jvm"
	"github.com/qualimetry/ansible-analyzer/internal/logging"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type globalFlags struct {
	workspaces    []string
	extensionPath string
	logLevel      string
	userConfigDir string
	stateDB       string
	noWatch       bool
}

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is fine.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:           "ansible-analyzer",
		Short:         "Ansible Analyzer - Ansible analysis via the Ansible language server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if flags.logLevel != "" && !logging.ValidLevel(flags.logLevel) {
				return fmt.Errorf("invalid log level %q (must be debug, info, warn, or error)", flags.logLevel)
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringSliceVarP(&flags.workspaces, "workspace", "w", nil, "Workspace folder (repeatable)")
	pf.StringVar(&flags.extensionPath, "extension-path", "", "Install directory containing server/ (default: executable directory)")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides logging.level")
	pf.StringVar(&flags.userConfigDir, "config-dir", "", "User settings directory")
	pf.StringVar(&flags.stateDB, "state-db", "", "Path of the persisted state database")
	pf.BoolVar(&flags.noWatch, "no-watch", false, "Do not reload settings files when they change")

	root.AddCommand(
		newServeCmd(&flags),
		newLintCmd(&flags),
		newImportCmd(&flags),
		newJavaCmd(&flags),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(flags *globalFlags) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the language server and run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application) error {
				return a.Serve(ctx, metricsAddr)
			})
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Expose Prometheus metrics on this address (e.g. 127.0.0.1:9464)")
	return cmd
}

func newLintCmd(flags *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "lint FILE...",
		Short: "Analyse playbooks and print diagnostics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Without an explicit workspace, analyse relative to the first file.
			if len(flags.workspaces) == 0 {
				if abs, err := filepath.Abs(args[0]); err == nil {
					flags.workspaces = []string{filepath.Dir(abs)}
				}
			}
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application) error {
				report, err := a.Lint(ctx, args, cmd.OutOrStdout(), timeout)
				if err != nil {
					return err
				}
				if code := report.ExitCode(); code != app.LintClean {
					return exitError{code: code}
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", app.DefaultLintTimeout, "How long to wait for each file's diagnostics; files that time out make lint exit 3")
	return cmd
}

func newImportCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "import-rules",
		Short: "Import active rules from a SonarQube quality profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application) error {
				if err := a.ExecuteCommand(ctx, importer.CommandID); err != nil {
					// Already reported to the user.
					return exitError{code: 1}
				}
				return nil
			})
		},
	}
}

func newJavaCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "java",
		Short: "Show the Java runtime the server would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, func(ctx context.Context, a *app.Application) error {
				out := cmd.OutOrStdout()
				cand, ok := jvm.New().LocateWithVersion(ctx, a.Config().Extension().JavaHome)
				if !ok {
					fmt.Fprintln(out, "Java: not found")
					return exitError{code: 1}
				}
				fmt.Fprintf(out, "Java: %s\n", cand.Path)
				if !cand.HasVersion() {
					fmt.Fprintln(out, "Java version: unknown")
					return exitError{code: 1}
				}
				fmt.Fprintf(out, "Java version: %d\n", cand.Version)
				if cand.Version < activation.MinJavaVersion {
					fmt.Fprintf(out, "Java %d+ required\n", activation.MinJavaVersion)
					return exitError{code: 1}
				}
				return nil
			})
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Ansible Analyzer %s\n", version)
			fmt.Fprintf(out, "Commit: %s\n", commit)
			fmt.Fprintf(out, "Built: %s\n", date)
		},
	}
}

// withApp builds the application from flags, runs fn and shuts it down.
func withApp(cmd *cobra.Command, flags *globalFlags, fn func(context.Context, *app.Application) error) error {
	opts, err := appOptions(flags)
	if err != nil {
		return err
	}
	opts.In = cmd.InOrStdin()
	opts.Out = cmd.ErrOrStderr()

	ctx := cmd.Context()
	a, err := app.New(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	runErr := fn(ctx, a)
	if err := a.Shutdown(); err != nil {
		a.Logger().Warn("shutdown: %v", err)
	}
	return runErr
}

func appOptions(flags *globalFlags) (app.Options, error) {
	ext := flags.extensionPath
	if ext == "" {
		exe, err := os.Executable()
		if err != nil {
			return app.Options{}, fmt.Errorf("resolving install directory: %w", err)
		}
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		ext = filepath.Dir(exe)
	}

	folders := make([]string, 0, len(flags.workspaces))
	for _, w := range flags.workspaces {
		abs, err := filepath.Abs(w)
		if err != nil {
			return app.Options{}, err
		}
		folders = append(folders, abs)
	}

	return app.Options{
		WorkspaceFolders: folders,
		ExtensionPath:    ext,
		UserConfigDir:    flags.userConfigDir,
		StateDB:          flags.stateDB,
		LogLevel:         flags.logLevel,
		WatchSettings:    !flags.noWatch,
		Version:          version,
	}, nil
}
