// Package importer implements the "import rules from SonarQube" wizard.
//
// The wizard asks for a server URL, a profile name or key and an optional
// token. Each answer except the token is remembered as soon as it is given.
// The apply phase then fetches the profile's active rules and writes them,
// together with rulesReplaceDefaults=true, to the workspace settings when a
// folder is open and to the user settings otherwise.
package importer

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/qualimetry/ansible-analyzer/internal/config"
	"github.com/qualimetry/ansible-analyzer/internal/globalstate"
	"github.com/qualimetry/ansible-analyzer/internal/logging"
	"github.com/qualimetry/ansible-analyzer/internal/metrics"
	"github.com/qualimetry/ansible-analyzer/internal/sonar"
	"github.com/qualimetry/ansible-analyzer/internal/ui"
)

// CommandID is the identifier of the import command.
const CommandID = "ansible.importRulesFromSonarQube"

const progressTitle = "Importing rules from SonarQube"

var (
	schemePattern = regexp.MustCompile(`(?i)^https?://`)
	hostPattern   = regexp.MustCompile(`^[a-zA-Z0-9.-]+`)
)

// Prompter collects answers from the user. ok is false when dismissed.
type Prompter interface {
	InputBox(ctx context.Context, opts ui.InputOptions) (string, bool)
}

// Catalog is the remote source of profiles and rules.
type Catalog interface {
	FetchProfiles(ctx context.Context, cfg sonar.Config) ([]sonar.Profile, error)
	FetchRules(ctx context.Context, cfg sonar.Config, profileKey string) (map[string]any, error)
}

// ConfigStore receives the imported rules.
type ConfigStore interface {
	HasWorkspace() bool
	Update(path string, value any, target config.Target) error
}

// Memory remembers the last answers across runs.
type Memory interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Update(ctx context.Context, key, value string) error
}

// Progress runs the apply phase; the task must not be cancellable.
type Progress interface {
	Run(ctx context.Context, title string, task func(ctx context.Context) error) error
}

// Options wires the orchestrator to its collaborators.
type Options struct {
	Prompter Prompter
	Catalog  Catalog
	Config   ConfigStore
	Memory   Memory
	Notifier ui.Notifier
	Progress Progress
	Logger   *logging.Logger
	Metrics  *metrics.Metrics

	// NewRunID labels each run in the log; defaults to a random UUID.
	NewRunID func() string
}

// Result describes how a run ended.
type Result struct {
	RunID string

	// Aborted is set when the user dismissed a prompt.
	Aborted bool

	// Count and Target are set on success.
	Count  int
	Target config.Target

	// Err is set when the apply phase failed.
	Err *Error
}

// Imported reports whether rules were written.
func (r Result) Imported() bool {
	return !r.Aborted && r.Err == nil
}

// Orchestrator runs the import wizard.
type Orchestrator struct {
	opts Options
	log  *logging.Logger
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	if opts.NewRunID == nil {
		opts.NewRunID = func() string { return uuid.NewString() }
	}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Orchestrator{opts: opts, log: log}
}

type request struct {
	serverURL string
	profile   string
	token     string
}

// Run executes the wizard. Failures are reported to the user and returned
// in the result; they never surface as a Go error.
func (o *Orchestrator) Run(ctx context.Context) Result {
	res := Result{RunID: o.opts.NewRunID()}
	log := o.log.WithField("run", res.RunID)

	lastURL := o.recall(ctx, log, globalstate.KeyLastServerURL)
	lastProfile := o.recall(ctx, log, globalstate.KeyLastProfile)

	req, ok := o.collect(ctx, log, lastURL, lastProfile)
	if !ok {
		log.Debug("import cancelled")
		res.Aborted = true
		o.opts.Metrics.ObserveImport("aborted", 0, 0)
		return res
	}

	start := time.Now()
	_ = o.opts.Progress.Run(ctx, progressTitle, func(ctx context.Context) error {
		count, target, err := o.apply(ctx, log, req)
		o.remember(ctx, log, globalstate.KeyLastServerURL, req.serverURL)
		o.remember(ctx, log, globalstate.KeyLastProfile, req.profile)
		if err != nil {
			res.Err = err
			return err
		}
		res.Count, res.Target = count, target
		return nil
	})
	elapsed := time.Since(start)

	if res.Err != nil {
		log.Error("%s", res.Err.Message)
		o.opts.Notifier.Error(res.Err.Message)
		o.opts.Metrics.ObserveImport(res.Err.Kind.String(), 0, elapsed)
		return res
	}

	msg := fmt.Sprintf("Imported %d %s from SonarQube into %s.", res.Count, plural(res.Count, "rule", "rules"), location(res.Target))
	log.Info("%s", msg)
	o.opts.Notifier.Info(msg)
	o.opts.Metrics.ObserveImport("success", res.Count, elapsed)
	return res
}

// collect runs the three prompts. Each step short-circuits the rest when
// dismissed; answers already given stay remembered.
func (o *Orchestrator) collect(ctx context.Context, log *logging.Logger, lastURL, lastProfile string) (request, bool) {
	var req request

	url, ok := o.askServerURL(ctx, lastURL)
	if !ok {
		return req, false
	}
	req.serverURL = url
	o.remember(ctx, log, globalstate.KeyLastServerURL, url)

	profile, ok := o.askProfile(ctx, lastProfile)
	if !ok {
		return req, false
	}
	req.profile = profile
	o.remember(ctx, log, globalstate.KeyLastProfile, profile)

	token, ok := o.askToken(ctx)
	if !ok {
		return req, false
	}
	req.token = token
	return req, true
}

func (o *Orchestrator) askServerURL(ctx context.Context, last string) (string, bool) {
	v, ok := o.opts.Prompter.InputBox(ctx, ui.InputOptions{
		Title:       "SonarQube server URL",
		Prompt:      "e.g. https://sonar.mycompany.com or https://myorg.sonarcloud.io",
		Value:       last,
		Placeholder: "https://",
		Validate:    ValidateServerURL,
	})
	return strings.TrimSpace(v), ok
}

func (o *Orchestrator) askProfile(ctx context.Context, last string) (string, bool) {
	v, ok := o.opts.Prompter.InputBox(ctx, ui.InputOptions{
		Title:       "Ansible quality profile",
		Prompt:      `Profile name or key (e.g. "Qualimetry Ansible" or the profile key)`,
		Value:       last,
		Placeholder: "Qualimetry Ansible",
	})
	return strings.TrimSpace(v), ok
}

func (o *Orchestrator) askToken(ctx context.Context) (string, bool) {
	v, ok := o.opts.Prompter.InputBox(ctx, ui.InputOptions{
		Title:    "SonarQube token (optional)",
		Prompt:   "Paste token here. If you abort now, run the command again - URL and profile are already saved.",
		Password: true,
	})
	return strings.TrimSpace(v), ok
}

// apply fetches and writes the rules. It runs under the progress indicator
// and is not cancellable.
func (o *Orchestrator) apply(ctx context.Context, log *logging.Logger, req request) (int, config.Target, *Error) {
	cfg := sonar.Config{ServerURL: req.serverURL, Token: req.token}

	log.Info("fetching quality profiles from %s", sonar.NormalizeURL(req.serverURL))
	profiles, err := o.opts.Catalog.FetchProfiles(ctx, cfg)
	if err != nil {
		return 0, 0, failed(ImportNetworkFailure, err)
	}
	if len(profiles) == 0 {
		return 0, 0, noProfiles()
	}

	key, ok := sonar.ResolveProfileKey(profiles, req.profile)
	if !ok {
		names := make([]string, len(profiles))
		for i, p := range profiles {
			names[i] = p.Name
		}
		return 0, 0, unresolved(req.profile, names)
	}

	rules, err := o.opts.Catalog.FetchRules(ctx, cfg, key)
	if err != nil {
		return 0, 0, failed(ImportNetworkFailure, err)
	}
	if len(rules) == 0 {
		return 0, 0, noRules()
	}

	target := config.TargetGlobal
	if o.opts.Config.HasWorkspace() {
		target = config.TargetWorkspace
	}
	if err := o.opts.Config.Update(config.Section+"."+config.KeyRules, rules, target); err != nil {
		return 0, 0, failed(ImportApplyFailure, err)
	}
	if err := o.opts.Config.Update(config.Section+"."+config.KeyRulesReplaceDefaults, true, target); err != nil {
		return 0, 0, failed(ImportApplyFailure, err)
	}
	log.Info("wrote %d rules from profile %s to %s settings", len(rules), key, target)
	return len(rules), target, nil
}

func (o *Orchestrator) recall(ctx context.Context, log *logging.Logger, key string) string {
	v, _, err := o.opts.Memory.Get(ctx, key)
	if err != nil {
		log.Warn("could not read %s: %v", key, err)
	}
	return v
}

func (o *Orchestrator) remember(ctx context.Context, log *logging.Logger, key, value string) {
	if err := o.opts.Memory.Update(ctx, key, value); err != nil {
		log.Warn("could not remember %s: %v", key, err)
	}
}

// ValidateServerURL checks the server URL answer. It returns a message for
// the user, or "" when the value is acceptable.
func ValidateServerURL(v string) string {
	s := strings.TrimSpace(v)
	if s == "" {
		return "URL is required"
	}
	if !schemePattern.MatchString(s) && !hostPattern.MatchString(s) {
		return "Enter a valid URL"
	}
	return ""
}

func location(t config.Target) string {
	if t == config.TargetWorkspace {
		return "workspace settings (.ansible-analyzer/settings.toml)"
	}
	return "user settings (global settings.toml)"
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
