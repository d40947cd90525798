package activation

import "fmt"

// State is a lifecycle state of the controller.
type State int

const (
	StateIdle State = iota
	StateLocatingRuntime
	StateValidatingVersion
	StateLocatingArtifact
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{
	StateIdle:              "Idle",
	StateLocatingRuntime:   "LocatingRuntime",
	StateValidatingVersion: "ValidatingVersion",
	StateLocatingArtifact:  "LocatingArtifact",
	StateStarting:          "Starting",
	StateRunning:           "Running",
	StateStopping:          "Stopping",
	StateStopped:           "Stopped",
	StateFailed:            "Failed",
}

// String returns the state name.
func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Kind classifies why activation stopped short of Running.
type Kind int

const (
	KindNone Kind = iota
	// ConfigDisabled is the benign exit when the extension is disabled.
	ConfigDisabled
	RuntimeNotFound
	VersionUndetectable
	VersionTooLow
	ServerArtifactMissing
	ClientStartFailure
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return ""
	case ConfigDisabled:
		return "ConfigDisabled"
	case RuntimeNotFound:
		return "RuntimeNotFound"
	case VersionUndetectable:
		return "VersionUndetectable"
	case VersionTooLow:
		return "VersionTooLow"
	case ServerArtifactMissing:
		return "ServerArtifactMissing"
	case ClientStartFailure:
		return "ClientStartFailure"
	default:
		return "Unknown"
	}
}

// Error is the diagnostic recorded when activation fails.
type Error struct {
	Kind Kind

	// Message is the text shown to the user.
	Message string

	// JavaPath is the located runtime, when one was found.
	JavaPath string

	// Detected and Required are set for VersionTooLow.
	Detected int
	Required int

	// ArtifactPath is the server JAR that was looked for.
	ArtifactPath string

	// Err is the underlying cause for ClientStartFailure.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Kind == ClientStartFailure {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func runtimeNotFound() *Error {
	return &Error{
		Kind:    RuntimeNotFound,
		Message: fmt.Sprintf(`Ansible Analyzer: Java %d+ is required. Set "ansibleAnalyzer.java.home" or JAVA_HOME.`, MinJavaVersion),
	}
}

func versionUndetectable(javaPath string) *Error {
	return &Error{
		Kind:     VersionUndetectable,
		JavaPath: javaPath,
		Required: MinJavaVersion,
		Message: fmt.Sprintf(`Ansible Analyzer: Could not detect Java version. The language server requires Java %d+. Set "ansibleAnalyzer.java.home" to a JDK %d+ installation.`,
			MinJavaVersion, MinJavaVersion),
	}
}

func versionTooLow(javaPath string, version int) *Error {
	return &Error{
		Kind:     VersionTooLow,
		JavaPath: javaPath,
		Detected: version,
		Required: MinJavaVersion,
		Message: fmt.Sprintf(`Ansible Analyzer: Java %d+ is required (server is built with Java %d). Found Java %d at "%s". Set "ansibleAnalyzer.java.home" to a JDK %d+ installation.`,
			MinJavaVersion, MinJavaVersion, version, javaPath, MinJavaVersion),
	}
}

func artifactMissing(jar string) *Error {
	return &Error{
		Kind:         ServerArtifactMissing,
		ArtifactPath: jar,
		Message:      fmt.Sprintf("Ansible Analyzer: Server JAR not found at %s.", jar),
	}
}

func startFailure(err error) *Error {
	return &Error{
		Kind:    ClientStartFailure,
		Message: "Ansible Analyzer: failed to start language server.",
		Err:     err,
	}
}
