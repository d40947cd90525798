package importer

import (
	"fmt"
	"strings"
)

// Kind classifies a failed import.
type Kind int

const (
	KindNone Kind = iota
	ImportNetworkFailure
	ImportEmptyProfiles
	ImportProfileUnresolved
	ImportEmptyRules
	ImportApplyFailure
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return ""
	case ImportNetworkFailure:
		return "ImportNetworkFailure"
	case ImportEmptyProfiles:
		return "ImportEmptyProfiles"
	case ImportProfileUnresolved:
		return "ImportProfileUnresolved"
	case ImportEmptyRules:
		return "ImportEmptyRules"
	case ImportApplyFailure:
		return "ImportApplyFailure"
	default:
		return "Unknown"
	}
}

// Error is a failed apply phase. Message is what the user is shown.
type Error struct {
	Kind    Kind
	Message string

	// Requested and Available are set for ImportProfileUnresolved.
	Requested string
	Available []string

	Err error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func failed(kind Kind, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf("Import from SonarQube failed: %v", err),
		Err:     err,
	}
}

func noProfiles() *Error {
	return &Error{
		Kind:    ImportEmptyProfiles,
		Message: "No Ansible quality profiles found on this SonarQube server.",
	}
}

func unresolved(requested string, available []string) *Error {
	return &Error{
		Kind:      ImportProfileUnresolved,
		Message:   fmt.Sprintf("No matching Ansible profile for \"%s\". Available: %s", requested, strings.Join(available, ", ")),
		Requested: requested,
		Available: available,
	}
}

func noRules() *Error {
	return &Error{
		Kind:    ImportEmptyRules,
		Message: "No active rules found in the selected profile (or profile is not for Qualimetry Ansible).",
	}
}
