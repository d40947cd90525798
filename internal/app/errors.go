package app

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRunning indicates the language server is not running.
	ErrNotRunning = errors.New("language server not running")

	// ErrUnknownCommand indicates a command id that is not registered.
	ErrUnknownCommand = errors.New("unknown command")
)

// InitError is a failure while bootstrapping a component.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("initializing %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// CommandError is a failed command execution.
type CommandError struct {
	ID  string
	Err error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s: %v", e.ID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// FileError is a lint failure tied to one input file.
type FileError struct {
	Op   string // "read" or "open"
	File string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.File, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }
