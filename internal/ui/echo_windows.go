package ui

import "golang.org/x/sys/windows"

// disableEcho clears ENABLE_ECHO_INPUT on the console handle and returns a
// func that puts the previous mode back. Line input stays enabled.
func disableEcho(fd int) (func() error, error) {
	h := windows.Handle(fd)
	var mode uint32
	if err := windows.GetConsoleMode(h, &mode); err != nil {
		return nil, err
	}
	if err := windows.SetConsoleMode(h, mode&^windows.ENABLE_ECHO_INPUT); err != nil {
		return nil, err
	}
	return func() error { return windows.SetConsoleMode(h, mode) }, nil
}
