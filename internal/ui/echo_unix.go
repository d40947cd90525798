//go:build aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris || zos

package ui

import (
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// disableEcho turns off echo on the terminal fd and returns a func that
// puts the previous state back. Canonical mode and signals stay on, so
// input is still read a line at a time and Ctrl-C still interrupts.
func disableEcho(fd int) (func() error, error) {
	saved, err := term.GetState(fd)
	if err != nil {
		return nil, err
	}
	t, err := unix.IoctlGetTermios(fd, ioctlReadTermios)
	if err != nil {
		return nil, err
	}
	t.Lflag &^= unix.ECHO
	t.Lflag |= unix.ICANON | unix.ISIG
	t.Iflag |= unix.ICRNL
	if err := unix.IoctlSetTermios(fd, ioctlWriteTermios, t); err != nil {
		return nil, err
	}
	return func() error { return term.Restore(fd, saved) }, nil
}
