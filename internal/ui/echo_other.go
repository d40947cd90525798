//go:build !(aix || darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris || zos || windows)

package ui

import "errors"

func disableEcho(int) (func() error, error) {
	return nil, errors.New("hiding terminal input is not supported on this platform")
}
