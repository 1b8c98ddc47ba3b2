//go:build linux || darwin || freebsd || netbsd || openbsd

package main

import (
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// cbreak switches fd to unbuffered, unechoed input and returns the function
// that puts the terminal back. Signals keep working, so Ctrl+C still interrupts.
func cbreak(fd int) (func(), error) {
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	saved, err := term.GetState(fd)
	if err != nil {
		return nil, err
	}

	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, err
	}
	t.Lflag &^= unix.ICANON | unix.ECHO
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		return nil, err
	}

	return func() { _ = term.Restore(fd, saved) }, nil
}
