//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package main

import "golang.org/x/term"

// cbreak falls back to raw mode where termios is not available.
func cbreak(fd int) (func(), error) {
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() { _ = term.Restore(fd, saved) }, nil
}
