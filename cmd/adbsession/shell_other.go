//go:build !linux

package main

import "adbsession/adb/adbproto/shellproto2"

// Interactive shells fall back to the plain stream copy on platforms where we
// can't put the terminal into raw mode.

func stdinIsTTY() bool {
	return false
}

func makeRaw(fd int) (func(), error) {
	return func() {}, nil
}

func watchWinSize(fd int, send func(shellproto2.WinSize)) (stop func()) {
	return func() {}
}
