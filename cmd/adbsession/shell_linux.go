//go:build linux

package main

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"

	"adbsession/adb/adbproto/shellproto2"
)

func stdinIsTTY() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdin.Fd()), unix.TCGETS)
	return err == nil
}

// makeRaw puts the terminal into raw mode, returning a function restoring the
// previous state.
func makeRaw(fd int) (func(), error) {
	termios, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}
	oldTermios := *termios

	// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/client/commandline.cpp;l=277-290;drc=08a96199bf8ce0581c366fc9c725351ee127fd21
	termios.Iflag &^= (unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON)
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= (unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN)
	termios.Cflag &^= (unix.CSIZE | unix.PARENB)
	termios.Cflag |= unix.CS8
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, termios); err != nil {
		return nil, err
	}
	return func() {
		if err := unix.IoctlSetTermios(fd, unix.TCSETS, &oldTermios); err != nil {
			// ignore
		}
	}, nil
}

// watchWinSize sends the current terminal size, then sends it again whenever
// it changes, until the returned stop function is called.
func watchWinSize(fd int, send func(shellproto2.WinSize)) (stop func()) {
	update := func() {
		winsize, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
		if err != nil {
			return
		}
		send(shellproto2.WinSize{
			Row:    int(winsize.Row),
			Col:    int(winsize.Col),
			XPixel: int(winsize.Xpixel),
			YPixel: int(winsize.Ypixel),
		})
	}
	update()

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, unix.SIGWINCH)
	go func() {
		for range sigs {
			update()
		}
	}()
	return func() {
		signal.Stop(sigs)
		close(sigs)
	}
}
