//go:build unix

package main

import (
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

var (
	stopSignal   = unix.SIGTERM
	killSignal   = unix.SIGKILL
	reloadSignal = unix.SIGUSR1
)

func signalProcess(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// notifyReload delivers SIGUSR1 on ch.
func notifyReload(ch chan<- os.Signal) {
	signal.Notify(ch, reloadSignal)
}
