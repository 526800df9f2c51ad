//go:build !unix

package main

import (
	"errors"
	"os"
	"syscall"
)

var (
	stopSignal   = syscall.SIGTERM
	killSignal   = syscall.SIGKILL
	reloadSignal = syscall.Signal(0)
)

var errSignalsUnsupported = errors.New("signalling another process is not supported on this platform")

func signalProcess(pid int, sig syscall.Signal) error {
	if sig == reloadSignal {
		return errSignalsUnsupported
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if sig == killSignal {
		return p.Kill()
	}
	return p.Signal(sig)
}

func notifyReload(chan<- os.Signal) {}
