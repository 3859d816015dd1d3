//go:build darwin || dragonfly || freebsd || linux || netbsd || openbsd || solaris
// +build darwin dragonfly freebsd linux netbsd openbsd solaris

/*
spammer-block - Postfix socketmap responder and spam reporting tools.
Copyright © 2024 spammer-block contributors

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package ctl

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spammer-block/spammer-block/framework/hooks"
	"github.com/spammer-block/spammer-block/framework/log"
)

// signalContext returns a context cancelled by SIGTERM, SIGHUP or SIGINT.
// A second one forces an immediate exit.
//
// SIGUSR1 reopens log files and SIGUSR2 reloads lookup tables without
// stopping.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sig := make(chan os.Signal, 5)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGINT,
		syscall.SIGUSR1, syscall.SIGUSR2)

	done := make(chan struct{})
	go func() {
		stopping := false
		for {
			select {
			case <-done:
				return
			case s := <-sig:
				switch s {
				case syscall.SIGUSR1:
					log.Println("SIGUSR1 received, reopening log files")
					hooks.RunHooks(hooks.EventLogRotate)
				case syscall.SIGUSR2:
					log.Println("SIGUSR2 received, reloading tables")
					hooks.RunHooks(hooks.EventReload)
				default:
					if stopping {
						log.Printf("forced shutdown due to signal (%v)!", s)
						os.Exit(1)
					}
					stopping = true
					log.Printf("signal received (%v), next signal will force immediate shutdown.", s)
					cancel()
				}
			}
		}
	}()

	return ctx, func() {
		signal.Stop(sig)
		close(done)
		cancel()
	}
}
