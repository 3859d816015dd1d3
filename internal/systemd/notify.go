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

// Package systemd implements the service manager notification protocol.
// All functions are no-ops when $NOTIFY_SOCKET is not set.
package systemd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spammer-block/spammer-block/framework/log"
)

const (
	Ready     = "READY=1"
	Reloading = "RELOADING=1"
	Stopping  = "STOPPING=1"
	Watchdog  = "WATCHDOG=1"
)

var ErrNoNotifySock = errors.New("no systemd socket")

type Notifier struct {
	Log log.Logger
}

func notifySock() (*net.UnixConn, error) {
	sockAddr := os.Getenv("NOTIFY_SOCKET")
	if sockAddr == "" {
		return nil, ErrNoNotifySock
	}
	if strings.HasPrefix(sockAddr, "@") {
		sockAddr = "\x00" + sockAddr[1:]
	}

	return net.DialUnix("unixgram", nil, &net.UnixAddr{
		Name: sockAddr,
		Net:  "unixgram",
	})
}

func (n Notifier) send(msg string) {
	sock, err := notifySock()
	if err != nil {
		if !errors.Is(err, ErrNoNotifySock) {
			n.Log.Error("failed to acquire notify socket", err)
		}
		return
	}
	defer sock.Close()

	if err := setPassCred(sock); err != nil {
		n.Log.Error("failed to set SCM_PASSCRED on the socket", err)
	}

	if _, err := io.WriteString(sock, msg); err != nil {
		n.Log.Error("I/O error", err)
		return
	}
	n.Log.Debugf("%q", msg)
}

// Notify sends state, optionally with a STATUS line.
func (n Notifier) Notify(state, status string) {
	if status != "" {
		n.send(fmt.Sprintf("%s\nSTATUS=%s", state, status))
		return
	}
	n.send(state)
}

// Status updates the free-form status line only.
func (n Notifier) Status(status string) {
	n.send("STATUS=" + status)
}

// Err reports a fatal error. An errno found in the chain is passed as
// ERRNO.
func (n Notifier) Err(reported error) {
	var errno syscall.Errno
	if errors.As(reported, &errno) {
		n.send(fmt.Sprintf("ERRNO=%d\nSTATUS=%v", errno, reported))
		return
	}
	n.send(fmt.Sprintf("STATUS=%v", reported))
}

// WatchdogInterval returns the keep-alive period. Half of $WATCHDOG_USEC
// is used when the service manager set it for this process, configured
// otherwise. Zero means the watchdog is disabled.
func WatchdogInterval(configured time.Duration) time.Duration {
	usecStr := os.Getenv("WATCHDOG_USEC")
	if usecStr == "" {
		return configured
	}
	if pid := os.Getenv("WATCHDOG_PID"); pid != "" && pid != strconv.Itoa(os.Getpid()) {
		return configured
	}
	usec, err := strconv.ParseInt(usecStr, 10, 64)
	if err != nil || usec <= 0 {
		return configured
	}
	return time.Duration(usec) * time.Microsecond / 2
}

// RunWatchdog sends WATCHDOG=1 every interval until ctx is done.
func (n Notifier) RunWatchdog(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	n.Log.DebugMsg("watchdog started", "interval", interval.String())
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			n.send(Watchdog)
		}
	}
}
