//go:build !windows && !plan9
// +build !windows,!plan9

/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

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

package log

import (
	"fmt"
	"log/syslog"
	"os"
	"time"
)

type syslogOutput struct {
	w *syslog.Writer
}

func (s syslogOutput) Write(_ time.Time, debug bool, msg string) {
	send := s.w.Info
	if debug {
		send = s.w.Debug
	}
	if err := send(msg + "\n"); err != nil {
		fmt.Fprintf(os.Stderr, "!!! Failed to send message to syslog daemon: %v\n", err)
	}
}

func (s syslogOutput) Close() error {
	return s.w.Close()
}

// SyslogOutput sends lines to the local syslog daemon with the mail
// facility, debug lines at LOG_DEBUG and the rest at LOG_INFO. The
// timestamp is left to syslog.
func SyslogOutput(tag string) (Output, error) {
	w, err := syslog.New(syslog.LOG_MAIL|syslog.LOG_INFO, tag)
	if err != nil {
		return nil, err
	}
	return syslogOutput{w: w}, nil
}
