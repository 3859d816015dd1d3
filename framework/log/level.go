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

package log

import (
	"fmt"
	"strings"
)

// ParseLevel translates a log level name into the debug flag of the Logger.
//
// Level names of the classic syslog-style scheme are accepted (DEBUG, INFO,
// WARNING, ERROR, CRITICAL, FATAL), case-insensitively. Only DEBUG enables
// debug messages, everything else is written as a regular message.
func ParseLevel(name string) (debug bool, err error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return true, nil
	case "", "INFO", "WARNING", "WARN", "ERROR", "CRITICAL", "FATAL":
		return false, nil
	default:
		return false, fmt.Errorf("log: unknown level %q", name)
	}
}
