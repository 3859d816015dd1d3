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
	"time"
)

// Output receives formatted log lines. Implementations must be safe for
// concurrent use.
type Output interface {
	Write(stamp time.Time, debug bool, msg string)
	Close() error
}

type multiOutput []Output

func (m multiOutput) Write(stamp time.Time, debug bool, msg string) {
	for _, out := range m {
		out.Write(stamp, debug, msg)
	}
}

// Close closes every output and returns the first error.
func (m multiOutput) Close() error {
	var firstErr error
	for _, out := range m {
		if err := out.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// MultiOutput writes every line to all outputs in order.
func MultiOutput(outputs ...Output) Output {
	if len(outputs) == 1 {
		return outputs[0]
	}
	return multiOutput(outputs)
}

type funcOutput struct {
	write func(time.Time, bool, string)
	close func() error
}

func (f funcOutput) Write(stamp time.Time, debug bool, msg string) { f.write(stamp, debug, msg) }
func (f funcOutput) Close() error                                  { return f.close() }

func FuncOutput(write func(time.Time, bool, string), close func() error) Output {
	return funcOutput{write: write, close: close}
}

// NopOutput discards everything.
type NopOutput struct{}

func (NopOutput) Write(time.Time, bool, string) {}
func (NopOutput) Close() error                  { return nil }
