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

package exterrors

import (
	"context"
	"errors"
	"os"
)

// Class tells how a caller should treat a failure.
type Class int

const (
	// Temporary failures may succeed when retried.
	Temporary Class = iota
	// Timeout failures ran out of time.
	Timeout
	// Permanent failures will fail again.
	Permanent
)

func (c Class) String() string {
	switch c {
	case Temporary:
		return "temporary"
	case Timeout:
		return "timeout"
	case Permanent:
		return "permanent"
	}
	return "unknown"
}

// Classify sorts err into a Class. Deadline expiry wins over temporary-ness,
// errors without a Temporary() method are Temporary.
func Classify(err error) Class {
	switch {
	case IsTimeout(err):
		return Timeout
	case IsTemporaryOrUnspec(err):
		return Temporary
	default:
		return Permanent
	}
}

type temporary interface {
	Temporary() bool
}

type timeout interface {
	Timeout() bool
}

// IsTemporary reports whether some error in the chain has a Temporary()
// method returning true.
func IsTemporary(err error) bool {
	var t temporary
	return errors.As(err, &t) && t.Temporary()
}

// IsTemporaryOrUnspec is like IsTemporary but treats errors without a
// Temporary() method as temporary.
func IsTemporaryOrUnspec(err error) bool {
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

// IsTimeout reports whether the chain holds context.DeadlineExceeded,
// os.ErrDeadlineExceeded or an error whose Timeout() returns true.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var t timeout
	return errors.As(err, &t) && t.Timeout()
}

type temporaryWrap struct {
	err  error
	temp bool
}

func (t temporaryWrap) Error() string   { return t.err.Error() }
func (t temporaryWrap) Unwrap() error   { return t.err }
func (t temporaryWrap) Temporary() bool { return t.temp }

// WithTemporary marks err as temporary or permanent without changing its
// message. The original error stays reachable through errors.Is/As.
func WithTemporary(err error, temp bool) error {
	return temporaryWrap{err: err, temp: temp}
}
