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

package socketmap

import (
	"errors"

	"github.com/spammer-block/spammer-block/framework/exterrors"
)

// MaxReplyLen is the largest reply payload Postfix accepts.
const MaxReplyLen = 100000

var (
	ErrReplyTooLong = errors.New("socketmap: reply exceeds 100000 bytes")
	ErrEmptyOK      = errors.New("socketmap: OK reply without data")
	ErrUnknownKind  = errors.New("socketmap: unknown verdict kind")
)

type Kind int

const (
	KindNotFound Kind = iota
	KindOK
	KindTemp
	KindTimeout
	KindPerm
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NOTFOUND"
	case KindOK:
		return "OK"
	case KindTemp:
		return "TEMP"
	case KindTimeout:
		return "TIMEOUT"
	case KindPerm:
		return "PERM"
	}
	return "UNKNOWN"
}

// Verdict is the outcome of a lookup. Data is the value for KindOK and the
// optional reason text for the error kinds; it is ignored for KindNotFound.
type Verdict struct {
	Kind Kind
	Data string
}

func NotFound() Verdict             { return Verdict{Kind: KindNotFound} }
func OK(data string) Verdict        { return Verdict{Kind: KindOK, Data: data} }
func Temp(reason string) Verdict    { return Verdict{Kind: KindTemp, Data: reason} }
func Timeout(reason string) Verdict { return Verdict{Kind: KindTimeout, Data: reason} }
func Perm(reason string) Verdict    { return Verdict{Kind: KindPerm, Data: reason} }

// ErrorVerdict converts a lookup backend failure into a reply. Timeouts
// become TIMEOUT, errors explicitly marked as permanent become PERM and
// everything else is TEMP.
func ErrorVerdict(err error) Verdict {
	switch exterrors.Classify(err) {
	case exterrors.Timeout:
		return Timeout(err.Error())
	case exterrors.Permanent:
		return Perm(err.Error())
	default:
		return Temp(err.Error())
	}
}

// Reply returns the unframed reply payload, "NOTFOUND " or "<TAG> <data>".
func (v Verdict) Reply() ([]byte, error) {
	return v.AppendReply(nil)
}

// AppendReply appends the reply payload to dst. Replies longer than
// MaxReplyLen are rejected, never truncated.
func (v Verdict) AppendReply(dst []byte) ([]byte, error) {
	switch v.Kind {
	case KindNotFound:
		return append(dst, "NOTFOUND "...), nil
	case KindOK:
		if v.Data == "" {
			return dst, ErrEmptyOK
		}
	case KindTemp, KindTimeout, KindPerm:
	default:
		return dst, ErrUnknownKind
	}

	tag := v.Kind.String()
	if len(tag)+1+len(v.Data) > MaxReplyLen {
		return dst, ErrReplyTooLong
	}
	dst = append(dst, tag...)
	dst = append(dst, ' ')
	return append(dst, v.Data...), nil
}

func (v Verdict) String() string {
	if v.Kind == KindNotFound {
		return "NOTFOUND"
	}
	return v.Kind.String() + " " + v.Data
}
