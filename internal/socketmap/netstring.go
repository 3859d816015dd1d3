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
	"strconv"
)

// ErrWantMore is returned by Decoder.Next when the buffered bytes do not
// hold a complete netstring yet. It is a control signal, not a failure.
var ErrWantMore = errors.New("socketmap: incomplete netstring")

// maxLengthDigits bounds the length field so that a stream of leading
// zeros cannot grow the buffer forever.
const maxLengthDigits = 20

// Decoder incrementally extracts netstrings ("<len>:<payload>,") from a
// byte stream fed in arbitrary chunks.
//
// Decoder is not safe for concurrent use.
type Decoder struct {
	// MaxLen is the largest accepted payload length.
	MaxLen int

	buf []byte
}

func NewDecoder(maxLen int) *Decoder {
	return &Decoder{MaxLen: maxLen}
}

// Feed appends b to the internal buffer. b is copied.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Buffered returns the amount of bytes not consumed by Next yet.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Next extracts one frame from the buffer.
//
// It returns ErrWantMore if more input is needed and *ProtocolError if the
// buffered data can never form a valid frame. After a ProtocolError the
// decoder state is undefined and the stream should be abandoned.
func (d *Decoder) Next() ([]byte, error) {
	length := 0
	i := 0
	for ; i < len(d.buf); i++ {
		c := d.buf[i]
		if c == ':' {
			break
		}
		if c < '0' || c > '9' {
			return nil, &ProtocolError{Reason: "invalid character in length: " + strconv.QuoteRune(rune(c))}
		}
		if i >= maxLengthDigits {
			return nil, &ProtocolError{Reason: "length field is too long"}
		}
		length = length*10 + int(c-'0')
		if length > d.MaxLen {
			return nil, &ProtocolError{Reason: "frame exceeds the length limit of " + strconv.Itoa(d.MaxLen)}
		}
	}
	if i == len(d.buf) {
		return nil, ErrWantMore
	}
	if i == 0 {
		return nil, &ProtocolError{Reason: "empty length"}
	}

	start := i + 1
	end := start + length
	if end >= len(d.buf) {
		return nil, ErrWantMore
	}
	if d.buf[end] != ',' {
		return nil, &ProtocolError{Reason: "missing terminator"}
	}

	frame := make([]byte, length)
	copy(frame, d.buf[start:end])

	d.buf = append(d.buf[:0], d.buf[end+1:]...)
	return frame, nil
}

// AppendNetstring appends the netstring encoding of payload to dst.
func AppendNetstring(dst, payload []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(payload)), 10)
	dst = append(dst, ':')
	dst = append(dst, payload...)
	return append(dst, ',')
}

func EncodeNetstring(payload []byte) []byte {
	return AppendNetstring(make([]byte, 0, len(payload)+8), payload)
}
