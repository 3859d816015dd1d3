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
	"fmt"
	"io"
	"net"
	"syscall"
)

var ErrServerClosed = errors.New("socketmap: server closed")

// ProtocolError is a malformed frame or request. It terminates the
// connection after the replies enqueued before it are written.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "socketmap: protocol error: " + e.Reason
}

func (e *ProtocolError) Fields() map[string]interface{} {
	return map[string]interface{}{"reason": e.Reason}
}

// InternalError is a panic caught while computing a reply.
type InternalError struct {
	Value interface{}
	Stack []byte
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("socketmap: lookup panicked: %v", e.Value)
}

func (e *InternalError) Fields() map[string]interface{} {
	return map[string]interface{}{"stack": string(e.Stack)}
}

// isTransportError reports whether err is ordinary connection churn: the
// peer went away or the socket was closed under us.
func isTransportError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ENOTCONN)
}
