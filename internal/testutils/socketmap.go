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

package testutils

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"testing"
	"time"
)

// SocketmapConn is a minimal socketmap client for tests.
type SocketmapConn struct {
	T    *testing.T
	Conn net.Conn

	r *bufio.Reader
}

func NewSocketmapConn(t *testing.T, conn net.Conn) *SocketmapConn {
	t.Helper()
	return &SocketmapConn{T: t, Conn: conn, r: bufio.NewReader(conn)}
}

// DialSocketmap connects to the server at addr and registers cleanup.
func DialSocketmap(t *testing.T, network, addr string) *SocketmapConn {
	t.Helper()
	conn, err := net.DialTimeout(network, addr, 5*time.Second)
	if err != nil {
		t.Fatal("dial:", err)
	}
	t.Cleanup(func() { conn.Close() })
	return NewSocketmapConn(t, conn)
}

// WriteRaw sends b as is.
func (c *SocketmapConn) WriteRaw(b string) {
	c.T.Helper()
	if _, err := io.WriteString(c.Conn, b); err != nil {
		c.T.Fatal("write:", err)
	}
}

// Query sends a single "<map> <key>" request without waiting for the reply.
func (c *SocketmapConn) Query(mapName, key string) {
	c.T.Helper()
	payload := mapName + " " + key
	c.WriteRaw(fmt.Sprintf("%d:%s,", len(payload), payload))
}

// ReadReply reads a single netstring reply and returns its payload.
func (c *SocketmapConn) ReadReply() (string, error) {
	c.T.Helper()
	if err := c.Conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return "", err
	}
	lenStr, err := c.r.ReadString(':')
	if err != nil {
		return "", err
	}
	length, err := strconv.Atoi(lenStr[:len(lenStr)-1])
	if err != nil {
		return "", fmt.Errorf("malformed length %q", lenStr)
	}
	buf := make([]byte, length+1)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", err
	}
	if buf[length] != ',' {
		return "", fmt.Errorf("missing terminator")
	}
	return string(buf[:length]), nil
}

// ExpectReply reads a reply and fails the test if it is not expected.
func (c *SocketmapConn) ExpectReply(expected string) {
	c.T.Helper()
	reply, err := c.ReadReply()
	if err != nil {
		c.T.Fatal("read reply:", err)
	}
	if reply != expected {
		c.T.Fatalf("unexpected reply: want %q, got %q", expected, reply)
	}
}

// ExpectClosed fails the test unless the server closes the connection
// without sending anything else. A reset counts as closed.
func (c *SocketmapConn) ExpectClosed() {
	c.T.Helper()
	if err := c.Conn.SetReadDeadline(time.Now().Add(10 * time.Second)); err != nil {
		c.T.Fatal(err)
	}
	b, err := c.r.ReadByte()
	if err == nil {
		c.T.Fatalf("expected connection close, got byte %q", b)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		c.T.Fatal("connection is still open")
	}
}
