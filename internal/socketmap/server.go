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

// Package socketmap implements the server side of the Postfix socketmap
// lookup protocol.
//
// Requests and replies are netstrings. A request is "<map> <key>", a reply
// is one of "NOTFOUND ", "OK <data>", "TEMP <reason>", "TIMEOUT <reason>"
// or "PERM <reason>". Postfix may pipeline requests on a connection and
// expects the replies in request order.
package socketmap

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/spammer-block/spammer-block/framework/log"
)

const (
	DefaultRequestLimit = 1024
	DefaultQueueSize    = 128
	DefaultReadChunk    = 4096
)

type Server struct {
	Lookup Lookuper
	Log    log.Logger

	// RequestLimit is the maximum length of a request netstring payload.
	RequestLimit int
	// QueueSize is the maximum amount of requests in flight per connection.
	QueueSize int
	// ReadChunk is the size of a single socket read.
	ReadChunk int

	mu        sync.Mutex
	closing   bool
	listeners map[net.Listener]struct{}
	sessions  map[*session]struct{}
	sessWg    sync.WaitGroup
}

func NewServer(lookup Lookuper, logger log.Logger) *Server {
	return &Server{
		Lookup:       lookup,
		Log:          logger,
		RequestLimit: DefaultRequestLimit,
		QueueSize:    DefaultQueueSize,
		ReadChunk:    DefaultReadChunk,
		listeners:    make(map[net.Listener]struct{}),
		sessions:     make(map[*session]struct{}),
	}
}

// Serve accepts connections on l until Shutdown is called. It always
// returns a non-nil error, ErrServerClosed after Shutdown.
func (srv *Server) Serve(l net.Listener) error {
	if !srv.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	defer srv.untrackListener(l)

	srv.Log.Printf("listening on %v", l.Addr())

	var tempDelay time.Duration
	for {
		conn, err := l.Accept()
		if err != nil {
			if srv.isClosing() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if tempDelay > time.Second {
				tempDelay = time.Second
			}
			srv.Log.Error("accept failed", err, "retry_in", tempDelay.String())
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0

		if !srv.startSession(conn) {
			conn.Close()
		}
	}
}

// ServeConn serves a single already established connection and returns
// when it is closed.
func (srv *Server) ServeConn(conn net.Conn) error {
	s := newSession(srv, conn)
	if !srv.trackSession(s) {
		conn.Close()
		return ErrServerClosed
	}
	srv.runSession(s)
	return nil
}

func (srv *Server) startSession(conn net.Conn) bool {
	s := newSession(srv, conn)
	if !srv.trackSession(s) {
		return false
	}
	go srv.runSession(s)
	return true
}

func (srv *Server) runSession(s *session) {
	defer srv.sessWg.Done()
	defer srv.untrackSession(s)
	s.serve()
}

func (srv *Server) trackListener(l net.Listener) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closing {
		return false
	}
	if srv.listeners == nil {
		srv.listeners = make(map[net.Listener]struct{})
	}
	srv.listeners[l] = struct{}{}
	return true
}

func (srv *Server) untrackListener(l net.Listener) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.listeners, l)
}

func (srv *Server) trackSession(s *session) bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closing {
		return false
	}
	if srv.sessions == nil {
		srv.sessions = make(map[*session]struct{})
	}
	srv.sessions[s] = struct{}{}
	srv.sessWg.Add(1)
	return true
}

func (srv *Server) untrackSession(s *session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.sessions, s)
}

func (srv *Server) isClosing() bool {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.closing
}

// ActiveSessions returns the amount of connections currently served.
func (srv *Server) ActiveSessions() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return len(srv.sessions)
}

func (srv *Server) liveSessions() []*session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	res := make([]*session, 0, len(srv.sessions))
	for s := range srv.sessions {
		res = append(res, s)
	}
	return res
}

// Shutdown stops accepting connections and asks every session to finish
// the requests it has already read. Sessions still running after timeout
// are cancelled without waiting for their lookups and get one more
// timeout to exit, so Shutdown returns within about 2*timeout.
func (srv *Server) Shutdown(timeout time.Duration) error {
	srv.mu.Lock()
	srv.closing = true
	for l := range srv.listeners {
		if err := l.Close(); err != nil {
			srv.Log.Error("failed to close listener", err, "addr", l.Addr())
		}
	}
	srv.mu.Unlock()

	sessions := srv.liveSessions()
	srv.Log.DebugMsg("draining sessions", "count", len(sessions))
	for _, s := range sessions {
		s.drain()
	}

	if srv.waitSessions(timeout) {
		return nil
	}
	stragglers := srv.liveSessions()
	srv.Log.Msg("shutdown timeout expired, terminating remaining sessions", "count", len(stragglers))
	for _, s := range stragglers {
		forcedCancels.Inc()
		s.teardown()
	}
	if srv.waitSessions(timeout) {
		return nil
	}
	return fmt.Errorf("socketmap: %d sessions did not terminate", srv.ActiveSessions())
}

func (srv *Server) waitSessions(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		srv.sessWg.Wait()
		close(done)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
