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
	"context"
	"errors"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spammer-block/spammer-block/framework/future"
	"github.com/spammer-block/spammer-block/framework/log"
)

var errDraining = errors.New("socketmap: session is draining")

// pendingReply is a verdict that is being computed, in request order.
type pendingReply struct {
	seq uint64
	req Request
	fut *future.Future[Verdict]
}

// session serves a single connection. The reader goroutine decodes
// requests and starts one lookup goroutine per request, the writer
// goroutine takes pending replies off the queue in order and writes
// each one as soon as its verdict is ready. The queue capacity bounds the
// amount of requests in flight: a full queue blocks the reader.
type session struct {
	srv  *Server
	conn net.Conn
	log  log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	queue    chan *pendingReply
	draining atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

func newSession(srv *Server, conn net.Conn) *session {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.New().String()
	return &session{
		srv:  srv,
		conn: conn,
		log: srv.Log.With(
			"session_id", id,
			"remote_addr", conn.RemoteAddr(),
		),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *pendingReply, srv.QueueSize),
		done:   make(chan struct{}),
	}
}

func (s *session) serve() {
	defer close(s.done)

	activeConnections.Inc()
	defer activeConnections.Dec()

	s.log.DebugMsg("connection accepted")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	err := s.readLoop()
	close(s.queue)
	s.logReadError(err)

	<-writerDone
	s.close()
	s.cancel()
	s.log.DebugMsg("connection closed")
}

func (s *session) logReadError(err error) {
	var protoErr *ProtocolError
	switch {
	case err == nil, errors.Is(err, errDraining), errors.Is(err, context.Canceled):
	case errors.As(err, &protoErr):
		protocolErrors.Inc()
		s.log.Error("bad netstring message received", err)
	case isTransportError(err):
		s.log.DebugMsg("client disconnected", "reason", err)
	default:
		s.log.Error("read failed", err)
	}
}

func (s *session) readLoop() error {
	dec := NewDecoder(s.srv.RequestLimit)
	buf := make([]byte, s.srv.ReadChunk)
	var seq uint64

	for {
		for {
			frame, err := dec.Next()
			if errors.Is(err, ErrWantMore) {
				break
			}
			if err != nil {
				return err
			}
			if s.draining.Load() {
				return errDraining
			}

			req, err := ParseRequest(frame)
			if err != nil {
				return err
			}

			seq++
			p := &pendingReply{seq: seq, req: req, fut: future.New[Verdict]()}
			select {
			case s.queue <- p:
			case <-s.ctx.Done():
				return s.ctx.Err()
			}
			go s.dispatch(p)
		}

		n, err := s.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
		}
		if err != nil {
			if s.draining.Load() {
				return errDraining
			}
			if n > 0 {
				// Let the decoder see the tail of the stream first, any
				// frame in it is still answered.
				continue
			}
			return err
		}
	}
}

func (s *session) dispatch(p *pendingReply) {
	defer func() {
		if r := recover(); r != nil {
			p.fut.Set(Verdict{}, &InternalError{Value: r, Stack: debug.Stack()})
		}
	}()

	start := time.Now()
	v := s.srv.Lookup.Lookup(s.ctx, p.req.Map, p.req.Key)
	lookupDuration.WithLabelValues(metricMap(s.srv.Lookup, p.req.Map)).Observe(time.Since(start).Seconds())

	s.log.DebugMsg("lookup done", "seq", p.seq, "map", p.req.Map, "key", p.req.Key, "verdict", v.Kind.String())
	p.fut.Set(v, nil)
}

func (s *session) writeLoop() {
	var out, reply []byte
	for p := range s.queue {
		v, err := p.fut.GetContext(s.ctx)
		if err != nil {
			var internalErr *InternalError
			if errors.As(err, &internalErr) {
				s.log.Error("lookup failed, closing connection", err, "seq", p.seq, "map", p.req.Map)
				s.teardown()
			}
			// Cancelled: remaining replies are dropped.
			return
		}

		reply, err = v.AppendReply(reply[:0])
		if err != nil {
			s.log.Error("invalid reply", err, "seq", p.seq, "map", p.req.Map, "verdict", v.Kind.String())
			reply = append(reply[:0], "PERM "...)
			if errors.Is(err, ErrReplyTooLong) {
				reply = append(reply, "reply too long"...)
			} else {
				reply = append(reply, "invalid reply"...)
			}
			v = Perm("")
		}
		requestsTotal.WithLabelValues(metricMap(s.srv.Lookup, p.req.Map), v.Kind.String()).Inc()

		out = AppendNetstring(out[:0], reply)
		if _, err := s.conn.Write(out); err != nil {
			if isTransportError(err) || s.ctx.Err() != nil {
				s.log.DebugMsg("write failed", "reason", err)
			} else {
				s.log.Error("write failed", err)
			}
			s.teardown()
			return
		}
	}
}

// drain stops reading new requests. Requests already queued are answered
// and the connection is closed afterwards.
func (s *session) drain() {
	if s.draining.CompareAndSwap(false, true) {
		if err := s.conn.SetReadDeadline(time.Now()); err != nil {
			s.teardown()
		}
	}
}

// teardown aborts the session without waiting for pending lookups.
func (s *session) teardown() {
	s.cancel()
	s.close()
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil && !isTransportError(err) {
			s.log.Error("close failed", err)
		}
	})
}
