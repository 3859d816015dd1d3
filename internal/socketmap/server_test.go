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
	"io"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spammer-block/spammer-block/internal/testutils"
)

func testServer(t *testing.T, lookup Lookuper, opts ...func(*Server)) (*Server, string) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	srv := NewServer(lookup, testutils.Logger(t, "socketmap"))
	for _, opt := range opts {
		opt(srv)
	}
	return srv, startServing(t, srv, l)
}

func startServing(t *testing.T, srv *Server, l net.Listener) string {
	t.Helper()

	served := make(chan struct{})
	go func() {
		defer close(served)
		if err := srv.Serve(l); err != ErrServerClosed {
			t.Error("unexpected Serve error:", err)
		}
	}()
	t.Cleanup(func() {
		if err := srv.Shutdown(5 * time.Second); err != nil {
			t.Error("shutdown:", err)
		}
		<-served
	})
	return l.Addr().String()
}

// waitFor polls cond until it is true or the deadline expires.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func staticLookup(m map[string]Verdict) Lookuper {
	return LookupFunc(func(_ context.Context, mapName, key string) Verdict {
		v, ok := m[mapName+" "+key]
		if !ok {
			return NotFound()
		}
		return v
	})
}

func TestServer_Found(t *testing.T) {
	_, addr := testServer(t, staticLookup(map[string]Verdict{
		"map1 1.2.3.4": OK("554 Go away spammer!"),
	}))

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.WriteRaw("12:map1 1.2.3.4,")

	if err := c.Conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len("30:OK 554 Go away spammer!,"))
	if _, err := io.ReadFull(c.Conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "30:OK 554 Go away spammer!," {
		t.Fatalf("unexpected reply: %q", buf)
	}
}

func TestServer_NotFound(t *testing.T) {
	_, addr := testServer(t, staticLookup(nil))

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.WriteRaw("12:map1 5.6.7.8,")

	if err := c.Conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, len("9:NOTFOUND ,"))
	if _, err := io.ReadFull(c.Conn, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "9:NOTFOUND ," {
		t.Fatalf("unexpected reply: %q", buf)
	}
}

func TestServer_KeepAlive(t *testing.T) {
	_, addr := testServer(t, staticLookup(map[string]Verdict{
		"m a": OK("1"),
		"m b": Temp("try later"),
	}))

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.Query("m", "a")
	c.ExpectReply("OK 1")
	c.Query("m", "b")
	c.ExpectReply("TEMP try later")
	c.Query("m", "c")
	c.ExpectReply("NOTFOUND ")
}

func TestServer_Unix(t *testing.T) {
	path := filepath.Join(t.TempDir(), "socketmap.sock")
	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(staticLookup(map[string]Verdict{"m k": OK("v")}), testutils.Logger(t, "socketmap"))
	startServing(t, srv, l)

	c := testutils.DialSocketmap(t, "unix", path)
	c.Query("m", "k")
	c.ExpectReply("OK v")
}

func TestServer_OrderingAdversarial(t *testing.T) {
	const requests = 300

	// Earlier requests take longer, so completion order is the reverse
	// of request order within each burst.
	lookup := LookupFunc(func(_ context.Context, _, key string) Verdict {
		i, err := strconv.Atoi(key)
		if err != nil {
			return Perm("bad key")
		}
		time.Sleep(time.Duration((requests-i)%37) * time.Millisecond)
		return OK("reply-" + key)
	})
	_, addr := testServer(t, lookup, func(srv *Server) { srv.QueueSize = 16 })

	c := testutils.DialSocketmap(t, "tcp", addr)

	var batch strings.Builder
	for i := 0; i < requests; i++ {
		key := strconv.Itoa(i)
		payload := "m " + key
		batch.WriteString(strconv.Itoa(len(payload)) + ":" + payload + ",")
	}
	writeErr := make(chan error, 1)
	go func() {
		_, err := c.Conn.Write([]byte(batch.String()))
		writeErr <- err
	}()

	for i := 0; i < requests; i++ {
		c.ExpectReply("OK reply-" + strconv.Itoa(i))
	}
	if err := <-writeErr; err != nil {
		t.Fatal(err)
	}
}

func TestSession_Backpressure(t *testing.T) {
	const queueSize = 8

	var started atomic.Int32
	release := make(chan struct{})
	lookup := LookupFunc(func(ctx context.Context, _, key string) Verdict {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return OK(key)
	})
	_, addr := testServer(t, lookup, func(srv *Server) { srv.QueueSize = queueSize })

	c := testutils.DialSocketmap(t, "tcp", addr)
	for i := 0; i < queueSize+10; i++ {
		c.Query("m", strconv.Itoa(i))
	}

	// One reply is held by the writer, queueSize more wait in the queue;
	// the reader is blocked on the next push.
	waitFor(t, "lookups to start", func() bool { return started.Load() >= queueSize+1 })
	time.Sleep(100 * time.Millisecond)
	if n := started.Load(); n != queueSize+1 {
		t.Fatalf("reader did not block on a full queue: %d lookups started", n)
	}

	close(release)
	for i := 0; i < queueSize+10; i++ {
		c.ExpectReply("OK " + strconv.Itoa(i))
	}
	if n := started.Load(); n != queueSize+10 {
		t.Fatalf("wrong amount of lookups: %d", n)
	}
}

func TestSession_ProtocolErrorDrains(t *testing.T) {
	release := make(chan struct{})
	lookup := LookupFunc(func(_ context.Context, _, key string) Verdict {
		<-release
		return OK(key)
	})
	_, addr := testServer(t, lookup)

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.Query("m", "first")
	c.Query("m", "second")
	c.WriteRaw("x:garbage,")
	time.Sleep(50 * time.Millisecond)
	close(release)

	c.ExpectReply("OK first")
	c.ExpectReply("OK second")
	c.ExpectClosed()
}

func TestSession_MalformedRequest(t *testing.T) {
	_, addr := testServer(t, staticLookup(map[string]Verdict{"m k": OK("v")}))

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.Query("m", "k")
	c.WriteRaw("7:nospace,")
	c.ExpectReply("OK v")
	c.ExpectClosed()
}

func TestSession_TooLongFrame(t *testing.T) {
	_, addr := testServer(t, staticLookup(nil), func(srv *Server) { srv.RequestLimit = 16 })

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.WriteRaw("17:")
	c.ExpectClosed()
}

func TestSession_ReplyTooLong(t *testing.T) {
	_, addr := testServer(t, staticLookup(map[string]Verdict{
		"m big":   OK(strings.Repeat("x", MaxReplyLen)),
		"m limit": OK(strings.Repeat("x", MaxReplyLen-3)),
		"m empty": OK(""),
	}))

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.Query("m", "big")
	c.ExpectReply("PERM reply too long")
	c.Query("m", "limit")
	c.ExpectReply("OK " + strings.Repeat("x", MaxReplyLen-3))
	c.Query("m", "empty")
	c.ExpectReply("PERM invalid reply")
}

func TestSession_LookupPanic(t *testing.T) {
	lookup := LookupFunc(func(_ context.Context, _, key string) Verdict {
		if key == "boom" {
			panic("boom")
		}
		return OK(key)
	})
	_, addr := testServer(t, lookup)

	c := testutils.DialSocketmap(t, "tcp", addr)
	c.Query("m", "before")
	c.Query("m", "boom")
	c.ExpectReply("OK before")
	c.ExpectClosed()

	// Other connections are not affected.
	c2 := testutils.DialSocketmap(t, "tcp", addr)
	c2.Query("m", "after")
	c2.ExpectReply("OK after")
}

func TestServeConn_ByteByByte(t *testing.T) {
	srv := NewServer(staticLookup(map[string]Verdict{
		"map1 1.2.3.4": OK("554 Go away spammer!"),
	}), testutils.Logger(t, "socketmap"))
	srv.ReadChunk = 1

	client, server := net.Pipe()
	served := make(chan error, 1)
	go func() { served <- srv.ServeConn(server) }()

	c := testutils.NewSocketmapConn(t, client)
	go func() {
		for _, b := range []byte("12:map1 1.2.3.4,12:map1 4.3.2.1,") {
			if _, err := client.Write([]byte{b}); err != nil {
				return
			}
		}
	}()
	c.ExpectReply("OK 554 Go away spammer!")
	c.ExpectReply("NOTFOUND ")

	client.Close()
	if err := <-served; err != nil {
		t.Fatal(err)
	}
	if n := srv.ActiveSessions(); n != 0 {
		t.Fatal("session not removed from the live set:", n)
	}
}

func TestShutdown_DrainsInFlight(t *testing.T) {
	var started atomic.Int32
	release := make(chan struct{})
	lookup := LookupFunc(func(ctx context.Context, _, key string) Verdict {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return OK(key)
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(lookup, testutils.Logger(t, "socketmap"))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	c := testutils.DialSocketmap(t, "tcp", l.Addr().String())
	for i := 0; i < 5; i++ {
		c.Query("m", strconv.Itoa(i))
	}
	waitFor(t, "lookups to start", func() bool { return started.Load() == 5 })

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- srv.Shutdown(5 * time.Second) }()

	time.Sleep(50 * time.Millisecond)
	close(release)

	for i := 0; i < 5; i++ {
		c.ExpectReply("OK " + strconv.Itoa(i))
	}
	c.ExpectClosed()

	if err := <-shutdownErr; err != nil {
		t.Fatal("shutdown:", err)
	}
	if err := <-served; err != ErrServerClosed {
		t.Fatal("unexpected Serve error:", err)
	}

	if _, err := net.DialTimeout("tcp", l.Addr().String(), time.Second); err == nil {
		t.Fatal("listener still accepts connections")
	}
}

func TestShutdown_ForcesStragglers(t *testing.T) {
	var started atomic.Int32
	lookup := LookupFunc(func(ctx context.Context, _, _ string) Verdict {
		started.Add(1)
		<-ctx.Done()
		return Temp("cancelled")
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(lookup, testutils.Logger(t, "socketmap"))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	c := testutils.DialSocketmap(t, "tcp", l.Addr().String())
	for i := 0; i < 5; i++ {
		c.Query("m", strconv.Itoa(i))
	}
	waitFor(t, "lookups to start", func() bool { return started.Load() == 5 })

	start := time.Now()
	if err := srv.Shutdown(100 * time.Millisecond); err != nil {
		t.Fatal("shutdown:", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatal("shutdown took too long:", elapsed)
	}

	c.ExpectClosed()
	<-served
}

func TestShutdown_Bounded(t *testing.T) {
	block := make(chan struct{})
	t.Cleanup(func() { close(block) })
	var started atomic.Int32
	lookup := LookupFunc(func(context.Context, string, string) Verdict {
		started.Add(1)
		<-block
		return Temp("late")
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(lookup, testutils.Logger(t, "socketmap"))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(l) }()

	c := testutils.DialSocketmap(t, "tcp", l.Addr().String())
	c.Query("m", "k")
	waitFor(t, "lookup to start", func() bool { return started.Load() == 1 })

	const timeout = 200 * time.Millisecond
	start := time.Now()
	if err := srv.Shutdown(timeout); err != nil {
		t.Fatal("shutdown:", err)
	}
	// One drain round and one forced round.
	if elapsed := time.Since(start); elapsed >= 3*timeout {
		t.Fatal("shutdown exceeded two timeout rounds:", elapsed)
	}

	c.ExpectClosed()
	<-served
}

func TestShutdown_ConcurrentConnections(t *testing.T) {
	srv, addr := testServer(t, staticLookup(map[string]Verdict{"m k": OK("v")}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			c := testutils.NewSocketmapConn(t, conn)
			for j := 0; j < 20; j++ {
				c.Query("m", "k")
				reply, err := c.ReadReply()
				if err != nil {
					t.Error(err)
					return
				}
				if reply != "OK v" {
					t.Errorf("unexpected reply: %q", reply)
					return
				}
			}
		}()
	}
	wg.Wait()

	waitFor(t, "sessions to finish", func() bool { return srv.ActiveSessions() == 0 })
}

func TestShutdownController(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(staticLookup(map[string]Verdict{"m k": OK("v")}), testutils.Logger(t, "socketmap"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ShutdownController{Server: srv, Timeout: time.Second}.Run(ctx, l)
	}()

	c := testutils.DialSocketmap(t, "tcp", l.Addr().String())
	c.Query("m", "k")
	c.ExpectReply("OK v")

	cancel()
	c.ExpectClosed()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}

func TestShutdownController_MultipleListeners(t *testing.T) {
	l1, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	l2, err := net.Listen("unix", filepath.Join(t.TempDir(), "socketmap.sock"))
	if err != nil {
		t.Fatal(err)
	}
	srv := NewServer(staticLookup(map[string]Verdict{"m k": OK("v")}), testutils.Logger(t, "socketmap"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ShutdownController{Server: srv, Timeout: time.Second}.Run(ctx, l1, l2)
	}()

	c1 := testutils.DialSocketmap(t, "tcp", l1.Addr().String())
	c2 := testutils.DialSocketmap(t, "unix", l2.Addr().String())
	c1.Query("m", "k")
	c1.ExpectReply("OK v")
	c2.Query("m", "k")
	c2.ExpectReply("OK v")

	cancel()
	c1.ExpectClosed()
	c2.ExpectClosed()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
}
