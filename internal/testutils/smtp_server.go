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

package testutils

import (
	"io"
	"net"
	"sync"
	"testing"

	"github.com/emersion/go-smtp"
)

type SMTPMessage struct {
	From string
	To   []string
	Data []byte
}

// SMTPBackend records the messages submitted to a test SMTP server.
type SMTPBackend struct {
	mu       sync.Mutex
	messages []*SMTPMessage

	MailErr error
	RcptErr map[string]error
	DataErr error
}

func (be *SMTPBackend) NewSession(_ *smtp.Conn) (smtp.Session, error) {
	return &smtpSession{backend: be}, nil
}

func (be *SMTPBackend) Messages() []*SMTPMessage {
	be.mu.Lock()
	defer be.mu.Unlock()
	return append([]*SMTPMessage(nil), be.messages...)
}

type smtpSession struct {
	backend *SMTPBackend
	msg     *SMTPMessage
}

func (s *smtpSession) Reset() {
	s.msg = &SMTPMessage{}
}

func (s *smtpSession) Logout() error {
	return nil
}

func (s *smtpSession) AuthPlain(_, _ string) error {
	return nil
}

func (s *smtpSession) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.MailErr != nil {
		return s.backend.MailErr
	}
	s.Reset()
	s.msg.From = from
	return nil
}

func (s *smtpSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if err := s.backend.RcptErr[to]; err != nil {
		return err
	}
	s.msg.To = append(s.msg.To, to)
	return nil
}

func (s *smtpSession) Data(r io.Reader) error {
	if s.backend.DataErr != nil {
		return s.backend.DataErr
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.msg.Data = b

	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.msg)
	s.backend.mu.Unlock()
	return nil
}

// SMTPServer starts an SMTP server on a random loopback port. It is stopped
// when the test ends.
func SMTPServer(t *testing.T) (*SMTPBackend, string) {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	be := new(SMTPBackend)
	s := smtp.NewServer(be)
	s.Domain = "localhost"
	s.AllowInsecureAuth = true

	go func() {
		_ = s.Serve(l)
	}()
	t.Cleanup(func() { s.Close() })

	return be, l.Addr().String()
}
