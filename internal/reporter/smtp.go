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

package reporter

import (
	"bytes"
	"context"
	"errors"
	"net"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spammer-block/spammer-block/framework/exterrors"
	"github.com/spammer-block/spammer-block/framework/log"
)

const (
	DefaultSMTPServer = "localhost:25"
	SendgridAbuse     = "abuse@sendgrid.com"
	defaultSubject    = "Spam report"
	defaultTimeout    = 2 * time.Minute
)

var reportsSent = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spammer_block",
		Subsystem: "reporter",
		Name:      "reports_total",
		Help:      "Spam reports submitted, by reporter and result",
	},
	[]string{"reporter", "result"},
)

func init() {
	prometheus.MustRegister(reportsSent)
}

// SMTP submits reports through an SMTP server, normally the local MTA.
type SMTP struct {
	// Name identifies the reporter in logs and metrics.
	Name     string
	From     string
	To       []string
	Server   string
	Hostname string
	Subject  string
	Timeout  time.Duration
	Log      log.Logger

	Dialer func(ctx context.Context, network, addr string) (net.Conn, error)
	now    func() time.Time
}

func NewSpamCop(from, to, server string, logger log.Logger) *SMTP {
	return &SMTP{Name: "spamcop", From: from, To: []string{to}, Server: server, Log: logger}
}

// NewSendgrid reports to the SendGrid abuse desk.
func NewSendgrid(from, server string, logger log.Logger) *SMTP {
	return &SMTP{Name: "sendgrid", From: from, To: []string{SendgridAbuse}, Server: server, Log: logger}
}

func NewMock(from, to, server string, logger log.Logger) *SMTP {
	return &SMTP{Name: "mock", From: from, To: []string{to}, Server: server, Log: logger}
}

func (s *SMTP) Report(ctx context.Context, samples []Sample) error {
	err := s.report(ctx, samples)
	if err != nil {
		reportsSent.WithLabelValues(s.Name, "failed").Inc()
		return exterrors.WithFields(err, map[string]interface{}{
			"reporter": s.Name,
			"server":   s.server(),
		})
	}
	reportsSent.WithLabelValues(s.Name, "sent").Inc()
	return nil
}

func (s *SMTP) server() string {
	if s.Server == "" {
		return DefaultSMTPServer
	}
	if _, _, err := net.SplitHostPort(s.Server); err != nil {
		return net.JoinHostPort(s.Server, "25")
	}
	return s.Server
}

func (s *SMTP) report(ctx context.Context, samples []Sample) error {
	if len(s.To) == 0 {
		return errors.New("reporter: no report address")
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}
	subject := s.Subject
	if subject == "" {
		subject = defaultSubject
	}

	msg, err := BuildMessage(s.From, s.To, subject, now(), samples)
	if err != nil {
		return err
	}

	timeout := s.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dial := s.Dialer
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}
	conn, err := dial(ctx, "tcp", s.server())
	if err != nil {
		return exterrors.WithTemporary(err, true)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	cl := smtp.NewClient(conn)
	defer cl.Close()

	hostname := s.Hostname
	if hostname == "" {
		hostname = "localhost"
	}
	if err := cl.Hello(hostname); err != nil {
		return err
	}
	if err := cl.Mail(s.From, nil); err != nil {
		return err
	}
	for _, rcpt := range s.To {
		if err := cl.Rcpt(rcpt, nil); err != nil {
			return err
		}
	}

	wc, err := cl.Data()
	if err != nil {
		return err
	}
	if _, err := bytes.NewReader(msg).WriteTo(wc); err != nil {
		wc.Close()
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}

	for _, smpl := range samples {
		s.Log.DebugMsg("reported", "sample", smpl.Name, "size", len(smpl.Data), "to", s.To)
	}
	s.Log.Msg("spam report sent", "samples", len(samples), "to", s.To)

	return cl.Quit()
}
