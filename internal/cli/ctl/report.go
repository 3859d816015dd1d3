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

package ctl

import (
	"fmt"
	"io"
	"time"

	appcli "github.com/spammer-block/spammer-block/internal/cli"
	"github.com/spammer-block/spammer-block/internal/config"
	"github.com/spammer-block/spammer-block/internal/reporter"
	"github.com/urfave/cli/v2"
)

var reporterFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "from-address",
		Usage: "Envelope and header sender of reports",
	},
	&cli.StringFlag{
		Name:  "smtpd-address",
		Usage: "SMTP server to submit reports to (host[:port])",
	},
	&cli.StringFlag{
		Name:  "spamcop-report-address",
		Usage: "SpamCop submission address",
	},
	&cli.StringFlag{
		Name:  "mock-report-address",
		Usage: "Address to send reports to when SpamCop is not configured",
	},
	&cli.BoolFlag{
		Name:  "sendgrid",
		Usage: "Report to " + reporter.SendgridAbuse + " instead of SpamCop",
	},
}

func init() {
	appcli.AddSubcommand(&cli.Command{
		Name:      "report",
		Usage:     "Report spam messages",
		ArgsUsage: "[FILE...]",
		Description: `Send the given messages as attachments of one report mail to
SendGrid when --sendgrid is given, otherwise to SpamCop, or to the mock
address when no SpamCop address is configured. The
message is read from stdin when no files are given. Without any report
address the samples are only logged.
`,
		Flags:  reporterFlags,
		Action: reportCmd,
	})
}

func reportCmd(c *cli.Context) error {
	cfg, err := prepare(c)
	if err != nil {
		return err
	}
	applyReporterFlags(c, &cfg.Reporter)

	samples, err := readSamples(c.Args().Slice(), c.App.Reader)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}

	rep := newReporter(cfg.Reporter)
	if err := rep.Report(c.Context, samples); err != nil {
		logger("report").Error("report failed", err)
		return cli.Exit("Error: report failed", 1)
	}
	return nil
}

func applyReporterFlags(c *cli.Context, cfg *config.Reporter) {
	overrideString(c, "from-address", &cfg.FromAddress)
	overrideString(c, "smtpd-address", &cfg.SMTPDAddress)
	overrideString(c, "spamcop-report-address", &cfg.SpamcopReportAddress)
	overrideString(c, "mock-report-address", &cfg.MockReportAddress)
	if c.IsSet("sendgrid") {
		cfg.SendgridReport = c.Bool("sendgrid")
	}
}

func readSamples(paths []string, stdin io.Reader) ([]reporter.Sample, error) {
	if len(paths) == 0 {
		s, err := reporter.SampleFromReader(stdin)
		if err != nil {
			return nil, err
		}
		return []reporter.Sample{s}, nil
	}

	samples := make([]reporter.Sample, 0, len(paths))
	for _, p := range paths {
		s, err := reporter.SampleFromFile(p)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// newReporter picks SpamCop when its address is set, the mock reporter
// otherwise and logging only when neither is.
func newReporter(cfg config.Reporter) reporter.Reporter {
	l := logger("reporter")
	var rep *reporter.SMTP
	switch {
	case cfg.SendgridReport:
		rep = reporter.NewSendgrid(cfg.FromAddress, cfg.SMTPDAddress, l.Sub("sendgrid"))
	case cfg.SpamcopReportAddress != "":
		rep = reporter.NewSpamCop(cfg.FromAddress, cfg.SpamcopReportAddress, cfg.SMTPDAddress, l.Sub("spamcop"))
	case cfg.MockReportAddress != "":
		rep = reporter.NewMock(cfg.FromAddress, cfg.MockReportAddress, cfg.SMTPDAddress, l.Sub("mock"))
	default:
		return reporter.LogOnly{Log: l}
	}
	rep.Timeout = time.Duration(cfg.Timeout)
	return rep
}
