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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spammer-block/spammer-block/framework/dns"
	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/internal/asn"
	"github.com/spammer-block/spammer-block/internal/blocker"
	appcli "github.com/spammer-block/spammer-block/internal/cli"
	"github.com/spammer-block/spammer-block/internal/config"
	"github.com/spammer-block/spammer-block/internal/netblock"
	"github.com/urfave/cli/v2"
)

func init() {
	appcli.AddSubcommand(&cli.Command{
		Name:      "block",
		Usage:     "Print the networks of the AS a spamming address belongs to",
		ArgsUsage: "IP",
		Description: `Find the autonomous system announcing IP, query the networks it
originates and print them merged into a minimal set, as a Postfix cidr_table
by default. When the route query returns nothing, the single prefix
announcing IP is printed.
`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "asn",
				Usage: "Skip the origin lookup and use this AS number (AS64500 or 64500)",
			},
			&cli.BoolFlag{
				Name:  "skip-overlapping",
				Usage: "Leave out networks covered by a bigger one instead of commenting them out",
				Value: true,
			},
			&cli.BoolFlag{
				Name:  "no-merge",
				Usage: "Print the announced networks as they are, marking overlaps",
			},
			&cli.StringFlag{
				Name:    "output-format",
				Aliases: []string{"f"},
				Usage:   "Output format: postfix, json or none",
			},
			&cli.PathFlag{
				Name:    "output-file",
				Aliases: []string{"o"},
				Usage:   "Write the result to a file instead of stdout",
			},
			&cli.StringFlag{
				Name:  "postfix-rule",
				Usage: "Rule written after each network, {ASN} is replaced with the AS number",
			},
			&cli.PathFlag{
				Name:  "asn-cache-file",
				Usage: "JSON file to cache route queries in, may contain {ASN}",
			},
			&cli.StringFlag{
				Name:  "whois-server",
				Usage: "Whois server to query routes from (host:port)",
			},
			&cli.StringFlag{
				Name:    "ipinfo-token",
				Usage:   "Query routes from the ipinfo.io ASN API using this token instead of whois",
				EnvVars: []string{"IPINFO_TOKEN"},
			},
			&cli.PathFlag{
				Name:  "ipinfo-db-file",
				Usage: "Read routes from a downloaded ipinfo.io ASN database (CSV, optionally .gz)",
			},
			&cli.StringFlag{
				Name:  "dns-resolver",
				Usage: "DNS server to use for origin lookups instead of /etc/resolv.conf",
			},
		},
		Action: blockCmd,
	})
}

func blockCmd(c *cli.Context) error {
	cfg, err := prepare(c)
	if err != nil {
		return err
	}

	if c.NArg() != 1 {
		return cli.Exit("Error: exactly one IP address is required", 2)
	}
	ip, err := netip.ParseAddr(c.Args().First())
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}

	overrideString(c, "output-format", &cfg.Blocker.OutputFormat)
	overrideString(c, "postfix-rule", &cfg.Blocker.PostfixRule)
	overrideString(c, "asn-cache-file", &cfg.Blocker.ASNCacheFile)
	overrideString(c, "whois-server", &cfg.Blocker.WhoisServer)
	overrideString(c, "dns-resolver", &cfg.Blocker.DNSResolver)
	overrideString(c, "ipinfo-token", &cfg.Blocker.IPInfoToken)
	overrideString(c, "ipinfo-db-file", &cfg.Blocker.IPInfoDBFile)

	f, err := netblock.FormatterByName(cfg.Blocker.OutputFormat, cfg.Blocker.PostfixRule)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}

	opts := blocker.Options{NoMerge: c.Bool("no-merge")}
	if c.IsSet("asn") {
		opts.ASN, err = parseASN(c.String("asn"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
		}
	}

	b, err := newBlocker(cfg.Blocker)
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 2)
	}

	ctx, cancel := context.WithTimeout(c.Context, durationOr(cfg.Blocker.QueryTimeout, 30*time.Second))
	defer cancel()

	out, err := runBlock(ctx, b, ip, opts, f, c.Bool("skip-overlapping"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	if err := writeOutput(c.App.Writer, c.Path("output-file"), out); err != nil {
		return cli.Exit(fmt.Sprintf("Error: %v", err), 1)
	}
	return nil
}

func overrideString(c *cli.Context, flag string, v *string) {
	if c.IsSet(flag) {
		*v = c.String(flag)
	}
}

func newBlocker(cfg config.Blocker) (blocker.Blocker, error) {
	res, err := dns.NewExtResolver(cfg.DNSResolver)
	if err != nil {
		return blocker.Blocker{}, err
	}
	l := logger("blocker")
	return blocker.Blocker{
		Origins: asn.Cymru{Resolver: res, Log: l.Sub("cymru")},
		Routes: asn.CachedRoutes{
			Source: routeSource(cfg, l),
			Cache:  asn.Cache{Path: cfg.ASNCacheFile},
			Log:   l.Sub("cache"),
		},
		Log: l,
	}, nil
}

// routeSource picks where routes come from: a local ipinfo.io database,
// the ipinfo.io API when a token is configured, whois otherwise.
func routeSource(cfg config.Blocker, l log.Logger) asn.RouteSource {
	timeout := durationOr(cfg.QueryTimeout, 30*time.Second)
	switch {
	case cfg.IPInfoDBFile != "":
		return asn.IPInfoDB{Path: cfg.IPInfoDBFile, Log: l.Sub("ipinfo")}
	case cfg.IPInfoToken != "":
		return &asn.IPInfo{Token: cfg.IPInfoToken, Timeout: timeout, Log: l.Sub("ipinfo")}
	default:
		return &asn.Whois{Server: cfg.WhoisServer, Timeout: timeout, Log: l.Sub("whois")}
	}
}

func runBlock(ctx context.Context, b blocker.Blocker, ip netip.Addr, opts blocker.Options, f netblock.Formatter, skipOverlap bool) ([]byte, error) {
	rep, err := b.Query(ctx, ip, opts)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := f.Format(&buf, rep, skipOverlap); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeOutput(stdout io.Writer, path string, out []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(out)
		return err
	}
	return os.WriteFile(path, out, 0o644)
}

var errBadASN = errors.New("invalid AS number")

// parseASN accepts "64500", "AS64500" and "as64500".
func parseASN(s string) (uint32, error) {
	num := s
	if len(num) > 2 && strings.EqualFold(num[:2], "as") {
		num = num[2:]
	}
	v, err := strconv.ParseUint(num, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: %q", errBadASN, s)
	}
	return uint32(v), nil
}
