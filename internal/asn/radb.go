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

package asn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/spammer-block/spammer-block/framework/exterrors"
	"github.com/spammer-block/spammer-block/framework/log"
)

const (
	DefaultWhoisServer = "whois.radb.net:43"
	maxWhoisResponse   = 16 * 1024 * 1024
)

// Whois queries an IRR whois server (RADb by default) for the route
// objects originated by an ASN.
type Whois struct {
	Server  string
	Timeout time.Duration
	Log     log.Logger

	dialer net.Dialer
}

func (w *Whois) server() string {
	if w.Server == "" {
		return DefaultWhoisServer
	}
	if _, _, err := net.SplitHostPort(w.Server); err != nil {
		return net.JoinHostPort(w.Server, "43")
	}
	return w.Server
}

func (w *Whois) Routes(ctx context.Context, asn uint32) (Result, error) {
	if w.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.Timeout)
		defer cancel()
	}

	srv := w.server()
	w.Log.Msg("querying routes", "asn", asn, "server", srv)

	conn, err := w.dialer.DialContext(ctx, "tcp", srv)
	if err != nil {
		return Result{}, exterrors.WithFields(exterrors.WithTemporary(err, true), map[string]interface{}{
			"server": srv,
			"asn":    asn,
		})
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return Result{}, err
		}
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := fmt.Fprintf(conn, "-i origin AS%d\r\n", asn); err != nil {
		return Result{}, exterrors.WithTemporary(err, true)
	}

	routes, err := parseRPSL(io.LimitReader(conn, maxWhoisResponse))
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, exterrors.WithFields(err, map[string]interface{}{"server": srv, "asn": asn})
	}

	w.Log.DebugMsg("routes received", "asn", asn, "count", len(routes))
	return Result{ASN: asn, Routes: routes}, nil
}

// parseRPSL extracts route and route6 objects from a whois response.
// Objects are separated by blank lines, the first descr attribute of an
// object is its description. A prefix listed more than once keeps its
// first description.
func parseRPSL(r io.Reader) ([]Route, error) {
	var (
		routes  []Route
		seen    = make(map[netip.Prefix]struct{})
		cur     netip.Prefix
		curDesc string
		inRoute bool
	)
	flush := func() {
		if inRoute {
			if _, dup := seen[cur]; !dup {
				seen[cur] = struct{}{}
				routes = append(routes, Route{Prefix: cur, Desc: curDesc})
			}
		}
		inRoute = false
		curDesc = ""
	}

	scnr := bufio.NewScanner(r)
	for scnr.Scan() {
		line := strings.TrimRight(scnr.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, "%") || strings.HasPrefix(line, "#") {
			continue
		}

		attr, val, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		val = strings.TrimSpace(val)
		switch strings.ToLower(attr) {
		case "route", "route6":
			flush()
			prefix, err := netip.ParsePrefix(val)
			if err != nil {
				continue
			}
			cur = prefix.Masked()
			inRoute = true
		case "descr":
			if curDesc == "" {
				curDesc = val
			}
		}
	}
	if err := scnr.Err(); err != nil {
		return nil, err
	}
	flush()
	return routes, nil
}
