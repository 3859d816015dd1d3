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
	"compress/gzip"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spammer-block/spammer-block/framework/exterrors"
	"github.com/spammer-block/spammer-block/framework/log"
)

const (
	DefaultIPInfoURL  = "https://ipinfo.io"
	maxIPInfoResponse = 32 * 1024 * 1024
)

// IPInfo queries the ipinfo.io ASN API for the prefixes originated by an
// ASN. The ASN endpoint requires a paid token.
type IPInfo struct {
	Token   string
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
	Log     log.Logger
}

type ipinfoPrefix struct {
	Netblock string `json:"netblock"`
	Name     string `json:"name"`
}

type ipinfoASN struct {
	ASN       string         `json:"asn"`
	Name      string         `json:"name"`
	Prefixes  []ipinfoPrefix `json:"prefixes"`
	Prefixes6 []ipinfoPrefix `json:"prefixes6"`
}

func (i *IPInfo) Routes(ctx context.Context, asn uint32) (Result, error) {
	if i.Timeout != 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}
	if i.Token == "" {
		i.Log.Msg("querying ipinfo.io without a token, request will likely be refused", "asn", asn)
	}

	base := i.BaseURL
	if base == "" {
		base = DefaultIPInfoURL
	}
	u := strings.TrimRight(base, "/") + "/AS" + strconv.FormatUint(uint64(asn), 10) + "/json"
	if i.Token != "" {
		u += "?token=" + url.QueryEscape(i.Token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Accept", "application/json")

	cl := i.Client
	if cl == nil {
		cl = http.DefaultClient
	}
	i.Log.Msg("querying routes", "asn", asn, "server", base)
	resp, err := cl.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, exterrors.WithFields(exterrors.WithTemporary(err, true), map[string]interface{}{
			"server": base,
			"asn":    asn,
		})
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		temporary := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return Result{}, exterrors.WithFields(
			exterrors.WithTemporary(fmt.Errorf("ipinfo.io: unexpected status %s", resp.Status), temporary),
			map[string]interface{}{"server": base, "asn": asn},
		)
	}

	var body ipinfoASN
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxIPInfoResponse)).Decode(&body); err != nil {
		return Result{}, exterrors.WithFields(fmt.Errorf("ipinfo.io: %w", err), map[string]interface{}{"server": base, "asn": asn})
	}

	routes := ipinfoRoutes(body)
	i.Log.DebugMsg("routes received", "asn", asn, "count", len(routes))
	return Result{ASN: asn, Routes: routes}, nil
}

func ipinfoRoutes(body ipinfoASN) []Route {
	seen := make(map[netip.Prefix]struct{})
	routes := make([]Route, 0, len(body.Prefixes)+len(body.Prefixes6))
	for _, list := range [][]ipinfoPrefix{body.Prefixes, body.Prefixes6} {
		for _, p := range list {
			prefix, err := netip.ParsePrefix(p.Netblock)
			if err != nil {
				continue
			}
			prefix = prefix.Masked()
			if _, dup := seen[prefix]; dup {
				continue
			}
			seen[prefix] = struct{}{}
			desc := p.Name
			if desc == "" {
				desc = body.Name
			}
			routes = append(routes, Route{Prefix: prefix, Desc: desc})
		}
	}
	return routes
}

// IPInfoDB reads the downloadable ipinfo.io ASN database in CSV form,
// optionally gzip-compressed. Both the "network" column layout and the
// "start_ip,end_ip" range layout are understood.
type IPInfoDB struct {
	Path string
	Log  log.Logger
}

func (db IPInfoDB) Routes(ctx context.Context, asn uint32) (Result, error) {
	f, err := os.Open(db.Path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(db.Path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return Result{}, fmt.Errorf("ipinfo db %s: %w", db.Path, err)
		}
		defer gz.Close()
		r = gz
	}

	db.Log.Msg("reading routes", "asn", asn, "file", db.Path)
	routes, err := parseIPInfoCSV(ctx, r, asn)
	if err != nil {
		return Result{}, exterrors.WithFields(err, map[string]interface{}{"file": db.Path, "asn": asn})
	}
	db.Log.DebugMsg("routes found", "asn", asn, "count", len(routes))
	return Result{ASN: asn, Routes: routes}, nil
}

func parseIPInfoCSV(ctx context.Context, r io.Reader, asn uint32) ([]Route, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ipinfo db: missing header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}
	asnCol, ok := col["asn"]
	if !ok {
		return nil, errors.New("ipinfo db: no asn column")
	}
	nameCol, hasName := col["as_name"]
	if !hasName {
		nameCol, hasName = col["name"]
	}
	netCol, hasNet := col["network"]
	startCol, hasStart := col["start_ip"]
	endCol, hasEnd := col["end_ip"]
	if !hasNet && !(hasStart && hasEnd) {
		return nil, errors.New("ipinfo db: neither network nor start_ip/end_ip columns present")
	}

	want := "AS" + strconv.FormatUint(uint64(asn), 10)
	seen := make(map[netip.Prefix]struct{})
	var routes []Route
	add := func(p netip.Prefix, desc string) {
		p = p.Masked()
		if _, dup := seen[p]; dup {
			return
		}
		seen[p] = struct{}{}
		routes = append(routes, Route{Prefix: p, Desc: desc})
	}

	for n := 0; ; n++ {
		if n%65536 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ipinfo db: %w", err)
		}
		if asnCol >= len(rec) || !strings.EqualFold(strings.TrimSpace(rec[asnCol]), want) {
			continue
		}
		var desc string
		if hasName && nameCol < len(rec) {
			desc = rec[nameCol]
		}

		if hasNet && netCol < len(rec) {
			if p, err := netip.ParsePrefix(rec[netCol]); err == nil {
				add(p, desc)
				continue
			}
			if a, err := netip.ParseAddr(rec[netCol]); err == nil {
				add(netip.PrefixFrom(a, a.BitLen()), desc)
				continue
			}
		}
		if hasStart && hasEnd && startCol < len(rec) && endCol < len(rec) {
			start, err1 := netip.ParseAddr(rec[startCol])
			end, err2 := netip.ParseAddr(rec[endCol])
			if err1 != nil || err2 != nil {
				continue
			}
			for _, p := range rangePrefixes(start, end) {
				add(p, desc)
			}
		}
	}
	return routes, nil
}

// rangePrefixes returns the shortest list of prefixes exactly covering
// the inclusive range [start, end].
func rangePrefixes(start, end netip.Addr) []netip.Prefix {
	if start.Is4() != end.Is4() || end.Less(start) {
		return nil
	}
	var out []netip.Prefix
	bits := start.BitLen()
	for {
		// Widen the prefix while it stays aligned at start and inside the range.
		plen := bits
		for plen > 0 {
			p := netip.PrefixFrom(start, plen-1)
			if p.Masked().Addr() != start || lastAddr(p).Compare(end) > 0 {
				break
			}
			plen--
		}
		p := netip.PrefixFrom(start, plen)
		out = append(out, p)
		last := lastAddr(p)
		if last.Compare(end) >= 0 {
			return out
		}
		start = last.Next()
	}
}

func lastAddr(p netip.Prefix) netip.Addr {
	p = p.Masked()
	a := p.Addr().AsSlice()
	for i := p.Bits(); i < len(a)*8; i++ {
		a[i/8] |= 0x80 >> (i % 8)
	}
	last, _ := netip.AddrFromSlice(a)
	return last
}
