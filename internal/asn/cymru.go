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
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"

	"github.com/spammer-block/spammer-block/framework/dns"
	"github.com/spammer-block/spammer-block/framework/exterrors"
	"github.com/spammer-block/spammer-block/framework/log"
)

const (
	cymruOrigin4 = "origin.asn.cymru.com"
	cymruOrigin6 = "origin6.asn.cymru.com"
	cymruASN     = "asn.cymru.com"
)

var ErrNoOrigin = errors.New("asn: address is not announced")

type TXTResolver interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// Cymru resolves IP to ASN mappings using the Team Cymru DNS service.
type Cymru struct {
	Resolver TXTResolver
	Log      log.Logger
}

func (c Cymru) Origin(ctx context.Context, ip netip.Addr) (Origin, error) {
	ip = ip.Unmap()
	rev, err := dns.ReverseName(net.IP(ip.AsSlice()))
	if err != nil {
		return Origin{}, err
	}
	zone := cymruOrigin4
	if ip.Is6() {
		zone = cymruOrigin6
	}

	recs, err := c.Resolver.LookupTXT(ctx, rev+"."+zone)
	if err != nil {
		if dns.IsNotFound(err) {
			return Origin{}, exterrors.WithFields(ErrNoOrigin, map[string]interface{}{"ip": ip.String()})
		}
		return Origin{}, exterrors.WithFields(err, map[string]interface{}{"ip": ip.String(), "reason": "origin lookup failed"})
	}

	var (
		best  Origin
		found bool
	)
	for _, rec := range recs {
		o, err := parseOriginTXT(rec)
		if err != nil {
			c.Log.Error("malformed origin record", err, "record", rec)
			continue
		}
		// Several announcements may cover the address, the most specific
		// one is the origin.
		if !found || o.Prefix.Bits() > best.Prefix.Bits() {
			best = o
			found = true
		}
	}
	if !found {
		return Origin{}, exterrors.WithFields(ErrNoOrigin, map[string]interface{}{"ip": ip.String()})
	}

	desc, err := c.asnName(ctx, best.ASN)
	if err != nil {
		c.Log.Error("AS name lookup failed", err, "asn", best.ASN)
	}
	best.Description = desc

	c.Log.DebugMsg("origin resolved", "ip", ip.String(), "asn", best.ASN, "prefix", best.Prefix.String())
	return best, nil
}

func (c Cymru) asnName(ctx context.Context, asn uint32) (string, error) {
	recs, err := c.Resolver.LookupTXT(ctx, fmt.Sprintf("as%d.%s", asn, cymruASN))
	if err != nil {
		return "", err
	}
	for _, rec := range recs {
		fields := splitCymru(rec)
		// ASN | CC | Registry | Allocated | AS Name
		if len(fields) == 5 {
			return fields[4], nil
		}
	}
	return "", nil
}

func splitCymru(rec string) []string {
	parts := strings.Split(rec, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseOriginTXT parses "ASN [ASN...] | prefix | CC | registry | date".
func parseOriginTXT(rec string) (Origin, error) {
	fields := splitCymru(rec)
	if len(fields) < 2 {
		return Origin{}, fmt.Errorf("asn: unexpected field count %d", len(fields))
	}

	asns := strings.Fields(fields[0])
	if len(asns) == 0 {
		return Origin{}, errors.New("asn: empty ASN field")
	}
	asn, err := strconv.ParseUint(asns[0], 10, 32)
	if err != nil {
		return Origin{}, fmt.Errorf("asn: malformed ASN: %w", err)
	}

	prefix, err := netip.ParsePrefix(fields[1])
	if err != nil {
		return Origin{}, err
	}

	o := Origin{ASN: uint32(asn), Prefix: prefix.Masked()}
	if len(fields) > 2 {
		o.Country = fields[2]
	}
	if len(fields) > 3 {
		o.Registry = fields[3]
	}
	return o, nil
}
