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

// Package blocker builds the list of networks to block for an address that
// sent spam.
package blocker

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/internal/asn"
	"github.com/spammer-block/spammer-block/internal/netblock"
)

type Options struct {
	// ASN skips the origin lookup when not zero.
	ASN uint32

	// NoMerge keeps the announced networks as they are instead of merging
	// them into the minimal prefix set. Overlapping networks are marked.
	NoMerge bool
}

type Blocker struct {
	Origins asn.OriginResolver
	Routes  asn.RouteSource
	Log     log.Logger
}

// Query resolves the ASN announcing ip and collects the networks it
// originates. When the route query yields nothing, the prefix announcing
// ip is used instead.
func (b Blocker) Query(ctx context.Context, ip netip.Addr, opts Options) (netblock.Report, error) {
	ip = ip.Unmap()

	var origin asn.Origin
	asNum := opts.ASN
	if asNum == 0 {
		var err error
		origin, err = b.Origins.Origin(ctx, ip)
		if err != nil {
			return netblock.Report{}, fmt.Errorf("blocker: origin lookup for %v: %w", ip, err)
		}
		asNum = origin.ASN
		b.Log.DebugMsg("origin found", "ip", ip.String(), "asn", asNum, "prefix", origin.Prefix.String())
	}

	res, err := b.Routes.Routes(ctx, asNum)
	if err != nil {
		return netblock.Report{}, fmt.Errorf("blocker: route query for AS%d: %w", asNum, err)
	}

	nets := make([]netblock.Net, 0, len(res.Routes))
	for _, r := range res.Routes {
		nets = append(nets, netblock.Net{Prefix: r.Prefix, Desc: r.Desc})
	}
	if len(nets) == 0 && origin.Prefix.IsValid() {
		b.Log.Msg("route query returned nothing, using origin prefix", "asn", asNum, "prefix", origin.Prefix.String())
		nets = append(nets, netblock.Net{
			Prefix: origin.Prefix,
			Desc:   fmt.Sprintf("-ASN-query-failed-info-from-whois: %s-", origin.Description),
		})
	}

	if opts.NoMerge {
		nets = netblock.Normalize(nets)
		netblock.MarkOverlaps(nets)
	} else {
		nets = netblock.Merged(nets)
	}

	return netblock.Report{ConfirmedIP: ip, ASN: asNum, Nets: nets}, nil
}

