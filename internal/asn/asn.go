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

// Package asn resolves the autonomous system that announces an address and
// the routes that autonomous system originates.
package asn

import (
	"context"
	"net/netip"
)

// Origin describes the announcement covering a single address.
type Origin struct {
	ASN         uint32
	Prefix      netip.Prefix
	Country     string
	Registry    string
	Description string
}

// Route is a single route object registered for an ASN.
type Route struct {
	Prefix netip.Prefix `json:"cidr"`
	Desc   string       `json:"description"`
}

// Result is the answer of a route query. It is also the on-disk format of
// the result cache.
type Result struct {
	ASN    uint32  `json:"asn"`
	Routes []Route `json:"nets"`
}

type OriginResolver interface {
	Origin(ctx context.Context, ip netip.Addr) (Origin, error)
}

type RouteSource interface {
	Routes(ctx context.Context, asn uint32) (Result, error)
}
