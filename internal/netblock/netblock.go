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

// Package netblock turns the route list of an autonomous system into a
// compact set of networks suitable for an access table.
package netblock

import (
	"net/netip"
	"sort"
	"strings"
)

// Net is a network with a free-form description. Overlap is set to the
// covering network when Prefix lies inside a bigger network of the same
// list.
type Net struct {
	Prefix  netip.Prefix
	Desc    string
	Overlap netip.Prefix
}

func (n Net) Overlapping() bool {
	return n.Overlap.IsValid()
}

func less(a, b netip.Prefix) bool {
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c < 0
	}
	return a.Bits() < b.Bits()
}

// Sort orders nets by address. IPv4 networks go first, a bigger network
// goes before the smaller ones starting at the same address.
func Sort(nets []Net) {
	sort.SliceStable(nets, func(i, j int) bool {
		return less(nets[i].Prefix, nets[j].Prefix)
	})
}

// Normalize masks host bits, drops invalid prefixes and duplicates (the
// first description wins) and sorts the result.
func Normalize(nets []Net) []Net {
	out := make([]Net, 0, len(nets))
	seen := make(map[netip.Prefix]int, len(nets))
	for _, n := range nets {
		if !n.Prefix.IsValid() {
			continue
		}
		n.Prefix = netip.PrefixFrom(n.Prefix.Addr().Unmap(), unmappedBits(n.Prefix)).Masked()
		n.Overlap = netip.Prefix{}
		if i, ok := seen[n.Prefix]; ok {
			if out[i].Desc == "" {
				out[i].Desc = n.Desc
			}
			continue
		}
		seen[n.Prefix] = len(out)
		out = append(out, n)
	}
	Sort(out)
	return out
}

func unmappedBits(p netip.Prefix) int {
	if p.Addr().Is4In6() {
		bits := p.Bits() - 96
		if bits < 0 {
			bits = 0
		}
		return bits
	}
	return p.Bits()
}

// MarkOverlaps sets Overlap of each network that is inside a bigger
// network of the list. The biggest covering network is used. nets must be
// normalized.
func MarkOverlaps(nets []Net) {
	for i := range nets {
		nets[i].Overlap = netip.Prefix{}
		for j := range nets {
			if i == j || nets[j].Prefix.Bits() >= nets[i].Prefix.Bits() {
				continue
			}
			if !nets[j].Prefix.Overlaps(nets[i].Prefix) {
				continue
			}
			if !nets[i].Overlap.IsValid() || nets[j].Prefix.Bits() < nets[i].Overlap.Bits() {
				nets[i].Overlap = nets[j].Prefix
			}
		}
	}
}

// Merge returns the minimal set of prefixes covering exactly the same
// addresses as prefixes. Duplicates and covered prefixes are dropped,
// adjacent siblings are joined into their parent. IPv4 prefixes are
// listed before IPv6 ones.
func Merge(prefixes []netip.Prefix) []netip.Prefix {
	sorted := make([]netip.Prefix, 0, len(prefixes))
	for _, p := range prefixes {
		if p.IsValid() {
			sorted = append(sorted, p.Masked())
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	stack := make([]netip.Prefix, 0, len(sorted))
	for _, p := range sorted {
		if n := len(stack); n != 0 {
			top := stack[n-1]
			if top.Addr().BitLen() == p.Addr().BitLen() && top.Bits() <= p.Bits() && top.Contains(p.Addr()) {
				continue
			}
		}
		stack = append(stack, p)

		for len(stack) >= 2 {
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			parent, ok := siblings(a, b)
			if !ok {
				break
			}
			stack = append(stack[:len(stack)-2], parent)
		}
	}
	return stack
}

// siblings reports whether a and b are the two halves of the same parent
// network, in that order.
func siblings(a, b netip.Prefix) (netip.Prefix, bool) {
	if a.Addr().BitLen() != b.Addr().BitLen() || a.Bits() != b.Bits() || a.Bits() == 0 || a == b {
		return netip.Prefix{}, false
	}
	parent := netip.PrefixFrom(a.Addr(), a.Bits()-1).Masked()
	if parent.Addr() != a.Addr() || !parent.Contains(b.Addr()) {
		return netip.Prefix{}, false
	}
	return parent, true
}

// Merged merges nets into the minimal prefix set. Each resulting network
// is described by the descriptions of the original networks it overlaps.
func Merged(nets []Net) []Net {
	nets = Normalize(nets)

	prefixes := make([]netip.Prefix, 0, len(nets))
	for _, n := range nets {
		prefixes = append(prefixes, n.Prefix)
	}

	merged := Merge(prefixes)
	out := make([]Net, 0, len(merged))
	for _, m := range merged {
		var descs []string
		seen := make(map[string]struct{})
		for _, n := range nets {
			if n.Desc == "" || !m.Overlaps(n.Prefix) {
				continue
			}
			if _, dup := seen[n.Desc]; dup {
				continue
			}
			seen[n.Desc] = struct{}{}
			descs = append(descs, n.Desc)
		}
		out = append(out, Net{Prefix: m, Desc: strings.Join(descs, ", ")})
	}
	return out
}
