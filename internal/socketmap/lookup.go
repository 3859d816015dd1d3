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

package socketmap

import "context"

// Lookuper answers socketmap queries.
//
// Lookup is called from its own goroutine for each request and may block
// for as long as it needs; ctx is cancelled only when the connection is
// torn down. Backend failures should be reported through ErrorVerdict.
type Lookuper interface {
	Lookup(ctx context.Context, mapName, key string) Verdict
}

// MapNamer is implemented by Lookupers that know the set of configured map
// names. Metrics are labelled with the map name only if HasMap reports it,
// other names are counted under "unknown".
type MapNamer interface {
	HasMap(name string) bool
}

const unknownMap = "unknown"

func metricMap(l Lookuper, name string) string {
	if n, ok := l.(MapNamer); ok && n.HasMap(name) {
		return name
	}
	return unknownMap
}

type LookupFunc func(ctx context.Context, mapName, key string) Verdict

func (f LookupFunc) Lookup(ctx context.Context, mapName, key string) Verdict {
	return f(ctx, mapName, key)
}
