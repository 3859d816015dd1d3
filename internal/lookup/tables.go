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

// Package lookup answers socketmap queries from the configured tables.
package lookup

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/framework/module"
	"github.com/spammer-block/spammer-block/internal/socketmap"
)

var backendErrors = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "spammer_block",
		Subsystem: "lookup",
		Name:      "backend_errors_total",
		Help:      "Table lookups that failed, by map",
	},
	[]string{"map"},
)

func init() {
	prometheus.MustRegister(backendErrors)
}

// Source resolves a socketmap map name to a table.
type Source interface {
	Table(name string) (module.Table, error)
}

// Tables implements socketmap.Lookuper on top of a table Source. The
// socketmap map name selects the table, the key is looked up in it.
type Tables struct {
	Source Source
	Log    log.Logger
}

// HasMap reports whether name refers to a configured table.
func (t Tables) HasMap(name string) bool {
	_, err := t.Source.Table(name)
	return err == nil
}

func (t Tables) Lookup(ctx context.Context, mapName, key string) socketmap.Verdict {
	tbl, err := t.Source.Table(mapName)
	if err != nil {
		if errors.Is(err, module.ErrInstanceUnknown) {
			t.Log.DebugMsg("unknown map", "map", mapName, "key", key)
			return socketmap.NotFound()
		}
		t.Log.Error("map unavailable", err, "map", mapName)
		return socketmap.Perm("map unavailable")
	}

	val, ok, err := tbl.Lookup(ctx, key)
	if err != nil {
		backendErrors.WithLabelValues(mapName).Inc()
		t.Log.Error("lookup failed", err, "map", mapName, "key", key)
		return socketmap.ErrorVerdict(err)
	}
	if !ok {
		return socketmap.NotFound()
	}
	if val == "" {
		// Postfix has no way to express an empty OK value.
		t.Log.Msg("empty value, answering NOTFOUND", "map", mapName, "key", key)
		return socketmap.NotFound()
	}
	return socketmap.OK(val)
}
