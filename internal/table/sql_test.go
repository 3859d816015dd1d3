/*
Maddy Mail Server - Composable all-in-one email server.
Copyright © 2019-2020 Max Mazurov <fox.cpp@disroot.org>, Maddy Mail Server contributors

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

package table

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/exterrors"
)

var errTest = errors.New("test error")

func TestSQL(t *testing.T) {
	path := t.TempDir()

	mod, err := NewSQL("table.sql", "sql_test")
	if err != nil {
		t.Fatal(err)
	}
	tbl := mod.(*SQL)
	err = tbl.Init(&config.TableConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(path, "test.db"),
		Init: []string{
			"CREATE TABLE blocked (ip TEXT PRIMARY KEY, reply TEXT)",
			"INSERT INTO blocked VALUES ('192.0.2.1', '554 Go away spammer!')",
			"INSERT INTO blocked VALUES ('192.0.2.3', NULL)",
		},
		Lookup: "SELECT reply FROM blocked WHERE ip = ?",
	}, nil)
	if err != nil {
		t.Fatal("Init failed:", err)
	}
	defer tbl.Close()

	check := func(key, res string, ok, fail bool) {
		t.Helper()

		actualRes, actualOk, err := tbl.Lookup(context.Background(), key)
		if actualRes != res {
			t.Errorf("Result mismatch: want %s, got %s", res, actualRes)
		}
		if actualOk != ok {
			t.Errorf("OK mismatch: want %v, got %v", ok, actualOk)
		}
		if (err != nil) != fail {
			t.Errorf("Error mismatch: want failure = %v, got %v", fail, err)
		}
		if err != nil && exterrors.IsTemporaryOrUnspec(err) {
			t.Errorf("NULL value should be a permanent error: %v", err)
		}
	}

	check("192.0.2.1", "554 Go away spammer!", true, false)
	check("192.0.2.2", "", false, false)
	check("192.0.2.3", "", false, true)
}

func TestSQL_BadConfig(t *testing.T) {
	for _, cfg := range []config.TableConfig{
		{DSN: "x", Lookup: "SELECT 1"},
		{Driver: "sqlite", Lookup: "SELECT 1"},
		{Driver: "sqlite", DSN: ":memory:"},
		{Driver: "no-such-driver", DSN: "x", Lookup: "SELECT 1"},
		{Driver: "sqlite", DSN: ":memory:", Lookup: "SELECT FROM WHERE"},
	} {
		mod, _ := NewSQL("table.sql", "sql_test")
		if err := mod.Init(&cfg, nil); err == nil {
			t.Errorf("%+v: expected an error", cfg)
		}
	}
}
