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

package table

import (
	"context"
	"testing"

	"github.com/spammer-block/spammer-block/framework/config"
)

func TestRegexp(t *testing.T) {
	no := false
	test := func(cfg config.TableConfig, key, expected string, found bool) {
		t.Helper()
		mod, err := NewRegexp("table.regexp", "test")
		if err != nil {
			t.Fatal(err)
		}
		if err := mod.Init(&cfg, nil); err != nil {
			t.Fatal(err)
		}
		val, ok, err := mod.(*Regexp).Lookup(context.Background(), key)
		if err != nil {
			t.Fatal(err)
		}
		if ok != found || val != expected {
			t.Errorf("%s: want (%q, %v), got (%q, %v)", key, expected, found, val, ok)
		}
	}

	test(config.TableConfig{Regexp: `(.+)@spammer\.example`, Replacement: "REJECT $1"},
		"bulk@spammer.example", "REJECT bulk", true)
	test(config.TableConfig{Regexp: `(.+)@spammer\.example`, Replacement: "REJECT $1"},
		"BULK@SPAMMER.EXAMPLE", "REJECT BULK", true)
	test(config.TableConfig{Regexp: `(.+)@spammer\.example`, Replacement: "REJECT $1"},
		"bulk@spammer.example.org", "", false)
	test(config.TableConfig{Regexp: `spammer`, Replacement: "REJECT", FullMatch: &no},
		"a.spammer.example", "REJECT", true)
	test(config.TableConfig{Regexp: `spammer`, Replacement: "REJECT", CaseInsensitive: &no, FullMatch: &no},
		"SPAMMER", "", false)
	test(config.TableConfig{Regexp: `(.+)`, Replacement: "$1", ExpandPlaceholders: &no},
		"x", "$1", true)
}

func TestRegexp_Invalid(t *testing.T) {
	for _, cfg := range []config.TableConfig{
		{Regexp: "(", Replacement: "x"},
		{Replacement: "x"},
		{Regexp: "x"},
	} {
		mod, _ := NewRegexp("table.regexp", "test")
		if err := mod.Init(&cfg, nil); err == nil {
			t.Errorf("%+v: expected an error", cfg)
		}
	}
}
