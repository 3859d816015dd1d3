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

package module

import (
	"context"
	"errors"
	"testing"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/internal/testutils"
)

type testTable struct {
	instName string
	ref      string
	value    string

	started, stopped, closed, reloaded int
}

func (t *testTable) Init(cfg *config.TableConfig, reg *Registry) error {
	t.value = cfg.Entries["value"]
	if cfg.Steps != nil {
		t.ref = cfg.Steps[0]
		if _, err := reg.Get(t.ref); err != nil {
			return err
		}
	}
	return nil
}

func (t *testTable) Name() string         { return "table.test" }
func (t *testTable) InstanceName() string { return t.instName }
func (t *testTable) Start() error         { t.started++; return nil }
func (t *testTable) Stop() error          { t.stopped++; return nil }
func (t *testTable) Reload() error        { t.reloaded++; return nil }
func (t *testTable) Close() error         { t.closed++; return nil }

func (t *testTable) Lookup(_ context.Context, key string) (string, bool, error) {
	return t.value, key == "k", nil
}

var created = map[string]*testTable{}

func init() {
	Register("table.test", func(_, instName string) (Module, error) {
		t := &testTable{instName: instName}
		created[instName] = t
		return t, nil
	})
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(testutils.Logger(t, "registry"))
	err := reg.Configure([]config.TableConfig{
		{Name: "b", Type: "test", Steps: []string{"a"}},
		{Name: "a", Type: "test", Entries: map[string]string{"value": "v"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	tbl, err := reg.Table("a")
	if err != nil {
		t.Fatal(err)
	}
	val, ok, err := tbl.Lookup(context.Background(), "k")
	if err != nil || !ok || val != "v" {
		t.Fatalf("unexpected lookup result: %q %v %v", val, ok, err)
	}

	if _, err := reg.Table("missing"); !errors.Is(err, ErrInstanceUnknown) {
		t.Fatal("expected ErrInstanceUnknown, got", err)
	}

	if err := reg.Start(); err != nil {
		t.Fatal(err)
	}
	reg.Reload()
	if err := reg.Close(); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"a", "b"} {
		tt := created[name]
		if tt.started != 1 || tt.reloaded != 1 || tt.stopped != 1 || tt.closed != 1 {
			t.Errorf("%s: wrong lifecycle: %+v", name, *tt)
		}
	}
}

func TestRegistry_Errors(t *testing.T) {
	test := func(name string, cfgs []config.TableConfig) {
		t.Helper()
		reg := NewRegistry(testutils.Logger(t, "registry"))
		if err := reg.Configure(cfgs); err == nil {
			t.Errorf("%s: expected an error", name)
		}
	}

	test("unknown type", []config.TableConfig{{Name: "a", Type: "nope"}})
	test("missing name", []config.TableConfig{{Type: "test"}})
	test("duplicate", []config.TableConfig{{Name: "a", Type: "test"}, {Name: "a", Type: "test"}})
	test("circular", []config.TableConfig{
		{Name: "a", Type: "test", Steps: []string{"b"}},
		{Name: "b", Type: "test", Steps: []string{"a"}},
	})
	test("unknown reference", []config.TableConfig{{Name: "a", Type: "test", Steps: []string{"c"}}})
}
