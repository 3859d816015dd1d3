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

package config

import (
	"reflect"
	"testing"
)

func TestParseEndpoint(t *testing.T) {
	oldRuntime := RuntimeDirectory
	RuntimeDirectory = ""
	defer func() { RuntimeDirectory = oldRuntime }()

	for _, expected := range []Endpoint{
		{Original: "tcp://0.0.0.0:10025", Scheme: "tcp", Host: "0.0.0.0", Port: "10025"},
		{Original: "tcp://[::]:10025", Scheme: "tcp", Host: "::", Port: "10025"},
		{Original: "tcp:127.0.0.1:10025", Scheme: "tcp", Host: "127.0.0.1", Port: "10025"},
		{Original: "unix://path", Scheme: "unix", Path: "path"},
		{Original: "unix:path", Scheme: "unix", Path: "path"},
		{Original: "unix:/path", Scheme: "unix", Path: "/path"},
		{Original: "unix:///path", Scheme: "unix", Path: "/path"},
		{Original: "unix:///run/spammer-block/socketmap.sock", Scheme: "unix", Path: "/run/spammer-block/socketmap.sock"},
		{Original: "fd://3", Scheme: "fd", Host: "3"},
		{Original: "fdname://socketmap", Scheme: "fdname", Host: "socketmap"},
	} {
		actual, err := ParseEndpoint(expected.Original)
		if err != nil {
			t.Errorf("Unexpected failure for %s: %v", expected.Original, err)
			continue
		}

		if !reflect.DeepEqual(expected, actual) {
			t.Errorf("Didn't parse URL %q correctly\ngot %#v\nwant %#v", expected.Original, actual, expected)
			continue
		}

		if actual.String() != expected.Original {
			t.Errorf("actual.String() = %s, want %s", actual.String(), expected.Original)
		}
	}
}

func TestParseEndpoint_Invalid(t *testing.T) {
	for _, in := range []string{
		"tcp://127.0.0.1",
		"tls://127.0.0.1:25",
		"unix://",
		"fd://",
		"127.0.0.1:25",
	} {
		if _, err := ParseEndpoint(in); err == nil {
			t.Errorf("expected failure for %q", in)
		}
	}
}

func TestParseEndpoint_RelativeUnix(t *testing.T) {
	oldRuntime := RuntimeDirectory
	RuntimeDirectory = "/run/test"
	defer func() { RuntimeDirectory = oldRuntime }()

	e, err := ParseEndpoint("unix://socketmap.sock")
	if err != nil {
		t.Fatal(err)
	}
	if e.Path != "/run/test/socketmap.sock" {
		t.Errorf("relative path not resolved against runtime dir: %s", e.Path)
	}
}

func TestEndpoint_NetworkAddress(t *testing.T) {
	e, err := ParseEndpoint("tcp://[::1]:27823")
	if err != nil {
		t.Fatal(err)
	}
	if e.Network() != "tcp" || e.Address() != "[::1]:27823" {
		t.Errorf("got %s %s", e.Network(), e.Address())
	}

	e, err = ParseEndpoint("unix:///tmp/x.sock")
	if err != nil {
		t.Fatal(err)
	}
	if e.Network() != "unix" || e.Address() != "/tmp/x.sock" {
		t.Errorf("got %s %s", e.Network(), e.Address())
	}
}
