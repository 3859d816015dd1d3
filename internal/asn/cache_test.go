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
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/spammer-block/spammer-block/internal/testutils"
)

type countingSource struct {
	calls int
	res   Result
	err   error
}

func (s *countingSource) Routes(_ context.Context, asn uint32) (Result, error) {
	s.calls++
	if s.err != nil {
		return Result{}, s.err
	}
	res := s.res
	res.ASN = asn
	return res, nil
}

func TestCachedRoutes(t *testing.T) {
	dir := t.TempDir()
	src := &countingSource{res: Result{Routes: []Route{
		{Prefix: netip.MustParsePrefix("192.0.2.0/24"), Desc: "Example"},
		{Prefix: netip.MustParsePrefix("2001:db8::/32")},
	}}}
	cr := CachedRoutes{
		Source: src,
		Cache:  Cache{Path: filepath.Join(dir, "AS{ASN}.json")},
		Log:    testutils.Logger(t, "cache"),
	}

	for i := 0; i < 3; i++ {
		res, err := cr.Routes(context.Background(), 64500)
		if err != nil {
			t.Fatal(err)
		}
		if res.ASN != 64500 || len(res.Routes) != 2 || res.Routes[0].Desc != "Example" {
			t.Fatalf("unexpected result: %+v", res)
		}
		if res.Routes[1].Prefix != netip.MustParsePrefix("2001:db8::/32") {
			t.Fatalf("prefix lost in cache: %+v", res.Routes[1])
		}
	}
	if src.calls != 1 {
		t.Error("source queried", src.calls, "times")
	}
	if _, err := os.Stat(filepath.Join(dir, "AS64500.json")); err != nil {
		t.Error(err)
	}

	// A different ASN gets its own file.
	if _, err := cr.Routes(context.Background(), 64501); err != nil {
		t.Fatal(err)
	}
	if src.calls != 2 {
		t.Error("source queried", src.calls, "times")
	}
}

func TestCachedRoutes_FixedPathOtherASN(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.json")
	if err := (Cache{Path: path}).Store(Result{ASN: 64500}); err != nil {
		t.Fatal(err)
	}

	src := &countingSource{}
	cr := CachedRoutes{Source: src, Cache: Cache{Path: path}, Log: testutils.Logger(t, "cache")}
	res, err := cr.Routes(context.Background(), 64501)
	if err != nil {
		t.Fatal(err)
	}
	if res.ASN != 64501 || src.calls != 1 {
		t.Fatalf("stale cache entry used: %+v, calls %d", res, src.calls)
	}
}

func TestCachedRoutes_SourceError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AS{ASN}.json")
	errSrc := errors.New("whois down")
	cr := CachedRoutes{Source: &countingSource{err: errSrc}, Cache: Cache{Path: path}, Log: testutils.Logger(t, "cache")}

	if _, err := cr.Routes(context.Background(), 64500); !errors.Is(err, errSrc) {
		t.Fatal("expected source error, got", err)
	}
	if _, ok, _ := cr.Cache.Load(64500); ok {
		t.Fatal("error result was cached")
	}
}
