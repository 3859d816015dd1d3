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

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spammer-block/spammer-block/framework/exterrors"
)

func TestVerdictReply(t *testing.T) {
	test := func(v Verdict, expected string) {
		t.Helper()
		reply, err := v.Reply()
		if err != nil {
			t.Errorf("%v: unexpected error: %v", v, err)
			return
		}
		if string(reply) != expected {
			t.Errorf("%v: want %q, got %q", v, expected, reply)
		}
	}

	test(NotFound(), "NOTFOUND ")
	test(Verdict{Kind: KindNotFound, Data: "ignored"}, "NOTFOUND ")
	test(OK("554 Go away spammer!"), "OK 554 Go away spammer!")
	test(Temp(""), "TEMP ")
	test(Temp("database unavailable"), "TEMP database unavailable")
	test(Timeout("whois"), "TIMEOUT whois")
	test(Perm("bad key"), "PERM bad key")
}

func TestVerdictReply_Invalid(t *testing.T) {
	if _, err := OK("").Reply(); !errors.Is(err, ErrEmptyOK) {
		t.Error("empty OK accepted:", err)
	}
	if _, err := (Verdict{Kind: Kind(42)}).Reply(); !errors.Is(err, ErrUnknownKind) {
		t.Error("unknown kind accepted:", err)
	}
}

func TestVerdictReply_Boundary(t *testing.T) {
	for _, kind := range []Kind{KindOK, KindTemp, KindTimeout, KindPerm} {
		tagLen := len(kind.String()) + 1
		atLimit := Verdict{Kind: kind, Data: strings.Repeat("x", MaxReplyLen-tagLen)}

		reply, err := atLimit.Reply()
		if err != nil {
			t.Fatalf("%v: reply at the limit rejected: %v", kind, err)
		}
		if len(reply) != MaxReplyLen {
			t.Fatalf("%v: wrong reply length %d", kind, len(reply))
		}

		d := NewDecoder(MaxReplyLen)
		d.Feed(EncodeNetstring(reply))
		decoded, err := d.Next()
		if err != nil {
			t.Fatalf("%v: decode: %v", kind, err)
		}
		if string(decoded) != string(reply) {
			t.Fatalf("%v: round-trip mismatch", kind)
		}

		overLimit := Verdict{Kind: kind, Data: atLimit.Data + "x"}
		if _, err := overLimit.Reply(); !errors.Is(err, ErrReplyTooLong) {
			t.Fatalf("%v: reply over the limit accepted: %v", kind, err)
		}
	}
}

func TestVerdictRoundTrip(t *testing.T) {
	for _, v := range []Verdict{NotFound(), OK("a b c"), Temp("t"), Timeout(""), Perm("p")} {
		reply, err := v.Reply()
		if err != nil {
			t.Fatal(err)
		}
		d := NewDecoder(MaxReplyLen)
		d.Feed(EncodeNetstring(reply))
		decoded, err := d.Next()
		if err != nil {
			t.Fatal(err)
		}
		if string(decoded) != string(reply) {
			t.Errorf("%v: want %q, got %q", v, reply, decoded)
		}
	}
}

func TestErrorVerdict(t *testing.T) {
	test := func(err error, kind Kind) {
		t.Helper()
		v := ErrorVerdict(err)
		if v.Kind != kind {
			t.Errorf("%v: want %v, got %v", err, kind, v.Kind)
		}
		if v.Data != err.Error() {
			t.Errorf("%v: reason not preserved: %q", err, v.Data)
		}
	}

	test(errors.New("plain"), KindTemp)
	test(exterrors.WithTemporary(errors.New("busy"), true), KindTemp)
	test(exterrors.WithTemporary(errors.New("no such table"), false), KindPerm)
	test(fmt.Errorf("query: %w", context.DeadlineExceeded), KindTimeout)
}
