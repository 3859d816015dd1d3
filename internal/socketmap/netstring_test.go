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
	"errors"
	"math/rand"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func decodeAll(t *testing.T, d *Decoder) [][]byte {
	t.Helper()
	var frames [][]byte
	for {
		frame, err := d.Next()
		if errors.Is(err, ErrWantMore) {
			return frames
		}
		if err != nil {
			t.Fatal("unexpected error:", err)
		}
		frames = append(frames, frame)
	}
}

func TestDecoder(t *testing.T) {
	test := func(in string, frames ...string) {
		t.Helper()
		d := NewDecoder(1024)
		d.Feed([]byte(in))
		got := decodeAll(t, d)
		if len(got) != len(frames) {
			t.Fatalf("%q: want %d frames, got %d", in, len(frames), len(got))
		}
		for i := range frames {
			if string(got[i]) != frames[i] {
				t.Errorf("%q: frame %d: want %q, got %q", in, i, frames[i], got[i])
			}
		}
	}

	test("")
	test("0:,", "")
	test("3:abc,", "abc")
	test("003:abc,", "abc")
	test("3:abc,5:hello,", "abc", "hello")
	test("3:a,c,", "a,c")
	test("3:abc,5:hel", "abc")
	test("12:map1 1.2.3.4,", "map1 1.2.3.4")
	test("3:a:b,", "a:b")
}

func TestDecoder_WantMore(t *testing.T) {
	d := NewDecoder(1024)
	for _, part := range []string{"1", "2", ":", "map1 ", "1.2.3.4"} {
		d.Feed([]byte(part))
		if _, err := d.Next(); !errors.Is(err, ErrWantMore) {
			t.Fatalf("after %q: want ErrWantMore, got %v", part, err)
		}
	}
	d.Feed([]byte(",3:abc"))
	frame, err := d.Next()
	if err != nil {
		t.Fatal(err)
	}
	if string(frame) != "map1 1.2.3.4" {
		t.Fatalf("unexpected frame: %q", frame)
	}
	if d.Buffered() != len("3:abc") {
		t.Fatalf("wrong amount of buffered bytes: %d", d.Buffered())
	}
}

func TestDecoder_Malformed(t *testing.T) {
	test := func(in string) {
		t.Helper()
		d := NewDecoder(1024)
		d.Feed([]byte(in))
		frame, err := d.Next()
		var protoErr *ProtocolError
		if !errors.As(err, &protoErr) {
			t.Errorf("%q: want ProtocolError, got frame %q, err %v", in, frame, err)
		}
	}

	test(":abc,")
	test("-1:,")
	test("abc:")
	test("3x:abc,")
	test(" 3:abc,")
	test("3:abcd,")
	test("3:abc;")
	test("000000000000000000000003:abc,")
}

func TestDecoder_MaxLength(t *testing.T) {
	for _, length := range []int{1025, 1030, 4096, 99999, 1 << 30} {
		d := NewDecoder(1024)
		payload := strings.Repeat("a", 2000)
		in := strconv.Itoa(length) + ":" + payload + ","

		// Feed byte by byte: the limit must trip before any frame shows up.
		rejected := false
		for i := 0; i < len(in) && !rejected; i++ {
			d.Feed([]byte{in[i]})
			frame, err := d.Next()
			if errors.Is(err, ErrWantMore) {
				continue
			}
			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("length %d: want ProtocolError, got frame %q, err %v", length, frame, err)
			}
			rejected = true
		}
		if !rejected {
			t.Fatalf("length %d: frame was never rejected", length)
		}
	}

	d := NewDecoder(1024)
	d.Feed([]byte(strconv.Itoa(1024) + ":" + strings.Repeat("a", 1024) + ","))
	if frame, err := d.Next(); err != nil || len(frame) != 1024 {
		t.Fatalf("frame at the limit rejected: len %d, err %v", len(frame), err)
	}
}

func TestDecoder_ChunkIndependence(t *testing.T) {
	var stream []byte
	var expected [][]byte
	for _, p := range []string{"map1 1.2.3.4", "", "x y z", "blocklist 2001:db8::1", strings.Repeat("k", 700), "a,b:c"} {
		stream = AppendNetstring(stream, []byte(p))
		expected = append(expected, []byte(p))
	}

	collect := func(splits []int) [][]byte {
		d := NewDecoder(1024)
		var frames [][]byte
		prev := 0
		for _, s := range append(splits, len(stream)) {
			d.Feed(stream[prev:s])
			prev = s
			frames = append(frames, decodeAll(t, d)...)
		}
		return frames
	}

	for size := 1; size <= len(stream); size++ {
		var splits []int
		for i := size; i < len(stream); i += size {
			splits = append(splits, i)
		}
		if got := collect(splits); !reflect.DeepEqual(got, expected) {
			t.Fatalf("chunk size %d: frames differ", size)
		}
	}

	rnd := rand.New(rand.NewSource(1))
	for iter := 0; iter < 500; iter++ {
		var splits []int
		for i := rnd.Intn(20) + 1; i < len(stream); i += rnd.Intn(50) + 1 {
			splits = append(splits, i)
		}
		if got := collect(splits); !reflect.DeepEqual(got, expected) {
			t.Fatalf("random splits %v: frames differ", splits)
		}
	}
}

func TestEncodeNetstring(t *testing.T) {
	if got := string(EncodeNetstring([]byte("NOTFOUND "))); got != "9:NOTFOUND ," {
		t.Fatal("unexpected encoding:", got)
	}
	if got := string(EncodeNetstring(nil)); got != "0:," {
		t.Fatal("unexpected encoding:", got)
	}
	if got := string(AppendNetstring([]byte("3:abc,"), []byte("OK x"))); got != "3:abc,4:OK x," {
		t.Fatal("unexpected encoding:", got)
	}
}
