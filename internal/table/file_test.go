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
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/internal/testutils"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "table")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFile(t *testing.T) {
	test := func(file string, expected map[string][]string) {
		t.Helper()

		actual, err := readFile(writeTemp(t, file))
		if expected == nil {
			if err == nil {
				t.Errorf("expected failure, got %+v", actual)
			}
			return
		}
		if err != nil {
			t.Errorf("unexpected failure: %v", err)
			return
		}

		if !reflect.DeepEqual(actual, expected) {
			t.Errorf("wrong results\n want %+v\n got %+v", expected, actual)
		}
	}

	test("a: b", map[string][]string{"a": {"b"}})
	test("1.2.3.4: 554 Go away spammer!", map[string][]string{"1.2.3.4": {"554 Go away spammer!"}})
	test("a: b, c", map[string][]string{"a": {"b", "c"}})
	test("a: b\na: c", map[string][]string{"a": {"b", "c"}})
	test(": b", nil)
	test(":", nil)
	test("aaa", map[string][]string{"aaa": {""}})
	test("     spammer.example   :  REJECT   ",
		map[string][]string{"spammer.example": {"REJECT"}})
	test(`# skip comments
a: b`, map[string][]string{"a": {"b"}})
	test(`# and empty lines

a: b`, map[string][]string{"a": {"b"}})
	test("# with whitespace too\n    \na: b", map[string][]string{"a": {"b"}})
}

func newTestFile(t *testing.T, path string) *File {
	t.Helper()
	mod, err := NewFile(FileModName, "test")
	if err != nil {
		t.Fatal(err)
	}
	m := mod.(*File)
	m.log = testutils.Logger(t, FileModName)
	if err := m.Init(&config.TableConfig{Name: "test", Type: "file", File: path}, nil); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { m.Stop() })
	return m
}

func TestFileLookup(t *testing.T) {
	m := newTestFile(t, writeTemp(t, "cat: dog, mouse\nempty:"))

	val, ok, err := m.Lookup(context.Background(), "cat")
	if err != nil || !ok || val != "dog" {
		t.Fatalf("unexpected result: %q %v %v", val, ok, err)
	}
	vals, err := m.LookupMulti(context.Background(), "cat")
	if err != nil || !reflect.DeepEqual(vals, []string{"dog", "mouse"}) {
		t.Fatalf("unexpected result: %v %v", vals, err)
	}
	if _, ok, _ := m.Lookup(context.Background(), "bird"); ok {
		t.Fatal("found a missing key")
	}
}

func TestFileReload(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "cat: dog")
	m := newTestFile(t, path)

	// ensure it is correctly loaded at first time.
	if m.src.get()["cat"] == nil {
		t.Fatalf("wrong content loaded, new m were not loaded, %v", m.src.get())
	}

	for i := 0; i < 100; i++ {
		// try to provoke race condition on file writing
		if i%2 == 0 {
			if err := os.WriteFile(path, []byte("dog: cat"), os.ModePerm); err != nil {
				t.Fatal(err)
			}
		}
		time.Sleep(reloadInterval + 5*time.Millisecond)
		if m.src.get()["dog"] == nil {
			t.Fatalf("wrong content loaded, new m were not loaded, %v", m.src.get())
		}
	}
}

func TestFileReload_Forced(t *testing.T) {
	path := writeTemp(t, "cat: dog")
	m := newTestFile(t, path)

	if err := os.WriteFile(path, []byte("dog: cat"), os.ModePerm); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatal(err)
	}
	if val, _, _ := m.Lookup(context.Background(), "dog"); val != "cat" {
		t.Fatal("forced reload did not pick up the new contents")
	}
}

func TestFileReload_Broken(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "cat: dog")
	m := newTestFile(t, path)

	f2, err := os.OpenFile(path, os.O_WRONLY|os.O_SYNC, os.ModePerm)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f2.WriteString(":"); err != nil {
		t.Fatal(err)
	}
	defer f2.Close()

	time.Sleep(3 * reloadInterval)

	if m.src.get()["cat"] == nil {
		t.Fatal("New m were loaded or map changed", m.src.get())
	}
}

func TestFileReload_Removed(t *testing.T) {
	t.Parallel()

	path := writeTemp(t, "cat: dog")
	m := newTestFile(t, path)

	os.Remove(path)

	time.Sleep(3 * reloadInterval)

	if m.src.get()["cat"] != nil {
		t.Fatal("Old m are still loaded")
	}
}

func TestFile_MissingAtStart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-yet")
	m := newTestFile(t, path)
	if _, ok, err := m.Lookup(context.Background(), "cat"); ok || err != nil {
		t.Fatal("unexpected result for a missing file:", ok, err)
	}

	if err := os.WriteFile(path, []byte("cat: dog"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Reload(); err != nil {
		t.Fatal(err)
	}
	if val, ok, _ := m.Lookup(context.Background(), "cat"); !ok || val != "dog" {
		t.Fatal("file created later was not loaded")
	}
}

func init() {
	reloadInterval = 10 * time.Millisecond
}
