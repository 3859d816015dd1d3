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

package main

import (
	"go/build"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const moduleRoot = "../.."

func sourceFiles(t *testing.T) []string {
	t.Helper()
	var files []string
	err := filepath.WalkDir(moduleRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if path != moduleRoot && (strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".") || name == "testdata") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Fatal("no source files found")
	}
	return files
}

func TestSourceHeaders(t *testing.T) {
	for _, path := range sourceFiles(t) {
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		src := string(b)

		// Build constraints come first, then the license block.
		for strings.HasPrefix(src, "//go:build") || strings.HasPrefix(src, "// +build") {
			_, src, _ = strings.Cut(src, "\n")
		}
		src = strings.TrimPrefix(src, "\n")

		if !strings.HasPrefix(src, "/*\n") {
			t.Errorf("%s: missing license header", path)
			continue
		}
		header, rest, ok := strings.Cut(src, "*/\n")
		if !ok {
			t.Errorf("%s: unterminated license header", path)
			continue
		}
		if !strings.Contains(header, "GNU General Public License") || !strings.Contains(header, "Copyright") {
			t.Errorf("%s: header lacks the GPL notice", path)
		}
		if !strings.HasPrefix(rest, "\n") || strings.HasPrefix(rest, "\n\n") {
			t.Errorf("%s: want exactly one blank line after the header", path)
		}
		if strings.Contains(rest, "\n//go:build") {
			t.Errorf("%s: build constraint below the header is ignored", path)
		}

		slash := filepath.ToSlash(path)
		for _, dir := range []string{"internal/socketmap/", "internal/asn/", "internal/reporter/", "internal/lookup/", "internal/netblock/", "internal/blocker/", "internal/maildir/"} {
			if strings.Contains(slash, dir) && !strings.Contains(header, "spammer-block contributors") {
				t.Errorf("%s: expected the spammer-block copyright notice", path)
			}
		}
	}
}

func TestBuildConstraints(t *testing.T) {
	test := func(goos string, cgo bool, dir, file string, expected bool) {
		t.Helper()
		ctx := build.Default
		ctx.GOOS = goos
		ctx.CgoEnabled = cgo
		match, err := ctx.MatchFile(filepath.Join(moduleRoot, dir), file)
		if err != nil {
			t.Fatal(err)
		}
		if match != expected {
			t.Errorf("%s/%s on %s (cgo=%v): match = %v, want %v", dir, file, goos, cgo, match, expected)
		}
	}

	test("linux", false, "framework/log", "syslog.go", true)
	test("windows", false, "framework/log", "syslog.go", false)
	test("windows", false, "framework/log", "syslog_stub.go", true)
	test("linux", false, "framework/log", "syslog_stub.go", false)
	test("windows", false, "internal/cli/ctl", "signal_posix.go", false)
	test("windows", false, "internal/cli/ctl", "signal_other.go", true)
	test("linux", false, "framework/resource/netresource", "reuseport_other.go", false)
	test("windows", false, "internal/systemd", "passcred_other.go", true)
	test("linux", false, "internal/systemd", "passcred_other.go", false)
	test("linux", false, "internal/table", "sql_sqlite3.go", false)
	test("linux", true, "internal/table", "sql_sqlite3.go", true)
}
