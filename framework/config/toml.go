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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration is a time.Duration that is written in configuration files as a Go
// duration string ("1s", "250ms"). A bare integer is taken as seconds.
type Duration time.Duration

func (d *Duration) UnmarshalText(b []byte) error {
	if secs, err := strconv.Atoi(string(b)); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration: %s", b)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// FileMode is an os.FileMode written as an octal string ("0660").
type FileMode os.FileMode

func (m *FileMode) UnmarshalText(b []byte) error {
	val, err := strconv.ParseUint(string(b), 8, 32)
	if err != nil {
		return fmt.Errorf("malformed file mode %q: %w", b, err)
	}
	if val > 0o7777 {
		return fmt.Errorf("file mode out of range: %q", b)
	}
	*m = FileMode(val)
	return nil
}

func (m FileMode) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%04o", uint32(m))), nil
}

// ReadTOMLFile decodes the TOML file at path into v. Keys that do not map to
// a field of v are reported as an error.
func ReadTOMLFile(path string, v interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := toml.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return fmt.Errorf("%s: unknown keys:\n%s", path, strictErr.String())
		}
		var decErr *toml.DecodeError
		if errors.As(err, &decErr) {
			row, col := decErr.Position()
			return fmt.Errorf("%s:%d:%d: %v", path, row, col, decErr)
		}
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
