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
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/framework/module"
)

const FileModName = "table.file"

// File is a table read from a text file of "key: value1, value2" lines.
type File struct {
	instName string
	file     string

	src *fileSource[map[string][]string]

	log log.Logger
}

func NewFile(_, instName string) (module.Module, error) {
	return &File{
		instName: instName,
		log:      log.Logger{Name: FileModName},
	}, nil
}

func (f *File) Name() string {
	return FileModName
}

func (f *File) InstanceName() string {
	return f.instName
}

func (f *File) Init(cfg *config.TableConfig, _ *module.Registry) error {
	f.log.Debug = cfg.Debug || log.DefaultLogger.Debug
	f.log = f.log.With("map", f.instName)
	if cfg.File == "" {
		return fmt.Errorf("%s: file is required", FileModName)
	}
	f.file = cfg.File

	f.src = newFileSource(f.file, readFile, f.log)
	return f.src.load()
}

func (f *File) Start() error {
	f.src.start()
	return nil
}

func (f *File) Stop() error {
	f.src.stop()
	return nil
}

func (f *File) Reload() error {
	f.src.reloadNow()
	return nil
}

func readFile(path string) (map[string][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string][]string)
	scnr := bufio.NewScanner(f)
	lineCounter := 0

	parseErr := func(text string) error {
		return fmt.Errorf("%s:%d: %s", path, lineCounter, text)
	}

	for scnr.Scan() {
		lineCounter++
		if strings.HasPrefix(scnr.Text(), "#") {
			continue
		}

		text := strings.TrimSpace(scnr.Text())
		if text == "" {
			continue
		}

		parts := strings.SplitN(text, ":", 2)
		if len(parts) == 1 {
			parts = append(parts, "")
		}

		from := strings.TrimSpace(parts[0])
		if len(from) == 0 {
			return nil, parseErr("empty key before colon")
		}

		for _, to := range strings.Split(parts[1], ",") {
			to := strings.TrimSpace(to)
			out[from] = append(out[from], to)
		}
	}
	if err := scnr.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (f *File) Lookup(_ context.Context, val string) (string, bool, error) {
	newVal, ok := f.src.get()[val]
	if len(newVal) == 0 {
		return "", false, nil
	}
	return newVal[0], ok, nil
}

func (f *File) LookupMulti(_ context.Context, val string) ([]string, error) {
	return f.src.get()[val], nil
}

func init() {
	module.Register(FileModName, NewFile)
}
