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
	"fmt"
	"regexp"
	"strings"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/module"
)

// Regexp matches the key against a single regular expression and returns
// the replacement, optionally with $1-style group references expanded.
type Regexp struct {
	modName  string
	instName string

	re          *regexp.Regexp
	replacement string

	expandPlaceholders bool
}

func NewRegexp(modName, instName string) (module.Module, error) {
	return &Regexp{
		modName:  modName,
		instName: instName,
	}, nil
}

func (r *Regexp) Init(cfg *config.TableConfig, _ *module.Registry) error {
	fullMatch := config.BoolOr(cfg.FullMatch, true)
	caseInsensitive := config.BoolOr(cfg.CaseInsensitive, true)
	r.expandPlaceholders = config.BoolOr(cfg.ExpandPlaceholders, true)

	regex := cfg.Regexp
	if regex == "" {
		return fmt.Errorf("%s: regexp is required", r.modName)
	}
	r.replacement = cfg.Replacement
	if r.replacement == "" {
		return fmt.Errorf("%s: replacement is required", r.modName)
	}

	if fullMatch {
		if !strings.HasPrefix(regex, "^") {
			regex = "^" + regex
		}
		if !strings.HasSuffix(regex, "$") {
			regex = regex + "$"
		}
	}

	if caseInsensitive {
		regex = "(?i)" + regex
	}

	var err error
	r.re, err = regexp.Compile(regex)
	if err != nil {
		return fmt.Errorf("%s: %v", r.modName, err)
	}
	return nil
}

func (r *Regexp) Name() string {
	return r.modName
}

func (r *Regexp) InstanceName() string {
	return r.instName
}

func (r *Regexp) Lookup(_ context.Context, key string) (string, bool, error) {
	matches := r.re.FindStringSubmatchIndex(key)
	if matches == nil {
		return "", false, nil
	}

	if !r.expandPlaceholders {
		return r.replacement, true, nil
	}

	return string(r.re.ExpandString([]byte{}, r.replacement, key, matches)), true, nil
}

func init() {
	module.Register("table.regexp", NewRegexp)
}
