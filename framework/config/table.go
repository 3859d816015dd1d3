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

// TableConfig is a single [[socketmap.map]] block. Which fields are used
// depends on Type.
type TableConfig struct {
	// Name is the socketmap map name Postfix queries this table by.
	Name string `toml:"name"`
	// Type is the table implementation: static, file, cidr, regexp, sql or
	// chain.
	Type  string `toml:"type"`
	Debug bool   `toml:"debug"`

	// static
	Entries map[string]string `toml:"entries"`

	// file, cidr
	File string `toml:"file"`

	// regexp
	Regexp             string `toml:"regexp"`
	Replacement        string `toml:"replacement"`
	FullMatch          *bool  `toml:"full_match"`
	CaseInsensitive    *bool  `toml:"case_insensitive"`
	ExpandPlaceholders *bool  `toml:"expand_placeholders"`

	// sql
	Driver string   `toml:"driver"`
	DSN    string   `toml:"dsn"`
	Init   []string `toml:"init"`
	Lookup string   `toml:"lookup"`

	// chain: names of other maps, tried in order.
	Steps []string `toml:"steps"`
	// chain: steps that may miss without ending the chain.
	OptionalSteps []string `toml:"optional_steps"`
}

// BoolOr returns the value of an optional boolean, or def if unset.
func BoolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}
