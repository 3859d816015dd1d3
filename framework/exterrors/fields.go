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

// Package exterrors attaches log fields and a failure class to errors and
// reads them back.
package exterrors

import "errors"

type fieldsWrap struct {
	err    error
	fields map[string]interface{}
}

func (fw fieldsWrap) Error() string                  { return fw.err.Error() }
func (fw fieldsWrap) Unwrap() error                  { return fw.err }
func (fw fieldsWrap) Fields() map[string]interface{} { return fw.fields }

// WithFields attaches fields that are logged together with err.
func WithFields(err error, fields map[string]interface{}) error {
	return fieldsWrap{err: err, fields: fields}
}

// Fields merges the fields attached anywhere in the chain. When a key is
// set more than once the outermost value is kept.
func Fields(err error) map[string]interface{} {
	fields := make(map[string]interface{}, 5)
	for ; err != nil; err = errors.Unwrap(err) {
		fw, ok := err.(interface{ Fields() map[string]interface{} })
		if !ok {
			continue
		}
		for k, v := range fw.Fields() {
			if _, set := fields[k]; !set {
				fields[k] = v
			}
		}
	}
	return fields
}
