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

package log

import (
	"go.uber.org/zap/zapcore"
)

// zapCore routes zap entries into a Logger. It backs Logger.Zap for
// libraries that take a *zap.Logger or a standard library logger built
// from one.
type zapCore struct {
	l Logger
}

func zapFields(fields []zapcore.Field) map[string]interface{} {
	enc := zapcore.NewMapObjectEncoder()
	for _, f := range fields {
		f.AddTo(enc)
	}
	return enc.Fields
}

func (c zapCore) Enabled(level zapcore.Level) bool {
	return c.l.Debug || level > zapcore.DebugLevel
}

func (c zapCore) With(fields []zapcore.Field) zapcore.Core {
	merged := make(map[string]interface{}, len(c.l.Fields)+len(fields))
	for k, v := range c.l.Fields {
		merged[k] = v
	}
	for k, v := range zapFields(fields) {
		merged[k] = v
	}
	c.l.Fields = merged
	return c
}

func (c zapCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.Enabled(entry.Level) {
		return ce
	}
	return ce.AddCore(entry, c)
}

func (c zapCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	l := c.l
	if entry.LoggerName != "" {
		l = l.Sub(entry.LoggerName)
	}
	l.log(entry.Level == zapcore.DebugLevel, l.formatMsg(entry.Message, zapFields(fields)))
	return nil
}

func (zapCore) Sync() error { return nil }
