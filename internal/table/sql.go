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
	"database/sql"
	"errors"
	"fmt"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/exterrors"
	"github.com/spammer-block/spammer-block/framework/module"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQL looks keys up with a single-row query. The query gets the key as its
// only argument and must return one column.
//
// Drivers: postgres, mysql, sqlite (pure Go) and sqlite3 (cgo builds).
type SQL struct {
	modName  string
	instName string

	db     *sql.DB
	lookup *sql.Stmt
}

func NewSQL(modName, instName string) (module.Module, error) {
	return &SQL{
		modName:  modName,
		instName: instName,
	}, nil
}

func (s *SQL) Name() string {
	return s.modName
}

func (s *SQL) InstanceName() string {
	return s.instName
}

func (s *SQL) Init(cfg *config.TableConfig, _ *module.Registry) error {
	if cfg.Driver == "" {
		return fmt.Errorf("%s: driver is required", s.modName)
	}
	if cfg.DSN == "" {
		return fmt.Errorf("%s: dsn is required", s.modName)
	}
	if cfg.Lookup == "" {
		return fmt.Errorf("%s: lookup query is required", s.modName)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return fmt.Errorf("%s: failed to open db: %v", s.modName, err)
	}
	s.db = db

	for _, init := range cfg.Init {
		if _, err := db.Exec(init); err != nil {
			db.Close()
			return fmt.Errorf("%s: init query failed: %v", s.modName, err)
		}
	}

	s.lookup, err = db.Prepare(cfg.Lookup)
	if err != nil {
		db.Close()
		return fmt.Errorf("%s: failed to prepare lookup query: %v", s.modName, err)
	}

	return nil
}

func (s *SQL) Close() error {
	s.lookup.Close()
	return s.db.Close()
}

func (s *SQL) Lookup(ctx context.Context, val string) (string, bool, error) {
	var repl sql.NullString
	row := s.lookup.QueryRowContext(ctx, val)
	if err := row.Scan(&repl); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, exterrors.WithFields(
			fmt.Errorf("%s: lookup %s: %w", s.modName, val, err),
			map[string]interface{}{"map": s.instName})
	}
	if !repl.Valid {
		return "", false, exterrors.WithTemporary(
			fmt.Errorf("%s: lookup %s: NULL value", s.modName, val), false)
	}
	return repl.String, true, nil
}

func init() {
	module.Register("table.sql", NewSQL)
}
