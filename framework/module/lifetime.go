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

package module

import (
	"fmt"
	"sync"

	"github.com/spammer-block/spammer-block/framework/log"
)

// LifetimeModule is a table that runs background goroutines between
// Start and Stop.
type LifetimeModule interface {
	Module
	Start() error
	Stop() error
}

// ReloadModule is a table backed by an external source that can be
// re-read on demand.
type ReloadModule interface {
	Module
	Reload() error
}

type tracked struct {
	mod     LifetimeModule
	started bool
}

// LifetimeTracker starts, reloads and stops tables. Reloads come from the
// signal handler so all methods are safe for concurrent use.
type LifetimeTracker struct {
	logger log.Logger

	mu        sync.Mutex
	instances []*tracked
}

func NewLifetime(log log.Logger) *LifetimeTracker {
	return &LifetimeTracker{logger: log}
}

func (lt *LifetimeTracker) Add(mod LifetimeModule) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.instances = append(lt.instances, &tracked{mod: mod})
}

func modFields(mod Module) []interface{} {
	return []interface{}{"mod_name", mod.Name(), "inst_name", mod.InstanceName()}
}

// StartAll starts the tables in the order they were added. On failure the
// already started ones are stopped again.
func (lt *LifetimeTracker) StartAll() error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for _, t := range lt.instances {
		if t.started {
			continue
		}
		if err := t.mod.Start(); err != nil {
			lt.stopAll()
			return fmt.Errorf("failed to start table %v: %w", t.mod.InstanceName(), err)
		}
		t.started = true
		lt.logger.DebugMsg("table started", modFields(t.mod)...)
	}
	return nil
}

// ReloadAll reloads every started table that supports it. A failed reload
// keeps the previous contents and is only logged.
func (lt *LifetimeTracker) ReloadAll() {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	for _, t := range lt.instances {
		rm, ok := t.mod.(ReloadModule)
		if !t.started || !ok {
			continue
		}
		if err := rm.Reload(); err != nil {
			lt.logger.Error("table reload failed", err, modFields(t.mod)...)
			continue
		}
		lt.logger.DebugMsg("table reloaded", modFields(t.mod)...)
	}
}

// StopAll stops the started tables in reverse order.
func (lt *LifetimeTracker) StopAll() {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.stopAll()
}

func (lt *LifetimeTracker) stopAll() {
	for i := len(lt.instances) - 1; i >= 0; i-- {
		t := lt.instances[i]
		if !t.started {
			continue
		}
		if err := t.mod.Stop(); err != nil {
			lt.logger.Error("table stop failed", err, modFields(t.mod)...)
			continue
		}
		t.started = false
		lt.logger.DebugMsg("table stopped", modFields(t.mod)...)
	}
}
