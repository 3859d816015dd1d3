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

// Package hooks provides process-wide lifecycle events that long-lived
// components subscribe to.
package hooks

import "sync"

type Event int

const (
	// EventShutdown runs when the process is about to exit.
	EventShutdown Event = iota

	// EventReload runs on SIGUSR2. File backed lookup tables re-read their
	// sources.
	EventReload

	// EventLogRotate runs on SIGUSR1. Log files are reopened since they
	// might have been rotated.
	EventLogRotate
)

type hook struct {
	id int
	f  func()
}

var (
	mu     sync.Mutex
	nextID int
	hooks  = make(map[Event][]hook)
)

// RunHooks runs the hooks for ev, most recently added first. The hooks run
// without the registry lock held and may add or remove hooks.
func RunHooks(ev Event) {
	mu.Lock()
	toRun := append([]hook(nil), hooks[ev]...)
	mu.Unlock()

	for i := len(toRun) - 1; i >= 0; i-- {
		toRun[i].f()
	}
}

// AddHook installs f for ev. The returned function removes it again.
func AddHook(ev Event, f func()) (remove func()) {
	mu.Lock()
	defer mu.Unlock()

	nextID++
	id := nextID
	hooks[ev] = append(hooks[ev], hook{id: id, f: f})

	return func() {
		mu.Lock()
		defer mu.Unlock()
		list := hooks[ev]
		for i, h := range list {
			if h.id == id {
				hooks[ev] = append(list[:i:i], list[i+1:]...)
				return
			}
		}
	}
}
