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
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/spammer-block/spammer-block/framework/config"
	"github.com/spammer-block/spammer-block/framework/log"
)

var (
	ErrInstanceNameDuplicate = errors.New("instance name already registered")
	ErrInstanceUnknown       = errors.New("no such instance registered")
	ErrNotATable             = errors.New("module is not a table")
)

type registryEntry struct {
	Mod Module
	Cfg *config.TableConfig
}

// Registry holds the configured table instances. It is populated and
// initialized once; after that it is only read and may be shared between
// goroutines.
type Registry struct {
	logger       log.Logger
	instances    map[string]registryEntry
	initialized  map[string]struct{}
	initializing map[string]struct{}
	initOrder    []Module
	lifetime     *LifetimeTracker
}

func NewRegistry(log log.Logger) *Registry {
	return &Registry{
		logger:       log,
		instances:    make(map[string]registryEntry),
		initialized:  make(map[string]struct{}),
		initializing: make(map[string]struct{}),
		lifetime:     NewLifetime(log),
	}
}

// Configure creates and initializes a table for each configuration block.
func (r *Registry) Configure(cfgs []config.TableConfig) error {
	for i := range cfgs {
		cfg := &cfgs[i]
		if cfg.Name == "" {
			return fmt.Errorf("map #%d: missing name", i+1)
		}
		modName := "table." + cfg.Type
		factory := Get(modName)
		if factory == nil {
			return fmt.Errorf("map %s: unknown table type: %q", cfg.Name, cfg.Type)
		}
		mod, err := factory(modName, cfg.Name)
		if err != nil {
			return fmt.Errorf("map %s: %w", cfg.Name, err)
		}
		if err := r.Register(mod, cfg); err != nil {
			return fmt.Errorf("map %s: %w", cfg.Name, err)
		}
	}

	for _, name := range r.Names() {
		if _, err := r.Get(name); err != nil {
			return err
		}
	}
	return nil
}

// Register adds not-initialized (configured) module into registry.
//
// Init will be called on first request to get the module from registry.
func (r *Registry) Register(mod Module, cfg *config.TableConfig) error {
	instName := mod.InstanceName()
	if instName == "" {
		panic("module with empty instance name cannot be added to the registry")
	}

	_, ok := r.instances[instName]
	if ok {
		return ErrInstanceNameDuplicate
	}

	r.instances[instName] = registryEntry{
		Mod: mod,
		Cfg: cfg,
	}
	return nil
}

func (r *Registry) ensureInitialized(name string, entry *registryEntry) error {
	if _, ok := r.initialized[name]; ok {
		return nil
	}
	if _, ok := r.initializing[name]; ok {
		return fmt.Errorf("map %s: circular reference", name)
	}
	r.initializing[name] = struct{}{}
	defer delete(r.initializing, name)

	r.logger.DebugMsg("module configure",
		"mod_name", entry.Mod.Name(), "inst_name", entry.Mod.InstanceName())
	if err := entry.Mod.Init(entry.Cfg, r); err != nil {
		return fmt.Errorf("map %s: %w", name, err)
	}
	r.initialized[name] = struct{}{}
	r.initOrder = append(r.initOrder, entry.Mod)

	if lm, ok := entry.Mod.(LifetimeModule); ok {
		r.lifetime.Add(lm)
	}
	return nil
}

func (r *Registry) Get(name string) (Module, error) {
	if name == "" {
		panic("cannot get module with empty name")
	}

	mod, ok := r.instances[name]
	if !ok {
		return nil, ErrInstanceUnknown
	}

	if err := r.ensureInitialized(name, &mod); err != nil {
		return nil, err
	}

	return mod.Mod, nil
}

// Table returns the table registered under name.
func (r *Registry) Table(name string) (Table, error) {
	mod, err := r.Get(name)
	if err != nil {
		return nil, err
	}
	tbl, ok := mod.(Table)
	if !ok {
		return nil, ErrNotATable
	}
	return tbl, nil
}

// Names returns the sorted instance names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Start starts background activity (e.g. file reloading) of the tables.
func (r *Registry) Start() error {
	return r.lifetime.StartAll()
}

// Reload asks every table that supports it to re-read its source.
func (r *Registry) Reload() {
	r.lifetime.ReloadAll()
}

// Close stops the tables and releases their resources in reverse
// initialization order.
func (r *Registry) Close() error {
	r.lifetime.StopAll()

	var errs []error
	for i := len(r.initOrder) - 1; i >= 0; i-- {
		mod := r.initOrder[i]
		closer, ok := mod.(io.Closer)
		if !ok {
			continue
		}
		r.logger.DebugMsg("close", "mod_name", mod.Name(), "inst_name", mod.InstanceName())
		if err := closer.Close(); err != nil {
			r.logger.Error("module close failed", err, "mod_name", mod.Name(), "inst_name", mod.InstanceName())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
