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

// Package module contains the lookup table registry and the interfaces
// implemented by tables.
//
// Each table implementation ("module") is registered under a type name such
// as "table.file". Each configured instance gets its own unique name, the
// socketmap map name, which is used to reference it from Postfix and from
// other tables.
package module

import (
	"github.com/spammer-block/spammer-block/framework/config"
)

// Module is the interface implemented by all table instances.
//
// Additionally, module can implement io.Closer if it needs to perform clean-up
// on shutdown, and LifetimeModule if it runs background goroutines.
type Module interface {
	// Init performs actual initialization of the module.
	//
	// It is not done in FuncNewModule so all instances are registered at
	// time of initialization and can reference each other through reg
	// regardless of their order in the configuration file.
	Init(cfg *config.TableConfig, reg *Registry) error

	// Name method reports module name.
	Name() string

	// InstanceName method reports unique name of this module instance.
	InstanceName() string
}

// FuncNewModule is function that creates new instance of module with specified name.
//
// Module.InstanceName() of the returned module object should return instName.
type FuncNewModule func(modName, instName string) (Module, error)

var modules = make(map[string]FuncNewModule)

// Register adds module factory function to global registry.
//
// name must be unique. Register will panic if module with specified name
// already exists in registry.
//
// You probably want to call this function from func init() of module package.
func Register(name string, factory FuncNewModule) {
	if _, ok := modules[name]; ok {
		panic("Register: module with specified name is already registered: " + name)
	}
	modules[name] = factory
}

// Get returns module from global registry.
// Nil is returned if no module with specified name is registered.
func Get(name string) FuncNewModule {
	return modules[name]
}
