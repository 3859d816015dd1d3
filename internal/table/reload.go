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

package table

import (
	"errors"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/spammer-block/spammer-block/framework/log"
)

var reloadInterval = 15 * time.Second

// fileSource keeps the parsed contents of a file and re-reads it when the
// modification time changes. The parsed value is never modified in place,
// it is replaced as a whole.
type fileSource[T any] struct {
	path  string
	parse func(path string) (T, error)
	log   log.Logger

	mu    sync.RWMutex
	cur   T
	stamp time.Time

	stopReloader chan struct{}
	forceReload  chan chan struct{}
}

func newFileSource[T any](path string, parse func(string) (T, error), logger log.Logger) *fileSource[T] {
	return &fileSource[T]{
		path:         path,
		parse:        parse,
		log:          logger,
		stopReloader: make(chan struct{}),
		forceReload:  make(chan chan struct{}),
	}
}

// load performs the initial read. A missing file is not an error, it is
// treated as empty until it appears.
func (fs *fileSource[T]) load() error {
	info, err := os.Stat(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fs.log.Printf("ignoring non-existent file: %s", fs.path)
			return nil
		}
		return err
	}

	val, err := fs.parse(fs.path)
	if err != nil {
		return err
	}

	fs.mu.Lock()
	fs.cur = val
	fs.stamp = info.ModTime()
	fs.mu.Unlock()
	return nil
}

func (fs *fileSource[T]) get() T {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.cur
}

func (fs *fileSource[T]) start() {
	go fs.reloader()
}

func (fs *fileSource[T]) stop() {
	fs.stopReloader <- struct{}{}
	<-fs.stopReloader
}

// reloadNow forces a reload and waits for it to complete.
func (fs *fileSource[T]) reloadNow() {
	done := make(chan struct{})
	fs.forceReload <- done
	<-done
}

func (fs *fileSource[T]) reloader() {
	defer func() {
		if err := recover(); err != nil {
			stack := debug.Stack()
			log.Printf("panic during %s reload: %v\n%s", fs.path, err, stack)
		}
	}()

	t := time.NewTicker(reloadInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			fs.reload(false)

		case done := <-fs.forceReload:
			fs.reload(true)
			close(done)

		case <-fs.stopReloader:
			fs.stopReloader <- struct{}{}
			return
		}
	}
}

func (fs *fileSource[T]) reload(force bool) {
	info, err := os.Stat(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			var empty T
			fs.mu.Lock()
			fs.cur = empty
			fs.stamp = time.Time{}
			fs.mu.Unlock()
			return
		}
		fs.log.Error("os stat", err)
		return
	}

	fs.mu.RLock()
	stamp := fs.stamp
	fs.mu.RUnlock()
	if !force {
		// Skip files that are older than the loaded copy or are possibly
		// being written.
		if info.ModTime().Before(stamp) || time.Since(info.ModTime()) < (reloadInterval/2) {
			return
		}
	}

	fs.log.Debugf("reloading %s", fs.path)

	val, err := fs.parse(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fs.log.Printf("ignoring non-existent file: %s", fs.path)
			return
		}
		fs.log.Error("reload failed, keeping the old contents", err)
		return
	}

	// The file may have changed while it was parsed; pick it up on the
	// next tick.
	info2, err := os.Stat(fs.path)
	if err != nil {
		fs.log.Error("os stat", err)
		return
	}
	if !info2.ModTime().Equal(info.ModTime()) {
		return
	}

	fs.mu.Lock()
	fs.cur = val
	fs.stamp = info.ModTime()
	fs.mu.Unlock()
}
