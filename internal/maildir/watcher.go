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

// Package maildir reports spam dropped into Maildir folders.
package maildir

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/eapache/queue"
	"github.com/fsnotify/fsnotify"
	"github.com/spammer-block/spammer-block/framework/exterrors"
	"github.com/spammer-block/spammer-block/framework/log"
	"github.com/spammer-block/spammer-block/internal/reporter"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = 5 * time.Second
)

// Watcher monitors the new and cur directories of Maildir folders and
// reports every message that appears in them once.
type Watcher struct {
	Base       string
	Folders    []string
	Reporter   reporter.Reporter
	BatchSize  int
	BatchDelay time.Duration
	Log        log.Logger

	fsw     *fsnotify.Watcher
	dirs    map[string]string
	pending *queue.Queue
	seen    map[string]struct{}
}

type pendingFile struct {
	folder string
	unique string
	path   string
}

// UniqueName strips the info suffix (":2,FLAGS") from a Maildir file name.
func UniqueName(name string) string {
	if i := strings.IndexByte(name, ':'); i != -1 {
		return name[:i]
	}
	return name
}

// Watch starts watching the folders. Messages already present are not
// reported.
func (w *Watcher) Watch() error {
	if w.fsw != nil {
		return nil
	}
	if len(w.Folders) == 0 {
		return errors.New("maildir: no folders to watch")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	w.dirs = make(map[string]string)
	w.pending = queue.New()
	w.seen = make(map[string]struct{})

	for _, folder := range w.Folders {
		folderDir := filepath.Join(w.Base, folder)
		for _, sub := range []string{"new", "cur"} {
			dir := filepath.Join(folderDir, sub)
			if err := fsw.Add(dir); err != nil {
				fsw.Close()
				return exterrors.WithFields(err, map[string]interface{}{"folder": folder, "dir": dir})
			}
			w.dirs[dir] = folderDir

			// Files moved from new to cur keep their unique name.
			entries, err := os.ReadDir(dir)
			if err != nil {
				fsw.Close()
				return err
			}
			for _, e := range entries {
				w.seen[UniqueName(e.Name())] = struct{}{}
			}
		}
		w.Log.Msg("watching folder", "folder", folderDir)
	}

	w.fsw = fsw
	return nil
}

// Run processes filesystem events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Watch(); err != nil {
		return err
	}
	defer w.fsw.Close()

	batchSize := w.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	batchDelay := w.BatchDelay
	if batchDelay <= 0 {
		batchDelay = DefaultBatchDelay
	}

	var flushC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if w.pending.Length() != 0 {
				w.Log.Msg("stopping with unreported messages", "count", w.pending.Length())
			}
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.enqueue(ev.Name)
			if w.pending.Length() >= batchSize {
				w.flush(ctx, batchSize)
				flushC = nil
			}
			if w.pending.Length() != 0 && flushC == nil {
				flushC = time.After(batchDelay)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.Log.Error("watcher error", err)
		case <-flushC:
			w.flush(ctx, batchSize)
			flushC = nil
			if w.pending.Length() != 0 {
				flushC = time.After(batchDelay)
			}
		}
	}
}

func (w *Watcher) enqueue(path string) {
	folderDir, ok := w.dirs[filepath.Dir(path)]
	if !ok {
		return
	}
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return
	}
	unique := UniqueName(name)
	if _, dup := w.seen[unique]; dup {
		return
	}

	// Rename events are also sent for the old name, which is gone by now.
	fi, err := os.Stat(path)
	if err != nil {
		return
	}
	if fi.IsDir() {
		w.Log.Msg("directory created in a watched folder, skipping", "path", path)
		return
	}

	w.seen[unique] = struct{}{}
	w.pending.Add(pendingFile{folder: folderDir, unique: unique, path: path})
	w.Log.DebugMsg("new message", "path", path)
}

// locate returns the current path of a message that may have been moved
// between new and cur or had its flags changed since it was queued.
func locate(f pendingFile) (string, error) {
	if _, err := os.Stat(f.path); err == nil {
		return f.path, nil
	}
	for _, sub := range []string{"cur", "new"} {
		matches, err := filepath.Glob(filepath.Join(f.folder, sub, f.unique+"*"))
		if err != nil {
			return "", err
		}
		for _, m := range matches {
			if UniqueName(filepath.Base(m)) == f.unique {
				return m, nil
			}
		}
	}
	return "", fs.ErrNotExist
}

func (w *Watcher) flush(ctx context.Context, batchSize int) {
	var (
		files   []pendingFile
		samples []reporter.Sample
	)
	for w.pending.Length() != 0 && len(files) < batchSize {
		f := w.pending.Remove().(pendingFile)
		path, err := locate(f)
		if err != nil {
			w.Log.DebugMsg("message gone before reporting", "path", f.path)
			continue
		}
		smpl, err := reporter.SampleFromFile(path)
		if err != nil {
			w.Log.Error("cannot read message", err, "path", path)
			continue
		}
		files = append(files, f)
		samples = append(samples, smpl)
	}
	if len(samples) == 0 {
		return
	}

	if err := w.Reporter.Report(ctx, samples); err != nil {
		w.Log.Error("report failed", err, "count", len(samples))
		if exterrors.IsTemporaryOrUnspec(err) && ctx.Err() == nil {
			for _, f := range files {
				w.pending.Add(f)
			}
		}
		return
	}
	w.Log.Msg("reported messages", "count", len(samples))
}
