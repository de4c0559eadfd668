// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"context"
	"crypto/sha1"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileDebounce is the default duration we wait for the contents to have
// stabilised to work around some editors writing an empty file and then the
// buffer.
const FileDebounce = 10 * time.Millisecond

// Change is a change to the contents of a watched file.
type Change struct {
	Path  string
	Event []fsnotify.Event
	Sum   *Sum
	Err   error
}

// Op returns an aggregated fsnotify.Op for all elements of the receivers'
// Event field.
func (c Change) Op() fsnotify.Op {
	var op fsnotify.Op
	for _, e := range c.Event {
		op |= e.Op
	}
	return op
}

// Watcher watches a single file and reports changes to its contents.
// Events that do not alter the file's contents are not reported.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	changes  chan<- Change
	last     *Sum
	log      *slog.Logger
}

// NewWatcher returns a Watcher for the file at path, sending content changes
// on the changes channel when Run is called. The file's directory is watched
// so that replacement of the file by rename is seen. The debounce parameter
// specifies how long to wait after an fsnotify.Event before reading the file
// to ensure that writes will be reflected in the content sum. If it is less
// than zero, FileDebounce is used.
func NewWatcher(path string, changes chan<- Change, debounce time.Duration, log *slog.Logger) (*Watcher, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return nil, err
	}
	if debounce < 0 {
		debounce = FileDebounce
	}
	w := &Watcher{
		path:     path,
		debounce: debounce,
		watcher:  watcher,
		changes:  changes,
		log:      log.With(slog.String("component", "config.watcher"), slog.String("path", path)),
	}
	sum, err := w.sum()
	if err == nil {
		w.last = sum
	} else if !errors.Is(err, fs.ErrNotExist) {
		watcher.Close()
		return nil, err
	}
	return w, nil
}

// Run processes file system events until ctx is cancelled or the watcher
// is closed. Run closes the underlying fsnotify.Watcher when it returns.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	var (
		pending []fsnotify.Event
		timer   *time.Timer
		fire    <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			w.log.LogAttrs(ctx, slog.LevelDebug, "event", slog.String("op", ev.Op.String()))
			pending = append(pending, ev)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.log.LogAttrs(ctx, slog.LevelWarn, "watch error", slog.Any("error", err))
			if !w.send(ctx, Change{Path: w.path, Err: err}) {
				return ctx.Err()
			}

		case <-fire:
			fire = nil
			events := pending
			pending = nil
			sum, err := w.sum()
			switch {
			case errors.Is(err, fs.ErrNotExist):
				w.log.LogAttrs(ctx, slog.LevelDebug, "file removed")
				w.last = nil
				continue
			case err != nil:
				if !w.send(ctx, Change{Path: w.path, Event: events, Err: err}) {
					return ctx.Err()
				}
				continue
			}
			if w.last.Equal(sum) {
				w.log.LogAttrs(ctx, slog.LevelDebug, "no content change", slog.String("sum", sum.String()))
				continue
			}
			w.last = sum
			w.log.LogAttrs(ctx, slog.LevelInfo, "content change", slog.String("sum", sum.String()))
			if !w.send(ctx, Change{Path: w.path, Event: events, Sum: sum}) {
				return ctx.Err()
			}
		}
	}
}

// send sends c on the changes channel unless ctx is cancelled first.
func (w *Watcher) send(ctx context.Context, c Change) bool {
	select {
	case w.changes <- c:
		return true
	case <-ctx.Done():
		return false
	}
}

// sum returns the SHA-1 sum of the watched file's contents.
func (w *Watcher) sum() (*Sum, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	h := sha1.New()
	_, err = io.Copy(h, f)
	if err != nil {
		return nil, err
	}
	return (*Sum)(h.Sum(nil)), nil
}

// Close stops the watcher. It is not necessary to call Close if
// Run has been called.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
