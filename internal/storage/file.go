package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// itemPrefix marks item files. Temp files start with a dot and never
// collide with it.
const itemPrefix = "k_"

// FileArea stores each key as a file in a directory. Every process that
// opens the same directory is a context on the same origin.
type FileArea struct {
	dir  string
	opts options

	mu       sync.Mutex
	known    map[string]*string // last value written or observed per key
	handlers handlers
	watcher  *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

var _ Area = (*FileArea)(nil)
var _ Statter = (*FileArea)(nil)

// OpenFileArea opens (creating if needed) a file-backed local area in dir.
func OpenFileArea(dir string, opts ...Option) (*FileArea, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrUnavailable, dir, err)
	}
	return &FileArea{
		dir:   dir,
		opts:  buildOptions(opts),
		known: make(map[string]*string),
	}, nil
}

// Dir returns the directory backing the area.
func (a *FileArea) Dir() string { return a.dir }

func (a *FileArea) ContextID() string { return a.opts.contextID }

func (a *FileArea) Kind() Kind { return KindLocal }

func itemName(key string) string {
	return itemPrefix + url.PathEscape(key)
}

func keyFromName(name string) (string, bool) {
	if !strings.HasPrefix(name, itemPrefix) {
		return "", false
	}
	key, err := url.PathUnescape(strings.TrimPrefix(name, itemPrefix))
	if err != nil {
		return "", false
	}
	return key, true
}

func (a *FileArea) path(key string) string {
	return filepath.Join(a.dir, itemName(key))
}

// classify maps OS errors onto the storage error kinds.
func classify(op, key string, err error) error {
	switch {
	case errors.Is(err, syscall.ENOSPC):
		return fmt.Errorf("%s %q: %w", op, key, ErrQuotaExceeded)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return fmt.Errorf("%s %q: %w: %v", op, key, ErrUnavailable, err)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

// read returns the on-disk value, or nil when the key is absent.
func (a *FileArea) read(key string) (*string, error) {
	data, err := os.ReadFile(a.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, classify("read", key, err)
	}
	return strPtr(string(data)), nil
}

func (a *FileArea) GetItem(key string) (string, bool, error) {
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return "", false, ErrClosed
	}

	v, err := a.read(key)
	if err != nil || v == nil {
		return "", false, err
	}
	return *v, true, nil
}

// usage returns the bytes used by all items except skip.
func (a *FileArea) usage(skip string) (int64, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		key, ok := keyFromName(e.Name())
		if !ok || key == skip {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += int64(len(key)) + info.Size()
	}
	return total, nil
}

func (a *FileArea) SetItem(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}

	if a.opts.quota > 0 {
		used, err := a.usage(key)
		if err != nil {
			return classify("write", key, err)
		}
		if used+int64(len(key)+len(value)) > a.opts.quota {
			return fmt.Errorf("write %q: %w", key, ErrQuotaExceeded)
		}
	}

	// Write atomically via temp file
	tmp, err := os.CreateTemp(a.dir, ".tmp-*")
	if err != nil {
		return classify("write", key, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return classify("write", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return classify("write", key, err)
	}
	if err := os.Rename(tmpPath, a.path(key)); err != nil {
		os.Remove(tmpPath)
		return classify("write", key, err)
	}

	a.known[key] = strPtr(value)
	return nil
}

func (a *FileArea) RemoveItem(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if err := os.Remove(a.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return classify("remove", key, err)
	}
	a.known[key] = nil
	return nil
}

func (a *FileArea) Len() (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, classify("list", "", err)
	}
	n := 0
	for _, e := range entries {
		if _, ok := keyFromName(e.Name()); ok && e.Type().IsRegular() {
			n++
		}
	}
	return n, nil
}

// Stat returns the size and modification time of the item stored under key.
func (a *FileArea) Stat(key string) (ItemInfo, error) {
	info, err := os.Stat(a.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ItemInfo{}, err
		}
		return ItemInfo{}, classify("stat", key, err)
	}
	return ItemInfo{Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Watch registers fn for changes made to the directory by other contexts.
// The first registration starts an fsnotify watcher on the directory.
func (a *FileArea) Watch(fn func(Event)) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, ErrClosed
	}
	if a.watcher == nil {
		if err := a.startLocked(); err != nil {
			return nil, err
		}
	}

	id := a.handlers.add(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			if a.handlers.remove(id) {
				a.mu.Lock()
				var w *fsnotify.Watcher
				if a.handlers.len() == 0 {
					w = a.stopLocked()
				}
				a.mu.Unlock()
				closeWatcher(w)
			}
		})
	}, nil
}

func (a *FileArea) startLocked() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory rather than the files; renames replace the inode.
	if err := watcher.Add(a.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", a.dir, err)
	}

	// Seed the known values from disk so the first foreign write reports its
	// old value. Values recorded while unwatched may be stale.
	a.known = make(map[string]*string)
	if entries, err := os.ReadDir(a.dir); err == nil {
		for _, e := range entries {
			key, ok := keyFromName(e.Name())
			if !ok {
				continue
			}
			if v, err := a.read(key); err == nil {
				a.known[key] = v
			}
		}
	}

	a.watcher = watcher
	a.done = make(chan struct{})
	a.wg.Add(1)
	go a.watch(watcher, a.done)

	a.opts.logger.Debug("file area watcher started", "dir", a.dir, "context", a.opts.contextID)
	return nil
}

// stopLocked signals the watch loop to exit and returns the watcher, which
// the caller closes after releasing a.mu.
func (a *FileArea) stopLocked() *fsnotify.Watcher {
	if a.watcher == nil {
		return nil
	}
	w := a.watcher
	close(a.done)
	a.watcher = nil
	a.opts.logger.Debug("file area watcher stopped", "dir", a.dir, "context", a.opts.contextID)
	return w
}

func closeWatcher(w *fsnotify.Watcher) {
	if w != nil {
		w.Close()
	}
}

// watch is the main watch loop.
func (a *FileArea) watch(watcher *fsnotify.Watcher, done chan struct{}) {
	defer a.wg.Done()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			key, ok := keyFromName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				a.refresh(key)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.opts.logger.Warn("file area watcher error", "dir", a.dir, "error", err)

		case <-done:
			return
		}
	}
}

// refresh re-reads key and notifies handlers when the value differs from
// the last one this context wrote or observed.
func (a *FileArea) refresh(key string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	current, err := a.read(key)
	if err != nil {
		a.mu.Unlock()
		a.opts.logger.Warn("failed to read changed item", "dir", a.dir, "key", key, "error", err)
		return
	}
	old := a.known[key]
	if sameValue(old, current) {
		a.mu.Unlock()
		return
	}
	a.known[key] = current
	a.mu.Unlock()

	a.handlers.dispatch(Event{Key: key, OldValue: old, NewValue: current})
}

// Close stops the watcher. Files are left in place.
func (a *FileArea) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	w := a.stopLocked()
	a.handlers.clear()
	a.mu.Unlock()

	closeWatcher(w)
	a.wg.Wait()
	return nil
}
