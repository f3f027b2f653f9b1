package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS items (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteArea stores items in a SQLite database. Every connection to the
// same database file is a context on the same origin.
type SQLiteArea struct {
	db   *sql.DB
	path string
	opts options

	mu       sync.Mutex
	known    map[string]string // snapshot while watching
	version  int64
	handlers handlers
	stop     chan struct{}
	wg       sync.WaitGroup
	closed   bool
}

var _ Area = (*SQLiteArea)(nil)
var _ Statter = (*SQLiteArea)(nil)

// OpenSQLiteArea opens (creating if needed) a SQLite-backed local area.
func OpenSQLiteArea(path string, opts ...Option) (*SQLiteArea, error) {
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(wal)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrUnavailable, path, err)
	}
	// One connection: PRAGMA data_version then only moves for commits made
	// by other connections.
	db.SetMaxOpenConns(1)

	a := &SQLiteArea{db: db, path: path, opts: buildOptions(opts)}

	ctx, cancel := a.ctx()
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init %s: %v", ErrUnavailable, path, err)
	}
	return a, nil
}

func (a *SQLiteArea) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.opts.timeout)
}

func (a *SQLiteArea) ContextID() string { return a.opts.contextID }

func (a *SQLiteArea) Kind() Kind { return KindLocal }

func sqliteErr(op, key string, err error) error {
	if strings.Contains(err.Error(), "database or disk is full") {
		return fmt.Errorf("%s %q: %w", op, key, ErrQuotaExceeded)
	}
	if strings.Contains(err.Error(), "readonly database") {
		return fmt.Errorf("%s %q: %w: %v", op, key, ErrUnavailable, err)
	}
	return fmt.Errorf("%s %q: %w", op, key, err)
}

func (a *SQLiteArea) GetItem(key string) (string, bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", false, ErrClosed
	}

	ctx, cancel := a.ctx()
	defer cancel()

	var value string
	err := a.db.QueryRowContext(ctx, `SELECT value FROM items WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, sqliteErr("read", key, err)
	}
	return value, true, nil
}

func (a *SQLiteArea) SetItem(key, value string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	ctx, cancel := a.ctx()
	defer cancel()

	if a.opts.quota > 0 {
		var used int64
		err := a.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(length(CAST(key AS BLOB)) + length(CAST(value AS BLOB))), 0) FROM items WHERE key != ?`,
			key).Scan(&used)
		if err != nil {
			return sqliteErr("write", key, err)
		}
		if used+int64(len(key)+len(value)) > a.opts.quota {
			return fmt.Errorf("write %q: %w", key, ErrQuotaExceeded)
		}
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO items (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixNano())
	if err != nil {
		return sqliteErr("write", key, err)
	}
	if a.known != nil {
		a.known[key] = value
	}
	return nil
}

func (a *SQLiteArea) RemoveItem(key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	ctx, cancel := a.ctx()
	defer cancel()

	if _, err := a.db.ExecContext(ctx, `DELETE FROM items WHERE key = ?`, key); err != nil {
		return sqliteErr("remove", key, err)
	}
	if a.known != nil {
		delete(a.known, key)
	}
	return nil
}

func (a *SQLiteArea) Len() (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return 0, ErrClosed
	}

	ctx, cancel := a.ctx()
	defer cancel()

	var n int
	if err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n); err != nil {
		return 0, sqliteErr("count", "", err)
	}
	return n, nil
}

// Stat returns the size and last update time of the item stored under key.
func (a *SQLiteArea) Stat(key string) (ItemInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ItemInfo{}, ErrClosed
	}

	ctx, cancel := a.ctx()
	defer cancel()

	var size, updated int64
	err := a.db.QueryRowContext(ctx,
		`SELECT length(CAST(value AS BLOB)), updated_at FROM items WHERE key = ?`, key).Scan(&size, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return ItemInfo{}, fmt.Errorf("stat %q: %w", key, fs.ErrNotExist)
	}
	if err != nil {
		return ItemInfo{}, sqliteErr("stat", key, err)
	}
	return ItemInfo{Size: size, ModTime: time.Unix(0, updated)}, nil
}

// snapshot must be called with a.mu held.
func (a *SQLiteArea) snapshot(ctx context.Context) (map[string]string, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT key, value FROM items`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		items[k] = v
	}
	return items, rows.Err()
}

// dataVersion must be called with a.mu held.
func (a *SQLiteArea) dataVersion(ctx context.Context) (int64, error) {
	var v int64
	err := a.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&v)
	return v, err
}

// Watch registers fn for commits made by other connections. The first
// registration starts a poller on PRAGMA data_version.
func (a *SQLiteArea) Watch(fn func(Event)) (func(), error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}

	if a.stop == nil {
		ctx, cancel := a.ctx()
		defer cancel()

		version, err := a.dataVersion(ctx)
		if err != nil {
			return nil, sqliteErr("watch", "", err)
		}
		known, err := a.snapshot(ctx)
		if err != nil {
			return nil, sqliteErr("watch", "", err)
		}
		a.version = version
		a.known = known
		a.stop = make(chan struct{})
		a.wg.Add(1)
		go a.poll(a.stop)
		a.opts.logger.Debug("sqlite area watcher started", "path", a.path, "interval", a.opts.pollInterval)
	}

	id := a.handlers.add(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			if a.handlers.remove(id) {
				a.mu.Lock()
				if a.handlers.len() == 0 {
					a.stopLocked()
				}
				a.mu.Unlock()
			}
		})
	}, nil
}

func (a *SQLiteArea) stopLocked() {
	if a.stop == nil {
		return
	}
	close(a.stop)
	a.stop = nil
	a.known = nil
}

func (a *SQLiteArea) poll(stop chan struct{}) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.opts.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, ev := range a.checkForChanges(stop) {
				a.handlers.dispatch(ev)
			}
		}
	}
}

// checkForChanges diffs the table against the last snapshot when another
// connection has committed since the previous check.
func (a *SQLiteArea) checkForChanges(stop chan struct{}) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.stop != stop {
		return nil
	}

	ctx, cancel := a.ctx()
	defer cancel()

	version, err := a.dataVersion(ctx)
	if err != nil {
		a.opts.logger.Warn("sqlite area poll failed", "path", a.path, "error", err)
		return nil
	}
	if version == a.version {
		return nil
	}
	a.version = version

	current, err := a.snapshot(ctx)
	if err != nil {
		a.opts.logger.Warn("sqlite area poll failed", "path", a.path, "error", err)
		return nil
	}

	var events []Event
	for k, v := range current {
		old, ok := a.known[k]
		switch {
		case !ok:
			events = append(events, Event{Key: k, NewValue: strPtr(v)})
		case old != v:
			events = append(events, Event{Key: k, OldValue: strPtr(old), NewValue: strPtr(v)})
		}
	}
	for k, old := range a.known {
		if _, ok := current[k]; !ok {
			events = append(events, Event{Key: k, OldValue: strPtr(old)})
		}
	}
	a.known = current
	slices.SortFunc(events, func(x, y Event) int { return strings.Compare(x.Key, y.Key) })
	return events
}

func (a *SQLiteArea) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.stopLocked()
	a.handlers.clear()
	a.mu.Unlock()

	a.wg.Wait()
	return a.db.Close()
}
