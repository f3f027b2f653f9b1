// Package state persists the user's settings in a storage area under a
// single key and reports changes made by other contexts.
//
// Nothing in this package returns an error to its caller. Storage and data
// failures are logged as diagnostics and degrade to a nil state (reads) or
// a no-op (writes).
package state

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/jmylchreest/folio/internal/settings"
	"github.com/jmylchreest/folio/internal/storage"
)

// DefaultKey is the storage key the state is kept under.
const DefaultKey = "state"

// Store reads, writes and watches the persisted settings.
type Store struct {
	local  storage.Area
	areas  map[storage.Kind]storage.Area
	key    string
	logger *slog.Logger

	mu      sync.Mutex
	cancels map[int]func()
	next    int
}

// Option configures a Store.
type Option func(*Store)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(s *Store) { s.key = key }
}

// WithSessionArea registers a session area for IsAvailable probes.
func WithSessionArea(area storage.Area) Option {
	return func(s *Store) { s.areas[storage.KindSession] = area }
}

// WithLogger sets the logger diagnostics are written to.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a Store persisting into local.
func NewStore(local storage.Area, opts ...Option) *Store {
	s := &Store{
		local:   local,
		areas:   map[storage.Kind]storage.Area{storage.KindLocal: local},
		key:     DefaultKey,
		cancels: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Key returns the storage key.
func (s *Store) Key() string { return s.key }

// Area returns the local area the state is persisted in.
func (s *Store) Area() storage.Area { return s.local }

// IsAvailable reports whether the area of the given kind is usable.
func (s *Store) IsAvailable(kind storage.Kind) bool {
	area := s.areas[kind]
	if area == nil {
		return false
	}
	return storage.IsAvailable(area)
}

// GetState returns the persisted state, or nil when storage is unavailable,
// nothing is stored, or the stored value is invalid.
func (s *Store) GetState() *settings.PersistentState {
	if !s.IsAvailable(storage.KindLocal) {
		return nil
	}

	text, ok, err := s.local.GetItem(s.key)
	if err != nil {
		s.logger.Error("cannot retrieve persistent state", "key", s.key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}

	state, err := settings.Parse(text)
	if err != nil {
		s.invalid(text, err)
		return nil
	}
	return state
}

// SetState persists state, replacing what is stored. A nil state removes
// the key. Invalid states are rejected and not written.
func (s *Store) SetState(state *settings.PersistentState) {
	if state == nil {
		if err := s.local.RemoveItem(s.key); err != nil {
			s.logger.Error("cannot remove persistent state", "key", s.key, "value", nil, "error", err)
		}
		return
	}

	text, err := state.Marshal()
	if err != nil {
		s.logger.Error("refusing to store invalid persistent state", "key", s.key, "value", state, "error", err)
		return
	}
	if err := s.local.SetItem(s.key, text); err != nil {
		s.logger.Error("cannot store persistent state", "key", s.key, "value", text, "error", err)
	}
}

// Clear removes the persisted state.
func (s *Store) Clear() {
	s.SetState(nil)
}

// OnStateChange registers callback for changes made to the state by other
// contexts. The callback receives nil when the key is removed, and also when
// the new value is invalid (after a diagnostic is logged), the same result
// GetState would give. The returned func unregisters the callback.
func (s *Store) OnStateChange(callback func(*settings.PersistentState)) func() {
	cancel, err := s.local.Watch(func(ev storage.Event) {
		if ev.Key != s.key {
			return
		}
		if ev.NewValue == nil {
			callback(nil)
			return
		}
		state, err := settings.Parse(*ev.NewValue)
		if err != nil {
			s.invalid(*ev.NewValue, err)
			callback(nil)
			return
		}
		callback(state)
	})
	if err != nil {
		s.logger.Error("cannot watch persistent state", "key", s.key, "error", err)
		return func() {}
	}

	s.mu.Lock()
	s.next++
	id := s.next
	s.cancels[id] = cancel
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.cancels, id)
			s.mu.Unlock()
			cancel()
		})
	}
}

// Close unregisters every callback added through OnStateChange. The
// underlying areas are left open.
func (s *Store) Close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = make(map[int]func())
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// invalid logs a parse or validation failure with the offending value.
func (s *Store) invalid(text string, err error) {
	var value any = text
	var verr *settings.ValidationError
	if errors.As(err, &verr) {
		value = verr.Value
	}
	s.logger.Error("invalid persistent state", "key", s.key, "value", value, "error", err)
}
