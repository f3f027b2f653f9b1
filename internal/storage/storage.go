// Package storage provides origin-scoped key-value areas with cross-context
// change notification.
//
// An Area is one context's handle on a storage origin, the way a browser tab
// sees localStorage. Writes made through one Area are reported to watchers of
// every other Area on the same origin, never to the writer's own watchers.
package storage

import (
	"crypto/rand"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Kind distinguishes shared (local) from per-context (session) storage.
type Kind string

const (
	KindLocal   Kind = "local"
	KindSession Kind = "session"
)

// ParseKind accepts the short names and the browser names of each kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "local", "localStorage":
		return KindLocal, true
	case "session", "sessionStorage":
		return KindSession, true
	}
	return "", false
}

// Storage errors.
var (
	ErrUnavailable      = errors.New("storage unavailable")
	ErrQuotaExceeded    = errors.New("storage quota exceeded")
	ErrClosed           = errors.New("storage area is closed")
	ErrWatchUnsupported = errors.New("storage area does not support watching")
)

// Event describes a change made to an origin by another context.
type Event struct {
	Key      string
	OldValue *string
	NewValue *string // nil when the key was removed
	Source   string  // context id of the writer, when known
}

// Area is a key-value storage area as seen from one context.
type Area interface {
	// ContextID identifies this context within its origin.
	ContextID() string

	Kind() Kind

	// GetItem returns the value stored under key and whether it exists.
	GetItem(key string) (string, bool, error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(key string) error

	// Len returns the number of stored keys.
	Len() (int, error)

	// Watch registers fn for changes made by other contexts. The returned
	// cancel func unregisters it and is safe to call more than once.
	Watch(fn func(Event)) (cancel func(), err error)

	Close() error
}

// ItemInfo describes a stored item.
type ItemInfo struct {
	Size    int64
	ModTime time.Time
}

// Statter is implemented by areas that track item metadata.
type Statter interface {
	Stat(key string) (ItemInfo, error)
}

// probeKey is written and removed by IsAvailable.
const probeKey = "__storage_test__"

// IsAvailable probes area by writing and removing a sentinel key. A quota
// failure still counts as available unless the area reports itself empty.
func IsAvailable(area Area) bool {
	if area == nil {
		return false
	}
	err := area.SetItem(probeKey, probeKey)
	if err == nil {
		err = area.RemoveItem(probeKey)
	}
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		return false
	}
	n, lenErr := area.Len()
	return lenErr != nil || n != 0
}

// NewContextID returns a fresh context identifier.
func NewContextID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// Option configures an Area.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	contextID    string
	quota        int64
	disabled     bool
	pollInterval time.Duration
	timeout      time.Duration
}

func buildOptions(opts []Option) options {
	o := options{
		pollInterval: 500 * time.Millisecond,
		timeout:      5 * time.Second,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.contextID == "" {
		o.contextID = NewContextID()
	}
	return o
}

// WithLogger sets the logger used for watcher diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithContextID overrides the generated context id.
func WithContextID(id string) Option {
	return func(o *options) { o.contextID = id }
}

// WithQuota limits the total size of keys plus values in bytes (0 = unlimited).
func WithQuota(bytes int64) Option {
	return func(o *options) { o.quota = bytes }
}

// WithDisabled makes a memory origin reject every operation with
// ErrUnavailable, like storage in a locked-down browser profile.
func WithDisabled() Option {
	return func(o *options) { o.disabled = true }
}

// WithPollInterval sets how often polling watchers check for changes.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithTimeout bounds each round trip to a networked backend.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// handlers is a registry of watch callbacks.
type handlers struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(Event)
}

func (h *handlers) add(fn func(Event)) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fns == nil {
		h.fns = make(map[int]func(Event))
	}
	h.next++
	h.fns[h.next] = fn
	return h.next
}

// remove deletes a handler and reports whether none remain.
func (h *handlers) remove(id int) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.fns, id)
	return len(h.fns) == 0
}

func (h *handlers) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.fns)
}

func (h *handlers) dispatch(ev Event) {
	h.mu.Lock()
	ids := slices.Sorted(maps.Keys(h.fns)) // registration order
	fns := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.fns[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (h *handlers) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fns = nil
}

func sameValue(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtr(s string) *string {
	return &s
}
