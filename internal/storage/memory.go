package storage

import (
	"sync"
)

// memoryItems is a size-accounted map of items.
type memoryItems struct {
	items map[string]string
	size  int64
	quota int64
}

func newMemoryItems(quota int64) *memoryItems {
	return &memoryItems{items: make(map[string]string), quota: quota}
}

// set stores value and returns the previous value, if any.
func (m *memoryItems) set(key, value string) (*string, error) {
	newSize := m.size + int64(len(value))
	old, exists := m.items[key]
	if exists {
		newSize -= int64(len(old))
	} else {
		newSize += int64(len(key))
	}
	if m.quota > 0 && newSize > m.quota {
		return nil, ErrQuotaExceeded
	}
	m.items[key] = value
	m.size = newSize
	if !exists {
		return nil, nil
	}
	return &old, nil
}

func (m *memoryItems) remove(key string) *string {
	old, exists := m.items[key]
	if !exists {
		return nil
	}
	delete(m.items, key)
	m.size -= int64(len(key) + len(old))
	return &old
}

// Origin is an in-process storage origin shared by any number of contexts.
type Origin struct {
	mu       sync.Mutex
	opts     options
	shared   *memoryItems
	contexts map[*MemoryArea]struct{}
}

// NewOrigin creates an empty in-process origin. WithQuota and WithDisabled
// apply to every context opened on it.
func NewOrigin(opts ...Option) *Origin {
	o := buildOptions(opts)
	return &Origin{
		opts:     o,
		shared:   newMemoryItems(o.quota),
		contexts: make(map[*MemoryArea]struct{}),
	}
}

// Context opens a new context on the origin. Local contexts share the
// origin's items; each session context gets a private item map.
func (o *Origin) Context(kind Kind) *MemoryArea {
	a := &MemoryArea{
		origin: o,
		id:     NewContextID(),
		kind:   kind,
		items:  o.shared,
	}
	if kind == KindSession {
		a.items = newMemoryItems(o.opts.quota)
	}

	o.mu.Lock()
	o.contexts[a] = struct{}{}
	o.mu.Unlock()
	return a
}

// MemoryArea is one context's view of an Origin.
type MemoryArea struct {
	origin   *Origin
	id       string
	kind     Kind
	items    *memoryItems // guarded by origin.mu
	handlers handlers
	closed   bool // guarded by origin.mu
}

var _ Area = (*MemoryArea)(nil)

func (a *MemoryArea) ContextID() string { return a.id }

func (a *MemoryArea) Kind() Kind { return a.kind }

// check must be called with origin.mu held.
func (a *MemoryArea) check() error {
	if a.closed {
		return ErrClosed
	}
	if a.origin.opts.disabled {
		return ErrUnavailable
	}
	return nil
}

func (a *MemoryArea) GetItem(key string) (string, bool, error) {
	a.origin.mu.Lock()
	defer a.origin.mu.Unlock()

	if err := a.check(); err != nil {
		return "", false, err
	}
	v, ok := a.items.items[key]
	return v, ok, nil
}

func (a *MemoryArea) SetItem(key, value string) error {
	a.origin.mu.Lock()
	if err := a.check(); err != nil {
		a.origin.mu.Unlock()
		return err
	}
	old, err := a.items.set(key, value)
	if err != nil {
		a.origin.mu.Unlock()
		return err
	}
	if sameValue(old, &value) {
		a.origin.mu.Unlock()
		return nil
	}
	peers := a.peers()
	a.origin.mu.Unlock()

	a.notify(peers, Event{Key: key, OldValue: old, NewValue: strPtr(value), Source: a.id})
	return nil
}

func (a *MemoryArea) RemoveItem(key string) error {
	a.origin.mu.Lock()
	if err := a.check(); err != nil {
		a.origin.mu.Unlock()
		return err
	}
	old := a.items.remove(key)
	if old == nil {
		a.origin.mu.Unlock()
		return nil
	}
	peers := a.peers()
	a.origin.mu.Unlock()

	a.notify(peers, Event{Key: key, OldValue: old, Source: a.id})
	return nil
}

func (a *MemoryArea) Len() (int, error) {
	a.origin.mu.Lock()
	defer a.origin.mu.Unlock()

	if err := a.check(); err != nil {
		return 0, err
	}
	return len(a.items.items), nil
}

// peers returns the other open local contexts. Must be called with
// origin.mu held.
func (a *MemoryArea) peers() []*MemoryArea {
	if a.kind != KindLocal {
		return nil
	}
	var peers []*MemoryArea
	for c := range a.origin.contexts {
		if c != a && c.kind == KindLocal && !c.closed {
			peers = append(peers, c)
		}
	}
	return peers
}

// notify delivers ev synchronously, after the origin lock is released, so
// handlers may call back into the origin.
func (a *MemoryArea) notify(peers []*MemoryArea, ev Event) {
	for _, p := range peers {
		p.handlers.dispatch(ev)
	}
}

// Watch registers fn for writes made by other local contexts of the origin.
// Session contexts are private and cannot be watched.
func (a *MemoryArea) Watch(fn func(Event)) (func(), error) {
	a.origin.mu.Lock()
	defer a.origin.mu.Unlock()

	if err := a.check(); err != nil {
		return nil, err
	}
	if a.kind != KindLocal {
		return nil, ErrWatchUnsupported
	}

	id := a.handlers.add(fn)
	var once sync.Once
	return func() {
		once.Do(func() { a.handlers.remove(id) })
	}, nil
}

func (a *MemoryArea) Close() error {
	a.origin.mu.Lock()
	defer a.origin.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	delete(a.origin.contexts, a)
	a.handlers.clear()
	return nil
}
