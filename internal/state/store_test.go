package state

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jmylchreest/folio/internal/settings"
	"github.com/jmylchreest/folio/internal/storage"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recorder is a slog.Handler that keeps every record.
type recorder struct {
	mu      sync.Mutex
	records []slog.Record
}

func (r *recorder) Enabled(context.Context, slog.Level) bool { return true }

func (r *recorder) Handle(_ context.Context, rec slog.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) WithAttrs([]slog.Attr) slog.Handler { return r }
func (r *recorder) WithGroup(string) slog.Handler      { return r }

func (r *recorder) errors() []slog.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []slog.Record
	for _, rec := range r.records {
		if rec.Level >= slog.LevelError {
			out = append(out, rec)
		}
	}
	return out
}

func attr(rec slog.Record, key string) (slog.Value, bool) {
	var v slog.Value
	found := false
	rec.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v, found = a.Value, true
			return false
		}
		return true
	})
	return v, found
}

func newTestStore(t *testing.T, area storage.Area, opts ...Option) (*Store, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts = append([]Option{WithLogger(slog.New(rec))}, opts...)
	s := NewStore(area, opts...)
	t.Cleanup(s.Close)
	return s, rec
}

func TestStore_RoundTrip(t *testing.T) {
	for _, theme := range settings.Themes {
		t.Run(string(theme), func(t *testing.T) {
			s, rec := newTestStore(t, storage.NewOrigin().Context(storage.KindLocal))

			s.SetState(settings.New(theme))
			got := s.GetState()

			if diff := cmp.Diff(settings.New(theme), got); diff != "" {
				t.Errorf("GetState() mismatch (-want +got):\n%s", diff)
			}
			assert.Empty(t, rec.errors())
		})
	}
}

func TestStore_StoredFormat(t *testing.T) {
	area := storage.NewOrigin().Context(storage.KindLocal)
	s, _ := newTestStore(t, area)

	s.SetState(settings.New(settings.ThemeDark))

	v, ok, err := area.GetItem(DefaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `{"settings":{"theme":"dark"}}`, v)
}

func TestStore_GetState_Absent(t *testing.T) {
	s, rec := newTestStore(t, storage.NewOrigin().Context(storage.KindLocal))

	assert.Nil(t, s.GetState())
	assert.Empty(t, rec.errors())
}

func TestStore_GetState_Unavailable(t *testing.T) {
	s, rec := newTestStore(t, storage.NewOrigin(storage.WithDisabled()).Context(storage.KindLocal))

	assert.Nil(t, s.GetState())
	assert.Empty(t, rec.errors(), "unavailable storage is not a diagnostic")
}

func TestStore_GetState_MalformedJSON(t *testing.T) {
	area := storage.NewOrigin().Context(storage.KindLocal)
	require.NoError(t, area.SetItem(DefaultKey, "{not json"))
	s, rec := newTestStore(t, area)

	assert.Nil(t, s.GetState())

	errs := rec.errors()
	require.Len(t, errs, 1)
	v, ok := attr(errs[0], "value")
	require.True(t, ok)
	assert.Equal(t, "{not json", v.Any())
}

func TestStore_GetState_SchemaMismatch(t *testing.T) {
	area := storage.NewOrigin().Context(storage.KindLocal)
	require.NoError(t, area.SetItem(DefaultKey, `{"settings":{"theme":"neon"}}`))
	s, rec := newTestStore(t, area)

	assert.Nil(t, s.GetState())

	errs := rec.errors()
	require.Len(t, errs, 1)
	v, ok := attr(errs[0], "value")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"settings": map[string]any{"theme": "neon"}}, v.Any())
}

func TestStore_SetState_RejectsInvalid(t *testing.T) {
	area := storage.NewOrigin().Context(storage.KindLocal)
	s, rec := newTestStore(t, area)

	s.SetState(settings.New(settings.ThemeDark))
	s.SetState(settings.New("neon"))

	// The previous valid value is kept
	assert.Equal(t, settings.New(settings.ThemeDark), s.GetState())
	assert.Len(t, rec.errors(), 1)
}

func TestStore_SetState_NilClears(t *testing.T) {
	area := storage.NewOrigin().Context(storage.KindLocal)
	s, _ := newTestStore(t, area)

	s.SetState(settings.New(settings.ThemeLight))
	s.SetState(nil)

	assert.Nil(t, s.GetState())
	_, ok, err := area.GetItem(DefaultKey)
	require.NoError(t, err)
	assert.False(t, ok)

	s.SetState(settings.New(settings.ThemeLight))
	s.Clear()
	assert.Nil(t, s.GetState())
}

func TestStore_SetState_WriteFailureIsSwallowed(t *testing.T) {
	area := storage.NewOrigin(storage.WithQuota(8)).Context(storage.KindLocal)
	s, rec := newTestStore(t, area)

	assert.NotPanics(t, func() { s.SetState(settings.New(settings.ThemeDark)) })

	errs := rec.errors()
	require.Len(t, errs, 1)
	v, ok := attr(errs[0], "value")
	require.True(t, ok)
	assert.Equal(t, `{"settings":{"theme":"dark"}}`, v.Any())
	assert.Nil(t, s.GetState())
}

func TestStore_Clear_RemoveFailureIsSwallowed(t *testing.T) {
	area := storage.NewOrigin().Context(storage.KindLocal)
	s, rec := newTestStore(t, area)
	require.NoError(t, area.Close())

	assert.NotPanics(t, s.Clear)

	errs := rec.errors()
	require.Len(t, errs, 1)
	v, ok := attr(errs[0], "value")
	require.True(t, ok)
	assert.Nil(t, v.Any())
	_, ok = attr(errs[0], "error")
	assert.True(t, ok)
}

func TestStore_WithKey(t *testing.T) {
	area := storage.NewOrigin().Context(storage.KindLocal)
	s, _ := newTestStore(t, area, WithKey("prefs"))

	s.SetState(settings.New(settings.ThemeDark))

	_, ok, _ := area.GetItem("prefs")
	assert.True(t, ok)
	_, ok, _ = area.GetItem(DefaultKey)
	assert.False(t, ok)
	assert.Equal(t, "prefs", s.Key())
}

func TestStore_IsAvailable(t *testing.T) {
	o := storage.NewOrigin()
	s, _ := newTestStore(t, o.Context(storage.KindLocal))
	assert.True(t, s.IsAvailable(storage.KindLocal))
	assert.False(t, s.IsAvailable(storage.KindSession), "no session area registered")

	s, _ = newTestStore(t, o.Context(storage.KindLocal), WithSessionArea(o.Context(storage.KindSession)))
	assert.True(t, s.IsAvailable(storage.KindSession))

	s, _ = newTestStore(t, storage.NewOrigin(storage.WithDisabled()).Context(storage.KindLocal))
	assert.False(t, s.IsAvailable(storage.KindLocal))
}

func TestStore_OnStateChange_CrossContext(t *testing.T) {
	o := storage.NewOrigin()
	a, _ := newTestStore(t, o.Context(storage.KindLocal))
	b, _ := newTestStore(t, o.Context(storage.KindLocal))

	var seenA, seenB []*settings.PersistentState
	a.OnStateChange(func(s *settings.PersistentState) { seenA = append(seenA, s) })
	b.OnStateChange(func(s *settings.PersistentState) { seenB = append(seenB, s) })

	a.SetState(settings.New(settings.ThemeLight))

	assert.Empty(t, seenA, "own write is not reported")
	require.Len(t, seenB, 1)
	assert.Equal(t, settings.New(settings.ThemeLight), seenB[0])

	a.Clear()
	require.Len(t, seenB, 2)
	assert.Nil(t, seenB[1])
}

func TestStore_OnStateChange_InvalidValue(t *testing.T) {
	o := storage.NewOrigin()
	writer := o.Context(storage.KindLocal)
	s, rec := newTestStore(t, o.Context(storage.KindLocal))

	var calls int
	var last *settings.PersistentState
	s.OnStateChange(func(st *settings.PersistentState) {
		calls++
		last = st
	})

	require.NoError(t, writer.SetItem(DefaultKey, `{"settings":{"theme":"dark"}}`))
	require.NoError(t, writer.SetItem(DefaultKey, "{not json"))

	assert.Equal(t, 2, calls)
	assert.Nil(t, last)
	assert.Len(t, rec.errors(), 1)
}

func TestStore_OnStateChange_IgnoresOtherKeys(t *testing.T) {
	o := storage.NewOrigin()
	writer := o.Context(storage.KindLocal)
	s, _ := newTestStore(t, o.Context(storage.KindLocal))

	calls := 0
	s.OnStateChange(func(*settings.PersistentState) { calls++ })

	require.NoError(t, writer.SetItem("other", "x"))
	assert.Zero(t, calls)
}

func TestStore_OnStateChange_Cancel(t *testing.T) {
	o := storage.NewOrigin()
	a, _ := newTestStore(t, o.Context(storage.KindLocal))
	b, _ := newTestStore(t, o.Context(storage.KindLocal))

	calls := 0
	cancel := b.OnStateChange(func(*settings.PersistentState) { calls++ })

	a.SetState(settings.New(settings.ThemeDark))
	cancel()
	cancel()
	a.SetState(settings.New(settings.ThemeLight))
	assert.Equal(t, 1, calls)

	// Close cancels whatever is left
	b.OnStateChange(func(*settings.PersistentState) { calls++ })
	b.Close()
	a.SetState(settings.New(settings.ThemeSystem))
	assert.Equal(t, 1, calls)
}

func TestStore_OnStateChange_WatchUnsupported(t *testing.T) {
	s, rec := newTestStore(t, storage.NewOrigin().Context(storage.KindSession))

	cancel := s.OnStateChange(func(*settings.PersistentState) {})
	require.NotNil(t, cancel)
	cancel()
	assert.Len(t, rec.errors(), 1)
}

func TestStore_FileBackedCrossContext(t *testing.T) {
	dir := t.TempDir()
	areaA, err := storage.OpenFileArea(dir)
	require.NoError(t, err)
	defer areaA.Close()
	areaB, err := storage.OpenFileArea(dir)
	require.NoError(t, err)
	defer areaB.Close()

	a, _ := newTestStore(t, areaA)
	b, _ := newTestStore(t, areaB)

	got := make(chan *settings.PersistentState, 4)
	cancel := b.OnStateChange(func(s *settings.PersistentState) { got <- s })
	defer cancel()

	a.SetState(settings.New(settings.ThemeLight))

	select {
	case s := <-got:
		assert.Equal(t, settings.New(settings.ThemeLight), s)
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	assert.Equal(t, settings.New(settings.ThemeLight), b.GetState())
}
