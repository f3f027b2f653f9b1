package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMemoryArea_GetSetRemove(t *testing.T) {
	a := NewOrigin().Context(KindLocal)

	_, ok, err := a.GetItem("state")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.SetItem("state", "one"))
	v, ok, err := a.GetItem("state")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "one", v)

	require.NoError(t, a.RemoveItem("state"))
	_, ok, err = a.GetItem("state")
	require.NoError(t, err)
	assert.False(t, ok)

	// Removing a missing key is fine
	require.NoError(t, a.RemoveItem("state"))
}

func TestMemoryArea_LocalContextsShareItems(t *testing.T) {
	o := NewOrigin()
	a, b := o.Context(KindLocal), o.Context(KindLocal)

	require.NoError(t, a.SetItem("k", "v"))
	v, ok, err := b.GetItem("k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestMemoryArea_SessionContextsArePrivate(t *testing.T) {
	o := NewOrigin()
	local := o.Context(KindLocal)
	s1, s2 := o.Context(KindSession), o.Context(KindSession)

	require.NoError(t, s1.SetItem("k", "v"))

	_, ok, _ := s2.GetItem("k")
	assert.False(t, ok)
	_, ok, _ = local.GetItem("k")
	assert.False(t, ok)

	_, err := s1.Watch(func(Event) {})
	assert.ErrorIs(t, err, ErrWatchUnsupported)
}

func TestMemoryArea_Quota(t *testing.T) {
	a := NewOrigin(WithQuota(10)).Context(KindLocal)

	require.NoError(t, a.SetItem("ab", "12345678"))
	assert.ErrorIs(t, a.SetItem("c", "x"), ErrQuotaExceeded)

	// Replacing a value only counts the difference
	require.NoError(t, a.SetItem("ab", "87654321"))

	// Failed writes leave the old value in place
	assert.ErrorIs(t, a.SetItem("ab", "123456789"), ErrQuotaExceeded)
	v, _, _ := a.GetItem("ab")
	assert.Equal(t, "87654321", v)

	require.NoError(t, a.RemoveItem("ab"))
	require.NoError(t, a.SetItem("c", "x"))
}

func TestMemoryArea_Disabled(t *testing.T) {
	a := NewOrigin(WithDisabled()).Context(KindLocal)

	_, _, err := a.GetItem("k")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, a.SetItem("k", "v"), ErrUnavailable)
	assert.ErrorIs(t, a.RemoveItem("k"), ErrUnavailable)
	_, err = a.Len()
	assert.ErrorIs(t, err, ErrUnavailable)
	_, err = a.Watch(func(Event) {})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMemoryArea_WatchOtherContexts(t *testing.T) {
	defer goleak.VerifyNone(t)

	o := NewOrigin()
	a, b := o.Context(KindLocal), o.Context(KindLocal)

	var seenA, seenB []Event
	cancelA, err := a.Watch(func(ev Event) { seenA = append(seenA, ev) })
	require.NoError(t, err)
	defer cancelA()
	cancelB, err := b.Watch(func(ev Event) { seenB = append(seenB, ev) })
	require.NoError(t, err)
	defer cancelB()

	require.NoError(t, a.SetItem("state", "light"))

	assert.Empty(t, seenA, "writer must not see its own change")
	require.Len(t, seenB, 1)
	assert.Equal(t, "state", seenB[0].Key)
	assert.Nil(t, seenB[0].OldValue)
	require.NotNil(t, seenB[0].NewValue)
	assert.Equal(t, "light", *seenB[0].NewValue)
	assert.Equal(t, a.ContextID(), seenB[0].Source)

	// Same value again: no event
	require.NoError(t, a.SetItem("state", "light"))
	assert.Len(t, seenB, 1)

	require.NoError(t, a.RemoveItem("state"))
	require.Len(t, seenB, 2)
	assert.Nil(t, seenB[1].NewValue)
	assert.Equal(t, "light", *seenB[1].OldValue)

	// Removing a missing key: no event
	require.NoError(t, a.RemoveItem("state"))
	assert.Len(t, seenB, 2)
}

func TestMemoryArea_CancelWatch(t *testing.T) {
	o := NewOrigin()
	a, b := o.Context(KindLocal), o.Context(KindLocal)

	calls := 0
	cancel, err := b.Watch(func(Event) { calls++ })
	require.NoError(t, err)

	require.NoError(t, a.SetItem("k", "1"))
	cancel()
	cancel()
	require.NoError(t, a.SetItem("k", "2"))

	assert.Equal(t, 1, calls)
}

func TestMemoryArea_HandlerMayWrite(t *testing.T) {
	o := NewOrigin()
	a, b := o.Context(KindLocal), o.Context(KindLocal)

	cancel, err := b.Watch(func(ev Event) {
		if ev.Key == "ping" {
			require.NoError(t, b.SetItem("pong", *ev.NewValue))
		}
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, a.SetItem("ping", "x"))
	v, ok, err := a.GetItem("pong")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "x", v)
}

func TestMemoryArea_Closed(t *testing.T) {
	o := NewOrigin()
	a, b := o.Context(KindLocal), o.Context(KindLocal)

	calls := 0
	_, err := b.Watch(func(Event) { calls++ })
	require.NoError(t, err)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	require.NoError(t, a.SetItem("k", "v"))
	assert.Zero(t, calls)

	_, _, err = b.GetItem("k")
	assert.ErrorIs(t, err, ErrClosed)
}
