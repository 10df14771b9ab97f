package kv

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recv(t *testing.T, ch <-chan any) any {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timeout waiting for snapshot")
		return nil
	}
}

func TestGetSet(t *testing.T) {
	store := NewMemoryStore()

	_, ok := store.Get("missing")
	assert.False(t, ok)

	store.Set("k", 1)
	v, ok := store.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	store.Delete("k")
	_, ok = store.Get("k")
	assert.False(t, ok)
}

func TestSubscribeDeliversCurrentValueFirst(t *testing.T) {
	store := NewMemoryStore()
	store.Set("k", "initial")

	ch, cancel := store.Subscribe("k")
	defer cancel()

	assert.Equal(t, "initial", recv(t, ch))

	store.Set("k", "updated")
	assert.Equal(t, "updated", recv(t, ch))
}

func TestSlowSubscriberKeepsLatest(t *testing.T) {
	store := NewMemoryStore()
	ch, cancel := store.Subscribe("k")
	defer cancel()

	for i := 0; i < subscriberBuffer*2; i++ {
		store.Set("k", i)
	}

	var last any
	for {
		select {
		case v := <-ch:
			last = v
			continue
		default:
		}
		break
	}
	assert.Equal(t, subscriberBuffer*2-1, last)
}

func TestCancelClosesChannel(t *testing.T) {
	store := NewMemoryStore()
	ch, cancel := store.Subscribe("k")

	cancel()
	_, open := <-ch
	assert.False(t, open)

	// Set after cancel must not panic or deliver.
	store.Set("k", 1)
}
