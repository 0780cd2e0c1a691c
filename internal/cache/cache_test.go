package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_SetGet(t *testing.T) {
	t.Parallel()

	c := New(10)
	c.Set("k", "v", time.Minute)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestCache_ExpiredEntryEvictedOnRead(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	c := New(10, WithClock(func() time.Time { return now }))

	c.Set("k", "v", 100*time.Millisecond)

	got, ok := c.Get("k")
	require.True(t, ok)
	require.Equal(t, "v", got)

	now = now.Add(150 * time.Millisecond)

	_, ok = c.Get("k")
	require.False(t, ok)
	require.Equal(t, 0, c.Len(), "stale entry must be removed from storage")
}

func TestCache_CapacityEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	c := New(3)
	for i := 0; i < 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}
	c.Set("k3", 3, time.Minute)

	_, ok := c.Get("k0")
	require.False(t, ok, "oldest insertion should have been evicted")
	for i := 1; i <= 3; i++ {
		_, ok := c.Get(fmt.Sprintf("k%d", i))
		require.True(t, ok, "k%d should survive", i)
	}
	require.Equal(t, 3, c.Len())
}

func TestCache_SetExistingKeyDoesNotEvictOthers(t *testing.T) {
	t.Parallel()

	c := New(2)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)
	c.Set("a", 10, time.Minute)

	got, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 10, got)
	_, ok = c.Get("b")
	require.True(t, ok)
}

func TestCache_Cleanup(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	c := New(10, WithClock(func() time.Time { return now }))

	c.Set("short", 1, 50*time.Millisecond)
	c.Set("long", 2, time.Hour)

	now = now.Add(time.Second)
	c.Cleanup()

	require.Equal(t, 1, c.Len())
	_, ok := c.Get("long")
	require.True(t, ok)
}

func TestCache_DeleteAndClear(t *testing.T) {
	t.Parallel()

	c := New(10)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	require.True(t, c.Delete("a"))
	require.False(t, c.Delete("a"))

	c.Clear()
	require.Equal(t, 0, c.Len())
	_, ok := c.Get("b")
	require.False(t, ok)
}

func TestCache_Stats(t *testing.T) {
	t.Parallel()

	c := New(5)
	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	size, maxSize, keys := c.Stats()
	require.Equal(t, 2, size)
	require.Equal(t, 5, maxSize)
	require.Equal(t, []string{"a", "b"}, keys)
}

func TestKey(t *testing.T) {
	t.Parallel()

	k1 := Key("bookmarks", "list", map[string]int{"limit": 10})
	k2 := Key("bookmarks", "list", map[string]int{"limit": 10})
	k3 := Key("bookmarks", "list", map[string]int{"limit": 20})

	require.Equal(t, k1, k2)
	require.NotEqual(t, k1, k3)
	require.Equal(t, "bookmarks:list:", Key("bookmarks", "list", nil))
}
