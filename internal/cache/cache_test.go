package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestKeyIsStablePerContentAndPair(t *testing.T) {
	k1 := Key("hello", "en", "de")
	k2 := Key("hello", "en", "de")
	require.Equal(t, k1, k2)

	require.NotEqual(t, k1, Key("hello", "en", "fr"))
	require.NotEqual(t, k1, Key("goodbye", "en", "de"))
}

func TestPutGetRoundTrip(t *testing.T) {
	c := NewInMemoryCache()
	defer c.Stop()

	key := Key("hello", "en", "de")
	c.Put(key, "hallo", time.Minute)

	got, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, "hallo", got)
}

func TestMissAfterTTLExpiry(t *testing.T) {
	c := NewInMemoryCache()
	defer c.Stop()

	key := Key("hello", "en", "de")
	c.Put(key, "hallo", 10*time.Millisecond)

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(key)
	require.False(t, ok)
}

func TestMissForUnknownKey(t *testing.T) {
	c := NewInMemoryCache()
	defer c.Stop()

	_, ok := c.Get(Key("never stored", "en", "de"))
	require.False(t, ok)
}
