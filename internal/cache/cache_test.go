package cache

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Code string  `json:"code"`
	ANN  float64 `json:"ann"`
}

func counting(calls *int, p payload) func(context.Context) (payload, error) {
	return func(context.Context) (payload, error) {
		*calls++
		return p, nil
	}
}

func TestFetchDisabled(t *testing.T) {
	var c *Cache
	assert.False(t, c.Enabled())
	assert.False(t, New(nil, time.Minute, 0).Enabled())

	calls := 0
	for i := 0; i < 2; i++ {
		v, err := Fetch(context.Background(), New(nil, time.Minute, 0), "reports:x", counting(&calls, payload{Code: "10_1", ANN: 1.5}))
		require.NoError(t, err)
		assert.Equal(t, payload{Code: "10_1", ANN: 1.5}, v)
	}
	assert.Equal(t, 2, calls)
}

func TestFetchLocalTier(t *testing.T) {
	c := New(nil, time.Minute, 8)
	require.True(t, c.Enabled())
	calls := 0
	for i := 0; i < 3; i++ {
		v, err := Fetch(context.Background(), c, "reports:x", counting(&calls, payload{Code: "10_1"}))
		require.NoError(t, err)
		assert.Equal(t, "10_1", v.Code)
	}
	assert.Equal(t, 1, calls)
}

func TestFetchUnreachableRedisFallsBack(t *testing.T) {
	rc := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rc.Close()
	c := New(rc, time.Minute, 0)
	require.True(t, c.Enabled())

	calls := 0
	v, err := Fetch(context.Background(), c, "reports:y", counting(&calls, payload{Code: "10_2"}))
	require.NoError(t, err)
	assert.Equal(t, "10_2", v.Code)

	boom := errors.New("db down")
	_, err = Fetch(context.Background(), c, "reports:z", func(context.Context) (payload, error) {
		return payload{}, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestLRU(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewLRU(2, time.Minute)
	c.now = func() time.Time { return now }

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	_, ok := c.Get("a")
	require.True(t, ok)
	c.Set("c", []byte("3"))
	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")
	assert.Equal(t, 2, c.Len())

	now = now.Add(2 * time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok, "expired")
	assert.Equal(t, 1, c.Len())

	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprint(i), nil)
	}
	assert.Equal(t, 2, c.Len())
}
