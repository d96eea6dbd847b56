package data

import (
	"context"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Increment(t *testing.T) {
	s := NewMemoryStore(log.DefaultLogger)
	ctx := context.Background()

	for want := int64(1); want <= 5; want++ {
		got, err := s.IncrementWithTTL(ctx, "rate:ip:10.0.0.1:100", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 1, s.Len())
}

func TestMemoryStore_EntryExpiry(t *testing.T) {
	s := NewMemoryStore(log.DefaultLogger)
	ctx := context.Background()

	_, err := s.IncrementWithTTL(ctx, "short", 30*time.Millisecond)
	require.NoError(t, err)

	_, found, err := s.Get(ctx, "short")
	require.NoError(t, err)
	assert.True(t, found)

	time.Sleep(50 * time.Millisecond)

	_, found, err = s.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, found, "entry must expire with its own TTL")

	// An expired counter restarts from 1.
	count, err := s.IncrementWithTTL(ctx, "short", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	s := NewMemoryStore(log.DefaultLogger)
	ctx := context.Background()

	require.NoError(t, s.SetWithTTL(ctx, "block:10.0.0.1", "entry", time.Hour))

	val, found, err := s.Get(ctx, "block:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "entry", val)

	require.NoError(t, s.Delete(ctx, "block:10.0.0.1"))
	_, found, _ = s.Get(ctx, "block:10.0.0.1")
	assert.False(t, found)
}

func TestMemoryStore_AlwaysAvailable(t *testing.T) {
	s := NewMemoryStore(log.DefaultLogger)
	assert.True(t, s.Available())
}

func TestMemoryStore_ConcurrentIncrements(t *testing.T) {
	s := NewMemoryStore(log.DefaultLogger)
	ctx := context.Background()

	const goroutines = 8
	const perGoroutine = 50
	done := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < perGoroutine; j++ {
				_, _ = s.IncrementWithTTL(ctx, "hot", time.Minute)
			}
		}()
	}
	for i := 0; i < goroutines; i++ {
		<-done
	}

	count, err := s.IncrementWithTTL(ctx, "hot", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(goroutines*perGoroutine+1), count)
}
