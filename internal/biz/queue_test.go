package biz

import (
	"context"
	"testing"
	"time"

	pkgerrors "Bastion/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue() *RequestQueue {
	return NewRequestQueue(testProtectionConf(), log.DefaultLogger)
}

func TestQueue_EnqueueDequeue(t *testing.T) {
	q := newTestQueue()

	e1, err := q.Enqueue("req-1")
	require.NoError(t, err)
	require.NotNil(t, e1)
	_, err = q.Enqueue("req-2")
	require.NoError(t, err)
	assert.Equal(t, 2, q.Depth())

	got, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.RequestID)
	assert.Equal(t, 1, q.Depth())
}

func TestQueue_FullRejectsImmediately(t *testing.T) {
	q := newTestQueue()

	// Capacity is 4 in the test config.
	for i := 0; i < 4; i++ {
		_, err := q.Enqueue("req")
		require.NoError(t, err)
	}

	_, err := q.Enqueue("overflow")
	assert.True(t, pkgerrors.IsQueueFull(err))
	assert.Equal(t, 4, q.Depth())
}

func TestQueue_ExpiredHeadCountsAndErrors(t *testing.T) {
	q := newTestQueue()

	base := time.Now()
	q.now = func() time.Time { return base }

	_, err := q.Enqueue("stale")
	require.NoError(t, err)

	// Past the 100ms max wait.
	q.now = func() time.Time { return base.Add(200 * time.Millisecond) }

	entry, err := q.Dequeue()
	assert.Nil(t, entry)
	assert.True(t, pkgerrors.IsQueueExpired(err))
	assert.Equal(t, int64(1), q.ExpiredCount())
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q := newTestQueue()
	entry, err := q.Dequeue()
	assert.Nil(t, entry)
	assert.NoError(t, err)
}

func TestQueue_Sweep(t *testing.T) {
	q := newTestQueue()

	base := time.Now()
	q.now = func() time.Time { return base }

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue("req")
		require.NoError(t, err)
	}

	q.now = func() time.Time { return base.Add(time.Second) }
	_, err := q.Enqueue("fresh")
	require.NoError(t, err)

	swept := q.Sweep()
	assert.Equal(t, 3, swept)
	assert.Equal(t, 1, q.Depth())
	assert.Equal(t, int64(3), q.ExpiredCount())
}

func TestQueue_DrainerReleasesInOrder(t *testing.T) {
	q := newTestQueue()

	e1, err := q.Enqueue("req-1")
	require.NoError(t, err)
	e2, err := q.Enqueue("req-2")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartDrainer(ctx)

	select {
	case <-e1.Ready():
	case <-time.After(time.Second):
		t.Fatal("first entry was never released")
	}
	select {
	case <-e2.Ready():
	case <-time.After(time.Second):
		t.Fatal("second entry was never released")
	}
	assert.Equal(t, 0, q.Depth())
}

func TestQueue_DrainerPicksUpLateArrivals(t *testing.T) {
	q := newTestQueue()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.StartDrainer(ctx)

	// Enqueued after the drainer already went idle.
	time.Sleep(20 * time.Millisecond)
	e, err := q.Enqueue("late")
	require.NoError(t, err)

	select {
	case <-e.Ready():
	case <-time.After(time.Second):
		t.Fatal("late entry was never released")
	}
}
