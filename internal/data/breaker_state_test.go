package data

import (
	"context"
	"testing"
	"time"

	"Bastion/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisBreakerRepo(t *testing.T) (*BreakerStateRepoImpl, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewBreakerStateRepo(testDataConf(mr.Addr()), rdb, log.DefaultLogger), mr
}

func TestBreakerStateRepo_SaveLoad(t *testing.T) {
	repo, _ := newMiniredisBreakerRepo(t)
	ctx := context.Background()

	openedAt := time.Now().Truncate(time.Second)
	snap := &model.BreakerSnapshot{
		Service:  "simulation-engine",
		State:    model.BreakerOpen,
		Failures: 4,
		OpenedAt: openedAt,
	}
	require.NoError(t, repo.Save(ctx, "simulation-engine", snap))

	loaded, err := repo.Load(ctx, "simulation-engine")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, model.BreakerOpen, loaded.State)
	assert.Equal(t, 4, loaded.Failures)
	assert.True(t, loaded.OpenedAt.Equal(openedAt))
}

func TestBreakerStateRepo_LoadMissing(t *testing.T) {
	repo, _ := newMiniredisBreakerRepo(t)

	snap, err := repo.Load(context.Background(), "unknown")
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestBreakerStateRepo_LoadCorrupt(t *testing.T) {
	repo, mr := newMiniredisBreakerRepo(t)

	require.NoError(t, mr.Set("breaker:simulation-engine", "not json"))

	snap, err := repo.Load(context.Background(), "simulation-engine")
	require.NoError(t, err, "corrupt state is ignored, not an error")
	assert.Nil(t, snap)
}

func TestBreakerStateRepo_ProbeSlot(t *testing.T) {
	repo, mr := newMiniredisBreakerRepo(t)
	ctx := context.Background()

	ok, err := repo.AcquireProbe(ctx, "simulation-engine", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "first claim wins the slot")

	ok, err = repo.AcquireProbe(ctx, "simulation-engine", 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "second claim must lose")

	require.NoError(t, repo.ReleaseProbe(ctx, "simulation-engine"))

	ok, err = repo.AcquireProbe(ctx, "simulation-engine", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "slot reusable after release")

	// A crashed prober's claim decays with its TTL.
	mr.FastForward(time.Minute)
	ok, err = repo.AcquireProbe(ctx, "simulation-engine", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBreakerStateRepo_NilClient(t *testing.T) {
	repo := NewBreakerStateRepo(nil, nil, log.DefaultLogger)
	ctx := context.Background()

	_, err := repo.Load(ctx, "svc")
	assert.Error(t, err)
	assert.Error(t, repo.Save(ctx, "svc", &model.BreakerSnapshot{}))
	_, err = repo.AcquireProbe(ctx, "svc", time.Second)
	assert.Error(t, err)
	assert.Error(t, repo.ReleaseProbe(ctx, "svc"))
}
