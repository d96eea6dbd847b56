package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Bastion/internal/conf"
	"Bastion/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// breakerStateTTL bounds how long a persisted snapshot outlives its last
// update. Long enough to cover any cool-down, short enough to self-heal
// after a fleet-wide restart.
const breakerStateTTL = 10 * time.Minute

// BreakerStateRepoImpl implements biz.BreakerStateRepo on the shared Redis
// store. The probe slot uses SETNX so exactly one process fleet-wide runs
// the half-open probe.
type BreakerStateRepoImpl struct {
	rdb       *redis.Client
	opTimeout time.Duration
	logger    *log.Helper
}

// NewBreakerStateRepo creates a new breaker state repository.
func NewBreakerStateRepo(c *conf.Data, rdb *redis.Client, logger log.Logger) *BreakerStateRepoImpl {
	opTimeout := 50 * time.Millisecond
	if c != nil && c.Redis != nil && c.Redis.OpTimeout.AsDuration() > 0 {
		opTimeout = c.Redis.OpTimeout.AsDuration()
	}
	return &BreakerStateRepoImpl{
		rdb:       rdb,
		opTimeout: opTimeout,
		logger:    log.NewHelper(logger),
	}
}

// Load returns the persisted snapshot for service, or (nil, nil) when none
// exists.
func (r *BreakerStateRepoImpl) Load(ctx context.Context, service string) (*model.BreakerSnapshot, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	raw, err := r.rdb.Get(ctx, getBreakerKey(service)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load breaker state for %s: %w", service, err)
	}

	var snap model.BreakerSnapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		r.logger.Warnf("corrupt breaker state for %s: %v (ignoring)", service, err)
		return nil, nil
	}
	return &snap, nil
}

// Save persists the snapshot for service.
func (r *BreakerStateRepoImpl) Save(ctx context.Context, service string, snap *model.BreakerSnapshot) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal breaker state for %s: %w", service, err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.rdb.Set(ctx, getBreakerKey(service), data, breakerStateTTL).Err(); err != nil {
		return fmt.Errorf("failed to save breaker state for %s: %w", service, err)
	}
	return nil
}

// AcquireProbe atomically claims the half-open probe slot using SETNX.
// The TTL guarantees a crashed prober releases the slot eventually.
func (r *BreakerStateRepoImpl) AcquireProbe(ctx context.Context, service string, ttl time.Duration) (bool, error) {
	if r.rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	ok, err := r.rdb.SetNX(ctx, getProbeKey(service), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire probe slot for %s: %w", service, err)
	}
	return ok, nil
}

// ReleaseProbe clears the probe slot.
func (r *BreakerStateRepoImpl) ReleaseProbe(ctx context.Context, service string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis client is nil")
	}

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.rdb.Del(ctx, getProbeKey(service)).Err(); err != nil {
		return fmt.Errorf("failed to release probe slot for %s: %w", service, err)
	}
	return nil
}

// getBreakerKey generates the Redis key for a breaker snapshot.
// Format: breaker:{service}
func getBreakerKey(service string) string {
	return fmt.Sprintf("breaker:%s", service)
}

// getProbeKey generates the Redis key for the half-open probe slot.
// Format: breaker:{service}:probe
func getProbeKey(service string) string {
	return fmt.Sprintf("breaker:%s:probe", service)
}
