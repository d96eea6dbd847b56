// Package biz contains the protection layer's business logic: admission
// control, failure isolation and load shedding use cases.
package biz

import (
	"Bastion/internal/data"

	"github.com/google/wire"
)

// SimulationEngineService is the breaker name of the downstream
// simulation engine.
const SimulationEngineService = "simulation-engine"

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewRateLimiterUseCase,
	NewCircuitBreakerUseCase,
	NewRequestValidator,
	NewRequestQueue,
	NewBackpressureManager,
	// Import data layer providers
	data.NewRedisCounterStore,
	data.NewMemoryStore,
	data.NewBreakerStateRepo,
	data.NewProtectionAudit,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(CounterStore), new(*data.RedisCounterStore)),
	wire.Bind(new(FallbackStore), new(*data.MemoryStore)),
	wire.Bind(new(BreakerStateRepo), new(*data.BreakerStateRepoImpl)),
	wire.Bind(new(ProtectionAuditRepo), new(*data.ProtectionAudit)),
)
