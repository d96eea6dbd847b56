package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"Bastion/internal/conf"
	"Bastion/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// latencyEWMAWeight is the smoothing factor for the store latency average.
const latencyEWMAWeight = 0.2

// rejectsPerBreakerSignal is how many consecutive sheds count as one
// failure signal toward the downstream's circuit breaker.
const rejectsPerBreakerSignal = 10

// BackpressureManager samples load and chooses accept/queue/reject with
// hysteresis: shedding starts when the load score reaches the enter
// threshold and continues until it falls below the lower exit threshold,
// which prevents oscillation near a single boundary.
type BackpressureManager struct {
	cfg     *conf.Protection_Backpressure
	queue   *RequestQueue
	breaker *CircuitBreakerUseCase
	logger  *log.Helper

	// downstream is the service whose breaker receives sustained-shed
	// failure signals.
	downstream string

	inFlight     atomic.Int64
	latencyNanos atomic.Int64

	mu           sync.Mutex
	shedding     bool
	rejectStreak int
}

// NewBackpressureManager creates a new backpressure manager coupled to the
// queue (for depth sampling) and the breaker of the named downstream.
func NewBackpressureManager(p *conf.Protection, queue *RequestQueue, breaker *CircuitBreakerUseCase, logger log.Logger) *BackpressureManager {
	return &BackpressureManager{
		cfg:        p.Backpressure,
		queue:      queue,
		breaker:    breaker,
		logger:     log.NewHelper(logger),
		downstream: SimulationEngineService,
	}
}

// Decide returns the admission verdict for the given load sample.
func (m *BackpressureManager) Decide(sample model.LoadSample) model.BackpressureDecision {
	load := m.loadScore(sample)

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.shedding && load >= m.cfg.EnterThreshold {
		m.shedding = true
		m.logger.Warnw(
			"msg", "backpressure shedding started",
			"load", load,
			"in_flight", sample.InFlight,
			"queue_depth", sample.QueueDepth,
			"store_latency", sample.StoreLatency,
		)
	}
	if m.shedding && load < m.cfg.ExitThreshold {
		m.shedding = false
		m.rejectStreak = 0
		m.logger.Infow("msg", "backpressure shedding stopped", "load", load)
	}

	if !m.shedding {
		m.rejectStreak = 0
		return model.DecisionAccept
	}

	if load >= m.cfg.EnterThreshold {
		m.rejectStreak++
		if m.rejectStreak%rejectsPerBreakerSignal == 0 && m.breaker != nil {
			m.breaker.RecordFailure(context.Background(), m.downstream)
		}
		return model.DecisionReject
	}
	return model.DecisionQueue
}

// Sample builds a load sample from the manager's own tracking state.
func (m *BackpressureManager) Sample() model.LoadSample {
	return model.LoadSample{
		Timestamp:    time.Now(),
		InFlight:     int(m.inFlight.Load()),
		QueueDepth:   m.queue.Depth(),
		StoreLatency: time.Duration(m.latencyNanos.Load()),
	}
}

// StartRequest marks a request in flight. Pair with FinishRequest.
func (m *BackpressureManager) StartRequest() {
	m.inFlight.Add(1)
}

// FinishRequest marks a request complete.
func (m *BackpressureManager) FinishRequest() {
	m.inFlight.Add(-1)
}

// ObserveStoreLatency folds one store round-trip duration into the EWMA.
func (m *BackpressureManager) ObserveStoreLatency(d time.Duration) {
	for {
		old := m.latencyNanos.Load()
		updated := int64(float64(old)*(1-latencyEWMAWeight) + float64(d)*latencyEWMAWeight)
		if m.latencyNanos.CompareAndSwap(old, updated) {
			return
		}
	}
}

// Shedding reports whether the manager is currently in shedding mode.
func (m *BackpressureManager) Shedding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shedding
}

// loadScore collapses a sample into a single score in [0, ~1+]. Weights
// favor in-flight count, the most direct overload signal.
func (m *BackpressureManager) loadScore(sample model.LoadSample) float64 {
	var inFlight, depth, latency float64

	if m.cfg.MaxInFlight > 0 {
		inFlight = float64(sample.InFlight) / float64(m.cfg.MaxInFlight)
	}
	if capacity := m.queue.Capacity(); capacity > 0 {
		depth = float64(sample.QueueDepth) / float64(capacity)
	}
	if budget := m.cfg.StoreLatencyBudget.AsDuration(); budget > 0 {
		latency = float64(sample.StoreLatency) / float64(budget)
	}

	return 0.5*inFlight + 0.3*depth + 0.2*latency
}
