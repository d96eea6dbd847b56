package biz

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"Bastion/internal/conf"
	"Bastion/internal/model"
	pkgerrors "Bastion/pkg/errors"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/time/rate"
)

// RequestQueue is a bounded FIFO that absorbs short bursts. Each entry
// carries enqueue_time+max_wait as its deadline; entries past deadline are
// never successfully dequeued and are always counted, never silently
// dropped. Enqueue on a full queue rejects immediately and never blocks.
type RequestQueue struct {
	cfg    *conf.Protection_Queue
	logger *log.Helper
	now    func() time.Time

	mu      sync.Mutex
	entries []*model.QueueEntry

	// signal nudges the drainer when the queue goes non-empty.
	signal  chan struct{}
	expired atomic.Int64
}

// NewRequestQueue creates a new bounded request queue.
func NewRequestQueue(p *conf.Protection, logger log.Logger) *RequestQueue {
	return &RequestQueue{
		cfg:    p.Queue,
		logger: log.NewHelper(logger),
		now:    time.Now,
		signal: make(chan struct{}, 1),
	}
}

// Enqueue appends a new entry and returns it. A full queue yields a
// QueueFull error immediately.
func (q *RequestQueue) Enqueue(requestID string) (*model.QueueEntry, error) {
	now := q.now()

	q.mu.Lock()
	if len(q.entries) >= q.cfg.Capacity {
		q.mu.Unlock()
		q.logger.Infow("msg", "queue full, request rejected", "request_id", requestID, "capacity", q.cfg.Capacity)
		return nil, pkgerrors.QueueFull()
	}
	entry := model.NewQueueEntry(requestID, now, q.cfg.MaxWait.AsDuration())
	q.entries = append(q.entries, entry)
	depth := len(q.entries)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}

	q.logger.Debugw("msg", "request queued", "request_id", requestID, "depth", depth)
	return entry, nil
}

// Dequeue pops the head entry. An expired head surfaces as a QueueExpired
// error (and is counted); an empty queue returns (nil, nil).
func (q *RequestQueue) Dequeue() (*model.QueueEntry, error) {
	now := q.now()

	q.mu.Lock()
	if len(q.entries) == 0 {
		q.mu.Unlock()
		return nil, nil
	}
	entry := q.entries[0]
	q.entries = q.entries[1:]
	q.mu.Unlock()

	if entry.Expired(now) {
		q.expired.Add(1)
		q.logger.Infow(
			"msg", "queued request expired",
			"request_id", entry.RequestID,
			"waited", now.Sub(entry.EnqueueTime),
		)
		return nil, pkgerrors.QueueExpired()
	}
	return entry, nil
}

// Sweep removes every expired entry and returns how many were dropped.
// Called periodically by the maintenance cron so abandoned entries do not
// linger until they reach the head.
func (q *RequestQueue) Sweep() int {
	now := q.now()

	q.mu.Lock()
	kept := q.entries[:0]
	dropped := 0
	for _, e := range q.entries {
		if e.Expired(now) {
			dropped++
			continue
		}
		kept = append(kept, e)
	}
	q.entries = kept
	q.mu.Unlock()

	if dropped > 0 {
		q.expired.Add(int64(dropped))
		q.logger.Infow("msg", "queue sweep dropped expired entries", "count", dropped)
	}
	return dropped
}

// Depth returns the current number of queued entries.
func (q *RequestQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Capacity returns the configured maximum depth.
func (q *RequestQueue) Capacity() int {
	return q.cfg.Capacity
}

// ExpiredCount returns the total number of entries dropped past deadline.
func (q *RequestQueue) ExpiredCount() int64 {
	return q.expired.Load()
}

// StartDrainer releases queued entries at the configured drain rate until
// ctx is cancelled. Expired entries encountered on the way are counted and
// skipped.
func (q *RequestQueue) StartDrainer(ctx context.Context) {
	rps := q.cfg.DrainRate
	if rps <= 0 {
		rps = 50
	}
	limiter := rate.NewLimiter(rate.Limit(rps), 1)
	go q.drain(ctx, limiter)
}

func (q *RequestQueue) drain(ctx context.Context, limiter *rate.Limiter) {
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		entry := q.next(ctx)
		if entry == nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		entry.Release()
	}
}

// next blocks until an unexpired entry is available or ctx is cancelled.
func (q *RequestQueue) next(ctx context.Context) *model.QueueEntry {
	for {
		entry, err := q.Dequeue()
		if entry != nil {
			return entry
		}
		if err != nil {
			// Expired head, already counted; keep draining.
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.signal:
		}
	}
}
