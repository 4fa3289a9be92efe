package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/locus/api/schemas"
	"github.com/xkilldash9x/locus/internal/observability"
)

// Sink receives a PatternObserved event whenever a resolution succeeds.
// Implementations must not block the resolver for long and never fail it.
type Sink interface {
	ObservePattern(ctx context.Context, ev schemas.PatternObserved)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) ObservePattern(context.Context, schemas.PatternObserved) {}

// StoreSink persists observations synchronously. Write failures are logged
// and counted, never returned.
type StoreSink struct {
	mem     *Memory
	log     *zap.Logger
	metrics *observability.Metrics
}

func NewStoreSink(mem *Memory, logger *zap.Logger, metrics *observability.Metrics) *StoreSink {
	return &StoreSink{mem: mem, log: observability.OrNop(logger).Named("sink"), metrics: metrics}
}

func (s *StoreSink) ObservePattern(ctx context.Context, ev schemas.PatternObserved) {
	_, err := s.mem.Store(ctx, ev.Pattern)
	s.metrics.ObservePatternWrite(err)
	if err != nil {
		s.log.Warn("Failed to persist pattern",
			zap.String("flow", ev.Flow),
			zap.String("method", string(ev.Method)),
			zap.String("action", ev.Pattern.ActionText),
			zap.Error(err),
		)
	}
}

// ErrSinkClosed is returned by Close when called twice.
var ErrSinkClosed = errors.New("sink already closed")

type queued struct {
	ctx context.Context
	ev  schemas.PatternObserved
}

// AsyncSink hands observations to next on a single worker goroutine through
// a bounded queue. When the queue is full the event is dropped and logged;
// resolution never waits on persistence.
type AsyncSink struct {
	next  Sink
	log   *zap.Logger
	queue chan queued
	done  chan struct{}

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Int64
}

// NewAsyncSink starts the worker. Close must be called to flush and stop it.
func NewAsyncSink(next Sink, size int, logger *zap.Logger) *AsyncSink {
	if size <= 0 {
		size = 1
	}
	s := &AsyncSink{
		next:  next,
		log:   observability.OrNop(logger).Named("async_sink"),
		queue: make(chan queued, size),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for item := range s.queue {
		s.next.ObservePattern(item.ctx, item.ev)
	}
}

// ObservePattern enqueues ev. The event outlives ctx's cancellation but
// keeps its values.
func (s *AsyncSink) ObservePattern(ctx context.Context, ev schemas.PatternObserved) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.log.Warn("Dropping pattern observed after close", zap.String("action", ev.Pattern.ActionText))
		return
	}
	select {
	case s.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
	default:
		s.dropped.Add(1)
		s.log.Warn("Pattern queue full, dropping observation", zap.String("action", ev.Pattern.ActionText))
	}
}

// Dropped reports how many events were discarded because the queue was full.
func (s *AsyncSink) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and waits until the queue drains or ctx ends.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
