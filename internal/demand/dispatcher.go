package demand

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"go.uber.org/zap"

	"github.com/venue-app/pricingservice/internal/domain"
	"github.com/venue-app/pricingservice/internal/metrics"
)

// ErrDispatcherClosed is returned by Process after Close.
var ErrDispatcherClosed = errors.New("demand dispatcher closed")

// Processor is the unit of work a dispatcher shard runs.
type Processor interface {
	Process(ctx context.Context, ev domain.BookingEvent) ([]domain.DemandObservation, error)
}

type result struct {
	observations []domain.DemandObservation
	err          error
}

type job struct {
	ctx   context.Context
	event domain.BookingEvent
	done  chan result
}

// Dispatcher routes events to a fixed set of shard goroutines by
// sub-location, so one bucket is only ever touched by one goroutine. Shard
// queues are bounded.
type Dispatcher struct {
	processor Processor
	shards    []chan job
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts shards goroutines, each with a queue of queueSize.
func NewDispatcher(processor Processor, shards, queueSize int, logger *zap.Logger) *Dispatcher {
	if shards <= 0 {
		shards = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		processor: processor,
		shards:    make([]chan job, shards),
		logger:    logger,
	}
	for i := range d.shards {
		d.shards[i] = make(chan job, queueSize)
		d.wg.Add(1)
		go d.run(d.shards[i])
	}
	return d
}

func (d *Dispatcher) run(queue chan job) {
	defer d.wg.Done()
	for j := range queue {
		metrics.DispatcherQueueDepth.Dec()
		obs, err := d.processor.Process(j.ctx, j.event)
		j.done <- result{observations: obs, err: err}
	}
}

func (d *Dispatcher) shardFor(subLocationID string) chan job {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subLocationID))
	return d.shards[h.Sum32()%uint32(len(d.shards))]
}

// Process enqueues ev on its shard and waits for the result. It blocks while
// the shard queue is full, until ctx is done.
func (d *Dispatcher) Process(ctx context.Context, ev domain.BookingEvent) ([]domain.DemandObservation, error) {
	j := job{ctx: ctx, event: ev, done: make(chan result, 1)}

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		return nil, ErrDispatcherClosed
	}
	select {
	case d.shardFor(ev.SubLocationID) <- j:
		metrics.DispatcherQueueDepth.Inc()
		d.mu.RUnlock()
	case <-ctx.Done():
		d.mu.RUnlock()
		return nil, ctx.Err()
	}

	// Once queued the job runs to completion even if ctx ends, so the
	// caller always learns its outcome.
	r := <-j.done
	return r.observations, r.err
}

// Close stops accepting events and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, q := range d.shards {
		close(q)
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Demand dispatcher drained")
}
