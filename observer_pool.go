package xbroker

import (
	"sync"
	"sync/atomic"
	"time"
)

// ObserverPool runs observers off the publish and consume paths. Notify
// never blocks: with the buffer full, or the pool closed, the event is
// dropped and counted. A panicking observer is skipped for that event.
type ObserverPool struct {
	queue   chan *Event
	workers int
	wg      sync.WaitGroup

	// guards queue against send-after-close
	mu     sync.RWMutex
	closed bool

	dropped   atomic.Uint64
	processed atomic.Uint64
	panics    atomic.Uint64
}

// NewObserverPool starts workers goroutines (default 4) behind a queue of
// bufferSize events (default 1000).
func NewObserverPool(workers, bufferSize int) *ObserverPool {
	if workers < 1 {
		workers = 4
	}
	if bufferSize < 1 {
		bufferSize = 1000
	}
	op := &ObserverPool{
		queue:   make(chan *Event, bufferSize),
		workers: workers,
	}
	for range workers {
		op.wg.Go(op.drain)
	}
	return op
}

// Notify queues e for observers.
func (op *ObserverPool) Notify(e Event, observers []Observer) {
	if len(observers) == 0 {
		return
	}
	e.observers = observers

	op.mu.RLock()
	defer op.mu.RUnlock()
	if !op.closed {
		select {
		case op.queue <- &e:
			return
		default:
		}
	}
	op.dropped.Add(1)
}

func (op *ObserverPool) drain() {
	for e := range op.queue {
		for _, o := range e.observers {
			op.deliver(o, e)
		}
		op.processed.Add(1)
	}
}

func (op *ObserverPool) deliver(o Observer, e *Event) {
	defer func() {
		if recover() != nil {
			op.panics.Add(1)
		}
	}()
	o.OnEvent(*e)
}

// Close stops accepting events and waits up to timeout for the queue to
// drain. It returns ErrObserverPoolShutdownTimeout if it does not.
func (op *ObserverPool) Close(timeout time.Duration) error {
	op.mu.Lock()
	if op.closed {
		op.mu.Unlock()
		return nil
	}
	op.closed = true
	close(op.queue)
	op.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		op.wg.Wait()
		close(drained)
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-drained:
		return nil
	case <-t.C:
		return ErrObserverPoolShutdownTimeout
	}
}

func (op *ObserverPool) Stats() PoolStats {
	return PoolStats{
		Dropped:      op.dropped.Load(),
		Processed:    op.processed.Load(),
		ActiveEvents: len(op.queue),
		Workers:      op.workers,
		BufferSize:   cap(op.queue),
	}
}
