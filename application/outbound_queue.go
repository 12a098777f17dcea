package application

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const DefaultQueueSize = 20

// OutboundQueue is a bounded FIFO of envelopes waiting for the bridge loop.
// Any goroutine may publish; only the bridge loop pops. On overflow the
// oldest envelope is evicted so the newest submissions survive.
type OutboundQueue struct {
	budget *MemoryBudget
	ch     chan *Envelope

	evicted atomic.Uint64

	log zerolog.Logger
}

func NewOutboundQueue(capacity int, budget *MemoryBudget, log zerolog.Logger) *OutboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if budget == nil {
		budget = NewMemoryBudget(0)
	}
	return &OutboundQueue{budget: budget, ch: make(chan *Envelope, capacity), log: log}
}

// Publish encodes topic and payload into an envelope and queues it. It
// never blocks. On error nothing is left queued on behalf of this call.
func (q *OutboundQueue) Publish(topic, payload []byte) error {
	e, err := EncodeEnvelope(q.budget, topic, payload)
	if err != nil {
		q.log.Error().Err(err).Msg("publication dropped")
		return err
	}
	return q.Push(e)
}

// Push hands ownership of e to the queue. If the queue is full the oldest
// entry is released and insertion is retried once; if that fails too, e is
// released and ErrQueueFull returned.
func (q *OutboundQueue) Push(e *Envelope) error {
	select {
	case q.ch <- e:
		return nil
	default:
	}

	select {
	case old := <-q.ch:
		q.evicted.Add(1)
		q.log.Warn().Int("size", old.Size()).Msg("outbound queue full, oldest publication evicted")
		old.Release()
	default:
	}

	select {
	case q.ch <- e:
		return nil
	default:
		e.Release()
		q.log.Error().Msg("outbound queue full, publication dropped")
		return fmt.Errorf("outbound: %w", ErrQueueFull)
	}
}

// TryPop transfers ownership of the oldest envelope to the caller.
func (q *OutboundQueue) TryPop() (*Envelope, bool) {
	select {
	case e := <-q.ch:
		return e, true
	default:
		return nil, false
	}
}

func (q *OutboundQueue) Len() int {
	return len(q.ch)
}

func (q *OutboundQueue) Cap() int {
	return cap(q.ch)
}

// Evicted returns how many envelopes were discarded to make room.
func (q *OutboundQueue) Evicted() uint64 {
	return q.evicted.Load()
}
