package application

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Line is a received message formatted as "topic,payload\r\n".
// The consumer that takes it owns it and must call Release.
type Line struct {
	budget *MemoryBudget
	buf    atomic.Pointer[[]byte]
	size   int
}

func newLine(budget *MemoryBudget, topic, payload []byte) (*Line, error) {
	size := len(topic) + 1 + len(payload) + 2
	buf, err := budget.alloc(size)
	if err != nil {
		return nil, err
	}

	n := copy(buf, topic)
	buf[n] = ','
	n++
	n += copy(buf[n:], payload)
	copy(buf[n:], "\r\n")

	l := &Line{budget: budget, size: size}
	l.buf.Store(&buf)
	return l, nil
}

// Bytes returns the formatted line, or nil after Release.
func (l *Line) Bytes() []byte {
	bp := l.buf.Load()
	if bp == nil {
		return nil
	}
	return *bp
}

func (l *Line) String() string {
	return string(l.Bytes())
}

// Release refunds the line to its budget. Releasing twice is a no-op.
func (l *Line) Release() {
	if l.buf.Swap(nil) != nil {
		l.budget.free(l.size)
	}
}

// InboundQueue carries received messages from the engine callback to
// consumers. The callback side never blocks: when the queue is full the
// new line is dropped.
type InboundQueue struct {
	budget *MemoryBudget
	ch     chan *Line

	dropped atomic.Uint64

	log zerolog.Logger
}

func NewInboundQueue(capacity int, budget *MemoryBudget, log zerolog.Logger) *InboundQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	if budget == nil {
		budget = NewMemoryBudget(0)
	}
	return &InboundQueue{budget: budget, ch: make(chan *Line, capacity), log: log}
}

// Offer formats and queues a received message. Lost messages are reported
// through the returned error and the log, never retried.
func (q *InboundQueue) Offer(topic, payload []byte) error {
	l, err := newLine(q.budget, topic, payload)
	if err != nil {
		q.dropped.Add(1)
		q.log.Error().Err(err).Bytes("topic", topic).Msg("reception dropped")
		return fmt.Errorf("inbound: %w", err)
	}

	select {
	case q.ch <- l:
		q.log.Debug().Bytes("topic", topic).Int("payload_len", len(payload)).Msg("subscription received")
		return nil
	default:
		l.Release()
		q.dropped.Add(1)
		q.log.Error().Bytes("topic", topic).Msg("inbound queue full, reception dropped")
		return fmt.Errorf("inbound: %w", ErrQueueFull)
	}
}

// TryTakeLine transfers ownership of the oldest received line to the caller.
func (q *InboundQueue) TryTakeLine() (*Line, bool) {
	select {
	case l := <-q.ch:
		return l, true
	default:
		return nil, false
	}
}

func (q *InboundQueue) Len() int {
	return len(q.ch)
}

func (q *InboundQueue) Cap() int {
	return cap(q.ch)
}

// Dropped returns how many received messages were lost.
func (q *InboundQueue) Dropped() uint64 {
	return q.dropped.Load()
}
