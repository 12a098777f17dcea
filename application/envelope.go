package application

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// Envelope is a single owned buffer holding one topic and payload pair.
// Layout: uvarint(len(topic)) | topic | payload.
//
// Whoever holds the pointer owns the buffer. After a successful Push the
// producer must not touch it again; the bridge loop releases it once the
// publish call returns.
type Envelope struct {
	budget *MemoryBudget
	buf    atomic.Pointer[[]byte]
	size   int
}

func EncodeEnvelope(budget *MemoryBudget, topic, payload []byte) (*Envelope, error) {
	if len(topic) == 0 {
		return nil, ErrInvalidTopic
	}

	var prefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(prefix[:], uint64(len(topic)))

	size := n + len(topic) + len(payload)
	buf, err := budget.alloc(size)
	if err != nil {
		return nil, fmt.Errorf("encode envelope for %q: %w", topic, err)
	}

	copy(buf, prefix[:n])
	copy(buf[n:], topic)
	copy(buf[n+len(topic):], payload)

	e := &Envelope{budget: budget, size: size}
	e.buf.Store(&buf)
	return e, nil
}

// Decode returns read-only views into the envelope buffer.
func (e *Envelope) Decode() (topic []byte, payload []byte, err error) {
	bp := e.buf.Load()
	if bp == nil {
		return nil, nil, ErrEnvelopeReleased
	}
	buf := *bp

	l, n := binary.Uvarint(buf)
	if n <= 0 || uint64(len(buf)-n) < l {
		return nil, nil, fmt.Errorf("corrupt envelope header")
	}
	end := n + int(l)
	return buf[n:end:end], buf[end:], nil
}

// Size returns the number of bytes charged to the budget.
func (e *Envelope) Size() int {
	return e.size
}

// Release refunds the envelope to its budget. Releasing twice is a no-op.
// The backing array is not cleared: the engine may still be writing a
// payload view to the wire after the publish call has returned.
func (e *Envelope) Release() {
	if e.buf.Swap(nil) != nil {
		e.budget.free(e.size)
	}
}
