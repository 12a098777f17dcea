package application

import (
	"fmt"
	"sync/atomic"
)

// MemoryBudget accounts for every message buffer handed between producers
// and the bridge loop. A zero or negative limit disables the byte cap but
// still tracks live buffers.
type MemoryBudget struct {
	limit int64

	inUse atomic.Int64
	live  atomic.Int64
}

func NewMemoryBudget(limit int64) *MemoryBudget {
	return &MemoryBudget{limit: limit}
}

func (m *MemoryBudget) alloc(size int) ([]byte, error) {
	n := int64(size)
	for {
		used := m.inUse.Load()
		if m.limit > 0 && used+n > m.limit {
			return nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocation, n, used, m.limit)
		}
		if m.inUse.CompareAndSwap(used, used+n) {
			break
		}
	}
	m.live.Add(1)
	return make([]byte, size), nil
}

func (m *MemoryBudget) free(size int) {
	m.inUse.Add(-int64(size))
	m.live.Add(-1)
}

// InUse returns the number of bytes currently charged to the budget.
func (m *MemoryBudget) InUse() int64 {
	return m.inUse.Load()
}

// Live returns the number of buffers allocated and not yet released.
func (m *MemoryBudget) Live() int64 {
	return m.live.Load()
}

func (m *MemoryBudget) Limit() int64 {
	return m.limit
}
