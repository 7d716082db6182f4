package source

import (
	"sync"

	"github.com/shenjiangwei/rsrcpool/logger"
)

// MaxHeapBlock is the largest single block a heap source hands out
const MaxHeapBlock = 1 << 30

// Heap allocates blocks from the Go heap, optionally under a byte budget.
type Heap struct {
	mu    sync.Mutex
	limit int
	stats Stats
}

// NewHeap creates a heap source. A limit of 0 means unbounded.
func NewHeap(limit int) *Heap {
	if limit < 0 {
		limit = 0
	}
	return &Heap{limit: limit, stats: Stats{Name: "heap", Limit: limit}}
}

func (h *Heap) Name() string { return "heap" }

// Alloc returns a zeroed block of size bytes
func (h *Heap) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrInvalidGeometry
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if size > MaxHeapBlock {
		h.stats.Failures++
		logger.Debug("Heap refused block of %d bytes, largest is %d", size, MaxHeapBlock)
		return nil, ErrSizeTooLarge
	}
	if h.limit > 0 && size > h.limit-h.stats.Used {
		h.stats.Failures++
		logger.Debug("Heap budget exhausted: used %d, limit %d, requested %d", h.stats.Used, h.limit, size)
		return nil, ErrNoSpaceAvailable
	}
	h.stats.Used += size
	h.stats.Allocs++
	return make([]byte, size), nil
}

// Release returns a block to the budget
func (h *Heap) Release(b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := cap(b)
	if n > h.stats.Used {
		return ErrInvalidAddress
	}
	h.stats.Used -= n
	h.stats.Releases++
	return nil
}

func (h *Heap) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

var _ Source = (*Heap)(nil)
