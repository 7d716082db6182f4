//go:build unix

package source

import (
	"fmt"
	"math"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/shenjiangwei/rsrcpool/logger"
)

// Mmap hands out anonymous private mappings taken directly from the
// operating system, bypassing the Go heap.
type Mmap struct {
	mu       sync.Mutex
	pageSize int
	stats    Stats
}

// NewMmap creates a system source backed by anonymous mappings.
func NewMmap() *Mmap {
	return &Mmap{pageSize: os.Getpagesize(), stats: Stats{Name: "mmap"}}
}

func (m *Mmap) Name() string { return "mmap" }

// Alloc maps a page-rounded region able to hold size bytes
func (m *Mmap) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrInvalidGeometry
	}
	if size > math.MaxInt-m.pageSize {
		m.mu.Lock()
		m.stats.Failures++
		m.mu.Unlock()
		return nil, ErrSizeTooLarge
	}
	n := (size + m.pageSize - 1) / m.pageSize * m.pageSize
	if n == 0 {
		n = m.pageSize
	}
	data, err := unix.Mmap(-1, 0, n, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.stats.Failures++
		logger.Error("mmap of %d bytes failed: %v", n, err)
		return nil, fmt.Errorf("%w: %v", ErrNoSpaceAvailable, err)
	}
	m.stats.Used += n
	m.stats.Allocs++
	return data[:size:n], nil
}

// Release unmaps a region previously returned by Alloc
func (m *Mmap) Release(b []byte) error {
	if cap(b) == 0 {
		return ErrInvalidAddress
	}
	n := cap(b)
	if err := unix.Munmap(b[:n]); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	m.mu.Lock()
	m.stats.Used -= n
	m.stats.Releases++
	m.mu.Unlock()
	return nil
}

func (m *Mmap) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

var _ Source = (*Mmap)(nil)
