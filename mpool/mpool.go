// Package mpool serves byte buffers of arbitrary size from a set of
// size-classed fixed pools, falling back to a variable overflow pool for
// requests no class can take.
package mpool

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/rsrc"
)

const (
	MB = 1024 * 1024
	KB = 1024
)

// Class describes one size class backed by a fixed pool
type Class struct {
	Name      string `mapstructure:"name" yaml:"name" json:"name"`
	Size      int    `mapstructure:"size" yaml:"size" json:"size"`
	Initial   int    `mapstructure:"initial" yaml:"initial" json:"initial"`
	Increment int    `mapstructure:"increment" yaml:"increment" json:"increment"`
	Max       int    `mapstructure:"max" yaml:"max" json:"max"`
}

// Options configures a MemoryPool
type Options struct {
	Classes []Class `mapstructure:"classes" yaml:"classes" json:"classes"`
	// OverflowMax caps concurrent overflow buffers; 0 means unbounded
	OverflowMax int `mapstructure:"overflow_max" yaml:"overflow_max" json:"overflow_max"`
}

// DefaultOptions returns the small (4KB), medium (64KB) and large (1MB)
// classes with an unbounded overflow pool.
func DefaultOptions() Options {
	return Options{
		Classes: []Class{
			{Name: "small", Size: 4 * KB, Initial: 64, Increment: 64, Max: 1024},
			{Name: "medium", Size: 64 * KB, Initial: 16, Increment: 16, Max: 256},
			{Name: "large", Size: 1 * MB, Initial: 2, Increment: 2, Max: 32},
		},
	}
}

// PoolStats represents memory pool statistics
type PoolStats struct {
	TotalAllocations uint64 `json:"total_allocations"`
	PoolHits         uint64 `json:"pool_hits"`
	PoolMisses       uint64 `json:"pool_misses"`
	TotalFrees       uint64 `json:"total_frees"`
	PoolFreeHits     uint64 `json:"pool_free_hits"`
	PoolFreeMisses   uint64 `json:"pool_free_misses"`
}

// MemoryPool represents a memory pool structure
type MemoryPool struct {
	mu       sync.Mutex
	m        *rsrc.Manager
	classes  []*rsrc.Pool // ascending element size
	overflow *rsrc.Pool
	stats    PoolStats
	closed   bool
}

// NewMemoryPool creates one fixed pool per class and the overflow pool in m
func NewMemoryPool(m *rsrc.Manager, opts Options) (*MemoryPool, error) {
	classes := append([]Class(nil), opts.Classes...)
	sort.SliceStable(classes, func(i, j int) bool { return classes[i].Size < classes[j].Size })

	mp := &MemoryPool{m: m}
	for i, c := range classes {
		name := c.Name
		if name == "" {
			name = fmt.Sprintf("class %d", c.Size)
		}
		p, err := m.NewPool(name, c.Size, c.Initial, c.Increment, c.Max, uint32(i+1))
		if err != nil {
			mp.destroy()
			return nil, fmt.Errorf("failed to create %s class: %w", name, err)
		}
		mp.classes = append(mp.classes, p)
	}
	overflow, err := m.NewVarPool("overflow", opts.OverflowMax)
	if err != nil {
		mp.destroy()
		return nil, fmt.Errorf("failed to create overflow pool: %w", err)
	}
	mp.overflow = overflow
	logger.Info("Memory pool ready with %d size classes", len(mp.classes))
	return mp, nil
}

// full reports whether p would have to escalate to serve another allocation
func full(p *rsrc.Pool) bool {
	if p.NumFree() > 0 {
		return false
	}
	s := p.Stats()
	return s.Increment == 0 || (s.Max > 0 && s.Capacity >= s.Max)
}

// Allocate allocates memory from the memory pool. Requests go to the
// smallest class that fits and still has room, otherwise to the overflow pool.
func (p *MemoryPool) Allocate(size int) (rsrc.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return rsrc.Nil, rsrc.ErrPoolDestroyed
	}
	if size < 0 {
		return rsrc.Nil, rsrc.ErrInvalidArgument
	}
	p.stats.TotalAllocations++
	tag := fmt.Sprintf("alloc %d", size)

	for _, c := range p.classes {
		if c.ElementSize() < size || full(c) {
			continue
		}
		h, err := c.Alloc(tag)
		if err != nil {
			return rsrc.Nil, err
		}
		p.stats.PoolHits++
		return h, nil
	}

	p.stats.PoolMisses++
	return p.overflow.AllocVar(tag, size)
}

// Free releases memory back to the memory pool
func (p *MemoryPool) Free(h rsrc.Handle) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return rsrc.ErrPoolDestroyed
	}
	owner, err := p.m.Owner(h)
	if err != nil {
		return err
	}
	if owner == p.overflow {
		if err := owner.Free(h); err != nil {
			return err
		}
		p.stats.TotalFrees++
		p.stats.PoolFreeMisses++
		return nil
	}
	for _, c := range p.classes {
		if c == owner {
			if err := owner.Free(h); err != nil {
				return err
			}
			p.stats.TotalFrees++
			p.stats.PoolFreeHits++
			return nil
		}
	}
	return fmt.Errorf("%w: %s belongs to pool %q", rsrc.ErrInvalidHandle, h, owner.Name())
}

// Bytes returns the buffer behind h. Class buffers span the whole class size.
func (p *MemoryPool) Bytes(h rsrc.Handle) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.m.Bytes(h)
}

// Stats returns a copy of the hit and miss counters
func (p *MemoryPool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Pools returns the class pools followed by the overflow pool
func (p *MemoryPool) Pools() []*rsrc.Pool {
	out := append([]*rsrc.Pool(nil), p.classes...)
	return append(out, p.overflow)
}

func (p *MemoryPool) destroy() error {
	var errs []error
	for _, c := range p.classes {
		if err := c.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.overflow != nil {
		if err := p.overflow.Destroy(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close destroys every pool. It fails with rsrc.ErrPoolInUse while any
// buffer is still allocated, leaving the memory pool usable.
func (p *MemoryPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	for _, c := range p.Pools() {
		if c.NumInUse() > 0 {
			return fmt.Errorf("failed to close memory pool: %w", rsrc.ErrPoolInUse)
		}
	}
	if err := p.destroy(); err != nil {
		return fmt.Errorf("failed to close memory pool: %w", err)
	}
	p.closed = true
	logger.Info("Memory pool closed after %d allocations, %d hits", p.stats.TotalAllocations, p.stats.PoolHits)
	return nil
}

func percent(n, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// WriteReport prints the hit and miss statistics
func (p *MemoryPool) WriteReport(w io.Writer) {
	s := p.Stats()
	fmt.Fprintf(w, "\nMemory Pool Statistics:\n")
	fmt.Fprintf(w, "Total Allocations: %d\n", s.TotalAllocations)
	fmt.Fprintf(w, "Pool Hits: %d (%.2f%%)\n", s.PoolHits, percent(s.PoolHits, s.TotalAllocations))
	fmt.Fprintf(w, "Pool Misses: %d (%.2f%%)\n", s.PoolMisses, percent(s.PoolMisses, s.TotalAllocations))
	fmt.Fprintf(w, "Total Frees: %d\n", s.TotalFrees)
	fmt.Fprintf(w, "Pool Free Hits: %d (%.2f%%)\n", s.PoolFreeHits, percent(s.PoolFreeHits, s.TotalFrees))
	fmt.Fprintf(w, "Pool Free Misses: %d (%.2f%%)\n", s.PoolFreeMisses, percent(s.PoolFreeMisses, s.TotalFrees))
}
