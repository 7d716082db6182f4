package source

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/shenjiangwei/rsrcpool/logger"
)

const (
	// DefaultMinBlock is the smallest block a buddy arena hands out
	DefaultMinBlock = 64
	// MaxOrder bounds the number of split levels
	MaxOrder = 30
)

// Buddy manages a single contiguous arena using the buddy system.
// Blocks are split on allocation and merged with their buddy on release.
type Buddy struct {
	mu        sync.Mutex
	arena     []byte
	base      uintptr
	minBlock  int
	maxOrder  int
	blocks    [][]int     // free block offsets per order
	allocated map[int]int // offset -> order
	stats     Stats
}

// NewBuddy creates a buddy source over an arena of arenaSize bytes.
// minBlock must be a power of two; arenaSize is rounded down to
// minBlock << order for the largest order that fits.
func NewBuddy(arenaSize, minBlock int) (*Buddy, error) {
	if minBlock <= 0 {
		minBlock = DefaultMinBlock
	}
	if minBlock&(minBlock-1) != 0 {
		return nil, fmt.Errorf("%w: min block %d is not a power of two", ErrInvalidGeometry, minBlock)
	}
	if arenaSize < minBlock {
		return nil, fmt.Errorf("%w: arena %d smaller than min block %d", ErrInvalidGeometry, arenaSize, minBlock)
	}

	maxOrder := bits.Len(uint(arenaSize/minBlock)) - 1
	if maxOrder > MaxOrder {
		maxOrder = MaxOrder
	}
	size := minBlock << uint(maxOrder)

	b := &Buddy{
		arena:     make([]byte, size),
		minBlock:  minBlock,
		maxOrder:  maxOrder,
		blocks:    make([][]int, maxOrder+1),
		allocated: make(map[int]int),
		stats:     Stats{Name: "buddy", Limit: size},
	}
	b.base = uintptr(unsafe.Pointer(unsafe.SliceData(b.arena)))
	b.blocks[maxOrder] = append(b.blocks[maxOrder], 0)
	logger.Debug("Created buddy arena of %d bytes, min block %d, max order %d", size, minBlock, maxOrder)
	return b, nil
}

func (b *Buddy) Name() string { return "buddy" }

// getOrder calculates the order value for a given size
func (b *Buddy) getOrder(size int) int {
	if size <= b.minBlock {
		return 0
	}
	blocks := (size + b.minBlock - 1) / b.minBlock
	return bits.Len(uint(blocks - 1))
}

func (b *Buddy) blockSize(order int) int {
	return b.minBlock << uint(order)
}

// Alloc allocates a block able to hold size bytes
func (b *Buddy) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, ErrInvalidGeometry
	}
	if size > b.blockSize(b.maxOrder) {
		return nil, ErrSizeTooLarge
	}
	order := b.getOrder(size)
	if order > b.maxOrder {
		return nil, ErrSizeTooLarge
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Find available block from current order up
	for i := order; i <= b.maxOrder; i++ {
		n := len(b.blocks[i])
		if n == 0 {
			continue
		}
		start := b.blocks[i][n-1]
		b.blocks[i] = b.blocks[i][:n-1]

		if _, exists := b.allocated[start]; exists {
			panic(fmt.Sprintf("buddy: offset %d is already allocated", start))
		}

		// Split block if too large
		for j := i - 1; j >= order; j-- {
			b.blocks[j] = append(b.blocks[j], start+b.blockSize(j))
		}

		b.allocated[start] = order
		b.stats.Used += b.blockSize(order)
		b.stats.Allocs++
		return b.arena[start : start+size : start+b.blockSize(order)], nil
	}

	b.stats.Failures++
	logger.Debug("Buddy arena exhausted for %d bytes (order %d)", size, order)
	return nil, ErrNoSpaceAvailable
}

// Release returns a block to the arena, merging it with free buddies
func (b *Buddy) Release(block []byte) error {
	if cap(block) == 0 {
		return ErrInvalidAddress
	}
	p := uintptr(unsafe.Pointer(unsafe.SliceData(block)))
	if p < b.base || p >= b.base+uintptr(len(b.arena)) {
		return ErrInvalidAddress
	}
	start := int(p - b.base)

	b.mu.Lock()
	defer b.mu.Unlock()

	order, exists := b.allocated[start]
	if !exists {
		return ErrInvalidAddress
	}
	delete(b.allocated, start)
	b.stats.Used -= b.blockSize(order)
	b.stats.Releases++
	b.mergeBlockLocked(start, order)
	return nil
}

// mergeBlockLocked coalesces a freed block with its buddy as far up as possible
func (b *Buddy) mergeBlockLocked(start, order int) {
	current := start
	for order < b.maxOrder {
		buddy := current ^ b.blockSize(order)
		idx := -1
		for i, off := range b.blocks[order] {
			if off == buddy {
				idx = i
				break
			}
		}
		if idx == -1 {
			break
		}

		last := len(b.blocks[order]) - 1
		b.blocks[order][idx] = b.blocks[order][last]
		b.blocks[order] = b.blocks[order][:last]

		if buddy < current {
			current = buddy
		}
		order++
	}
	b.blocks[order] = append(b.blocks[order], current)
}

// FreeBlocks reports the number of free blocks at each order
func (b *Buddy) FreeBlocks() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]int, len(b.blocks))
	for i, l := range b.blocks {
		out[i] = len(l)
	}
	return out
}

func (b *Buddy) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

var _ Source = (*Buddy)(nil)
