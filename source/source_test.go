package source

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const KB = 1024

func TestHeap(t *testing.T) {
	t.Run("Unbounded allocation", func(t *testing.T) {
		h := NewHeap(0)
		b, err := h.Alloc(128)
		require.NoError(t, err)
		assert.Len(t, b, 128)
		require.NoError(t, h.Release(b))
		assert.Equal(t, 0, h.Stats().Used)
	})

	t.Run("Budget exhaustion", func(t *testing.T) {
		h := NewHeap(100)
		b1, err := h.Alloc(60)
		require.NoError(t, err)
		_, err = h.Alloc(60)
		assert.ErrorIs(t, err, ErrNoSpaceAvailable)
		assert.Equal(t, uint64(1), h.Stats().Failures)

		require.NoError(t, h.Release(b1))
		_, err = h.Alloc(60)
		assert.NoError(t, err)
	})

	t.Run("Oversized block", func(t *testing.T) {
		h := NewHeap(0)
		_, err := h.Alloc(MaxHeapBlock + 1)
		assert.ErrorIs(t, err, ErrSizeTooLarge)
		_, err = h.Alloc(math.MaxInt)
		assert.ErrorIs(t, err, ErrSizeTooLarge)
		assert.Equal(t, uint64(2), h.Stats().Failures)
		assert.Zero(t, h.Stats().Used)
	})

	t.Run("Budget does not wrap", func(t *testing.T) {
		h := NewHeap(100)
		_, err := h.Alloc(10)
		require.NoError(t, err)
		_, err = h.Alloc(MaxHeapBlock)
		assert.ErrorIs(t, err, ErrNoSpaceAvailable)
		assert.Equal(t, 10, h.Stats().Used)
	})
}

func TestBuddy(t *testing.T) {
	t.Run("Geometry", func(t *testing.T) {
		_, err := NewBuddy(1000, 48)
		assert.ErrorIs(t, err, ErrInvalidGeometry)
		_, err = NewBuddy(16, 64)
		assert.ErrorIs(t, err, ErrInvalidGeometry)

		b, err := NewBuddy(100*KB, 64)
		require.NoError(t, err)
		assert.Equal(t, 64*KB, b.Stats().Limit)
	})

	t.Run("Split and merge", func(t *testing.T) {
		b, err := NewBuddy(4*KB, 64)
		require.NoError(t, err)
		top := len(b.FreeBlocks()) - 1

		blocks := make([][]byte, 0)
		for _, size := range []int{1, 64, 65, 200, 1000} {
			blk, err := b.Alloc(size)
			require.NoError(t, err, "alloc %d", size)
			assert.Len(t, blk, size)
			blocks = append(blocks, blk)
		}
		assert.Zero(t, b.FreeBlocks()[top])

		for _, blk := range blocks {
			require.NoError(t, b.Release(blk))
		}
		free := b.FreeBlocks()
		assert.Equal(t, 1, free[top], "arena should merge back into one block")
		for order := 0; order < top; order++ {
			assert.Zero(t, free[order], "order %d", order)
		}
		assert.Zero(t, b.Stats().Used)
	})

	t.Run("Distinct blocks", func(t *testing.T) {
		b, err := NewBuddy(4*KB, 64)
		require.NoError(t, err)
		seen := make(map[*byte]bool)
		for i := 0; i < 64; i++ {
			blk, err := b.Alloc(64)
			require.NoError(t, err)
			p := &blk[:1][0]
			assert.False(t, seen[p])
			seen[p] = true
		}
		_, err = b.Alloc(1)
		assert.ErrorIs(t, err, ErrNoSpaceAvailable)
	})

	t.Run("Too large", func(t *testing.T) {
		b, err := NewBuddy(4*KB, 64)
		require.NoError(t, err)
		_, err = b.Alloc(8 * KB)
		assert.ErrorIs(t, err, ErrSizeTooLarge)
		_, err = b.Alloc(math.MaxInt)
		assert.ErrorIs(t, err, ErrSizeTooLarge)
	})

	t.Run("Invalid release", func(t *testing.T) {
		b, err := NewBuddy(4*KB, 64)
		require.NoError(t, err)
		assert.ErrorIs(t, b.Release(make([]byte, 64)), ErrInvalidAddress)

		blk, err := b.Alloc(64)
		require.NoError(t, err)
		require.NoError(t, b.Release(blk))
		assert.ErrorIs(t, b.Release(blk), ErrInvalidAddress)
	})
}

func TestMmap(t *testing.T) {
	m := NewMmap()
	b, err := m.Alloc(100)
	require.NoError(t, err)
	require.Len(t, b, 100)
	for i := range b {
		b[i] = 0xab
	}
	assert.Positive(t, m.Stats().Used)
	require.NoError(t, m.Release(b))
	assert.Zero(t, m.Stats().Used)

	_, err = m.Alloc(math.MaxInt)
	assert.ErrorIs(t, err, ErrSizeTooLarge)
	assert.Zero(t, m.Stats().Used)
}

func TestNew(t *testing.T) {
	for _, kind := range []string{KindHeap, KindBuddy, KindMmap} {
		s, err := New(kind, 64*KB, 64)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, s.Name())
	}
	_, err := New("tape", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidGeometry)
}

func BenchmarkBuddyAlloc(b *testing.B) {
	for _, size := range []int{64, 512, 4 * KB} {
		b.Run(fmt.Sprintf("Size_%d", size), func(b *testing.B) {
			arena, err := NewBuddy(1024*KB, 64)
			if err != nil {
				b.Fatal(err)
			}
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				blk, err := arena.Alloc(size)
				if err != nil {
					b.Fatalf("Failed to allocate %d bytes: %v", size, err)
				}
				_ = arena.Release(blk)
			}
		})
	}
}
