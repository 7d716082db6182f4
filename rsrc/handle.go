package rsrc

import "fmt"

// Handle identifies one resource of one pool. It packs the owning pool id,
// the slot generation and the slot index, so a handle outlives neither its
// pool nor the allocation it was issued for.
type Handle uint64

// Nil is never issued by a pool.
const Nil Handle = 0

func makeHandle(pool, gen uint16, index int) Handle {
	return Handle(uint64(pool)<<48 | uint64(gen)<<32 | uint64(uint32(index)))
}

// PoolID returns the id of the pool that issued the handle
func (h Handle) PoolID() uint16 { return uint16(h >> 48) }

// Gen returns the slot generation the handle was issued for
func (h Handle) Gen() uint16 { return uint16(h >> 32) }

// Index returns the slot index
func (h Handle) Index() int { return int(uint32(h)) }

func (h Handle) IsNil() bool { return h == Nil }

func (h Handle) String() string {
	if h == Nil {
		return "nil"
	}
	return fmt.Sprintf("%d.%d#%d", h.PoolID(), h.Index(), h.Gen())
}

// nextGen advances a slot generation, skipping zero so that no live handle
// ever encodes an unset generation.
func nextGen(g uint16) uint16 {
	g++
	if g == 0 {
		g = 1
	}
	return g
}
