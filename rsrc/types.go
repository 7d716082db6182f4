// Package rsrc manages named pools of resources with O(1) allocate and free,
// growth under a per-pool policy, usage statistics and deterministic
// double-free detection.
//
// Every pool is itself recorded as a resource of a distinguished registry
// pool, which is how operations over all pools iterate. Resources are
// addressed by generation-checked handles rather than raw pointers, so a
// handle presented after its resource was freed is rejected instead of
// corrupting the free list.
//
// The package is single-threaded: a Manager and its pools must be used from
// one goroutine at a time.
package rsrc

import (
	"github.com/eapache/queue"

	"github.com/shenjiangwei/rsrcpool/source"
)

// State tags a resource header.
type State uint8

const (
	// StateFree means the resource sits on its pool's free list
	StateFree State = iota
	// StateInUse means the resource is owned by a caller
	StateInUse
)

func (s State) String() string {
	if s == StateInUse {
		return "in-use"
	}
	return "free"
}

// Kind distinguishes fixed-size pools from variable-size pools.
type Kind uint8

const (
	KindFixed Kind = iota
	KindVariable
)

func (k Kind) String() string {
	if k == KindVariable {
		return "variable"
	}
	return "fixed"
}

// ClearPolicy controls whether resource bodies are zeroed on allocation.
type ClearPolicy uint8

const (
	// Clear zero-fills every body before it is handed out
	Clear ClearPolicy = iota
	// NoClear hands bodies out with whatever they last contained
	NoClear
)

func (c ClearPolicy) String() string {
	if c == NoClear {
		return "no-clear"
	}
	return "clear"
}

// DoubleFreePolicy controls what Free does with a handle that was already freed.
type DoubleFreePolicy uint8

const (
	// ReportDoubleFree returns ErrAlreadyFreed and leaves every pool untouched
	ReportDoubleFree DoubleFreePolicy = iota
	// AbortOnDoubleFree panics, matching a fail-fast embedded allocator
	AbortOnDoubleFree
)

// OOMHandler is invoked when a pool cannot satisfy a request and cannot grow.
// amount is the number of bytes that could not be obtained. If the handler
// returns, the triggering call fails with ErrOutOfMemory.
type OOMHandler func(p *Pool, amount int)

// header is the metadata kept for every slot of a pool.
type header struct {
	state  State
	vacant bool // no body is materialized for this slot
	gen    uint16
	tag    string
	size   int
	body   []byte
	chunk  int // index into Pool.chunks, or -1 when the body was allocated alone
}

// Pool is a named collection of resources with a growth policy, statistics
// and behavior hooks.
type Pool struct {
	m    *Manager
	id   uint16
	seq  uint64
	name string
	kind Kind
	src  source.Source

	elementSize    int
	initialCount   int
	incrementCount int
	maxCount       int
	classID        uint32

	slots  []header
	free   *queue.Queue // slot indices holding a free body
	vacant *queue.Queue // slot indices without a body
	chunks [][]byte

	numInUse    int
	numFree     int
	capacity    int
	totalAllocs uint64
	hiWater     int
	loWater     int
	loSet       bool

	allocHelper AllocHelper
	freeHelper  FreeHelper
	printHelper PrintHelper

	desc      Handle
	destroyed bool
}

// Stats is a snapshot of a pool's configuration and counters.
type Stats struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	ElementSize int    `json:"element_size"`
	InUse       int    `json:"in_use"`
	Free        int    `json:"free"`
	Capacity    int    `json:"capacity"`
	TotalAllocs uint64 `json:"total_allocs"`
	HiWater     int    `json:"hi_water"`
	LoWater     int    `json:"lo_water"`
	Initial     int    `json:"initial"`
	Increment   int    `json:"increment"`
	Max         int    `json:"max"`
	ClassID     uint32 `json:"class_id"`
}
