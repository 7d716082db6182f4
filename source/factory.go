package source

import "fmt"

// Kinds accepted by New
const (
	KindHeap  = "heap"
	KindBuddy = "buddy"
	KindMmap  = "mmap"
)

// New builds a source by kind. size is the heap budget or the buddy arena
// size; minBlock only applies to buddy arenas.
func New(kind string, size, minBlock int) (Source, error) {
	switch kind {
	case "", KindHeap:
		return NewHeap(size), nil
	case KindBuddy:
		return NewBuddy(size, minBlock)
	case KindMmap:
		return NewMmap(), nil
	default:
		return nil, fmt.Errorf("%w: unknown source kind %q", ErrInvalidGeometry, kind)
	}
}
