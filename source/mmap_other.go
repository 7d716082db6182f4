//go:build !unix

package source

// Mmap falls back to the Go heap where anonymous mappings are unavailable.
type Mmap struct {
	*Heap
}

// NewMmap creates a system source.
func NewMmap() *Mmap {
	h := NewHeap(0)
	h.stats.Name = "mmap"
	return &Mmap{Heap: h}
}

func (m *Mmap) Name() string { return "mmap" }

var _ Source = (*Mmap)(nil)
