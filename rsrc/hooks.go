package rsrc

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// Resource is the view of one resource handed to behavior hooks.
type Resource struct {
	Pool   *Pool
	Handle Handle
	Tag    string
	State  State
	Body   []byte
}

// Described returns the pool a registry descriptor stands for, or nil when
// the resource does not belong to the registry.
func (r *Resource) Described() *Pool {
	if r.Pool == nil || r.Pool != r.Pool.m.registry {
		return nil
	}
	return r.Pool.m.Pool(decodeDescriptor(r.Body).id)
}

// AllocHelper runs on a body right after it is allocated.
type AllocHelper interface {
	OnAlloc(r *Resource)
}

// FreeHelper runs on a body right before it goes back to its pool.
type FreeHelper interface {
	OnFree(r *Resource)
}

// PrintHelper renders one resource.
type PrintHelper interface {
	Print(w io.Writer, r *Resource)
}

// AllocHelperFunc adapts a function to AllocHelper.
type AllocHelperFunc func(r *Resource)

func (f AllocHelperFunc) OnAlloc(r *Resource) { f(r) }

// FreeHelperFunc adapts a function to FreeHelper.
type FreeHelperFunc func(r *Resource)

func (f FreeHelperFunc) OnFree(r *Resource) { f(r) }

// PrintHelperFunc adapts a function to PrintHelper.
type PrintHelperFunc func(w io.Writer, r *Resource)

func (f PrintHelperFunc) Print(w io.Writer, r *Resource) { f(w, r) }

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// FillOnes stamps every byte of a freshly allocated body with 0xFF.
var FillOnes AllocHelper = AllocHelperFunc(func(r *Resource) { fill(r.Body, 0xff) })

// FillZeros stamps every byte of a body being freed with 0x00.
var FillZeros FreeHelper = FreeHelperFunc(func(r *Resource) { clear(r.Body) })

// HexDump prints the resource line followed by its body as hex.
var HexDump PrintHelper = PrintHelperFunc(func(w io.Writer, r *Resource) {
	fmt.Fprintf(w, "    %-8s %-24q %d bytes\n", r.Handle, r.Tag, len(r.Body))
	for _, line := range strings.SplitAfter(hex.Dump(r.Body), "\n") {
		if line != "" {
			fmt.Fprintf(w, "      %s", line)
		}
	}
})

// DefaultPrint is the resource printer pools start with.
var DefaultPrint PrintHelper = PrintHelperFunc(func(w io.Writer, r *Resource) {
	fmt.Fprintf(w, "    %-8s %-24q %d bytes\n", r.Handle, r.Tag, len(r.Body))
})

// Summary is the registry's default printer: one line per described pool.
var Summary PrintHelper = PrintHelperFunc(func(w io.Writer, r *Resource) {
	p := r.Described()
	if p == nil {
		DefaultPrint.Print(w, r)
		return
	}
	s := p.Stats()
	fmt.Fprintf(w, "%-16s %-8s size=%-6d inuse=%-5d free=%-5d allocs=%-7d hi=%-5d lo=%-5d max=%d\n",
		s.Name, s.Kind, s.ElementSize, s.InUse, s.Free, s.TotalAllocs, s.HiWater, s.LoWater, s.Max)
})
