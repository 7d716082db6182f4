// Package source provides the underlying memory that resource pools carve
// their resources from.
package source

// Source hands out raw byte blocks and takes them back.
//
// Blocks returned by Alloc have len equal to the requested size. Release must
// be given the slice exactly as Alloc returned it.
type Source interface {
	Name() string
	Alloc(size int) ([]byte, error)
	Release(b []byte) error
	Stats() Stats
}

// Stats is a point-in-time view of a source.
type Stats struct {
	Name     string `json:"name"`
	Used     int    `json:"used"`
	Limit    int    `json:"limit"` // 0 means unbounded
	Allocs   uint64 `json:"allocs"`
	Releases uint64 `json:"releases"`
	Failures uint64 `json:"failures"`
}
