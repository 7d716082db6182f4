package source

import "errors"

// Error definitions
var (
	// ErrSizeTooLarge is returned when requested size exceeds the largest block a source can hand out
	ErrSizeTooLarge = errors.New("source: requested size is too large")
	// ErrNoSpaceAvailable is returned when the source has no suitable space left
	ErrNoSpaceAvailable = errors.New("source: no space available")
	// ErrInvalidAddress is returned when releasing memory the source did not hand out
	ErrInvalidAddress = errors.New("source: invalid address")
	// ErrInvalidGeometry is returned when a source is configured with unusable sizes
	ErrInvalidGeometry = errors.New("source: invalid geometry")
)
