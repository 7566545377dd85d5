package ports

import "errors"

// Sentinel errors for port allocation.
var (
	ErrExhausted = errors.New("no free port within probe window")
	ErrClosed    = errors.New("allocator closed")
)
