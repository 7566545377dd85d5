package kernel

import "errors"

// Sentinel errors for kernel launch.
var (
	ErrLaunchTimeout = errors.New("kernel did not become ready in time")
	ErrInvalidSpec   = errors.New("invalid kernelspec")
)
