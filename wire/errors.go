package wire

import "errors"

// Sentinel errors for frame codec and transport failures.
var (
	ErrBadSignature  = errors.New("signature verification failed")
	ErrUnknownScheme = errors.New("unknown signature scheme")
	ErrBadFrame      = errors.New("malformed frame set")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)
