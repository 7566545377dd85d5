package session

import "errors"

// Sentinel errors for connection operations.
var (
	ErrClosed         = errors.New("connection disposed")
	ErrNotARequest    = errors.New("message type has no terminal reply")
	ErrUnknownChannel = errors.New("unknown channel")
	ErrNotWritable    = errors.New("channel is receive-only")
	ErrOverflow       = errors.New("subscriber fell behind the message buffer")
)
