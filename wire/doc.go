// Package wire implements the kernel session message protocol: the message
// model shared by all five channels, the signed frame codec, the TCP frame
// transport, and the connection descriptor file handed to a spawned kernel.
//
// # Messages
//
// Every message carries a header, an optional parent header, opaque metadata,
// a content object typed by the header's message type, and zero or more raw
// binary buffers. The header id is unique for the lifetime of a session and
// is the correlation key: a reply's parent header id equals the originating
// request's header id.
//
// Messages are constructed through the builder:
//
//	msg := wire.NewExecuteRequest(sessionID, wire.ExecuteRequest{
//	    Code:         "print(40 + 2)",
//	    StoreHistory: true,
//	}).Build()
//
// # Frames
//
// On the wire a message is an ordered set of frames: routing identity,
// the <IDS|MSG> delimiter, a hex HMAC signature, then the header, parent
// header, metadata, and content as JSON, followed by the raw buffers. The
// signature covers the four JSON frames, keyed with the session key under
// the configured scheme (hmac-sha256 by default). Decoding verifies the
// signature and fails with ErrBadSignature on mismatch unless the codec was
// built with WithoutVerification.
//
// # Transport
//
// Frame sets travel over a stream as a big-endian uint32 frame count
// followed by each frame as a uint32 length and its bytes. WriteFrames and
// ReadFrames implement both directions.
package wire
