// Package session owns one multi-channel protocol connection to a kernel:
// five channel sockets, a signing codec, a temporary connection descriptor
// file, and one receive loop per receiving channel, all feeding an internal
// message bus.
//
// # Lifecycle
//
// NewConnection allocates one port per channel from a shared ports.Allocator,
// binds a loopback socket per channel, writes the connection descriptor file
// a spawned kernel will consume, and starts the receive loops. The kernel
// dials in; sends issued before it has connected wait on the accept.
//
// Dispose closes every socket, returns the five ports to the allocator, and
// best-effort deletes the descriptor file. It is idempotent and callable
// from any failure path.
//
// # Correlation
//
// SendAndReceive registers a one-shot bus subscriber, sends the request on
// the channel implied by its header, and accumulates every bus message whose
// parent id matches the request id until the terminal reply type for that
// request arrives. Interleaved replies for other in-flight requests on the
// same channel never leak into the wrong buffer; correlation is purely by
// parent id. The layer imposes no timeout of its own — callers bound the
// wait with the context, and on giving up remain responsible for disposing
// the session.
//
// Send is the fire-and-forget variant for requests whose replies are drained
// elsewhere, e.g. through Subscribe.
package session
