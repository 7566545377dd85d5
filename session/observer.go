package session

import "github.com/tailored-agentic-units/nbkernel/observability"

// Session event types emitted on the connection's observer.
const (
	EventCreated       observability.EventType = "session.connection.created"
	EventDisposed      observability.EventType = "session.connection.disposed"
	EventMessage       observability.EventType = "session.channel.message"
	EventChannelClosed observability.EventType = "session.channel.closed"
	EventDecodeError   observability.EventType = "session.channel.decode_error"
	EventDropped       observability.EventType = "session.bus.dropped"
)
