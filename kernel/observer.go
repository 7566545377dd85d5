package kernel

import "github.com/tailored-agentic-units/nbkernel/observability"

// Kernel event types emitted during launch and disposal.
const (
	EventLaunchStart    observability.EventType = "kernel.launch.start"
	EventLaunchComplete observability.EventType = "kernel.launch.complete"
	EventLaunchFailed   observability.EventType = "kernel.launch.failed"
	EventShutdown       observability.EventType = "kernel.shutdown"
	EventDisposed       observability.EventType = "kernel.disposed"
)
