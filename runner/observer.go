package runner

import "github.com/tailored-agentic-units/nbkernel/observability"

// Runner event types emitted while executing a cell sequence.
const (
	EventRunStart    observability.EventType = "runner.run.start"
	EventRunComplete observability.EventType = "runner.run.complete"
	EventCellStart   observability.EventType = "runner.cell.start"
	EventCellError   observability.EventType = "runner.cell.error"
)
