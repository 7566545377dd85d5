// Package runner drives an ordered sequence of notebook cells through one
// kernel session. Each code cell becomes an execute_request; the correlated
// reply aggregate is translated into displayable output records. A kernel
// error aborts the remaining cells while keeping everything already
// collected — partial progress is the point for a harness grading a
// sequence.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/tailored-agentic-units/nbkernel/observability"
	"github.com/tailored-agentic-units/nbkernel/wire"
)

// State of a run.
type State string

const (
	StateReady     State = "ready"
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
)

// CellKind distinguishes executable cells from markup.
type CellKind string

const (
	CellCode   CellKind = "code"
	CellMarkup CellKind = "markup"
)

// Cell is one unit of an ordered notebook sequence.
type Cell struct {
	Kind   CellKind `json:"kind"`
	Source string   `json:"source"`
}

// Output is one display record: mime type to payload.
type Output map[string]any

// ErrorRecord is a kernel-reported execution error, surfaced as data
// rather than a Go error because failing user code is an expected outcome.
type ErrorRecord struct {
	Name      string   `json:"name"`
	Message   string   `json:"message"`
	Traceback []string `json:"traceback,omitempty"`
}

// CellResult holds the outputs collected for one cell.
type CellResult struct {
	Cell    Cell         `json:"cell"`
	Outputs []Output     `json:"outputs,omitempty"`
	Error   *ErrorRecord `json:"error,omitempty"`
}

// Result is the outcome of a run: terminal state plus per-cell outputs in
// sequence order. FinalReplies carries the raw reply aggregate of the last
// executed cell when requested with WithFinalReplies.
type Result struct {
	State        State           `json:"state"`
	Cells        []CellResult    `json:"cells"`
	FinalReplies []*wire.Message `json:"-"`
}

// Requester is the slice of the session connection the runner needs,
// satisfied by *session.Connection.
type Requester interface {
	ID() string
	SendAndReceive(ctx context.Context, msg *wire.Message) ([]*wire.Message, error)
}

// Option configures a Runner.
type Option func(*Runner)

// WithObserver sets the observer receiving run events.
func WithObserver(observer observability.Observer) Option {
	return func(r *Runner) { r.observer = observer }
}

// WithFinalReplies keeps the raw reply list of the final executed cell on
// the Result, for callers that chain one more request onto the session.
func WithFinalReplies() Option {
	return func(r *Runner) { r.keepFinalReplies = true }
}

// Runner executes cell sequences against one session.
type Runner struct {
	conn             Requester
	observer         observability.Observer
	keepFinalReplies bool
}

// New creates a Runner over an established session connection.
func New(conn Requester, opts ...Option) *Runner {
	r := &Runner{
		conn:     conn,
		observer: observability.NoOpObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes the cells in order. A cell whose kernel reply stream carries
// an error message records it and aborts the remainder of the sequence;
// already-collected results are kept. An empty sequence completes
// immediately. A protocol failure returns the partial result alongside the
// error.
func (r *Runner) Run(ctx context.Context, cells []Cell) (*Result, error) {
	result := &Result{State: StateReady, Cells: make([]CellResult, 0, len(cells))}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventRunStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "runner.Run",
		Data: map[string]any{
			"session_id": r.conn.ID(),
			"cells":      len(cells),
		},
	})

	aborted := false
	for index, cell := range cells {
		cellResult := CellResult{Cell: cell}

		// Cells after an abort keep their slot but are never executed.
		if aborted || cell.Kind != CellCode {
			result.Cells = append(result.Cells, cellResult)
			continue
		}

		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventCellStart,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "runner.Run",
			Data:      map[string]any{"cell": index},
		})

		// An empty code cell still issues a request; interactive
		// kernels accept empty execution.
		request := wire.NewExecuteRequest(r.conn.ID(), wire.ExecuteRequest{
			Code:         cell.Source,
			StoreHistory: true,
		}).Build()

		replies, err := r.conn.SendAndReceive(ctx, request)
		if err != nil {
			result.Cells = append(result.Cells, cellResult)
			result.State = StateAborted
			return result, fmt.Errorf("cell %d: %w", index, err)
		}

		translateReplies(&cellResult, replies)
		result.Cells = append(result.Cells, cellResult)
		if r.keepFinalReplies {
			result.FinalReplies = replies
		}

		if cellResult.Error != nil {
			aborted = true
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventCellError,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "runner.Run",
				Data: map[string]any{
					"cell":  index,
					"error": cellResult.Error.Name,
				},
			})
		}
	}

	if aborted {
		result.State = StateAborted
	} else {
		result.State = StateCompleted
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventRunComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "runner.Run",
		Data: map[string]any{
			"session_id": r.conn.ID(),
			"state":      string(result.State),
		},
	})

	return result, nil
}

// Execute issues one more execute_request on the session outside any cell
// sequence and returns the raw reply aggregate.
func (r *Runner) Execute(ctx context.Context, code string) ([]*wire.Message, error) {
	request := wire.NewExecuteRequest(r.conn.ID(), wire.ExecuteRequest{
		Code:         code,
		StoreHistory: true,
	}).Build()
	return r.conn.SendAndReceive(ctx, request)
}

// translateReplies folds a reply aggregate into output records. Stream text
// arriving back to back is concatenated into one record; anything else
// starts a fresh record.
func translateReplies(result *CellResult, replies []*wire.Message) {
	var lastStream Output

	for _, reply := range replies {
		switch reply.Header.Type {
		case wire.TypeError:
			var content wire.ErrorContent
			if err := reply.DecodeContent(&content); err != nil {
				continue
			}
			result.Error = &ErrorRecord{
				Name:      content.Name,
				Message:   content.Message,
				Traceback: content.Traceback,
			}
			return

		case wire.TypeStream:
			var content wire.StreamContent
			if err := reply.DecodeContent(&content); err != nil {
				continue
			}
			if lastStream != nil {
				text, _ := lastStream["text/plain"].(string)
				lastStream["text/plain"] = text + content.Text
				continue
			}
			lastStream = Output{"text/plain": content.Text}
			result.Outputs = append(result.Outputs, lastStream)

		case wire.TypeExecuteResult, wire.TypeDisplayData:
			var content wire.DisplayContent
			if err := reply.DecodeContent(&content); err != nil {
				continue
			}
			result.Outputs = append(result.Outputs, Output(content.Data))
			lastStream = nil
		}
	}
}
