package wire

// Typed content payloads for the message types the client consumes.
// Decode with Message.DecodeContent.

// StreamContent is the content of a stream message: a chunk of kernel
// stdout or stderr text.
type StreamContent struct {
	Name string `json:"name"` // "stdout" or "stderr"
	Text string `json:"text"`
}

// ErrorContent is the content of an error message reported by the kernel
// for a failed execution. It is expected output of user code, not a
// protocol failure.
type ErrorContent struct {
	Name      string   `json:"ename"`
	Message   string   `json:"evalue"`
	Traceback []string `json:"traceback"`
}

// DisplayContent is the shared content shape of execute_result and
// display_data messages: a mime-type keyed bundle of renderable payloads.
type DisplayContent struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

// ExecuteReplyContent is the content of the terminal execute_reply.
type ExecuteReplyContent struct {
	Status         string `json:"status"` // "ok", "error", or "aborted"
	ExecutionCount int    `json:"execution_count"`
}

// StatusContent is the content of an iopub status broadcast.
type StatusContent struct {
	ExecutionState string `json:"execution_state"` // "busy", "idle", "starting"
}
