package wire

import (
	"encoding/json"
	"time"
)

const defaultUsername = "nbkernel"

// MessageBuilder assembles a Message with a fresh header.
type MessageBuilder struct {
	message *Message
}

// NewMessage starts a builder for a message with a fresh v7 header id,
// the given session id, and the channel implied by the caller.
func NewMessage(session string, msgType MessageType, channel Channel) *MessageBuilder {
	return &MessageBuilder{
		message: &Message{
			Header: Header{
				ID:              generateID(),
				Username:        defaultUsername,
				Session:         session,
				Timestamp:       time.Now().UTC().Round(time.Millisecond),
				Type:            msgType,
				ProtocolVersion: ProtocolVersion,
			},
			Metadata: map[string]any{},
			Content:  map[string]any{},
			Channel:  channel,
		},
	}
}

// NewReply starts a builder for a reply correlated to the given parent
// header. Used by kernel-side peers and stdin input responses.
func NewReply(session string, parent Header, msgType MessageType, channel Channel) *MessageBuilder {
	return NewMessage(session, msgType, channel).Parent(parent)
}

// NewExecuteRequest starts a builder for an execute_request on the shell
// channel.
func NewExecuteRequest(session string, req ExecuteRequest) *MessageBuilder {
	return NewMessage(session, TypeExecuteRequest, ChannelShell).Content(req.contentMap())
}

// NewKernelInfoRequest starts a builder for a kernel_info_request on the
// shell channel, used as the launch readiness probe.
func NewKernelInfoRequest(session string) *MessageBuilder {
	return NewMessage(session, TypeKernelInfoRequest, ChannelShell)
}

// NewShutdownRequest starts a builder for a shutdown_request on the control
// channel.
func NewShutdownRequest(session string, restart bool) *MessageBuilder {
	return NewMessage(session, TypeShutdownRequest, ChannelControl).
		Content(map[string]any{"restart": restart})
}

// Parent sets the parent header.
func (mb *MessageBuilder) Parent(parent Header) *MessageBuilder {
	mb.message.ParentHeader = parent
	return mb
}

// Content replaces the content object.
func (mb *MessageBuilder) Content(content map[string]any) *MessageBuilder {
	mb.message.Content = content
	return mb
}

// Metadata replaces the metadata object.
func (mb *MessageBuilder) Metadata(metadata map[string]any) *MessageBuilder {
	mb.message.Metadata = metadata
	return mb
}

// Buffers appends raw binary buffers.
func (mb *MessageBuilder) Buffers(buffers ...[]byte) *MessageBuilder {
	mb.message.Buffers = append(mb.message.Buffers, buffers...)
	return mb
}

// Username overrides the default header username.
func (mb *MessageBuilder) Username(username string) *MessageBuilder {
	mb.message.Header.Username = username
	return mb
}

// Build returns the assembled message.
func (mb *MessageBuilder) Build() *Message {
	return mb.message
}

// ExecuteRequest is the content of an execute_request message.
type ExecuteRequest struct {
	Code            string            `json:"code"`
	Silent          bool              `json:"silent"`
	StoreHistory    bool              `json:"store_history"`
	UserExpressions map[string]string `json:"user_expressions"`
	AllowStdin      bool              `json:"allow_stdin"`
	StopOnError     bool              `json:"stop_on_error"`
}

func (r ExecuteRequest) contentMap() map[string]any {
	if r.UserExpressions == nil {
		r.UserExpressions = map[string]string{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		panic("wire: execute request content is not serializable: " + err.Error())
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic("wire: execute request content round-trip failed: " + err.Error())
	}
	return m
}
