package wire

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProtocolVersion is the message protocol version stamped into every header.
const ProtocolVersion = "5.3"

// Channel identifies one of the five logical channels of a session.
type Channel string

const (
	ChannelControl   Channel = "control"
	ChannelShell     Channel = "shell"
	ChannelStdin     Channel = "stdin"
	ChannelIOPub     Channel = "iopub"
	ChannelHeartbeat Channel = "heartbeat"
)

// Channels lists all five channels in descriptor order.
var Channels = []Channel{
	ChannelControl,
	ChannelShell,
	ChannelStdin,
	ChannelIOPub,
	ChannelHeartbeat,
}

// MessageType identifies the content schema of a message.
type MessageType string

const (
	TypeExecuteRequest    MessageType = "execute_request"
	TypeExecuteReply      MessageType = "execute_reply"
	TypeKernelInfoRequest MessageType = "kernel_info_request"
	TypeKernelInfoReply   MessageType = "kernel_info_reply"
	TypeShutdownRequest   MessageType = "shutdown_request"
	TypeShutdownReply     MessageType = "shutdown_reply"
	TypeStatus            MessageType = "status"
	TypeStream            MessageType = "stream"
	TypeExecuteResult     MessageType = "execute_result"
	TypeDisplayData       MessageType = "display_data"
	TypeError             MessageType = "error"
	TypeInputRequest      MessageType = "input_request"
)

// ReplyType returns the terminal reply type for a request type
// (execute_request -> execute_reply). The second result is false when the
// type is not a request.
func ReplyType(t MessageType) (MessageType, bool) {
	base, ok := strings.CutSuffix(string(t), "_request")
	if !ok {
		return "", false
	}
	return MessageType(base + "_reply"), true
}

// Header identifies a single message. ID is unique per session and serves
// as the correlation key for replies.
type Header struct {
	ID              string      `json:"msg_id"`
	Username        string      `json:"username"`
	Session         string      `json:"session"`
	Timestamp       time.Time   `json:"date"`
	Type            MessageType `json:"msg_type"`
	ProtocolVersion string      `json:"version"`
}

// IsZero reports whether the header is empty, as in a request with no parent.
func (h Header) IsZero() bool {
	return h.ID == ""
}

// Message is one protocol message on one channel.
type Message struct {
	Header       Header
	ParentHeader Header
	Metadata     map[string]any
	Content      map[string]any
	Channel      Channel
	Buffers      [][]byte
}

// ParentID returns the correlation id this message replies to, or "" when
// the message has no parent.
func (m *Message) ParentID() string {
	return m.ParentHeader.ID
}

// IsReplyTo reports whether this message correlates to the given request id.
func (m *Message) IsReplyTo(requestID string) bool {
	return requestID != "" && m.ParentHeader.ID == requestID
}

// Clone returns a copy sharing buffer contents but no mutable maps.
func (m *Message) Clone() *Message {
	clone := *m
	clone.Metadata = maps.Clone(m.Metadata)
	clone.Content = maps.Clone(m.Content)
	return &clone
}

func (m *Message) String() string {
	return fmt.Sprintf(
		"Message{ID: %s, Type: %s, Channel: %s, Parent: %s}",
		m.Header.ID,
		m.Header.Type,
		m.Channel,
		m.ParentHeader.ID,
	)
}

// DecodeContent unmarshals the message content into a typed content struct
// such as StreamContent or ErrorContent.
func (m *Message) DecodeContent(v any) error {
	data, err := json.Marshal(m.Content)
	if err != nil {
		return fmt.Errorf("failed to re-encode content: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s content: %w", m.Header.Type, err)
	}
	return nil
}

func generateID() string {
	return uuid.Must(uuid.NewV7()).String()
}
