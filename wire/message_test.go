package wire_test

import (
	"testing"

	"github.com/tailored-agentic-units/nbkernel/wire"
)

func TestReplyType(t *testing.T) {
	tests := []struct {
		request wire.MessageType
		want    wire.MessageType
		ok      bool
	}{
		{wire.TypeExecuteRequest, wire.TypeExecuteReply, true},
		{wire.TypeKernelInfoRequest, wire.TypeKernelInfoReply, true},
		{wire.TypeShutdownRequest, wire.TypeShutdownReply, true},
		{wire.TypeStream, "", false},
		{wire.TypeExecuteReply, "", false},
	}

	for _, tt := range tests {
		got, ok := wire.ReplyType(tt.request)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ReplyType(%s) = (%s, %v), want (%s, %v)", tt.request, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMessage_IsReplyTo(t *testing.T) {
	request := wire.NewExecuteRequest("s", wire.ExecuteRequest{Code: "1"}).Build()
	reply := wire.NewReply("s", request.Header, wire.TypeExecuteReply, wire.ChannelShell).Build()
	unrelated := wire.NewExecuteRequest("s", wire.ExecuteRequest{Code: "2"}).Build()

	if !reply.IsReplyTo(request.Header.ID) {
		t.Error("IsReplyTo() = false for matching parent id")
	}
	if reply.IsReplyTo(unrelated.Header.ID) {
		t.Error("IsReplyTo() = true for unrelated request")
	}
	if unrelated.IsReplyTo("") {
		t.Error("IsReplyTo(\"\") = true, want false")
	}
}

func TestNewMessage_UniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg := wire.NewMessage("s", wire.TypeExecuteRequest, wire.ChannelShell).Build()
		if seen[msg.Header.ID] {
			t.Fatalf("duplicate message id %q", msg.Header.ID)
		}
		seen[msg.Header.ID] = true
	}
}

func TestExecuteRequest_Content(t *testing.T) {
	msg := wire.NewExecuteRequest("s", wire.ExecuteRequest{
		Code:         "print(1)",
		StoreHistory: true,
	}).Build()

	if msg.Channel != wire.ChannelShell {
		t.Errorf("got channel %s, want shell", msg.Channel)
	}
	if msg.Content["code"] != "print(1)" {
		t.Errorf("got code %v, want print(1)", msg.Content["code"])
	}
	if msg.Content["store_history"] != true {
		t.Errorf("got store_history %v, want true", msg.Content["store_history"])
	}
	if msg.Content["allow_stdin"] != false {
		t.Errorf("got allow_stdin %v, want false", msg.Content["allow_stdin"])
	}
}

func TestMessage_DecodeContent(t *testing.T) {
	msg := wire.NewMessage("s", wire.TypeStream, wire.ChannelIOPub).
		Content(map[string]any{"name": "stdout", "text": "5\n"}).
		Build()

	var stream wire.StreamContent
	if err := msg.DecodeContent(&stream); err != nil {
		t.Fatalf("DecodeContent() error = %v", err)
	}
	if stream.Name != "stdout" || stream.Text != "5\n" {
		t.Errorf("got %+v, want stdout/5\\n", stream)
	}
}
