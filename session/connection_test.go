package session_test

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/tailored-agentic-units/nbkernel/observability"
	"github.com/tailored-agentic-units/nbkernel/ports"
	"github.com/tailored-agentic-units/nbkernel/session"
	"github.com/tailored-agentic-units/nbkernel/wire"
)

// recordingObserver collects events delivered from any goroutine.
type recordingObserver struct {
	mu     sync.Mutex
	events []observability.Event
}

func (r *recordingObserver) OnEvent(_ context.Context, event observability.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingObserver) ofType(eventType observability.EventType) []observability.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []observability.Event
	for _, event := range r.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// fakeKernel is a minimal in-process kernel peer. It reads the connection
// descriptor the way a real kernel would, dials every channel, and answers
// shell requests through a scriptable handler. Handlers run one goroutine
// per request so replies to concurrent requests interleave.
type fakeKernel struct {
	t       *testing.T
	codec   *wire.Codec
	conns   map[wire.Channel]net.Conn
	writeMu sync.Mutex
	handler func(req *wire.Message) []*wire.Message
	done    chan struct{}
}

func startFakeKernel(t *testing.T, connFile string, handler func(req *wire.Message) []*wire.Message) *fakeKernel {
	t.Helper()

	info, err := wire.ReadConnectionFile(connFile)
	if err != nil {
		t.Fatalf("ReadConnectionFile() error = %v", err)
	}

	codec, err := wire.NewCodec([]byte(info.Key), info.SignatureScheme)
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}

	k := &fakeKernel{
		t:       t,
		codec:   codec,
		conns:   make(map[wire.Channel]net.Conn),
		handler: handler,
		done:    make(chan struct{}),
	}

	for _, channel := range wire.Channels {
		conn, err := net.Dial("tcp", info.Address(channel))
		if err != nil {
			t.Fatalf("fake kernel dial %s: %v", channel, err)
		}
		k.conns[channel] = conn
	}
	t.Cleanup(k.stop)

	go k.serve(wire.ChannelShell)
	go k.serve(wire.ChannelControl)

	return k
}

func (k *fakeKernel) serve(channel wire.Channel) {
	for {
		frames, err := wire.ReadFrames(k.conns[channel])
		if err != nil {
			return
		}
		req, err := k.codec.Decode(frames)
		if err != nil {
			continue
		}
		req.Channel = channel

		go func() {
			for _, reply := range k.handler(req) {
				k.send(reply)
			}
		}()
	}
}

func (k *fakeKernel) send(msg *wire.Message) {
	frames, err := k.codec.Encode(msg, []byte("kernel"))
	if err != nil {
		k.t.Errorf("fake kernel encode: %v", err)
		return
	}

	k.writeMu.Lock()
	defer k.writeMu.Unlock()
	select {
	case <-k.done:
		return
	default:
	}
	wire.WriteFrames(k.conns[msg.Channel], frames)
}

func (k *fakeKernel) stop() {
	select {
	case <-k.done:
		return
	default:
	}
	close(k.done)
	for _, conn := range k.conns {
		conn.Close()
	}
}

// echoExecuteHandler replies to execute requests with busy/idle status, a
// stream echoing the code, and an ok terminal reply.
func echoExecuteHandler(sessionID string) func(req *wire.Message) []*wire.Message {
	return func(req *wire.Message) []*wire.Message {
		if req.Header.Type != wire.TypeExecuteRequest {
			reply, _ := wire.ReplyType(req.Header.Type)
			return []*wire.Message{
				wire.NewReply(sessionID, req.Header, reply, req.Channel).Build(),
			}
		}

		code, _ := req.Content["code"].(string)
		return []*wire.Message{
			wire.NewReply(sessionID, req.Header, wire.TypeStatus, wire.ChannelIOPub).
				Content(map[string]any{"execution_state": "busy"}).Build(),
			wire.NewReply(sessionID, req.Header, wire.TypeStream, wire.ChannelIOPub).
				Content(map[string]any{"name": "stdout", "text": code}).Build(),
			wire.NewReply(sessionID, req.Header, wire.TypeExecuteReply, wire.ChannelShell).
				Content(map[string]any{"status": "ok", "execution_count": 1}).Build(),
		}
	}
}

func newTestConnection(t *testing.T, opts ...session.Option) (*session.Connection, *ports.Allocator) {
	t.Helper()

	alloc := ports.NewAllocator(ports.WithBasePort(21000))
	t.Cleanup(alloc.Close)

	opts = append(opts, session.WithConnectionDir(t.TempDir()))
	conn, err := session.NewConnection(context.Background(), alloc, opts...)
	if err != nil {
		t.Fatalf("NewConnection() error = %v", err)
	}
	t.Cleanup(conn.Dispose)

	return conn, alloc
}

func TestNewConnection_WritesDescriptor(t *testing.T) {
	conn, _ := newTestConnection(t)

	info, err := wire.ReadConnectionFile(conn.ConnectionFile())
	if err != nil {
		t.Fatalf("ReadConnectionFile() error = %v", err)
	}

	if info.Transport != "tcp" {
		t.Errorf("got transport %q, want tcp", info.Transport)
	}
	if info.SignatureScheme != wire.DefaultScheme {
		t.Errorf("got scheme %q, want %q", info.SignatureScheme, wire.DefaultScheme)
	}
	if info.Key == "" {
		t.Error("descriptor key is empty")
	}

	seen := make(map[int]bool)
	for _, channel := range wire.Channels {
		port := info.PortFor(channel)
		if port == 0 {
			t.Errorf("no port for channel %s", channel)
		}
		if seen[port] {
			t.Errorf("port %d assigned to two channels", port)
		}
		seen[port] = true
	}
}

func TestConnection_SendAndReceive(t *testing.T) {
	conn, _ := newTestConnection(t)
	startFakeKernel(t, conn.ConnectionFile(), echoExecuteHandler(conn.ID()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request := wire.NewExecuteRequest(conn.ID(), wire.ExecuteRequest{Code: "x = 2"}).Build()
	replies, err := conn.SendAndReceive(ctx, request)
	if err != nil {
		t.Fatalf("SendAndReceive() error = %v", err)
	}

	terminal := 0
	for _, reply := range replies {
		if !reply.IsReplyTo(request.Header.ID) {
			t.Errorf("reply %s has parent %q, want %q", reply.Header.Type, reply.ParentID(), request.Header.ID)
		}
		if reply.Header.Type == wire.TypeExecuteReply {
			terminal++
		}
	}
	if terminal != 1 {
		t.Errorf("got %d terminal replies, want exactly 1", terminal)
	}
	if replies[len(replies)-1].Header.Type != wire.TypeExecuteReply {
		t.Errorf("last reply type = %s, want execute_reply", replies[len(replies)-1].Header.Type)
	}
}

func TestConnection_SendAndReceive_CorrelatesConcurrentRequests(t *testing.T) {
	conn, _ := newTestConnection(t)

	// The slow request's replies land while the fast request is in
	// flight, so the two reply streams interleave on the bus.
	handler := func(req *wire.Message) []*wire.Message {
		code, _ := req.Content["code"].(string)
		if code == "slow" {
			time.Sleep(150 * time.Millisecond)
		}
		return echoExecuteHandler(conn.ID())(req)
	}
	startFakeKernel(t, conn.ConnectionFile(), handler)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	run := func(code string) ([]*wire.Message, string, error) {
		request := wire.NewExecuteRequest(conn.ID(), wire.ExecuteRequest{Code: code}).Build()
		replies, err := conn.SendAndReceive(ctx, request)
		return replies, request.Header.ID, err
	}

	type outcome struct {
		replies []*wire.Message
		id      string
		err     error
	}
	results := make(chan outcome, 2)
	for _, code := range []string{"slow", "fast"} {
		code := code
		go func() {
			replies, id, err := run(code)
			results <- outcome{replies, id, err}
		}()
	}

	for i := 0; i < 2; i++ {
		res := <-results
		if res.err != nil {
			t.Fatalf("SendAndReceive() error = %v", res.err)
		}
		if len(res.replies) == 0 {
			t.Fatal("got empty reply buffer")
		}
		for _, reply := range res.replies {
			if reply.ParentID() != res.id {
				t.Errorf("buffer for %q contains reply to %q", res.id, reply.ParentID())
			}
		}
	}
}

func TestConnection_SendAndReceive_RejectsNonRequest(t *testing.T) {
	conn, _ := newTestConnection(t)

	msg := wire.NewMessage(conn.ID(), wire.TypeStream, wire.ChannelShell).Build()
	if _, err := conn.SendAndReceive(context.Background(), msg); !errors.Is(err, session.ErrNotARequest) {
		t.Errorf("SendAndReceive() error = %v, want ErrNotARequest", err)
	}
}

func TestConnection_Send_RejectsReadOnlyChannel(t *testing.T) {
	conn, _ := newTestConnection(t)

	msg := wire.NewMessage(conn.ID(), wire.TypeStream, wire.ChannelIOPub).Build()
	if err := conn.Send(context.Background(), msg); !errors.Is(err, session.ErrNotWritable) {
		t.Errorf("Send() error = %v, want ErrNotWritable", err)
	}
}

func TestConnection_Send_UnknownChannel(t *testing.T) {
	conn, _ := newTestConnection(t)

	msg := wire.NewMessage(conn.ID(), wire.TypeStream, wire.Channel("telemetry")).Build()
	if err := conn.Send(context.Background(), msg); !errors.Is(err, session.ErrUnknownChannel) {
		t.Errorf("Send() error = %v, want ErrUnknownChannel", err)
	}
}

func TestConnection_Subscribe_DrainsRawMessages(t *testing.T) {
	conn, _ := newTestConnection(t)
	startFakeKernel(t, conn.ConnectionFile(), echoExecuteHandler(conn.ID()))

	inbox, cancel := conn.Subscribe()
	defer cancel()

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	request := wire.NewExecuteRequest(conn.ID(), wire.ExecuteRequest{Code: "y = 1"}).Build()
	if err := conn.Send(ctx, request); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	deadline := time.After(10 * time.Second)
	for {
		select {
		case msg := <-inbox:
			if msg.Header.Type == wire.TypeExecuteReply && msg.IsReplyTo(request.Header.ID) {
				return
			}
		case <-deadline:
			t.Fatal("terminal reply never arrived on raw subscription")
		}
	}
}

func TestConnection_EmitsMessageEvents(t *testing.T) {
	obs := &recordingObserver{}
	conn, _ := newTestConnection(t, session.WithObserver(obs))
	startFakeKernel(t, conn.ConnectionFile(), echoExecuteHandler(conn.ID()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	request := wire.NewExecuteRequest(conn.ID(), wire.ExecuteRequest{Code: "x = 2"}).Build()
	replies, err := conn.SendAndReceive(ctx, request)
	if err != nil {
		t.Fatalf("SendAndReceive() error = %v", err)
	}

	// Every inbound message was announced before it reached the bus, so
	// by the time the replies are in hand the events are recorded.
	events := obs.ofType(session.EventMessage)
	if len(events) < len(replies) {
		t.Fatalf("got %d message events for %d replies", len(events), len(replies))
	}

	types := make(map[string]bool)
	for _, event := range events {
		msgType, _ := event.Data["type"].(string)
		types[msgType] = true
	}
	if !types[string(wire.TypeExecuteReply)] {
		t.Errorf("message events %v never announced the terminal reply", types)
	}
}

func TestConnection_Ping(t *testing.T) {
	conn, _ := newTestConnection(t)
	startFakeKernel(t, conn.ConnectionFile(), echoExecuteHandler(conn.ID()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestConnection_SendAndReceive_CallerTimeout(t *testing.T) {
	conn, _ := newTestConnection(t)
	startFakeKernel(t, conn.ConnectionFile(), func(req *wire.Message) []*wire.Message {
		return nil // never reply
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	request := wire.NewExecuteRequest(conn.ID(), wire.ExecuteRequest{Code: "x"}).Build()
	if _, err := conn.SendAndReceive(ctx, request); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("SendAndReceive() error = %v, want context.DeadlineExceeded", err)
	}
}

func TestConnection_DisposeIsIdempotent(t *testing.T) {
	conn, _ := newTestConnection(t)
	connFile := conn.ConnectionFile()

	conn.Dispose()
	conn.Dispose()

	if _, err := os.Stat(connFile); !os.IsNotExist(err) {
		t.Errorf("connection file still present after Dispose: %v", err)
	}
}

func TestConnection_DisposeReleasesPorts(t *testing.T) {
	conn, _ := newTestConnection(t)
	shellPort := conn.Info().ShellPort

	conn.Dispose()

	// The shell socket is down, so its port is bindable again.
	ln, err := net.Listen("tcp", conn.Info().Address(wire.ChannelShell))
	if err != nil {
		t.Fatalf("shell port %d not released: %v", shellPort, err)
	}
	ln.Close()
}
