package session

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/tailored-agentic-units/nbkernel/wire"
)

// socketKind is the direction of a channel socket.
type socketKind int

const (
	readWrite socketKind = iota // control, shell, stdin
	readOnly                    // iopub: broadcast subscription
	writeOnly                   // heartbeat: liveness push
)

func kindFor(channel wire.Channel) socketKind {
	switch channel {
	case wire.ChannelIOPub:
		return readOnly
	case wire.ChannelHeartbeat:
		return writeOnly
	default:
		return readWrite
	}
}

// socket is one channel's transport endpoint. The session side binds and
// accepts a single peer; the spawned kernel dials in using the port from
// the connection descriptor.
type socket struct {
	channel wire.Channel
	kind    socketKind
	port    int

	ln   net.Listener
	conn net.Conn // set by accept before ready closes

	ready     chan struct{}
	closed    chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

// listen binds the channel socket and starts waiting for its peer.
func listen(channel wire.Channel, ip string, port int) (*socket, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", ip, port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s socket on port %d: %w", channel, port, err)
	}

	s := &socket{
		channel: channel,
		kind:    kindFor(channel),
		port:    port,
		ln:      ln,
		ready:   make(chan struct{}),
		closed:  make(chan struct{}),
	}

	go s.accept()

	return s, nil
}

// accept takes the single peer connection and retires the listener.
func (s *socket) accept() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}

	s.conn = conn
	close(s.ready)
	s.ln.Close()

	// close may have run between Accept and ready; it would then have
	// missed the connection.
	select {
	case <-s.closed:
		conn.Close()
	default:
	}
}

// write sends one frame set, waiting for the peer to connect first.
func (s *socket) write(ctx context.Context, frames [][]byte) error {
	select {
	case <-s.ready:
	case <-s.closed:
		return fmt.Errorf("%s: %w", s.channel, ErrClosed)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	select {
	case <-s.closed:
		return fmt.Errorf("%s: %w", s.channel, ErrClosed)
	default:
	}

	if err := wire.WriteFrames(s.conn, frames); err != nil {
		return fmt.Errorf("failed to send on %s: %w", s.channel, err)
	}
	return nil
}

// peer blocks until the kernel has connected and returns the connection.
func (s *socket) peer(ctx context.Context) (net.Conn, error) {
	select {
	case <-s.ready:
		return s.conn, nil
	case <-s.closed:
		return nil, fmt.Errorf("%s: %w", s.channel, ErrClosed)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close shuts the listener and any accepted peer. Idempotent.
func (s *socket) close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.ln.Close()

		select {
		case <-s.ready:
			s.conn.Close()
		default:
		}
	})
}
