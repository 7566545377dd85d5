package session

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tailored-agentic-units/nbkernel/observability"
	"github.com/tailored-agentic-units/nbkernel/ports"
	"github.com/tailored-agentic-units/nbkernel/wire"
)

// Connection is one live protocol session: five channel sockets, a signing
// codec, the connection descriptor file, and the receive loops feeding the
// internal bus. All state is exclusively owned; only Dispose crosses an
// ownership boundary, returning ports to the shared allocator.
type Connection struct {
	id       string
	identity []byte
	codec    *wire.Codec
	info     *wire.ConnectionInfo
	connFile string

	alloc    *ports.Allocator
	sockets  map[wire.Channel]*socket
	bus      *bus
	observer observability.Observer

	disposeOnce sync.Once
}

// Option configures a Connection before its sockets come up.
type Option func(*options)

type options struct {
	observer   observability.Observer
	scheme     string
	dir        string
	busBuffer  int
	permissive bool
}

// WithObserver sets the observer receiving session events.
func WithObserver(o observability.Observer) Option {
	return func(opts *options) { opts.observer = o }
}

// WithScheme sets the signature scheme recorded in the descriptor and used
// by the codec. Defaults to wire.DefaultScheme.
func WithScheme(scheme string) Option {
	return func(opts *options) { opts.scheme = scheme }
}

// WithConnectionDir sets the directory for the descriptor file. Defaults to
// the system temporary directory.
func WithConnectionDir(dir string) Option {
	return func(opts *options) { opts.dir = dir }
}

// WithBusBuffer sets the per-subscriber buffer of the internal bus.
func WithBusBuffer(size int) Option {
	return func(opts *options) { opts.busBuffer = size }
}

// WithPermissiveDecoding accepts inbound frames without verifying their
// signature, for kernels that sign with a foreign implementation.
func WithPermissiveDecoding() Option {
	return func(opts *options) { opts.permissive = true }
}

// NewConnection creates a session connection: fresh routing identity and
// signing key, one allocated port and bound socket per channel, the
// descriptor file on disk, and a running receive loop for each receiving
// channel.
func NewConnection(ctx context.Context, alloc *ports.Allocator, opts ...Option) (*Connection, error) {
	o := &options{
		observer: observability.NoOpObserver{},
		scheme:   wire.DefaultScheme,
		dir:      os.TempDir(),
	}
	for _, opt := range opts {
		opt(o)
	}

	key := uuid.Must(uuid.NewV7()).String()

	var codecOpts []wire.CodecOption
	if o.permissive {
		codecOpts = append(codecOpts, wire.WithoutVerification())
	}
	codec, err := wire.NewCodec([]byte(key), o.scheme, codecOpts...)
	if err != nil {
		return nil, err
	}

	c := &Connection{
		id:       uuid.Must(uuid.NewV7()).String(),
		identity: []byte(uuid.Must(uuid.NewV7()).String()),
		codec:    codec,
		alloc:    alloc,
		sockets:  make(map[wire.Channel]*socket, len(wire.Channels)),
		bus:      newBus(o.busBuffer),
		observer: o.observer,
	}

	allocated := make(map[wire.Channel]int, len(wire.Channels))
	cleanup := func() {
		for _, sock := range c.sockets {
			sock.close()
		}
		for _, port := range allocated {
			alloc.Release(port)
		}
	}

	for _, channel := range wire.Channels {
		port, err := alloc.Allocate(ctx)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("failed to allocate %s port: %w", channel, err)
		}
		allocated[channel] = port

		sock, err := listen(channel, alloc.IP(), port)
		if err != nil {
			cleanup()
			return nil, err
		}
		c.sockets[channel] = sock
	}

	c.info = &wire.ConnectionInfo{
		ControlPort:     allocated[wire.ChannelControl],
		ShellPort:       allocated[wire.ChannelShell],
		HBPort:          allocated[wire.ChannelHeartbeat],
		StdinPort:       allocated[wire.ChannelStdin],
		IOPubPort:       allocated[wire.ChannelIOPub],
		Transport:       "tcp",
		IP:              alloc.IP(),
		SignatureScheme: codec.Scheme(),
		Key:             key,
	}

	c.connFile, err = wire.WriteConnectionFile(o.dir, c.info)
	if err != nil {
		cleanup()
		return nil, err
	}

	for _, channel := range []wire.Channel{
		wire.ChannelControl,
		wire.ChannelShell,
		wire.ChannelStdin,
		wire.ChannelIOPub,
	} {
		go c.readLoop(c.sockets[channel])
	}

	c.observer.OnEvent(ctx, observability.Event{
		Type:      EventCreated,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "session.NewConnection",
		Data: map[string]any{
			"session_id":      c.id,
			"connection_file": c.connFile,
			"shell_port":      c.info.ShellPort,
		},
	})

	return c, nil
}

// ID returns the session identifier stamped into message headers.
func (c *Connection) ID() string {
	return c.id
}

// Info returns the connection descriptor.
func (c *Connection) Info() *wire.ConnectionInfo {
	return c.info
}

// ConnectionFile returns the path of the descriptor file consumed by the
// spawned kernel.
func (c *Connection) ConnectionFile() string {
	return c.connFile
}

// readLoop decodes every inbound frame set on one receiving channel and
// republishes it on the bus, preserving transport arrival order.
func (c *Connection) readLoop(sock *socket) {
	conn, err := sock.peer(context.Background())
	if err != nil {
		return
	}

	for {
		frames, err := wire.ReadFrames(conn)
		if err != nil {
			c.observer.OnEvent(context.Background(), observability.Event{
				Type:      EventChannelClosed,
				Level:     observability.LevelVerbose,
				Timestamp: time.Now(),
				Source:    "session.readLoop",
				Data: map[string]any{
					"session_id": c.id,
					"channel":    string(sock.channel),
				},
			})
			return
		}

		msg, err := c.codec.Decode(frames)
		if err != nil {
			c.observer.OnEvent(context.Background(), observability.Event{
				Type:      EventDecodeError,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "session.readLoop",
				Data: map[string]any{
					"session_id": c.id,
					"channel":    string(sock.channel),
					"error":      err.Error(),
				},
			})
			continue
		}
		msg.Channel = sock.channel

		c.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventMessage,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "session.readLoop",
			Data: map[string]any{
				"session_id": c.id,
				"channel":    string(sock.channel),
				"type":       string(msg.Header.Type),
			},
		})

		if dropped := c.bus.publish(msg); dropped > 0 {
			c.observer.OnEvent(context.Background(), observability.Event{
				Type:      EventDropped,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "session.readLoop",
				Data: map[string]any{
					"session_id": c.id,
					"channel":    string(sock.channel),
					"dropped":    dropped,
				},
			})
		}
	}
}

// Send encodes and transmits a message on the channel implied by the
// message, with no reply correlation. Used for requests whose replies are
// drained through Subscribe or ignored.
func (c *Connection) Send(ctx context.Context, msg *wire.Message) error {
	sock, exists := c.sockets[msg.Channel]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, msg.Channel)
	}
	if sock.kind == readOnly {
		return fmt.Errorf("%w: %s", ErrNotWritable, msg.Channel)
	}

	frames, err := c.codec.Encode(msg, c.identity)
	if err != nil {
		return err
	}

	return sock.write(ctx, frames)
}

// SendAndReceive sends a request and returns every correlated reply up to
// and including the terminal reply for the request's type. No timeout is
// imposed here; callers bound the wait through the context and dispose the
// session themselves when giving up.
func (c *Connection) SendAndReceive(ctx context.Context, msg *wire.Message) ([]*wire.Message, error) {
	terminal, ok := wire.ReplyType(msg.Header.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotARequest, msg.Header.Type)
	}

	// Subscribe before sending so an immediate reply cannot be missed.
	subID, inbox := c.bus.subscribe()
	defer c.bus.unsubscribe(subID)

	if err := c.Send(ctx, msg); err != nil {
		return nil, err
	}

	var replies []*wire.Message
	for {
		select {
		case reply, open := <-inbox:
			if !open {
				if c.bus.overflowed(subID) {
					return replies, fmt.Errorf("%w: waiting for %s", ErrOverflow, terminal)
				}
				return replies, ErrClosed
			}
			if !reply.IsReplyTo(msg.Header.ID) {
				continue
			}
			replies = append(replies, reply)
			if reply.Header.Type == terminal {
				return replies, nil
			}
		case <-ctx.Done():
			return replies, ctx.Err()
		}
	}
}

// Subscribe registers a raw listener for every inbound message on every
// receiving channel. The returned cancel function removes the listener and
// closes the channel; it is safe to call more than once. A listener that
// falls behind the bus buffer is cut off and its channel closed, so a
// closed channel means either disposal or overflow, never a silent gap.
func (c *Connection) Subscribe() (<-chan *wire.Message, func()) {
	id, ch := c.bus.subscribe()
	return ch, func() { c.bus.unsubscribe(id) }
}

// Ping pushes a liveness frame on the heartbeat channel. A write failure
// means the peer side of the session is gone.
func (c *Connection) Ping(ctx context.Context) error {
	return c.sockets[wire.ChannelHeartbeat].write(ctx, [][]byte{[]byte("ping")})
}

// Dispose closes all five sockets, releases the ports back to the
// allocator, and best-effort deletes the descriptor file. Idempotent and
// callable from any failure path; a second call never double-releases a
// port.
func (c *Connection) Dispose() {
	c.disposeOnce.Do(func() {
		for _, sock := range c.sockets {
			sock.close()
		}
		c.bus.close()

		for _, channel := range wire.Channels {
			c.alloc.Release(c.info.PortFor(channel))
		}

		// The descriptor file is temporary; a failed delete is of no
		// further consequence.
		_ = os.Remove(c.connFile)

		c.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventDisposed,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "session.Dispose",
			Data:      map[string]any{"session_id": c.id},
		})
	})
}
