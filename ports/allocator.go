// Package ports serializes discovery of free local TCP ports so concurrent
// session launches never race for the same port.
//
// A single Allocator is shared process-wide. Allocation requests queue FIFO
// behind one discovery loop; at most one probe sequence is in flight at a
// time, so two concurrent callers can never be handed the same port. Ports
// stay reserved until released back with Release.
package ports

import (
	"context"
	"fmt"
	"net"
	"sync"
)

const (
	defaultBasePort    = 9000
	defaultProbeWindow = 256
	defaultIP          = "127.0.0.1"
	maxPort            = 65535
)

// Allocator hands out free local ports one caller at a time. All state is
// owned by a single goroutine; the exported methods communicate with it
// over channels, which gives strict FIFO servicing for free.
type Allocator struct {
	ip          string
	basePort    int
	probeWindow int

	requests  chan *request
	releases  chan int
	done      chan struct{}
	closeOnce sync.Once
}

type request struct {
	ctx   context.Context
	reply chan result
}

type result struct {
	port int
	err  error
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithBasePort sets the first port probed by a fresh allocator.
func WithBasePort(port int) Option {
	return func(a *Allocator) { a.basePort = port }
}

// WithProbeWindow bounds how many candidate ports one allocation may probe
// before failing with ErrExhausted.
func WithProbeWindow(window int) Option {
	return func(a *Allocator) { a.probeWindow = window }
}

// WithIP sets the bind address probed for free ports.
func WithIP(ip string) Option {
	return func(a *Allocator) { a.ip = ip }
}

// NewAllocator creates an allocator and starts its discovery loop.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		ip:          defaultIP,
		basePort:    defaultBasePort,
		probeWindow: defaultProbeWindow,
		requests:    make(chan *request),
		releases:    make(chan int),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(a)
	}

	go a.loop()

	return a
}

// IP returns the bind address the allocator probes.
func (a *Allocator) IP() string {
	return a.ip
}

// Allocate returns a free local port not held by any other caller. Requests
// queue FIFO; the context covers both queueing and discovery. A port that
// cannot be found within the probe window fails that caller with
// ErrExhausted without affecting queued callers.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	req := &request{ctx: ctx, reply: make(chan result)}

	select {
	case a.requests <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-a.done:
		return 0, ErrClosed
	}

	select {
	case res := <-req.reply:
		return res.port, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Release returns a port to the allocator. Releasing a port that is not
// held, or releasing twice, is a no-op.
func (a *Allocator) Release(port int) {
	select {
	case a.releases <- port:
	case <-a.done:
	}
}

// Close stops the discovery loop. Pending Allocate calls fail with ErrClosed.
func (a *Allocator) Close() {
	a.closeOnce.Do(func() { close(a.done) })
}

func (a *Allocator) loop() {
	inUse := make(map[int]bool)
	next := a.basePort

	for {
		select {
		case <-a.done:
			return
		case port := <-a.releases:
			delete(inUse, port)
		case req := <-a.requests:
			if req.ctx.Err() != nil {
				continue
			}

			port, err := a.discover(inUse, &next)
			if err != nil {
				a.deliver(req, result{err: err})
				continue
			}

			inUse[port] = true
			if !a.deliver(req, result{port: port}) {
				// Caller gave up while we probed; the port was
				// never handed out.
				delete(inUse, port)
			}
		}
	}
}

func (a *Allocator) deliver(req *request, res result) bool {
	select {
	case req.reply <- res:
		return true
	case <-req.ctx.Done():
		return false
	}
}

// discover probes upward from the cursor, skipping held ports and wrapping
// at the port ceiling, until a bindable port is found or the probe window
// is spent.
func (a *Allocator) discover(inUse map[int]bool, next *int) (int, error) {
	candidate := *next

	for probed := 0; probed < a.probeWindow; probed++ {
		if candidate > maxPort {
			candidate = a.basePort
		}
		if inUse[candidate] {
			candidate++
			continue
		}

		ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", a.ip, candidate))
		if err != nil {
			candidate++
			continue
		}
		ln.Close()

		*next = candidate + 1
		return candidate, nil
	}

	return 0, fmt.Errorf("%w: probed %d ports from %d", ErrExhausted, a.probeWindow, *next)
}
