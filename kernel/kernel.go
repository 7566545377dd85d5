// Package kernel pairs a session connection with a spawned kernel process
// and orchestrates the launch: allocate ports, bring up the five channel
// sockets, write the connection descriptor, start the interpreter with the
// descriptor path substituted into its argv, and optionally wait for the
// kernel to answer a readiness probe.
//
//	alloc := ports.NewAllocator()
//	sess, err := kernel.Launch(ctx, spec, alloc, kernel.WithTimeout(30*time.Second))
//	if err != nil { ... }
//	defer sess.Dispose()
package kernel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/tailored-agentic-units/nbkernel/observability"
	"github.com/tailored-agentic-units/nbkernel/ports"
	"github.com/tailored-agentic-units/nbkernel/process"
	"github.com/tailored-agentic-units/nbkernel/session"
	"github.com/tailored-agentic-units/nbkernel/wire"
)

// Session is the unit of ownership: one connection and one process,
// disposed together.
type Session struct {
	Conn *session.Connection
	Proc *process.Process

	observer    observability.Observer
	disposeOnce sync.Once
}

// LaunchOption configures a Launch.
type LaunchOption func(*launchOptions)

type launchOptions struct {
	env         []string
	dir         string
	timeout     time.Duration
	observer    observability.Observer
	waitReady   bool
	sessionOpts []session.Option
}

// WithEnv sets the child process environment. Defaults to the parent
// environment. Spec env entries are appended either way.
func WithEnv(env []string) LaunchOption {
	return func(o *launchOptions) { o.env = env }
}

// WithDir sets the child process working directory.
func WithDir(dir string) LaunchOption {
	return func(o *launchOptions) { o.dir = dir }
}

// WithTimeout bounds the whole launch, including the readiness probe when
// enabled. On expiry Launch fails with ErrLaunchTimeout.
func WithTimeout(timeout time.Duration) LaunchOption {
	return func(o *launchOptions) { o.timeout = timeout }
}

// WithObserver sets the observer for launch and session events.
func WithObserver(observer observability.Observer) LaunchOption {
	return func(o *launchOptions) { o.observer = observer }
}

// WithReadiness makes Launch wait for the kernel to answer a
// kernel_info_request on shell before returning.
func WithReadiness() LaunchOption {
	return func(o *launchOptions) { o.waitReady = true }
}

// WithSessionOptions forwards options to the underlying connection.
func WithSessionOptions(opts ...session.Option) LaunchOption {
	return func(o *launchOptions) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// Launch creates a session connection, spawns the kernel process against
// its connection file, and returns the paired session. On any failure after
// partial construction the already-built half is disposed before returning,
// so a nil session never leaks ports or processes.
func Launch(ctx context.Context, spec *Spec, alloc *ports.Allocator, opts ...LaunchOption) (*Session, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	o := &launchOptions{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(o)
	}

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	o.observer.OnEvent(ctx, observability.Event{
		Type:      EventLaunchStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "kernel.Launch",
		Data: map[string]any{
			"display_name": spec.DisplayName,
			"language":     spec.Language,
			"binary":       spec.Binary,
		},
	})

	sessionOpts := append([]session.Option{session.WithObserver(o.observer)}, o.sessionOpts...)
	conn, err := session.NewConnection(ctx, alloc, sessionOpts...)
	if err != nil {
		return nil, launchError(ctx, o.observer, fmt.Errorf("failed to create connection: %w", err))
	}

	proc, err := process.Spawn(spec.Binary, substituteArgv(spec.Argv, conn.ConnectionFile()), buildEnv(o.env, spec.Env), o.dir)
	if err != nil {
		conn.Dispose()
		return nil, launchError(ctx, o.observer, err)
	}

	s := &Session{Conn: conn, Proc: proc, observer: o.observer}

	if o.waitReady {
		probe := wire.NewKernelInfoRequest(conn.ID()).Build()
		if _, err := conn.SendAndReceive(ctx, probe); err != nil {
			s.Dispose()
			return nil, launchError(ctx, o.observer, fmt.Errorf("readiness probe failed: %w", err))
		}
	}

	o.observer.OnEvent(ctx, observability.Event{
		Type:      EventLaunchComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "kernel.Launch",
		Data: map[string]any{
			"session_id": conn.ID(),
			"pid":        proc.PID(),
		},
	})

	return s, nil
}

// Shutdown asks the kernel to exit through a shutdown_request on control,
// then disposes the session regardless of the outcome.
func (s *Session) Shutdown(ctx context.Context) error {
	defer s.Dispose()

	s.observer.OnEvent(ctx, observability.Event{
		Type:      EventShutdown,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "kernel.Shutdown",
		Data:      map[string]any{"session_id": s.Conn.ID()},
	})

	request := wire.NewShutdownRequest(s.Conn.ID(), false).Build()
	if _, err := s.Conn.SendAndReceive(ctx, request); err != nil {
		return fmt.Errorf("shutdown request failed: %w", err)
	}
	return nil
}

// Dispose closes the connection and force-kills the process. Idempotent.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.Conn.Dispose()
		s.Proc.Dispose()

		s.observer.OnEvent(context.Background(), observability.Event{
			Type:      EventDisposed,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "kernel.Dispose",
			Data:      map[string]any{"session_id": s.Conn.ID()},
		})
	})
}

func launchError(ctx context.Context, observer observability.Observer, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", ErrLaunchTimeout, err)
	}

	observer.OnEvent(ctx, observability.Event{
		Type:      EventLaunchFailed,
		Level:     observability.LevelError,
		Timestamp: time.Now(),
		Source:    "kernel.Launch",
		Data:      map[string]any{"error": err.Error()},
	})

	return err
}

// substituteArgv replaces every connection-file placeholder with the real
// descriptor path.
func substituteArgv(argv []string, connFile string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		out[i] = strings.ReplaceAll(arg, ConnectionFilePlaceholder, connFile)
	}
	return out
}

// buildEnv appends spec env entries to the base environment, defaulting the
// base to the parent environment.
func buildEnv(base []string, extra map[string]string) []string {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = os.Environ()
	}

	env := make([]string, len(base), len(base)+len(extra))
	copy(env, base)
	for key, value := range extra {
		env = append(env, key+"="+value)
	}
	return env
}
