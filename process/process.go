// Package process wraps a spawned kernel interpreter as an owned resource:
// buffered output streams, a single terminal exit event, and an idempotent
// Dispose. Process exit is recorded, not raised — in-flight protocol
// requests are not failed automatically when the child dies; callers
// inspect ExitStatus or Done when they care.
package process

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"sync"
)

// ExitStatus is the terminal event of a spawned process.
type ExitStatus struct {
	Code int   // Exit code; -1 when the process was killed or never exited cleanly.
	Err  error // Wait error, nil on a clean zero exit.
}

// Process is a running kernel interpreter. Create with Spawn; release with
// Dispose.
type Process struct {
	cmd *exec.Cmd

	mu     sync.Mutex
	stdout bytes.Buffer
	stderr bytes.Buffer
	exit   *ExitStatus

	exited      chan struct{}
	disposeOnce sync.Once
}

// Spawn launches binary with the given arguments, environment, and working
// directory, and begins capturing its output streams. A nil env inherits
// the parent environment. Spawn failures wrap ErrSpawnFailed.
func Spawn(binary string, argv []string, env []string, dir string) (*Process, error) {
	p := &Process{
		cmd:    exec.Command(binary, argv...),
		exited: make(chan struct{}),
	}
	p.cmd.Env = env
	p.cmd.Dir = dir
	p.cmd.Stdout = &lockedWriter{mu: &p.mu, buf: &p.stdout}
	p.cmd.Stderr = &lockedWriter{mu: &p.mu, buf: &p.stderr}

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSpawnFailed, binary, err)
	}

	go p.wait()

	return p, nil
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	status := &ExitStatus{Code: -1, Err: err}
	var exitErr *exec.ExitError
	if err == nil {
		status.Code = 0
	} else if errors.As(err, &exitErr) {
		status.Code = exitErr.ExitCode()
	}

	p.mu.Lock()
	p.exit = status
	p.mu.Unlock()
	close(p.exited)
}

// PID returns the operating system process id.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Output returns the text captured so far from stdout and stderr.
func (p *Process) Output() (stdout, stderr string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stdout.String(), p.stderr.String()
}

// ExitStatus returns the terminal event and true once the process has
// exited, or a zero status and false while it is still running.
func (p *Process) ExitStatus() (ExitStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exit == nil {
		return ExitStatus{}, false
	}
	return *p.exit, true
}

// Done returns a channel closed when the process exits.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// Dispose force-kills the process. Idempotent, and safe after the process
// has already exited.
func (p *Process) Dispose() {
	p.disposeOnce.Do(func() {
		// Kill on an exited process reports an error; that is fine.
		_ = p.cmd.Process.Kill()
	})
}

// lockedWriter serializes stream capture with readers of the buffers.
type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(data []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(data)
}
