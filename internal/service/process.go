package service

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// LineFunc receives one line of the child output.
type LineFunc func(ctx context.Context, line string)

// Command describes the program to supervise.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env is appended to the environment of gekko itself.
	Env []string
	// StopSignal is sent on graceful stop, SIGTERM when nil.
	StopSignal os.Signal
	Stdout     LineFunc
	Stderr     LineFunc
}

// Result is a snapshot of a process.
type Result struct {
	Path     string
	Args     []string
	Dir      string
	Pid      int
	State    State
	ExitCode int // valid once State is terminal
	Started  time.Time
	Stopped  time.Time
	Err      error
}

// Process is the single child owned by a Supervisor. All fields are guarded
// by mx, state changes go through transition.
type Process struct {
	mx         sync.RWMutex
	cmd        *exec.Cmd
	stopSignal os.Signal
	result     Result
	forced     bool
	done       chan struct{}
	output     sync.WaitGroup
	writers    []io.Closer
}

func newProcess(proto Command) *Process {
	return &Process{
		stopSignal: proto.StopSignal,
		result: Result{
			Path:  proto.Path,
			Args:  append([]string(nil), proto.Args...),
			Dir:   proto.Dir,
			State: Pending,
		},
		done: make(chan struct{}),
	}
}

func (p *Process) Pid() int {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return p.result.Pid
}

// Argv returns the program path followed by its arguments.
func (p *Process) Argv() []string {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return append([]string{p.result.Path}, p.result.Args...)
}

func (p *Process) Dir() string {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return p.result.Dir
}

func (p *Process) State() State {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return p.result.State
}

// ExitCode returns the exit code and true once the process has been reaped.
func (p *Process) ExitCode() (int, bool) {
	p.mx.RLock()
	defer p.mx.RUnlock()
	return p.result.ExitCode, p.result.State.Terminal()
}

// Done is closed after the child has been reaped and its output drained.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

func (p *Process) Result() Result {
	p.mx.RLock()
	defer p.mx.RUnlock()
	ret := p.result
	ret.Args = append([]string(nil), p.result.Args...)
	return ret
}

// Alive asks the OS whether the pid still exists. A reaped child reports
// false, a zombie would report true.
func (p *Process) Alive(ctx context.Context) (bool, error) {
	pid := p.Pid()
	if pid <= 0 {
		return false, nil
	}
	return process.PidExistsWithContext(ctx, int32(pid))
}

// transition must be called with mx held.
func (p *Process) transition(ctx context.Context, dst State) bool {
	src := p.result.State
	if !src.CanTransition(dst) {
		slog.DebugContext(ctx, "state transition refused", "from", src.String(), "to", dst.String())
		return false
	}
	p.result.State = dst
	slog.DebugContext(ctx, "state transition", "pid", p.result.Pid, "from", src.String(), "to", dst.String())
	return true
}

// pipe connects a child stream to fn. The returned writer is closed by wait.
func (p *Process) pipe(ctx context.Context, fn LineFunc) io.Writer {
	if fn == nil {
		return nil
	}
	pr, pw := io.Pipe()
	p.writers = append(p.writers, pw)
	p.output.Go(func() {
		processOutput(ctx, pr, fn)
	})
	return pw
}

func processOutput(ctx context.Context, r io.Reader, fn LineFunc) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		fn(ctx, scanner.Text())
	}
	err := scanner.Err()
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
		slog.ErrorContext(ctx, "processing child output", "error", err)
	}
	// unblock the exec copy goroutine if the scanner gave up early
	_, _ = io.Copy(io.Discard, r)
}

// wait reaps the child and moves it to its terminal state.
func (p *Process) wait(ctx context.Context) {
	err := p.cmd.Wait()
	for _, w := range p.writers {
		_ = w.Close()
	}
	p.output.Wait()
	stopped := time.Now().UTC()

	p.mx.Lock()
	code := exitStatus(p.cmd.ProcessState)
	p.result.Stopped = stopped
	p.result.ExitCode = code
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		p.result.Err = err
	}

	switch {
	case p.forced:
		p.transition(ctx, Failed)
	case p.result.State == Stopping:
		p.transition(ctx, Exited)
	case code == 0:
		p.transition(ctx, Exited)
	default:
		p.transition(ctx, Failed)
	}
	state := p.result.State
	p.mx.Unlock()

	slog.InfoContext(ctx, "process exited", "pid", p.Pid(), "exit_code", code, "state", state.String())
	close(p.done)
}
