package service

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/netscan"
)

const (
	// DefaultGracePeriod is used by Stop when called with zero grace.
	DefaultGracePeriod = 5 * time.Second
	waitDelay          = 2 * time.Second
)

// Supervisor owns the lifecycle of the processes it starts.
type Supervisor struct {
	// PollInterval is the readiness probe period.
	PollInterval time.Duration
}

func NewSupervisor() *Supervisor {
	return &Supervisor{
		PollInterval: 100 * time.Millisecond,
	}
}

// Start spawns the program described by proto. The returned Process is
// Running: the OS accepted the spawn. A missing executable or an OS level
// failure is returned as model.SpawnError and no Process exists afterwards.
func (s *Supervisor) Start(ctx context.Context, proto Command) (*Process, error) {
	p := newProcess(proto)

	cmd := exec.Command(proto.Path, proto.Args...)
	cmd.Dir = proto.Dir
	if len(proto.Env) > 0 {
		cmd.Env = append(os.Environ(), proto.Env...)
	}
	cmd.WaitDelay = waitDelay
	setProcAttr(cmd)
	cmd.Stdout = p.pipe(ctx, proto.Stdout)
	cmd.Stderr = p.pipe(ctx, proto.Stderr)

	started := time.Now().UTC()
	if err := cmd.Start(); err != nil {
		for _, w := range p.writers {
			_ = w.Close()
		}
		p.output.Wait()
		return nil, &model.SpawnError{Path: proto.Path, Err: err}
	}

	p.mx.Lock()
	p.cmd = cmd
	p.result.Pid = cmd.Process.Pid
	p.result.Started = started
	p.transition(ctx, Running)
	p.mx.Unlock()

	slog.InfoContext(ctx, "process started", "pid", cmd.Process.Pid, "path", proto.Path, "args", proto.Args)
	go p.wait(ctx)
	return p, nil
}

// WaitForReady polls the endpoint until it accepts connections. It returns
// false when timeout elapses, ctx is canceled or the process exits first.
func (s *Supervisor) WaitForReady(ctx context.Context, p *Process, ep model.Endpoint, timeout time.Duration) bool {
	start := time.Now()
	err := netscan.WaitListening(ctx, ep, s.PollInterval, timeout, p.Done())
	if err != nil {
		slog.DebugContext(ctx, "readiness probe failed", "endpoint", ep.String(), "error", err)
		return false
	}
	slog.DebugContext(ctx, "endpoint ready", "endpoint", ep.String(), "elapsed", time.Since(start).String())
	return true
}

// Stop asks the process to terminate and waits up to grace for it. A child
// still alive after grace, or when ctx is canceled earlier, is killed
// together with its process group and ends Failed. That case is reported as
// model.ForcedTerminationWarning.
func (s *Supervisor) Stop(ctx context.Context, p *Process, grace time.Duration) error {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	p.mx.Lock()
	switch p.result.State {
	case Pending:
		p.mx.Unlock()
		return model.ErrProcessNotStarted
	case Exited, Failed:
		p.mx.Unlock()
		return nil
	case Running:
		p.transition(ctx, Stopping)
		sig := p.stopSignal
		if sig == nil {
			sig = defaultStopSignal
		}
		slog.InfoContext(ctx, "stopping process", "pid", p.result.Pid, "signal", sig.String(), "grace_period", grace.String())
		if err := signalGroup(p.cmd, sig); err != nil {
			slog.WarnContext(ctx, "sending stop signal failed", "pid", p.result.Pid, "error", err)
		}
	}
	pid := p.result.Pid
	p.mx.Unlock()

	warn := &model.ForcedTerminationWarning{Pid: pid, GracePeriod: grace}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
		warn.Escalated = true
	}

	p.mx.Lock()
	if p.result.State.Terminal() {
		p.mx.Unlock()
		return nil
	}
	p.forced = true
	err := killGroup(p.cmd)
	p.mx.Unlock()
	if err != nil {
		slog.ErrorContext(ctx, "killing process failed", "pid", pid, "error", err)
	}

	<-p.done
	slog.WarnContext(ctx, "process killed", "pid", pid, "warning", warn.Error())

	// Done is closed after Wait reaped the child, so the pid must be gone.
	checkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if alive, err := p.Alive(checkCtx); err == nil && alive {
		slog.ErrorContext(ctx, "killed process still present", "pid", pid)
	}
	return warn
}

// Wait blocks until the process exits on its own or ctx is done. It returns
// the exit code of the child; a child killed by a signal reports 128+signal.
func (s *Supervisor) Wait(ctx context.Context, p *Process) (int, error) {
	if p.State() == Pending {
		return -1, model.ErrProcessNotStarted
	}
	select {
	case <-p.done:
		code, _ := p.ExitCode()
		return code, nil
	case <-ctx.Done():
		return -1, ctx.Err()
	}
}
