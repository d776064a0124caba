// Package server implements the gekko server commands. Every command turns
// its options into a model.ServerConfig, starts one process through the
// service.Supervisor and blocks until the process exits or gekko is
// interrupted.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/netscan"
	"github.com/gekkophp/gekko/internal/registry"
	"github.com/gekkophp/gekko/internal/serverconf"
	"github.com/gekkophp/gekko/internal/service"

	"golang.org/x/sync/errgroup"
)

const defaultReadyTimeout = 10 * time.Second

// Env is shared by all commands of one gekko process.
type Env struct {
	Config     model.Config
	Supervisor *service.Supervisor
	// Signals delivers interrupts. When nil every run subscribes to SIGINT
	// and SIGTERM itself.
	Signals <-chan os.Signal
}

func NewEnv(cfg model.Config) *Env {
	return &Env{
		Config:     cfg,
		Supervisor: service.NewSupervisor(),
	}
}

// run is one supervised invocation.
type run struct {
	cmd    service.Command
	listen model.Endpoint // zero when the command has no address to probe
	cfg    model.ServerConfig
}

// options merges, lowest precedence first, the built-in defaults, the global
// settings of gekko.yaml, the per command section of gekko.yaml and finally
// the flags given on the command line.
func (e *Env) options(name string, defaults map[string]string, global map[string]string, flags map[string]string) map[string]string {
	merged := map[string]string{
		serverconf.KeyGracePeriod:  service.DefaultGracePeriod.String(),
		serverconf.KeyReadyTimeout: defaultReadyTimeout.String(),
	}
	maps.Copy(merged, defaults)
	if e.Config.GracePeriod > 0 {
		merged[serverconf.KeyGracePeriod] = e.Config.GracePeriod.String()
	}
	if e.Config.ReadyTimeout > 0 {
		merged[serverconf.KeyReadyTimeout] = e.Config.ReadyTimeout.String()
	}
	for k, v := range global {
		if v != "" {
			merged[k] = v
		}
	}
	maps.Copy(merged, e.Config.Servers[name])
	maps.Copy(merged, flags)
	return merged
}

func (e *Env) directives(name string, extra []model.Directive) []model.Directive {
	ret := append([]model.Directive(nil), e.Config.Directives[name]...)
	return append(ret, extra...)
}

func (e *Env) signals() (<-chan os.Signal, func()) {
	if e.Signals != nil {
		return e.Signals, func() {}
	}
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// serve starts r and blocks until the child exits on its own (its exit code
// is returned) or an interrupt stopped it (0 is returned).
func (e *Env) serve(ctx context.Context, r run) (int, error) {
	signals, unsubscribe := e.signals()
	defer unsubscribe()

	if !r.listen.IsZero() {
		if err := netscan.CheckFree(ctx, r.listen); err != nil {
			return 1, err
		}
	}

	p, err := e.Supervisor.Start(ctx, r.cmd)
	if err != nil {
		return 1, err
	}

	if !r.listen.IsZero() {
		if code, done, err := e.awaitReady(ctx, p, r, signals); done {
			return code, err
		}
		slog.InfoContext(ctx, "server ready", "listen", r.listen.String(), "pid", p.Pid())
	}

	healthCtx, stopHealth := context.WithCancel(ctx)
	var g errgroup.Group
	if !r.listen.IsZero() && r.cfg.HealthInterval > 0 {
		g.Go(func() error {
			netscan.Watch(healthCtx, r.listen, r.cfg.HealthInterval, func(healthy bool, err error) {
				if healthy {
					slog.InfoContext(ctx, "server accepts connections again", "listen", r.listen.String())
					return
				}
				slog.WarnContext(ctx, "server stopped accepting connections", "listen", r.listen.String(), "error", err)
			})
			return nil
		})
	}
	defer func() {
		stopHealth()
		_ = g.Wait()
	}()

	select {
	case <-p.Done():
		code, err := e.Supervisor.Wait(ctx, p)
		if err != nil {
			return 1, err
		}
		if code != 0 {
			slog.ErrorContext(ctx, "server exited unexpectedly", "exit_code", code)
		}
		return code, nil
	case sig := <-signals:
		slog.InfoContext(ctx, "signal received: shutting down", "signal", sig.String())
	case <-ctx.Done():
		slog.InfoContext(ctx, "context canceled: shutting down")
	}
	return e.exitAfter(e.shutdown(ctx, p, r.cfg.GracePeriod, signals))
}

// awaitReady waits for the readiness probe. When done is set the run is over
// and code, err are its result: the exit code of a child that died first, 0
// after an interrupt, or a readiness failure.
func (e *Env) awaitReady(ctx context.Context, p *service.Process, r run, signals <-chan os.Signal) (code int, done bool, err error) {
	readyCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	ready := make(chan bool, 1)
	go func() {
		ready <- e.Supervisor.WaitForReady(readyCtx, p, r.listen, r.cfg.ReadyTimeout)
	}()

	select {
	case ok := <-ready:
		if ok {
			return 0, false, nil
		}
	case sig := <-signals:
		cancel()
		<-ready
		slog.InfoContext(ctx, "signal received before server was ready", "signal", sig.String())
		code, err := e.exitAfter(e.shutdown(ctx, p, r.cfg.GracePeriod, signals))
		return code, true, err
	}

	if code, exited := p.ExitCode(); exited {
		slog.ErrorContext(ctx, "server exited before accepting connections",
			"exit_code", code, "listen", r.listen.String())
		if code != 0 {
			// CheckFree passed, yet the address may have been bound since.
			slog.WarnContext(ctx, "the listen address may have been taken after the bind check", "listen", r.listen.String())
		}
		return code, true, nil
	}
	if ctx.Err() != nil {
		code, err := e.exitAfter(e.shutdown(ctx, p, r.cfg.GracePeriod, signals))
		return code, true, err
	}
	if err := e.shutdown(ctx, p, r.cfg.GracePeriod, signals); err != nil {
		slog.WarnContext(ctx, "stopping unready server", "error", err)
	}
	return 1, true, &model.ReadinessTimeoutError{Address: r.listen.String(), Timeout: r.cfg.ReadyTimeout}
}

// shutdown stops p gracefully; another signal meanwhile kills it at once.
// A forced termination is logged and not reported as error.
func (e *Env) shutdown(ctx context.Context, p *service.Process, grace time.Duration, signals <-chan os.Signal) error {
	stopCtx, escalate := context.WithCancel(context.WithoutCancel(ctx))
	defer escalate()

	var g errgroup.Group
	g.Go(func() error {
		select {
		case sig := <-signals:
			slog.WarnContext(ctx, "second signal: killing server", "signal", sig.String())
			escalate()
		case <-stopCtx.Done():
		}
		return nil
	})

	err := e.Supervisor.Stop(stopCtx, p, grace)
	escalate()
	_ = g.Wait()

	if model.IsWarning(err) {
		slog.WarnContext(ctx, "server did not stop gracefully", "warning", err.Error())
		return nil
	}
	return err
}

func (e *Env) exitAfter(err error) (int, error) {
	if err != nil {
		return 1, err
	}
	return 0, nil
}

// output forwards child output to the log.
func output(stream string) service.LineFunc {
	return func(ctx context.Context, line string) {
		slog.InfoContext(ctx, line, "stream", stream)
	}
}

func formatUint(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}

// Register adds the built-in server commands and the project commands of
// gekko.yaml to reg.
func Register(reg *registry.Registry, env *Env) error {
	builtins := []registry.Descriptor{
		{
			Name:    model.KindPHPServer,
			Short:   "run the PHP built-in web server",
			Factory: func() (registry.Command, error) { return &phpServerCommand{env: env}, nil },
		},
		{
			Name:    model.KindPHPCGI,
			Short:   "run a php-cgi FastCGI process pool",
			Factory: func() (registry.Command, error) { return &phpCGICommand{env: env}, nil },
		},
		{
			Name:    model.KindNginx,
			Short:   "run nginx as reverse proxy in front of the FastCGI pool",
			Factory: func() (registry.Command, error) { return &nginxCommand{env: env}, nil },
		},
	}
	for _, d := range builtins {
		if err := reg.Register(d); err != nil {
			return err
		}
	}

	for _, def := range env.Config.Commands {
		short := def.Short
		if short == "" {
			short = "run " + def.Path
		}
		d := registry.Descriptor{
			Name:    def.Name,
			Short:   short,
			Factory: func() (registry.Command, error) {
				cmd, err := newExecCommand(env, def)
				if err != nil {
					return nil, err
				}
				return cmd, nil
			},
		}
		if err := reg.Register(d); err != nil {
			var dup *model.DuplicateCommandError
			if errors.As(err, &dup) {
				return fmt.Errorf("gekko.yaml commands: %w", err)
			}
			return err
		}
	}
	return nil
}
