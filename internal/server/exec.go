package server

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/gekkophp/gekko/internal/log"
	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/registry"
	"github.com/gekkophp/gekko/internal/serverconf"
	"github.com/gekkophp/gekko/internal/service"
)

// execCommand supervises a program declared in the commands section of
// gekko.yaml.
type execCommand struct {
	env   *Env
	def   model.CustomCommand
	ready model.Endpoint
}

func newExecCommand(env *Env, def model.CustomCommand) (*execCommand, error) {
	c := &execCommand{env: env, def: def}
	if def.Ready != "" {
		ep, err := model.ParseEndpoint(def.Ready)
		if err != nil {
			return nil, &model.InvalidOptionError{Key: "ready", Value: def.Ready, Reason: err.Error()}
		}
		c.ready = ep
	}
	return c, nil
}

func (c *execCommand) Run(ctx context.Context, opts registry.Options) (int, error) {
	ctx = log.ContextAttrs(ctx, slog.String("command", c.def.Name))
	m := serverconf.Materializer{Kind: c.def.Name}
	cfg, err := m.Materialize(c.env.options(c.def.Name, nil, nil, opts.Flags), nil)
	if err != nil {
		return 1, err
	}

	env := make([]string, 0, len(c.def.Env))
	for _, k := range slices.Sorted(maps.Keys(c.def.Env)) {
		env = append(env, k+"="+c.def.Env[k])
	}
	args := append(slices.Clone(c.def.Args), opts.Args...)
	bin := findBinary(c.def.Path, c.def.Path)

	slog.InfoContext(ctx, "starting command", "binary", bin, "args", args, "dir", c.def.Dir)
	return c.env.serve(ctx, run{
		cmd: service.Command{
			Path:   bin,
			Args:   args,
			Dir:    c.def.Dir,
			Env:    env,
			Stdout: output("stdout"),
			Stderr: output("stderr"),
		},
		listen: c.ready,
		cfg:    cfg,
	})
}
