package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/gekkophp/gekko/internal/log"
	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/netscan"
	"github.com/gekkophp/gekko/internal/registry"
	"github.com/gekkophp/gekko/internal/serverconf"
	"github.com/gekkophp/gekko/internal/service"
)

var nginxDefaults = map[string]string{
	serverconf.KeyHost:         "127.0.0.1",
	serverconf.KeyPort:         "8080",
	serverconf.KeyDocumentRoot: "public",
	serverconf.KeyUpstream:     "127.0.0.1:9000",
}

// nginxCommand renders an nginx configuration proxying PHP requests to a
// FastCGI upstream and runs nginx in the foreground with it.
type nginxCommand struct {
	env *Env
}

func (c *nginxCommand) Run(ctx context.Context, opts registry.Options) (int, error) {
	ctx = log.ContextAttrs(ctx, slog.String("command", model.KindNginx))
	cfg, err := c.env.materialize(model.KindNginx, nginxDefaults, map[string]string{
		serverconf.KeyBinary: c.env.Config.Nginx.Binary,
	}, opts)
	if err != nil {
		return 1, err
	}

	if err := netscan.Opened(ctx, cfg.Upstream); err != nil {
		slog.WarnContext(ctx, "fastcgi upstream is not reachable yet; PHP requests fail until it is started",
			"upstream", cfg.Upstream.String())
	}

	prefix, err := os.MkdirTemp("", "gekko-nginx-")
	if err != nil {
		return 1, fmt.Errorf("creating nginx prefix directory: %w", err)
	}
	defer os.RemoveAll(prefix)
	if err := os.Mkdir(filepath.Join(prefix, "logs"), 0o755); err != nil {
		return 1, fmt.Errorf("creating nginx prefix directory: %w", err)
	}

	gen, err := serverconf.Write(cfg)
	if err != nil {
		return 1, err
	}
	defer func() {
		if err := gen.Remove(); err != nil {
			slog.WarnContext(ctx, "removing generated nginx configuration", "path", gen.Path, "error", err)
		}
	}()

	bin := findBinary(cfg.Binary, "nginx")
	args := []string{"-p", prefix + string(filepath.Separator), "-c", gen.Path}
	args = append(args, opts.Args...)

	slog.InfoContext(ctx, "starting nginx",
		"binary", bin,
		"listen", "http://"+cfg.Listen().Address,
		"document_root", cfg.DocumentRoot,
		"upstream", cfg.Upstream.String(),
		"config", gen.Path,
		"temporary_config", gen.Temporary,
	)
	return c.env.serve(ctx, run{
		cmd: service.Command{
			Path:       bin,
			Args:       args,
			StopSignal: syscall.SIGQUIT,
			Stdout:     output("stdout"),
			Stderr:     output("stderr"),
		},
		listen: cfg.Listen(),
		cfg:    cfg,
	})
}
