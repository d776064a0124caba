package server

import (
	"context"
	"log/slog"

	"github.com/gekkophp/gekko/internal/log"
	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/registry"
	"github.com/gekkophp/gekko/internal/serverconf"
	"github.com/gekkophp/gekko/internal/service"
)

var phpServerDefaults = map[string]string{
	serverconf.KeyHost:         "127.0.0.1",
	serverconf.KeyPort:         "8080",
	serverconf.KeyDocumentRoot: "public",
	serverconf.KeyWorkers:      "1",
}

var phpCGIDefaults = map[string]string{
	serverconf.KeyHost:        "127.0.0.1",
	serverconf.KeyPort:        "9000",
	serverconf.KeyWorkers:     "4",
	serverconf.KeyMaxRequests: "500",
}

// phpServerCommand runs `php -S` serving the document root.
type phpServerCommand struct {
	env *Env
}

func (c *phpServerCommand) Run(ctx context.Context, opts registry.Options) (int, error) {
	ctx = log.ContextAttrs(ctx, slog.String("command", model.KindPHPServer))
	cfg, err := c.env.materialize(model.KindPHPServer, phpServerDefaults, c.env.phpGlobals(c.env.Config.PHP.Binary), opts)
	if err != nil {
		return 1, err
	}

	bin := findBinary(cfg.Binary, "php")
	args := []string{"-S", cfg.Listen().Address, "-t", cfg.DocumentRoot}
	args = append(args, phpArgs(cfg)...)
	args = append(args, opts.Args...)

	var env []string
	if cfg.Workers > 1 {
		env = append(env, "PHP_CLI_SERVER_WORKERS="+formatUint(cfg.Workers))
	}

	slog.InfoContext(ctx, "starting php built-in server",
		"binary", bin,
		"listen", "http://"+cfg.Listen().Address,
		"document_root", cfg.DocumentRoot,
		"workers", cfg.Workers,
	)
	return c.env.serve(ctx, run{
		cmd: service.Command{
			Path:   bin,
			Args:   args,
			Env:    env,
			Stdout: output("stdout"),
			Stderr: output("stderr"),
		},
		listen: cfg.Listen(),
		cfg:    cfg,
	})
}

// phpCGICommand runs a php-cgi FastCGI pool of cfg.Workers children.
type phpCGICommand struct {
	env *Env
}

func (c *phpCGICommand) Run(ctx context.Context, opts registry.Options) (int, error) {
	ctx = log.ContextAttrs(ctx, slog.String("command", model.KindPHPCGI))
	cfg, err := c.env.materialize(model.KindPHPCGI, phpCGIDefaults, c.env.phpGlobals(c.env.Config.PHP.CGIBinary), opts)
	if err != nil {
		return 1, err
	}

	bin := findBinary(cfg.Binary, "php-cgi")
	listen := cfg.Listen()
	args := []string{"-b", listen.Address}
	args = append(args, phpArgs(cfg)...)
	args = append(args, opts.Args...)

	env := []string{"PHP_FCGI_CHILDREN=" + formatUint(cfg.Workers)}
	if cfg.MaxRequests > 0 {
		env = append(env, "PHP_FCGI_MAX_REQUESTS="+formatUint(cfg.MaxRequests))
	}

	slog.InfoContext(ctx, "starting php-cgi pool",
		"binary", bin,
		"listen", listen.String(),
		"workers", cfg.Workers,
		"max_requests", cfg.MaxRequests,
	)
	return c.env.serve(ctx, run{
		cmd: service.Command{
			Path:   bin,
			Args:   args,
			Env:    env,
			Stdout: output("stdout"),
			Stderr: output("stderr"),
		},
		listen: listen,
		cfg:    cfg,
	})
}

func (e *Env) phpGlobals(binary string) map[string]string {
	ini := e.Config.PHP.Ini
	if ini == "" {
		ini = findPHPIni()
	}
	return map[string]string{
		serverconf.KeyBinary: binary,
		serverconf.KeyIni:    ini,
	}
}

func (e *Env) materialize(kind string, defaults, global map[string]string, opts registry.Options) (model.ServerConfig, error) {
	m, err := serverconf.For(kind)
	if err != nil {
		return model.ServerConfig{}, err
	}
	merged := e.options(kind, defaults, global, opts.Flags)
	return m.Materialize(merged, e.directives(kind, opts.Directives))
}

// phpArgs maps the ini file and directives to php command line switches.
func phpArgs(cfg model.ServerConfig) []string {
	var args []string
	if cfg.Ini != "" {
		args = append(args, "-c", cfg.Ini)
	}
	for _, d := range cfg.Directives {
		args = append(args, "-d", d.Name+"="+d.Value)
	}
	return args
}
