// Package cli is the gekko command line: it loads gekko.yaml, sets up
// logging, fills the command registry and dispatches to the selected server
// command.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gekkophp/gekko/internal/log"
	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/registry"
	"github.com/gekkophp/gekko/internal/server"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const configEnv = "GEKKO_CONFIG"

// Execute runs gekko with args (without the program name) and returns the
// process exit code. signals replaces the OS interrupt subscription when not
// nil.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer, signals <-chan os.Signal) int {
	flagConfig, flagVerbose := preparse(args)

	cfg, configPath, err := loadConfig(flagConfig)
	if err != nil {
		fmt.Fprintf(stderr, "gekko: %v\n", err)
		return 1
	}
	// --verbose has a precedence over config file
	if flagVerbose {
		cfg.Verbose = true
	}

	slog.SetDefault(log.NewWriter(stderr, cfg.Verbose, cfg.Log.Format))
	ctx = log.ContextAttrs(ctx, slog.Group("gekko",
		slog.String("run_id", uuid.NewString()),
		slog.Int("pid", os.Getpid()),
	))
	slog.DebugContext(ctx, "gekko config", "path", configPath)

	env := server.NewEnv(cfg)
	env.Signals = signals
	reg := registry.New()
	if err := server.Register(reg, env); err != nil {
		fmt.Fprintf(stderr, "gekko: %v\n", err)
		return 1
	}
	reg.Freeze()
	for _, name := range []string{"commands", "config", "version", "help"} {
		if _, err := reg.Resolve(name); err == nil {
			fmt.Fprintf(stderr, "gekko: %v\n", &model.DuplicateCommandError{Name: name})
			return 1
		}
	}

	var code int
	root := newRoot(reg, cfg, configPath, &code)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "gekko: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func newRoot(reg *registry.Registry, cfg model.Config, configPath string, code *int) *cobra.Command {
	root := &cobra.Command{
		Use:           "gekko",
		Short:         "Gekko runs the PHP development and production servers of a project",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		// unknown commands land here
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			_, err := reg.Resolve(args[0])
			return err
		},
	}
	root.FParseErrWhitelist.UnknownFlags = true
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().String("config", "", "config file to load, default is gekko.yaml in current directory or in "+userConfigDir())
	root.PersistentFlags().Bool("verbose", false, "verbose logging")

	for _, name := range reg.Names() {
		d, err := reg.Resolve(name)
		if err != nil {
			continue
		}
		root.AddCommand(serverCommand(d, code))
	}
	root.AddCommand(commandsCmd(reg), configCmd(cfg), versionCmd(configPath))
	return root
}

// serverCommand exposes one registry entry as a cobra command.
func serverCommand(d registry.Descriptor, code *int) *cobra.Command {
	cmd := &cobra.Command{
		Use:   d.Name,
		Short: d.Short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := options(cmd.Flags(), args)
			if err != nil {
				return err
			}
			c, err := d.Factory()
			if err != nil {
				return err
			}
			*code, err = c.Run(cmd.Context(), opts)
			return err
		},
	}
	addFlags(cmd.Flags(), d.Name)
	return cmd
}

// preparse extracts --config and --verbose ahead of cobra, which needs the
// loaded configuration to know the project commands.
func preparse(args []string) (string, bool) {
	fs := pflag.NewFlagSet("gekko", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	config := fs.String("config", "", "")
	verbose := fs.Bool("verbose", false, "")
	fs.BoolP("help", "h", false, "")
	_ = fs.Parse(args)
	return *config, *verbose
}

// loadConfig reads the first config file found: --config, $GEKKO_CONFIG,
// ./gekko.yaml, gekko.yaml in the user config directory. Without any file
// the defaults are used.
func loadConfig(flagPath string) (model.Config, string, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(configEnv)
	}
	if path == "" {
		for _, dir := range []string{".", userConfigDir()} {
			candidate := filepath.Join(dir, "gekko.yaml")
			if exists(candidate) {
				path = candidate
				break
			}
		}
	}

	if path == "" {
		cfg, err := model.LoadConfig(strings.NewReader(""))
		return cfg, "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return model.Config{}, "", fmt.Errorf("opening config file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	cfg, err := model.LoadConfig(f)
	if err != nil {
		return model.Config{}, "", fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, path, nil
}

func userConfigDir() string {
	d, err := os.UserConfigDir()
	if err != nil {
		return "."
	}
	return filepath.Join(d, "gekko")
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
