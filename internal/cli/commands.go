package cli

import (
	"fmt"
	"runtime/debug"
	"text/tabwriter"

	"github.com/gekkophp/gekko/internal/model"
	"github.com/gekkophp/gekko/internal/registry"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd prints the effective configuration: defaults, gekko.yaml and
// GEKKO_ environment variables merged.
func configCmd(cfg model.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "print the effective configuration as yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encoding configuration: %w", err)
			}
			return enc.Close()
		},
	}
}

func commandsCmd(reg *registry.Registry) *cobra.Command {
	return &cobra.Command{
		Use:   "commands",
		Short: "list the server commands available in this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, name := range reg.Names() {
				d, err := reg.Resolve(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s\t%s\n", d.Name, d.Short)
			}
			return w.Flush()
		},
	}
}

func versionCmd(configPath string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print version of gekko",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			info, ok := debug.ReadBuildInfo()
			if !ok {
				fmt.Fprintln(out, "gekko: version info not available")
				return
			}
			if configPath != "" {
				fmt.Fprintf(out, "config: %s\n", configPath)
			}
			fmt.Fprintf(out, "gekko:  %s\n", info.Main.Version)
			fmt.Fprintf(out, "go:     %s\n", info.GoVersion)
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					fmt.Fprintf(out, "commit: %s\n", s.Value)
				case "vcs.time":
					fmt.Fprintf(out, "date:   %s\n", s.Value)
				case "vcs.modified":
					fmt.Fprintf(out, "dirty:  %s\n", s.Value)
				}
			}
		},
	}
}
