package main

import (
	"github.com/spf13/cobra"

	"github.com/najoast/kes/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
}

// NewRootCommand creates the kesd root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "kesd",
		Short: "kesd - KES kernel daemon",
		Long: `kesd hosts a KES kernel: a root network with its builtin networks,
driven by a single task loop until a signal arrives or the root network
drops itself.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "config file (yaml, json or toml); searched for when empty")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// loadConfig loads the file named by opts, or auto-discovers one.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	loader := config.NewLoader()
	if opts.ConfigFile != "" {
		return loader.LoadFromFile(opts.ConfigFile)
	}
	return loader.AutoLoad()
}
