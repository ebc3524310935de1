package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/najoast/kes/bootstrap"
	"github.com/najoast/kes/core"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the kernel until interrupted",
		Long: `Run initializes the root network and drives the kernel loop. SIGINT or
SIGTERM finalizes the root network gracefully; the kernel is forced down
after kernel.shutdown_timeout. With --watch the config file is reloaded
on change and a new log level takes effect at once.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			builder := bootstrap.NewApplicationBuilder()
			if rootOpts.ConfigFile != "" && watch {
				builder.WithConfigFile(rootOpts.ConfigFile)
			} else {
				cfg, err := loadConfig(rootOpts)
				if err != nil {
					return err
				}
				builder.WithConfig(cfg)
			}

			app, err := builder.Build()
			if err != nil {
				return err
			}
			defer app.Close()

			err = app.Run(cmd.Context())
			var fatal *core.FatalError
			if errors.As(err, &fatal) {
				return errors.New("kernel stopped on an uncaught exception: " + fatal.Error())
			}
			return err
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", true, "reload the config file when it changes")

	return cmd
}
