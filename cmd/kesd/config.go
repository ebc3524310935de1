package main

import (
	"encoding/json"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/najoast/kes/bootstrap"
	"github.com/najoast/kes/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the configuration after defaults and environment overrides",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch config.ConfigFormat(format) {
			case config.FormatYAML:
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(cfg)
			case config.FormatJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			case config.FormatTOML:
				return toml.NewEncoder(out).Encode(cfg)
			default:
				return fmt.Errorf("%w: %s", config.ErrUnsupportedFormat, format)
			}
		},
	}

	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "output format (yaml|json|toml)")

	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the kernel options it implies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if _, err := bootstrap.KernelOptions(cfg.Kernel, zerolog.Nop()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s): ok\n", cfg.App.Name, cfg.App.Version, cfg.App.Environment)
			return nil
		},
	}
}
