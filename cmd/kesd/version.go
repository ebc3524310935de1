package main

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

// NewVersionCommand creates the version command.
func NewVersionCommand() *cobra.Command {
	var constraint string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the kesd version",
		Long: `Print the kesd version. With --require the command fails unless the
version satisfies the given semver constraint, e.g. ">= 0.1, < 1".`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := semver.NewVersion(version)
			if err != nil {
				return fmt.Errorf("malformed build version %q: %w", version, err)
			}
			if constraint != "" {
				c, err := semver.NewConstraint(constraint)
				if err != nil {
					return fmt.Errorf("invalid constraint %q: %w", constraint, err)
				}
				if !c.Check(v) {
					return fmt.Errorf("kesd %s does not satisfy %q", v, constraint)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "kesd v%s\n", v)
			return nil
		},
	}

	cmd.Flags().StringVar(&constraint, "require", "", "fail unless the version satisfies this constraint")

	return cmd
}
