package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "TripSync Server\n")
			fmt.Fprintf(out, "Version:    %s\n", opts.Build.Version)
			fmt.Fprintf(out, "Build Date: %s\n", opts.Build.BuildDate)
			fmt.Fprintf(out, "Git Commit: %s\n", opts.Build.GitCommit)
		},
	}
}
