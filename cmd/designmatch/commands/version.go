package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/designmatch/cmd/designmatch/internal/build"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if formatOutput == "json" || formatOutput == "yaml" {
			return output(cmd, build.Get())
		}
		fmt.Fprintln(cmd.OutOrStdout(), build.String())
		if IsVerbose() {
			fmt.Fprintf(cmd.OutOrStdout(), "  go:     %s\n", build.Get().Go)
			if cfgFile != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  config: %s\n", cfgFile)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
