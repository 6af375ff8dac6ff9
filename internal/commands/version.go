package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the meshcall version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "meshcall %s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
