package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/meshcall/internal/config"
	"github.com/BioHazard786/meshcall/internal/roomname"
	"github.com/BioHazard786/meshcall/internal/ui"
)

var flagNewDomain string

var newCmd = &cobra.Command{
	Use:     "new",
	Aliases: []string{"n"},
	Short:   "Create a room id to share",
	Long: `Print a fresh, memorable room id and its shareable link.

Rooms exist on the relay only while someone is in them, so nothing is
reserved; share the id and join it.

Examples:
  meshcall new
  meshcall new --domain call.example.com`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(config.ClientOptions{Domain: flagNewDomain})
		if err != nil {
			return err
		}

		roomID := roomname.Generate()
		fmt.Fprintln(cmd.OutOrStdout())
		fmt.Fprintln(cmd.OutOrStdout(), ui.NewRoomInfo(roomID, cfg.GetRoomLink(roomID)).View())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().StringVar(&flagNewDomain, "domain", "", "Custom domain used for the room link")
}
