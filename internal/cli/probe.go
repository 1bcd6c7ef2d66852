package cli

import (
	"github.com/spf13/cobra"

	"deal-radar/internal/app"
	"deal-radar/internal/platform"
)

var (
	probePlatform string
	probeItem     string
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Fetch one listing from the source and print the observation",
	RunE: func(cmd *cobra.Command, args []string) error {
		code, err := platform.Parse(probePlatform)
		if err != nil {
			return err
		}

		opts := app.ProbeOptions{
			Platform:   code,
			ExternalID: probeItem,
		}

		return getApp().Probe(cmd.Context(), opts)
	},
}

func init() {
	probeCmd.Flags().StringVar(&probePlatform, "platform", "", "Platform code (WB, OZON, DM)")
	probeCmd.Flags().StringVar(&probeItem, "item", "", "External id of the listing")
	probeCmd.MarkFlagRequired("platform")
	probeCmd.MarkFlagRequired("item")
}
