package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"deal-radar/internal/app"
	"deal-radar/internal/platform"
)

var (
	showPlatform string
	showLimit    int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recently seen items for a platform",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		code, err := platform.Parse(showPlatform)
		if err != nil {
			return err
		}

		opts := app.ShowOptions{
			Platform: code,
			Limit:    showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showPlatform, "platform", "", "Platform code (WB, OZON, DM)")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of items to display")
	showCmd.MarkFlagRequired("platform")
}
