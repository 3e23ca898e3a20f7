package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mlowell/clinops/pkg/icons"
)

var iconsOut string

var iconsCmd = &cobra.Command{
	Use:   "icons",
	Short: "Generate web app icons",
}

var iconsGenerateCmd = &cobra.Command{
	Use:   "generate SOURCE.png",
	Short: "Render the icon set and manifest fragment from a source PNG",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		written, err := icons.Generate(args[0], iconsOut, nil)
		if err != nil {
			return err
		}
		for _, path := range written {
			fmt.Println(path)
		}
		return nil
	},
}

func init() {
	iconsGenerateCmd.Flags().StringVarP(&iconsOut, "out", "o", "public/icons", "output directory")
	iconsCmd.AddCommand(iconsGenerateCmd)
	rootCmd.AddCommand(iconsCmd)
}
