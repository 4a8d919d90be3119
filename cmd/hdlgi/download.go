package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var (
	downloadGame   gameSelector
	downloadOutput string
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Copy an installed game back into a disc image",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			g, err := downloadGame.find(s.mgr)
			if err != nil {
				return err
			}
			xfer, err := s.mgr.Download(g, downloadOutput)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Downloaded %s to %s", g.Title, downloadOutput)
			fmt.Printf("Download took %.0f seconds\n", xfer.Took.Seconds())
			fmt.Println(xfer.Stats.Summary())
			return nil
		})
	},
}

func init() {
	downloadGame.register(downloadCmd)
	downloadCmd.Flags().StringVar(&downloadOutput, "output", "", "image file to create")
	downloadCmd.MarkFlagRequired("output")
	rootCmd.AddCommand(downloadCmd)
}
