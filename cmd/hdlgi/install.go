package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/hdlgi/internal/hdl"
	"github.com/1ureka/hdlgi/internal/protocol"
)

var (
	installParams    paramFlags
	installImage     string
	installOverwrite bool
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a game from a disc image",
	Long: `Install copies a PS2 disc image (ISO 9660, 2048 or 2352 byte sectors) to
the console's hard drive and sets up its browser icon.

Examples:
  hdlgi install -H ps2 --title "Okami" --image okami.iso
  hdlgi install -H ps2 --title "Okami" --osd1 Okami --osd2 Capcom \
      --icon-src external --icon-path saves/BASLUS-21115 --image okami.iso`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := hdl.GameParams{DiscType: protocol.DiscTypeNone}
		if err := installParams.apply(cmd, "title", &p); err != nil {
			return err
		}

		return withSession(func(s *session) error {
			xfer, err := s.mgr.Install(installImage, p, installOverwrite)
			if err != nil {
				return err
			}
			pterm.Success.Printfln("Installed %s", p.Title)
			fmt.Printf("Installation took %.0f seconds\n", xfer.Took.Seconds())
			fmt.Println(xfer.Stats.Summary())
			return xfer.Stats.Histogram(os.Stdout)
		})
	},
}

func init() {
	installParams.register(installCmd, "title")
	installCmd.Flags().StringVar(&installImage, "image", "", "path to the disc image")
	installCmd.Flags().BoolVar(&installOverwrite, "overwrite", false, "replace an installed game with the same disc ID")
	installCmd.MarkFlagRequired("title")
	installCmd.MarkFlagRequired("image")
	rootCmd.AddCommand(installCmd)
}
