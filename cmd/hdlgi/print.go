package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/1ureka/hdlgi/internal/hdl"
)

var printGame gameSelector

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "Show the settings of an installed game",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			g, err := printGame.find(s.mgr)
			if err != nil {
				return err
			}
			p, err := s.mgr.Params(g)
			if err != nil {
				return err
			}

			mode := "UDMA mode 4"
			if p.UseMDMA0 {
				mode = "MDMA mode 0"
			}
			fmt.Printf("Title:      %s\n", g.Title)
			fmt.Printf("Disc ID:    %s\n", g.DiscID)
			fmt.Printf("Partition:  %s\n", g.Partition)
			fmt.Printf("Disc type:  %s\n", hdl.DiscTypeName(g.DiscType))
			fmt.Printf("OSD title:  %s / %s\n", p.OSD1, p.OSD2)
			fmt.Printf("Transfer:   %s\n", mode)
			fmt.Println("Compatibility modes:")
			for _, c := range hdl.CompatModes {
				state := "DISABLED"
				if g.CompatFlags&c.Flag != 0 {
					state = "ENABLED"
				}
				fmt.Printf("  %d %-26s %s\n", c.Mode, c.Name, state)
			}
			return nil
		})
	},
}

func init() {
	printGame.register(printCmd)
	rootCmd.AddCommand(printCmd)
}
