package main

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/1ureka/hdlgi/internal/hdl"
	"github.com/1ureka/hdlgi/internal/protocol"
	"github.com/1ureka/hdlgi/internal/util"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List installed games and free space",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(func(s *session) error {
			free, err := s.mgr.FreeSpace()
			if err != nil {
				return err
			}
			games, err := s.mgr.Games()
			if err != nil {
				return err
			}

			fmt.Printf("Free space: %.2f GB\n", float64(free)/1024)
			if len(games) == 0 {
				pterm.Info.Println("No games installed")
				return nil
			}
			data := pterm.TableData{{"Disc ID", "Type", "Size", "Title"}}
			for _, g := range games {
				data = append(data, []string{
					g.DiscID,
					hdl.DiscTypeName(g.DiscType),
					util.FormatBytes(int64(g.Sectors) * protocol.SectorSize),
					g.Title,
				})
			}
			return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
